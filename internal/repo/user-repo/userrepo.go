package userrepo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/internal/pg"
	"go.uber.org/zap"
)

type Repository struct {
	db pg.Database
}

func New(db pg.Database) *Repository {
	return &Repository{
		db: db,
	}
}

func (repo *Repository) FindByLogin(ctx context.Context, login string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, login, password_hash, full_name, phone, pin_hash FROM users WHERE login = $1`
	err := repo.db.QueryRow(ctx, query, login).Scan(
		&user.ID, &user.Login, &user.PasswordHash, &user.FullName, &user.Phone, &user.PINHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		zap.L().Error("can't find user", zap.Error(err))
		return nil, err
	}
	return &user, nil
}

func (repo *Repository) GetByID(ctx context.Context, id int) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, login, password_hash, full_name, phone, pin_hash FROM users WHERE id = $1`
	err := repo.db.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Login, &user.PasswordHash, &user.FullName, &user.Phone, &user.PINHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		zap.L().Error("can't find user", zap.Error(err))
		return nil, err
	}
	return &user, nil
}

func (repo *Repository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	query := `
		INSERT INTO users (login, password_hash, full_name, phone, pin_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := repo.db.QueryRow(ctx, query, user.Login, user.PasswordHash, user.FullName, user.Phone, user.PINHash).Scan(&user.ID)
	if err != nil {
		zap.L().Error("can't save user", zap.Error(err))
		return nil, err
	}
	return user, nil
}
