package transactionrepo

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

func (r *Repository) Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	query := `
		INSERT INTO transactions (account_id, amount, movement_type, status, counterparty, description, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		tx.AccountID, tx.Amount, tx.Type, tx.Status, tx.Counterparty, tx.Description, tx.BalanceAfter,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		zap.L().Error("can't save ledger entry", zap.Error(err))
		return nil, err
	}
	return tx, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	query := `
        SELECT id, account_id, amount, movement_type, status, counterparty, description, balance_after, created_at
        FROM transactions
        WHERE id = $1
    `
	row := r.db.QueryRow(ctx, query, id)
	var tx domain.Transaction
	err := row.Scan(&tx.ID, &tx.AccountID, &tx.Amount, &tx.Type, &tx.Status,
		&tx.Counterparty, &tx.Description, &tx.BalanceAfter, &tx.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		zap.L().Error("failed to get ledger entry", zap.Error(err))
		return nil, err
	}
	return &tx, nil
}

func (r *Repository) ListByAccountID(ctx context.Context, accountID int) ([]domain.Transaction, error) {
	query := `
        SELECT id, account_id, amount, movement_type, status, counterparty, description, balance_after, created_at
        FROM transactions
        WHERE account_id = $1
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		zap.L().Error("failed to fetch ledger entries", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Amount, &tx.Type, &tx.Status,
			&tx.Counterparty, &tx.Description, &tx.BalanceAfter, &tx.CreatedAt)
		if err != nil {
			zap.L().Error("failed to scan ledger entry row", zap.Error(err))
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// UpdateStatus moves a Pending entry to the given terminal status. Entries
// that already left Pending are immutable; attempting to touch one returns
// domain.ErrEntryNotPending.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status domain.TransactionStatus) error {
	query := `
		UPDATE transactions
		SET status = $1
		WHERE id = $2 AND status = $3
	`
	tag, err := r.db.Exec(ctx, query, status, id, domain.StatusPending)
	if err != nil {
		zap.L().Error("failed to update ledger entry status", zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntryNotPending
	}
	return nil
}
