package kvstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/nstepanov/bankline/internal/pg"
	"go.uber.org/zap"
)

// Store is a small durable key-value surface for session state that must
// survive a restart (the active withdrawal hold, OTP lockout deadlines).
// Values are marshalled to JSON.
type Store interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Put(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
}

type PGStore struct {
	db pg.Database
}

func NewPGStore(db pg.Database) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, key string, v any) (bool, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM session_state WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		zap.L().Error("failed to read session state", zap.String("key", key), zap.Error(err))
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PGStore) Put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO session_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query, key, raw); err != nil {
		zap.L().Error("failed to write session state", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM session_state WHERE key = $1`, key); err != nil {
		zap.L().Error("failed to delete session state", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM session_state WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		zap.L().Error("failed to list session state", zap.String("prefix", prefix), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		out[key] = json.RawMessage(raw)
	}
	return out, rows.Err()
}
