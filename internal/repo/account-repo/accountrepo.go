package accountrepo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/internal/pg"
	"go.uber.org/zap"
)

type Repository struct {
	db        pg.Database
	txManager pg.TXManager
}

func New(db pg.Database, txManager pg.TXManager) *Repository {
	return &Repository{
		db:        db,
		txManager: txManager,
	}
}

func (r *Repository) GetByUserID(ctx context.Context, userID int) (*domain.Account, error) {
	query := `
        SELECT id, user_id, number, balance, created_at
        FROM accounts
        WHERE user_id = $1
    `
	row := r.db.QueryRow(ctx, query, userID)
	var acc domain.Account
	err := row.Scan(&acc.ID, &acc.UserID, &acc.Number, &acc.Balance, &acc.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		zap.L().Error("failed to get account by user id", zap.Error(err))
		return nil, err
	}
	return &acc, nil
}

func (r *Repository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `
        SELECT id, user_id, number, balance, created_at
        FROM accounts
        WHERE number = $1
    `
	row := r.db.QueryRow(ctx, query, number)
	var acc domain.Account
	err := row.Scan(&acc.ID, &acc.UserID, &acc.Number, &acc.Balance, &acc.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		zap.L().Error("failed to get account by number", zap.Error(err))
		return nil, err
	}
	return &acc, nil
}

func (r *Repository) Create(ctx context.Context, userID int, number string) (*domain.Account, error) {
	query := `
        INSERT INTO accounts (user_id, number, balance)
        VALUES ($1, $2, 0)
        RETURNING id, user_id, number, balance, created_at
    `
	row := r.db.QueryRow(ctx, query, userID, number)
	var acc domain.Account
	err := row.Scan(&acc.ID, &acc.UserID, &acc.Number, &acc.Balance, &acc.CreatedAt)
	if err != nil {
		zap.L().Error("failed to create account", zap.Error(err))
		return nil, err
	}
	return &acc, nil
}

const lockQuery = `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`

const updateBalanceQuery = `UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance`

const settleEntryQuery = `
		UPDATE transactions
		SET status = $1, balance_after = $2
		WHERE id = $3 AND status = $4
		RETURNING id, account_id, amount, movement_type, status, counterparty, description, balance_after, created_at
	`

const insertEntryQuery = `
		INSERT INTO transactions (account_id, amount, movement_type, status, counterparty, description, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

// TransferFunds debits the sender, credits the recipient and inserts the two
// mirrored ledger entries inside one database transaction. Row locks are
// acquired in ascending account-id order so concurrent transfers touching
// the same pair cannot deadlock. Either everything applies or nothing does.
func (r *Repository) TransferFunds(ctx context.Context, p domain.TransferParams) (*domain.Transaction, *domain.Transaction, error) {
	var debit, credit domain.Transaction

	err := r.txManager.Begin(ctx, func(ctx context.Context) error {
		first, second := p.FromAccountID, p.ToAccountID
		if first > second {
			first, second = second, first
		}

		var firstBalance, secondBalance int64
		if err := r.db.QueryRow(ctx, lockQuery, first).Scan(&firstBalance); err != nil {
			return err
		}
		if err := r.db.QueryRow(ctx, lockQuery, second).Scan(&secondBalance); err != nil {
			return err
		}

		fromBalance := firstBalance
		if p.FromAccountID == second {
			fromBalance = secondBalance
		}
		if fromBalance < p.Amount {
			return domain.ErrInsufficientFunds
		}

		var senderAfter, recipientAfter int64
		if err := r.db.QueryRow(ctx, updateBalanceQuery, -p.Amount, p.FromAccountID).Scan(&senderAfter); err != nil {
			return err
		}
		if err := r.db.QueryRow(ctx, updateBalanceQuery, p.Amount, p.ToAccountID).Scan(&recipientAfter); err != nil {
			return err
		}

		debit = domain.Transaction{
			AccountID:    p.FromAccountID,
			Amount:       -p.Amount,
			Type:         domain.FundTransfer,
			Status:       domain.StatusCompleted,
			Counterparty: p.FromCounterparty,
			Description:  p.Description,
			BalanceAfter: senderAfter,
		}
		if err := r.db.QueryRow(ctx, insertEntryQuery,
			debit.AccountID, debit.Amount, debit.Type, debit.Status, debit.Counterparty, debit.Description, debit.BalanceAfter,
		).Scan(&debit.ID, &debit.CreatedAt); err != nil {
			return err
		}

		credit = domain.Transaction{
			AccountID:    p.ToAccountID,
			Amount:       p.Amount,
			Type:         domain.FundTransfer,
			Status:       domain.StatusCompleted,
			Counterparty: p.ToCounterparty,
			Description:  p.Description,
			BalanceAfter: recipientAfter,
		}
		if err := r.db.QueryRow(ctx, insertEntryQuery,
			credit.AccountID, credit.Amount, credit.Type, credit.Status, credit.Counterparty, credit.Description, credit.BalanceAfter,
		).Scan(&credit.ID, &credit.CreatedAt); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			zap.L().Error("fund transfer failed", zap.Error(err))
		}
		return nil, nil, err
	}
	return &debit, &credit, nil
}

// DebitWithEntry deducts amount+fee from the account and inserts the
// Successfully Completed ledger entry in one database transaction.
func (r *Repository) DebitWithEntry(ctx context.Context, p domain.DebitParams) (*domain.Transaction, error) {
	total := p.Amount + p.Fee
	var entry domain.Transaction

	err := r.txManager.Begin(ctx, func(ctx context.Context) error {
		var balance int64
		if err := r.db.QueryRow(ctx, lockQuery, p.AccountID).Scan(&balance); err != nil {
			return err
		}
		if balance < total {
			return domain.ErrInsufficientFunds
		}

		var after int64
		if err := r.db.QueryRow(ctx, updateBalanceQuery, -total, p.AccountID).Scan(&after); err != nil {
			return err
		}

		entry = domain.Transaction{
			AccountID:    p.AccountID,
			Amount:       -total,
			Type:         p.Type,
			Status:       domain.StatusCompleted,
			Counterparty: p.Counterparty,
			Description:  p.Description,
			BalanceAfter: after,
		}
		return r.db.QueryRow(ctx, insertEntryQuery,
			entry.AccountID, entry.Amount, entry.Type, entry.Status, entry.Counterparty, entry.Description, entry.BalanceAfter,
		).Scan(&entry.ID, &entry.CreatedAt)
	})

	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			zap.L().Error("debit failed", zap.Error(err))
		}
		return nil, err
	}
	return &entry, nil
}

// SettleWithdrawal performs the deferred deduction of a claimed withdrawal:
// it deducts the reserved amount and finalizes the Pending entry with the
// post-deduction balance snapshot, atomically. Amount must be positive.
func (r *Repository) SettleWithdrawal(ctx context.Context, accountID int, transactionID int64, amount int64) (*domain.Transaction, error) {
	var entry domain.Transaction

	err := r.txManager.Begin(ctx, func(ctx context.Context) error {
		var balance int64
		if err := r.db.QueryRow(ctx, lockQuery, accountID).Scan(&balance); err != nil {
			return err
		}
		if balance < amount {
			return domain.ErrInsufficientFunds
		}

		var after int64
		if err := r.db.QueryRow(ctx, updateBalanceQuery, -amount, accountID).Scan(&after); err != nil {
			return err
		}

		err := r.db.QueryRow(ctx, settleEntryQuery, domain.StatusCompleted, after, transactionID, domain.StatusPending).Scan(
			&entry.ID, &entry.AccountID, &entry.Amount, &entry.Type, &entry.Status,
			&entry.Counterparty, &entry.Description, &entry.BalanceAfter, &entry.CreatedAt,
		)
		if err == pgx.ErrNoRows {
			return domain.ErrEntryNotPending
		}
		return err
	})

	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientFunds) && !errors.Is(err, domain.ErrEntryNotPending) {
			zap.L().Error("withdrawal settlement failed", zap.Error(err))
		}
		return nil, err
	}
	return &entry, nil
}
