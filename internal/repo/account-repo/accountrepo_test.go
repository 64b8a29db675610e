package accountrepo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/internal/pg"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func NewMock(t *testing.T) (*Repository, pgxmock.PgxPoolIface, *pg.MockTXManager) {
	ctrl := gomock.NewController(t)
	mockTxManager := pg.NewMockTXManager(ctrl)

	mockDB, err := pgxmock.NewPool()
	assert.NoError(t, err)
	repo := New(mockDB, mockTxManager)
	defer mockDB.Close()
	defer ctrl.Finish()

	return repo, mockDB, mockTxManager
}

func TestRepository_GetByUserID(t *testing.T) {
	repo, mock, _ := NewMock(t)
	createdAt := time.Now()

	tests := []struct {
		name      string
		userID    int
		mockSetup func()
		expectErr bool
		result    *domain.Account
	}{
		{
			name:   "Valid userID returns account",
			userID: 1,
			mockSetup: func() {
				rows := pgxmock.NewRows([]string{"id", "user_id", "number", "balance", "created_at"}).
					AddRow(1, 1, "11112222", int64(100000), createdAt)
				mock.ExpectQuery(regexp.QuoteMeta(`
        SELECT id, user_id, number, balance, created_at
        FROM accounts
        WHERE user_id = $1`)).
					WithArgs(1).
					WillReturnRows(rows)
			},
			expectErr: false,
			result: &domain.Account{
				ID:        1,
				UserID:    1,
				Number:    "11112222",
				Balance:   100000,
				CreatedAt: createdAt,
			},
		},
		{
			name:   "Non-existing userID returns nil",
			userID: 99,
			mockSetup: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`
        SELECT id, user_id, number, balance, created_at
        FROM accounts
        WHERE user_id = $1`)).
					WithArgs(99).
					WillReturnError(pgx.ErrNoRows)
			},
			expectErr: false,
			result:    nil,
		},
		{
			name:   "Database error",
			userID: 1,
			mockSetup: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`
        SELECT id, user_id, number, balance, created_at
        FROM accounts
        WHERE user_id = $1`)).
					WithArgs(1).
					WillReturnError(errors.New("database error"))
			},
			expectErr: true,
			result:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockSetup()
			result, err := repo.GetByUserID(context.Background(), tt.userID)

			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			if tt.result == nil {
				assert.Nil(t, result)
			} else {
				assert.Equal(t, tt.result, result)
			}
		})
	}
}

func TestRepository_Create(t *testing.T) {
	repo, mock, _ := NewMock(t)
	createdAt := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
        INSERT INTO accounts (user_id, number, balance)
        VALUES ($1, $2, 0)
        RETURNING id, user_id, number, balance, created_at`)).
		WithArgs(1, "11112222").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "number", "balance", "created_at"}).
			AddRow(1, 1, "11112222", int64(0), createdAt))

	account, err := repo.Create(context.Background(), 1, "11112222")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance)
	assert.Equal(t, "11112222", account.Number)
}

func TestRepository_TransferFunds(t *testing.T) {
	repo, mock, tx := NewMock(t)
	createdAt := time.Now()

	params := domain.TransferParams{
		FromAccountID:    1,
		ToAccountID:      2,
		Amount:           25000,
		FromCounterparty: "33334444",
		ToCounterparty:   "11112222",
	}

	tests := []struct {
		name        string
		params      domain.TransferParams
		mockSetup   func()
		expectedErr error
	}{
		{
			name:   "Successful transfer debits and credits atomically",
			params: params,
			mockSetup: func() {
				tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(ctx context.Context) error) error {
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(1).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(100000)))
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(2).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(5000)))
					mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
						WithArgs(int64(-25000), 1).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(75000)))
					mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
						WithArgs(int64(25000), 2).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(30000)))
					mock.ExpectQuery(regexp.QuoteMeta(insertEntryQuery)).
						WithArgs(1, int64(-25000), domain.FundTransfer, domain.StatusCompleted, "33334444", "", int64(75000)).
						WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), createdAt))
					mock.ExpectQuery(regexp.QuoteMeta(insertEntryQuery)).
						WithArgs(2, int64(25000), domain.FundTransfer, domain.StatusCompleted, "11112222", "", int64(30000)).
						WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(43), createdAt))
					return fn(ctx)
				})
			},
			expectedErr: nil,
		},
		{
			name: "Locks are taken in ascending account id order",
			params: domain.TransferParams{
				FromAccountID:  5,
				ToAccountID:    2,
				Amount:         1000,
				ToCounterparty: "55556666",
			},
			mockSetup: func() {
				tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(ctx context.Context) error) error {
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(2).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(5000)))
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(5).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(2000)))
					mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
						WithArgs(int64(-1000), 5).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(1000)))
					mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
						WithArgs(int64(1000), 2).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(6000)))
					mock.ExpectQuery(regexp.QuoteMeta(insertEntryQuery)).
						WithArgs(5, int64(-1000), domain.FundTransfer, domain.StatusCompleted, "", "", int64(1000)).
						WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(44), createdAt))
					mock.ExpectQuery(regexp.QuoteMeta(insertEntryQuery)).
						WithArgs(2, int64(1000), domain.FundTransfer, domain.StatusCompleted, "55556666", "", int64(6000)).
						WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(45), createdAt))
					return fn(ctx)
				})
			},
			expectedErr: nil,
		},
		{
			name:   "Insufficient funds aborts before any write",
			params: params,
			mockSetup: func() {
				tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(ctx context.Context) error) error {
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(1).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(10000)))
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(2).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(5000)))
					return fn(ctx)
				})
			},
			expectedErr: domain.ErrInsufficientFunds,
		},
		{
			name:   "Credit failure rolls the transfer back",
			params: params,
			mockSetup: func() {
				tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(ctx context.Context) error) error {
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(1).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(100000)))
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(2).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(5000)))
					mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
						WithArgs(int64(-25000), 1).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(75000)))
					mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
						WithArgs(int64(25000), 2).
						WillReturnError(errors.New("connection reset"))
					return fn(ctx)
				})
			},
			expectedErr: errors.New("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockSetup()
			debit, credit, err := repo.TransferFunds(context.Background(), tt.params)

			if tt.expectedErr != nil {
				assert.Error(t, err)
				assert.Equal(t, tt.expectedErr.Error(), err.Error())
				assert.Nil(t, debit)
				assert.Nil(t, credit)
			} else {
				assert.NoError(t, err)
				// The two entries mirror each other.
				assert.Equal(t, -credit.Amount, debit.Amount)
				assert.Equal(t, domain.StatusCompleted, debit.Status)
				assert.Equal(t, domain.StatusCompleted, credit.Status)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_DebitWithEntry(t *testing.T) {
	repo, mock, tx := NewMock(t)
	createdAt := time.Now()

	params := domain.DebitParams{
		AccountID:    1,
		Amount:       25000,
		Fee:          1500,
		Type:         domain.BankTransfer,
		Counterparty: "J Doe 4111111111111111",
	}

	tests := []struct {
		name        string
		mockSetup   func()
		expectedErr error
	}{
		{
			name: "Debits amount plus fee in one entry",
			mockSetup: func() {
				tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(ctx context.Context) error) error {
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(1).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(100000)))
					mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
						WithArgs(int64(-26500), 1).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(73500)))
					mock.ExpectQuery(regexp.QuoteMeta(insertEntryQuery)).
						WithArgs(1, int64(-26500), domain.BankTransfer, domain.StatusCompleted, "J Doe 4111111111111111", "", int64(73500)).
						WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(51), createdAt))
					return fn(ctx)
				})
			},
			expectedErr: nil,
		},
		{
			name: "Balance covers the amount but not the fee",
			mockSetup: func() {
				tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(ctx context.Context) error) error {
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(1).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(26000)))
					return fn(ctx)
				})
			},
			expectedErr: domain.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockSetup()
			entry, err := repo.DebitWithEntry(context.Background(), params)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, entry)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, int64(-26500), entry.Amount)
				assert.Equal(t, int64(73500), entry.BalanceAfter)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_SettleWithdrawal(t *testing.T) {
	repo, mock, tx := NewMock(t)
	createdAt := time.Now()

	tests := []struct {
		name        string
		mockSetup   func()
		expectedErr error
	}{
		{
			name: "Deducts and completes the pending entry",
			mockSetup: func() {
				tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(ctx context.Context) error) error {
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(10).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(100000)))
					mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
						WithArgs(int64(-30000), 10).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(70000)))
					mock.ExpectQuery(regexp.QuoteMeta(settleEntryQuery)).
						WithArgs(domain.StatusCompleted, int64(70000), int64(61), domain.StatusPending).
						WillReturnRows(pgxmock.NewRows([]string{"id", "account_id", "amount", "movement_type", "status", "counterparty", "description", "balance_after", "created_at"}).
							AddRow(int64(61), 10, int64(-30000), domain.CardlessWithdrawal, domain.StatusCompleted, "ATM cardless withdrawal", "", int64(70000), createdAt))
					return fn(ctx)
				})
			},
			expectedErr: nil,
		},
		{
			name: "Entry already finalized",
			mockSetup: func() {
				tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(ctx context.Context) error) error {
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(10).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(100000)))
					mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
						WithArgs(int64(-30000), 10).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(70000)))
					mock.ExpectQuery(regexp.QuoteMeta(settleEntryQuery)).
						WithArgs(domain.StatusCompleted, int64(70000), int64(61), domain.StatusPending).
						WillReturnError(pgx.ErrNoRows)
					return fn(ctx)
				})
			},
			expectedErr: domain.ErrEntryNotPending,
		},
		{
			name: "Balance no longer covers the reservation",
			mockSetup: func() {
				tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn func(ctx context.Context) error) error {
					mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
						WithArgs(10).
						WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(20000)))
					return fn(ctx)
				})
			},
			expectedErr: domain.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockSetup()
			entry, err := repo.SettleWithdrawal(context.Background(), 10, 61, 30000)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, entry)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, domain.StatusCompleted, entry.Status)
				assert.Equal(t, int64(70000), entry.BalanceAfter)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
