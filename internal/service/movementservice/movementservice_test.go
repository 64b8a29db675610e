package movementservice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nstepanov/bankline/internal/config"
	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/pkg/auth"
	"github.com/stretchr/testify/assert"
	gomock "go.uber.org/mock/gomock"
)

type mocks struct {
	accountRepo *MockAccountRepo
	txRepo      *MockTransactionRepo
	userRepo    *MockUserRepo
	holds       *MockHoldRegistry
	otp         *MockChallenge
	hash        *auth.MockHashServiceInterface
}

func testConfig() *config.Config {
	return &config.Config{
		BankTransferFee:   1500,
		HoldTTL:           10 * time.Minute,
		OTPResendCooldown: 45 * time.Second,
		OTPLockout:        60 * time.Second,
		OTPMaxAttempts:    3,
	}
}

func NewMock(t *testing.T) (*Service, *mocks) {
	ctrl := gomock.NewController(t)
	m := &mocks{
		accountRepo: NewMockAccountRepo(ctrl),
		txRepo:      NewMockTransactionRepo(ctrl),
		userRepo:    NewMockUserRepo(ctrl),
		holds:       NewMockHoldRegistry(ctrl),
		otp:         NewMockChallenge(ctrl),
		hash:        auth.NewMockHashServiceInterface(ctrl),
	}
	service := New(testConfig(), m.accountRepo, m.txRepo, m.userRepo, m.holds, m.hash, nil, nil)
	service.newChallenge = func(userID int) Challenge { return m.otp }
	defer ctrl.Finish()
	return service, m
}

func senderAccount(balance int64) *domain.Account {
	return &domain.Account{ID: 1, UserID: 1, Number: "11112222", Balance: balance}
}

func TestBeginValidation(t *testing.T) {
	service, m := NewMock(t)
	tests := []struct {
		name        string
		req         domain.MovementRequest
		prepareMock func()
		field       string
	}{
		{
			name:  "Unknown movement type",
			req:   domain.MovementRequest{Type: "wire", Amount: 100},
			field: "type",
		},
		{
			name:  "Non-positive amount",
			req:   domain.MovementRequest{Type: domain.FundTransfer, Amount: 0, Recipient: "12345678"},
			field: "amount",
		},
		{
			name:  "Fund transfer recipient not 8 digits",
			req:   domain.MovementRequest{Type: domain.FundTransfer, Amount: 100, Recipient: "1234"},
			field: "recipient",
		},
		{
			name:  "Bank transfer recipient fails the check digit",
			req:   domain.MovementRequest{Type: domain.BankTransfer, Amount: 100, Recipient: "4111111111111112", Counterparty: "J Doe"},
			field: "recipient",
		},
		{
			name:  "Bank transfer without counterparty",
			req:   domain.MovementRequest{Type: domain.BankTransfer, Amount: 100, Recipient: "4111111111111111"},
			field: "counterparty",
		},
		{
			name:  "Bill payment without recipient",
			req:   domain.MovementRequest{Type: domain.BillPayment, Amount: 100, Counterparty: "Electric Co"},
			field: "recipient",
		},
		{
			name: "Transfer to own account",
			req:  domain.MovementRequest{Type: domain.FundTransfer, Amount: 100, Recipient: "11112222"},
			prepareMock: func() {
				m.accountRepo.EXPECT().GetByUserID(gomock.Any(), 1).Return(senderAccount(100000), nil)
				m.accountRepo.EXPECT().GetByNumber(gomock.Any(), "11112222").Return(senderAccount(100000), nil)
			},
			field: "recipient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prepareMock != nil {
				tt.prepareMock()
			}
			info, err := service.Begin(context.Background(), 1, tt.req)
			assert.Nil(t, info)
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestBeginFundTransfer(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.accountRepo.EXPECT().GetByNumber(ctx, "33334444").Return(&domain.Account{ID: 2, UserID: 2, Number: "33334444", Balance: 5000}, nil)
	m.userRepo.EXPECT().GetByID(ctx, 2).Return(&domain.User{ID: 2, FullName: "Jane Roe"}, nil)

	info, err := service.Begin(ctx, 1, domain.MovementRequest{
		Type:      domain.FundTransfer,
		Amount:    25000,
		Recipient: "33334444",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, info.FlowID)
	assert.Equal(t, int64(25000), info.Amount)
	assert.Equal(t, int64(0), info.Fee)
	assert.Equal(t, "Jane Roe", info.RecipientName)
}

func TestBeginUnregisteredRecipient(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.accountRepo.EXPECT().GetByNumber(ctx, "99990000").Return(nil, nil)

	info, err := service.Begin(ctx, 1, domain.MovementRequest{
		Type:      domain.FundTransfer,
		Amount:    25000,
		Recipient: "99990000",
	})
	assert.Nil(t, info)
	assert.ErrorIs(t, err, ErrUnregisteredRecipient)
}

func TestBeginInsufficientFundsWithFee(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	// A 100.00 balance does not cover a 90.00 transfer plus the 15.00 fee.
	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(10000), nil)

	info, err := service.Begin(ctx, 1, domain.MovementRequest{
		Type:         domain.BankTransfer,
		Amount:       9000,
		Recipient:    "4111111111111111",
		Counterparty: "J Doe",
	})
	assert.Nil(t, info)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestBeginWithdrawalBlockedByActiveHold(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.holds.EXPECT().Active(ctx, 1).Return(&domain.WithdrawalHold{UserID: 1}, nil)

	info, err := service.Begin(ctx, 1, domain.MovementRequest{
		Type:   domain.CardlessWithdrawal,
		Amount: 5000,
	})
	assert.Nil(t, info)
	assert.ErrorIs(t, err, ErrHoldActive)
}

func TestBeginReplacesPriorFlow(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil).Times(2)
	m.accountRepo.EXPECT().GetByNumber(ctx, "33334444").Return(&domain.Account{ID: 2, UserID: 2, Number: "33334444"}, nil).Times(2)
	m.userRepo.EXPECT().GetByID(ctx, 2).Return(&domain.User{ID: 2, FullName: "Jane Roe"}, nil).Times(2)

	req := domain.MovementRequest{Type: domain.FundTransfer, Amount: 25000, Recipient: "33334444"}
	first, err := service.Begin(ctx, 1, req)
	assert.NoError(t, err)
	second, err := service.Begin(ctx, 1, req)
	assert.NoError(t, err)
	assert.NotEqual(t, first.FlowID, second.FlowID)

	// The abandoned flow is gone; the new one is live.
	assert.ErrorIs(t, service.Confirm(ctx, 1, first.FlowID), ErrFlowNotFound)
}

func TestConfirm(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	tests := []struct {
		name          string
		prepareMock   func()
		expectedError error
	}{
		{
			name: "Successful confirmation dispatches the code",
			prepareMock: func() {
				m.userRepo.EXPECT().GetByID(ctx, 1).Return(&domain.User{ID: 1, Phone: "+15550001111"}, nil)
				m.otp.EXPECT().Issue(ctx, []string{"+15550001111"}).Return(nil)
			},
			expectedError: nil,
		},
		{
			name: "No phone on file",
			prepareMock: func() {
				m.userRepo.EXPECT().GetByID(ctx, 1).Return(&domain.User{ID: 1}, nil)
			},
			expectedError: ErrNoContactOnFile,
		},
		{
			name: "Dispatch failure",
			prepareMock: func() {
				m.userRepo.EXPECT().GetByID(ctx, 1).Return(&domain.User{ID: 1, Phone: "+15550001111"}, nil)
				m.otp.EXPECT().Issue(ctx, []string{"+15550001111"}).Return(errors.New("gateway unavailable"))
			},
			expectedError: ErrOTPDispatchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
			m.accountRepo.EXPECT().GetByNumber(ctx, "33334444").Return(&domain.Account{ID: 2, UserID: 2, Number: "33334444"}, nil)
			m.userRepo.EXPECT().GetByID(ctx, 2).Return(&domain.User{ID: 2, FullName: "Jane Roe"}, nil)
			info, err := service.Begin(ctx, 1, domain.MovementRequest{
				Type:      domain.FundTransfer,
				Amount:    25000,
				Recipient: "33334444",
			})
			assert.NoError(t, err)

			tt.prepareMock()
			err = service.Confirm(ctx, 1, info.FlowID)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfirmUnknownFlow(t *testing.T) {
	service, _ := NewMock(t)
	assert.ErrorIs(t, service.Confirm(context.Background(), 1, "no-such-flow"), ErrFlowNotFound)
}

func TestResendRequiresConfirmation(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.accountRepo.EXPECT().GetByNumber(ctx, "33334444").Return(&domain.Account{ID: 2, UserID: 2}, nil)
	m.userRepo.EXPECT().GetByID(ctx, 2).Return(&domain.User{ID: 2}, nil)
	info, err := service.Begin(ctx, 1, domain.MovementRequest{
		Type:      domain.FundTransfer,
		Amount:    25000,
		Recipient: "33334444",
	})
	assert.NoError(t, err)

	assert.ErrorIs(t, service.Resend(ctx, 1, info.FlowID), ErrNotConfirmed)
}

// beginAndConfirm drives a flow to the code-entry stage.
func beginAndConfirm(t *testing.T, service *Service, m *mocks, req domain.MovementRequest) string {
	ctx := context.Background()
	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	if req.Type == domain.FundTransfer {
		m.accountRepo.EXPECT().GetByNumber(ctx, req.Recipient).Return(&domain.Account{ID: 2, UserID: 2, Number: req.Recipient}, nil)
		m.userRepo.EXPECT().GetByID(ctx, 2).Return(&domain.User{ID: 2, FullName: "Jane Roe"}, nil)
	}
	if req.Type == domain.CardlessWithdrawal {
		m.holds.EXPECT().Active(ctx, 1).Return(nil, nil)
	}
	info, err := service.Begin(ctx, 1, req)
	assert.NoError(t, err)

	m.userRepo.EXPECT().GetByID(ctx, 1).Return(&domain.User{ID: 1, Phone: "+15550001111", PINHash: "hashed-pin"}, nil)
	m.otp.EXPECT().Issue(ctx, []string{"+15550001111"}).Return(nil)
	assert.NoError(t, service.Confirm(ctx, 1, info.FlowID))
	return info.FlowID
}

func TestVerifyAndCommitFundTransfer(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	flowID := beginAndConfirm(t, service, m, domain.MovementRequest{
		Type:      domain.FundTransfer,
		Amount:    25000,
		Recipient: "33334444",
	})

	m.otp.EXPECT().Verify(ctx, "482910").Return(nil)
	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.accountRepo.EXPECT().TransferFunds(ctx, domain.TransferParams{
		FromAccountID:    1,
		ToAccountID:      2,
		Amount:           25000,
		FromCounterparty: "33334444",
		ToCounterparty:   "11112222",
	}).Return(&domain.Transaction{
		ID:           42,
		AccountID:    1,
		Amount:       -25000,
		Type:         domain.FundTransfer,
		Status:       domain.StatusCompleted,
		Counterparty: "33334444",
		BalanceAfter: 75000,
	}, &domain.Transaction{ID: 43, AccountID: 2, Amount: 25000}, nil)

	receipt, err := service.VerifyAndCommit(ctx, 1, flowID, "482910", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), receipt.Reference)
	assert.Equal(t, int64(25000), receipt.Amount)
	assert.Equal(t, int64(75000), receipt.BalanceAfter)
	assert.Equal(t, domain.StatusCompleted, receipt.Status)

	// The flow is consumed.
	_, err = service.VerifyAndCommit(ctx, 1, flowID, "482910", "")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestVerifyAndCommitCodeMismatchKeepsFlow(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	flowID := beginAndConfirm(t, service, m, domain.MovementRequest{
		Type:      domain.FundTransfer,
		Amount:    25000,
		Recipient: "33334444",
	})

	mismatch := errors.New("invalid code")
	m.otp.EXPECT().Verify(ctx, "000000").Return(mismatch)

	_, err := service.VerifyAndCommit(ctx, 1, flowID, "000000", "")
	assert.ErrorIs(t, err, mismatch)

	// The flow survives for a retry.
	m.otp.EXPECT().Verify(ctx, "482910").Return(nil)
	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.accountRepo.EXPECT().TransferFunds(ctx, gomock.Any()).Return(&domain.Transaction{ID: 42, Amount: -25000, Status: domain.StatusCompleted}, &domain.Transaction{}, nil)
	_, err = service.VerifyAndCommit(ctx, 1, flowID, "482910", "")
	assert.NoError(t, err)
}

func TestVerifyAndCommitExternalDebitsFee(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	flowID := beginAndConfirm(t, service, m, domain.MovementRequest{
		Type:         domain.BankTransfer,
		Amount:       25000,
		Recipient:    "4111111111111111",
		Counterparty: "J Doe",
	})

	m.otp.EXPECT().Verify(ctx, "482910").Return(nil)
	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.accountRepo.EXPECT().DebitWithEntry(ctx, domain.DebitParams{
		AccountID:    1,
		Amount:       25000,
		Fee:          1500,
		Type:         domain.BankTransfer,
		Counterparty: "J Doe 4111111111111111",
	}).Return(&domain.Transaction{
		ID:           51,
		AccountID:    1,
		Amount:       -26500,
		Type:         domain.BankTransfer,
		Status:       domain.StatusCompleted,
		Counterparty: "J Doe 4111111111111111",
		BalanceAfter: 73500,
	}, nil)

	receipt, err := service.VerifyAndCommit(ctx, 1, flowID, "482910", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(25000), receipt.Amount)
	assert.Equal(t, int64(1500), receipt.Fee)
	assert.Equal(t, int64(73500), receipt.BalanceAfter)
}

func TestVerifyAndCommitLedgerFailureEndsFlow(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	flowID := beginAndConfirm(t, service, m, domain.MovementRequest{
		Type:      domain.FundTransfer,
		Amount:    25000,
		Recipient: "33334444",
	})

	m.otp.EXPECT().Verify(ctx, "482910").Return(nil)
	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.accountRepo.EXPECT().TransferFunds(ctx, gomock.Any()).Return(nil, nil, fmt.Errorf("connection reset"))
	m.otp.EXPECT().Reset(ctx)

	_, err := service.VerifyAndCommit(ctx, 1, flowID, "482910", "")
	assert.ErrorIs(t, err, ErrLedgerWrite)

	_, err = service.VerifyAndCommit(ctx, 1, flowID, "482910", "")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestVerifyAndCommitWithdrawal(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()
	base := time.Now()
	service.now = func() time.Time { return base }

	flowID := beginAndConfirm(t, service, m, domain.MovementRequest{
		Type:   domain.CardlessWithdrawal,
		Amount: 30000,
	})

	m.otp.EXPECT().Verify(ctx, "482910").Return(nil)
	m.userRepo.EXPECT().GetByID(ctx, 1).Return(&domain.User{ID: 1, PINHash: "hashed-pin"}, nil)
	m.hash.EXPECT().Compare("hashed-pin", "1234").Return(true)
	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.txRepo.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
			assert.Equal(t, int64(-30000), tx.Amount)
			assert.Equal(t, domain.StatusPending, tx.Status)
			// No deduction yet: the snapshot is the pre-deduction balance.
			assert.Equal(t, int64(100000), tx.BalanceAfter)
			tx.ID = 61
			return tx, nil
		})
	m.holds.EXPECT().Arm(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, hold *domain.WithdrawalHold) error {
			assert.Equal(t, int64(61), hold.TransactionID)
			assert.Equal(t, int64(30000), hold.Amount)
			assert.Len(t, hold.Code, 6)
			assert.Equal(t, base.Add(10*time.Minute), hold.ExpiresAt)
			return nil
		})

	receipt, err := service.VerifyAndCommit(ctx, 1, flowID, "482910", "1234")
	assert.NoError(t, err)
	assert.Equal(t, int64(61), receipt.Reference)
	assert.Len(t, receipt.Code, 6)
	assert.Equal(t, base.Add(10*time.Minute), receipt.ExpiresAt)
}

func TestVerifyAndCommitWithdrawalPINMismatchKeepsFlow(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	flowID := beginAndConfirm(t, service, m, domain.MovementRequest{
		Type:   domain.CardlessWithdrawal,
		Amount: 30000,
	})

	m.otp.EXPECT().Verify(ctx, "482910").Return(nil)
	m.userRepo.EXPECT().GetByID(ctx, 1).Return(&domain.User{ID: 1, PINHash: "hashed-pin"}, nil)
	m.hash.EXPECT().Compare("hashed-pin", "9999").Return(false)

	_, err := service.VerifyAndCommit(ctx, 1, flowID, "482910", "9999")
	assert.ErrorIs(t, err, ErrPINMismatch)

	// The flow is still live: the same stage can be retried.
	m.otp.EXPECT().Verify(ctx, "482910").Return(nil)
	m.userRepo.EXPECT().GetByID(ctx, 1).Return(&domain.User{ID: 1, PINHash: "hashed-pin"}, nil)
	m.hash.EXPECT().Compare("hashed-pin", "9999").Return(false)
	_, err = service.VerifyAndCommit(ctx, 1, flowID, "482910", "9999")
	assert.ErrorIs(t, err, ErrPINMismatch)
}

func TestVerifyAndCommitRequiresConfirmation(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.accountRepo.EXPECT().GetByNumber(ctx, "33334444").Return(&domain.Account{ID: 2, UserID: 2}, nil)
	m.userRepo.EXPECT().GetByID(ctx, 2).Return(&domain.User{ID: 2}, nil)
	info, err := service.Begin(ctx, 1, domain.MovementRequest{
		Type:      domain.FundTransfer,
		Amount:    25000,
		Recipient: "33334444",
	})
	assert.NoError(t, err)

	_, err = service.VerifyAndCommit(ctx, 1, info.FlowID, "482910", "")
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestCancel(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	flowID := beginAndConfirm(t, service, m, domain.MovementRequest{
		Type:      domain.FundTransfer,
		Amount:    25000,
		Recipient: "33334444",
	})

	m.otp.EXPECT().Reset(ctx)
	assert.NoError(t, service.Cancel(ctx, 1, flowID))
	assert.ErrorIs(t, service.Cancel(ctx, 1, flowID), ErrFlowNotFound)
}

func TestFlowIsOwnerScoped(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(100000), nil)
	m.accountRepo.EXPECT().GetByNumber(ctx, "33334444").Return(&domain.Account{ID: 2, UserID: 2}, nil)
	m.userRepo.EXPECT().GetByID(ctx, 2).Return(&domain.User{ID: 2}, nil)
	info, err := service.Begin(ctx, 1, domain.MovementRequest{
		Type:      domain.FundTransfer,
		Amount:    25000,
		Recipient: "33334444",
	})
	assert.NoError(t, err)

	assert.ErrorIs(t, service.Confirm(ctx, 2, info.FlowID), ErrFlowNotFound)
}

func TestHistory(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	entries := []domain.Transaction{
		{ID: 2, AccountID: 1, Amount: -25000},
		{ID: 1, AccountID: 1, Amount: 100000},
	}
	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(senderAccount(75000), nil)
	m.txRepo.EXPECT().ListByAccountID(ctx, 1).Return(entries, nil)

	got, err := service.History(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestGetAccount(t *testing.T) {
	service, m := NewMock(t)
	ctx := context.Background()

	m.accountRepo.EXPECT().GetByUserID(ctx, 1).Return(nil, nil)
	_, err := service.GetAccount(ctx, 1)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	service, m := NewMock(t)

	const users = 8
	const opening = int64(100000)
	const amount = int64(2500)
	const rounds = 10

	var mu sync.Mutex
	balances := make(map[int]int64, users)
	byNumber := make(map[string]int, users)
	var nextRef int64

	numberFor := func(userID int) string { return fmt.Sprintf("%08d", 11110000+userID) }
	for id := 1; id <= users; id++ {
		balances[id] = opening
		byNumber[numberFor(id)] = id
	}

	m.accountRepo.EXPECT().
		GetByUserID(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, userID int) (*domain.Account, error) {
			mu.Lock()
			defer mu.Unlock()
			return &domain.Account{ID: userID, UserID: userID, Number: numberFor(userID), Balance: balances[userID]}, nil
		}).AnyTimes()
	m.accountRepo.EXPECT().
		GetByNumber(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, number string) (*domain.Account, error) {
			mu.Lock()
			defer mu.Unlock()
			id := byNumber[number]
			return &domain.Account{ID: id, UserID: id, Number: number, Balance: balances[id]}, nil
		}).AnyTimes()
	m.userRepo.EXPECT().
		GetByID(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, userID int) (*domain.User, error) {
			return &domain.User{ID: userID, FullName: fmt.Sprintf("User %d", userID), Phone: "+15550100"}, nil
		}).AnyTimes()
	m.otp.EXPECT().Issue(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	m.otp.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	m.otp.EXPECT().Reset(gomock.Any()).AnyTimes()

	m.accountRepo.EXPECT().
		TransferFunds(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p domain.TransferParams) (*domain.Transaction, *domain.Transaction, error) {
			mu.Lock()
			defer mu.Unlock()
			if balances[p.FromAccountID] < p.Amount {
				return nil, nil, domain.ErrInsufficientFunds
			}
			balances[p.FromAccountID] -= p.Amount
			balances[p.ToAccountID] += p.Amount
			nextRef++
			debit := &domain.Transaction{
				ID:           nextRef,
				AccountID:    p.FromAccountID,
				Amount:       -p.Amount,
				Type:         domain.FundTransfer,
				Status:       domain.StatusCompleted,
				Counterparty: p.FromCounterparty,
				BalanceAfter: balances[p.FromAccountID],
			}
			nextRef++
			credit := &domain.Transaction{
				ID:           nextRef,
				AccountID:    p.ToAccountID,
				Amount:       p.Amount,
				Type:         domain.FundTransfer,
				Status:       domain.StatusCompleted,
				Counterparty: p.ToCounterparty,
				BalanceAfter: balances[p.ToAccountID],
			}
			return debit, credit, nil
		}).AnyTimes()

	var wg sync.WaitGroup
	for id := 1; id <= users; id++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			ctx := context.Background()
			recipient := numberFor(userID%users + 1)
			for i := 0; i < rounds; i++ {
				info, err := service.Begin(ctx, userID, domain.MovementRequest{
					Type:      domain.FundTransfer,
					Amount:    amount,
					Recipient: recipient,
				})
				if !assert.NoError(t, err) {
					return
				}
				if !assert.NoError(t, service.Confirm(ctx, userID, info.FlowID)) {
					return
				}
				receipt, err := service.VerifyAndCommit(ctx, userID, info.FlowID, "482916", "")
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, amount, receipt.Amount)
			}
		}(id)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	var total int64
	for id := 1; id <= users; id++ {
		assert.GreaterOrEqual(t, balances[id], int64(0))
		total += balances[id]
	}
	assert.Equal(t, int64(users)*opening, total)
}
