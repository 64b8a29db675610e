package movementservice

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nstepanov/bankline/internal/config"
	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/internal/metrics"
	"github.com/nstepanov/bankline/internal/service/otpservice"
	"github.com/nstepanov/bankline/pkg/auth"
	"github.com/nstepanov/bankline/pkg/kvstore"
	"github.com/nstepanov/bankline/pkg/validate"
	"go.uber.org/zap"
)

type AccountRepo interface {
	GetByUserID(ctx context.Context, userID int) (*domain.Account, error)
	GetByNumber(ctx context.Context, number string) (*domain.Account, error)
	TransferFunds(ctx context.Context, p domain.TransferParams) (*domain.Transaction, *domain.Transaction, error)
	DebitWithEntry(ctx context.Context, p domain.DebitParams) (*domain.Transaction, error)
}

type TransactionRepo interface {
	Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
	ListByAccountID(ctx context.Context, accountID int) ([]domain.Transaction, error)
}

type UserRepo interface {
	GetByID(ctx context.Context, id int) (*domain.User, error)
}

type HoldRegistry interface {
	Active(ctx context.Context, userID int) (*domain.WithdrawalHold, error)
	Arm(ctx context.Context, hold *domain.WithdrawalHold) error
}

// Challenge is the per-flow OTP sub-protocol, implemented by
// otpservice.Manager.
type Challenge interface {
	Issue(ctx context.Context, phones []string) error
	Resend(ctx context.Context, phones []string) error
	Verify(ctx context.Context, candidate string) error
	Reset(ctx context.Context)
}

var (
	ErrFlowNotFound          = errors.New("movement flow not found")
	ErrNotConfirmed          = errors.New("movement flow is not confirmed")
	ErrAccountNotFound       = errors.New("account not found")
	ErrUnregisteredRecipient = errors.New("recipient account is not registered")
	ErrNoContactOnFile       = errors.New("no contact phone on file")
	ErrOTPDispatchFailed     = errors.New("failed to dispatch one-time code")
	ErrPINMismatch           = errors.New("invalid withdrawal pin")
	ErrLedgerWrite           = errors.New("ledger write failed")
	ErrHoldActive            = errors.New("a withdrawal hold is already active")
)

// ValidationError names the offending request field. Caller-correctable, no
// side effects.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for field %q", e.Field)
}

// FlowInfo is what the caller gets back from Begin: everything the
// confirmation screen shows before any externally visible effect happens.
type FlowInfo struct {
	FlowID        string
	Type          domain.MovementType
	Amount        int64
	Fee           int64
	Recipient     string
	RecipientName string
}

// flow is one in-progress movement. It lives between Begin and
// commit/cancel; confirmation and code entry arrive as separate calls.
type flow struct {
	id        string
	userID    int
	req       domain.MovementRequest
	recipient *domain.Account
	fee       int64
	confirmed bool
	otp       Challenge
}

// Service is the money-movement orchestrator. One live flow per user; a new
// Begin replaces an abandoned one.
type Service struct {
	accountRepo AccountRepo
	txRepo      TransactionRepo
	userRepo    UserRepo
	holds       HoldRegistry
	hash        auth.HashServiceInterface
	cfg         *config.Config

	newChallenge func(userID int) Challenge

	mu     sync.Mutex
	flows  map[string]*flow
	byUser map[int]string

	now func() time.Time
}

func New(cfg *config.Config, accountRepo AccountRepo, txRepo TransactionRepo, userRepo UserRepo, holds HoldRegistry, hash auth.HashServiceInterface, sender otpservice.Sender, store kvstore.Store) *Service {
	return &Service{
		accountRepo: accountRepo,
		txRepo:      txRepo,
		userRepo:    userRepo,
		holds:       holds,
		hash:        hash,
		cfg:         cfg,
		newChallenge: func(userID int) Challenge {
			return otpservice.New(sender, store, fmt.Sprintf("otp:lockout:%d", userID), otpservice.Options{
				ResendCooldown: cfg.OTPResendCooldown,
				Lockout:        cfg.OTPLockout,
				MaxAttempts:    cfg.OTPMaxAttempts,
			})
		},
		flows:  make(map[string]*flow),
		byUser: make(map[int]string),
		now:    time.Now,
	}
}

func (s *Service) validateRequest(req domain.MovementRequest) error {
	if !req.Type.Valid() {
		return &ValidationError{Field: "type"}
	}
	if req.Amount <= 0 {
		return &ValidationError{Field: "amount"}
	}

	switch req.Type {
	case domain.FundTransfer:
		if !validate.IsAccountNumber(req.Recipient) {
			return &ValidationError{Field: "recipient"}
		}
	case domain.BankTransfer:
		if !validate.IsBankCardNumber(req.Recipient) {
			return &ValidationError{Field: "recipient"}
		}
		if req.Counterparty == "" {
			return &ValidationError{Field: "counterparty"}
		}
	case domain.BillPayment:
		if req.Recipient == "" {
			return &ValidationError{Field: "recipient"}
		}
		if req.Counterparty == "" {
			return &ValidationError{Field: "counterparty"}
		}
	case domain.CardlessWithdrawal:
		// No recipient: the counterparty is the requester at an ATM.
	}
	return nil
}

func (s *Service) fee(t domain.MovementType) int64 {
	if t == domain.BankTransfer {
		return s.cfg.BankTransferFee
	}
	return 0
}

// Begin validates the request, resolves the recipient and checks funds. No
// side effects: the flow it returns can still be abandoned for free.
func (s *Service) Begin(ctx context.Context, userID int, req domain.MovementRequest) (*FlowInfo, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	metrics.MovementsSubmitted.WithLabelValues(string(req.Type)).Inc()

	sender, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrAccountNotFound
	}

	info := &FlowInfo{
		Type:      req.Type,
		Amount:    req.Amount,
		Fee:       s.fee(req.Type),
		Recipient: req.Recipient,
	}

	var recipient *domain.Account
	if req.Type == domain.FundTransfer {
		recipient, err = s.accountRepo.GetByNumber(ctx, req.Recipient)
		if err != nil {
			return nil, err
		}
		if recipient == nil {
			metrics.MovementsFailed.WithLabelValues("unregistered_recipient").Inc()
			return nil, ErrUnregisteredRecipient
		}
		if recipient.ID == sender.ID {
			return nil, &ValidationError{Field: "recipient"}
		}
		owner, err := s.userRepo.GetByID(ctx, recipient.UserID)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			info.RecipientName = owner.FullName
		}
	}

	if req.Type == domain.CardlessWithdrawal {
		hold, err := s.holds.Active(ctx, userID)
		if err != nil {
			return nil, err
		}
		if hold != nil {
			return nil, ErrHoldActive
		}
	}

	if sender.Balance < req.Amount+info.Fee {
		metrics.MovementsFailed.WithLabelValues("insufficient_funds").Inc()
		return nil, domain.ErrInsufficientFunds
	}

	f := &flow{
		id:        uuid.NewString(),
		userID:    userID,
		req:       req,
		recipient: recipient,
		fee:       info.Fee,
	}
	info.FlowID = f.id

	s.mu.Lock()
	if prevID, ok := s.byUser[userID]; ok {
		if prev := s.flows[prevID]; prev != nil && prev.otp != nil {
			prev.otp.Reset(ctx)
		}
		delete(s.flows, prevID)
	}
	s.flows[f.id] = f
	s.byUser[userID] = f.id
	s.mu.Unlock()

	zap.L().Info("movement flow started",
		zap.String("flow_id", f.id),
		zap.String("type", string(req.Type)),
		zap.Int64("amount", req.Amount))
	return info, nil
}

func (s *Service) flowFor(userID int, flowID string) (*flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flows[flowID]
	if f == nil || f.userID != userID {
		return nil, ErrFlowNotFound
	}
	return f, nil
}

func (s *Service) contactFor(ctx context.Context, userID int) (string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil || user.Phone == "" {
		return "", ErrNoContactOnFile
	}
	return user.Phone, nil
}

// Confirm is the explicit user confirmation; only now does anything leave
// the process (the OTP dispatch).
func (s *Service) Confirm(ctx context.Context, userID int, flowID string) error {
	f, err := s.flowFor(userID, flowID)
	if err != nil {
		return err
	}

	phone, err := s.contactFor(ctx, userID)
	if err != nil {
		return err
	}

	if f.otp == nil {
		f.otp = s.newChallenge(userID)
	}
	if err := f.otp.Issue(ctx, []string{phone}); err != nil {
		var locked *otpservice.LockedError
		if errors.As(err, &locked) {
			return err
		}
		zap.L().Error("otp dispatch failed", zap.String("flow_id", flowID), zap.Error(err))
		metrics.MovementsFailed.WithLabelValues("otp_dispatch").Inc()
		return errors.Join(ErrOTPDispatchFailed, err)
	}

	f.confirmed = true
	return nil
}

// Resend re-dispatches the code for a confirmed flow, subject to the
// challenge manager's cooldown and lockout.
func (s *Service) Resend(ctx context.Context, userID int, flowID string) error {
	f, err := s.flowFor(userID, flowID)
	if err != nil {
		return err
	}
	if !f.confirmed || f.otp == nil {
		return ErrNotConfirmed
	}

	phone, err := s.contactFor(ctx, userID)
	if err != nil {
		return err
	}
	return f.otp.Resend(ctx, []string{phone})
}

// VerifyAndCommit checks the entered code (and withdrawal PIN) and performs
// the ledger mutation. Challenge failures keep the flow alive for a retry;
// ledger outcomes, success or failure, end it.
func (s *Service) VerifyAndCommit(ctx context.Context, userID int, flowID, code, pin string) (*domain.Receipt, error) {
	f, err := s.flowFor(userID, flowID)
	if err != nil {
		return nil, err
	}
	if !f.confirmed || f.otp == nil {
		return nil, ErrNotConfirmed
	}

	if err := f.otp.Verify(ctx, code); err != nil {
		return nil, err
	}

	var receipt *domain.Receipt
	switch f.req.Type {
	case domain.FundTransfer:
		receipt, err = s.commitFundTransfer(ctx, f)
	case domain.BankTransfer, domain.BillPayment:
		receipt, err = s.commitExternal(ctx, f)
	case domain.CardlessWithdrawal:
		receipt, err = s.commitWithdrawal(ctx, f, pin)
	default:
		err = &ValidationError{Field: "type"}
	}

	if err != nil {
		// PIN mismatch is a retry of the same stage, all other commit
		// failures are terminal for the flow.
		if errors.Is(err, ErrPINMismatch) {
			return nil, err
		}
		s.endFlow(ctx, f, false)
		return nil, err
	}

	s.endFlow(ctx, f, true)
	metrics.MovementsCommitted.WithLabelValues(string(f.req.Type)).Inc()
	zap.L().Info("movement committed",
		zap.String("flow_id", f.id),
		zap.String("type", string(f.req.Type)),
		zap.Int64("reference", receipt.Reference))
	return receipt, nil
}

// Cancel abandons the flow: challenge state is discarded, the ledger is
// untouched.
func (s *Service) Cancel(ctx context.Context, userID int, flowID string) error {
	f, err := s.flowFor(userID, flowID)
	if err != nil {
		return err
	}
	s.endFlow(ctx, f, false)
	zap.L().Info("movement flow cancelled", zap.String("flow_id", flowID))
	return nil
}

func (s *Service) endFlow(ctx context.Context, f *flow, verified bool) {
	if f.otp != nil && !verified {
		f.otp.Reset(ctx)
	}
	s.mu.Lock()
	delete(s.flows, f.id)
	if s.byUser[f.userID] == f.id {
		delete(s.byUser, f.userID)
	}
	s.mu.Unlock()
}

func (s *Service) commitFundTransfer(ctx context.Context, f *flow) (*domain.Receipt, error) {
	sender, err := s.accountRepo.GetByUserID(ctx, f.userID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrAccountNotFound
	}

	debit, _, err := s.accountRepo.TransferFunds(ctx, domain.TransferParams{
		FromAccountID:    sender.ID,
		ToAccountID:      f.recipient.ID,
		Amount:           f.req.Amount,
		FromCounterparty: f.recipient.Number,
		ToCounterparty:   sender.Number,
		Description:      f.req.Description,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			metrics.MovementsFailed.WithLabelValues("insufficient_funds").Inc()
			return nil, err
		}
		metrics.MovementsFailed.WithLabelValues("ledger_write").Inc()
		return nil, errors.Join(ErrLedgerWrite, err)
	}

	return receiptFrom(debit, 0), nil
}

func (s *Service) commitExternal(ctx context.Context, f *flow) (*domain.Receipt, error) {
	sender, err := s.accountRepo.GetByUserID(ctx, f.userID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrAccountNotFound
	}

	counterparty := fmt.Sprintf("%s %s", f.req.Counterparty, f.req.Recipient)
	entry, err := s.accountRepo.DebitWithEntry(ctx, domain.DebitParams{
		AccountID:    sender.ID,
		Amount:       f.req.Amount,
		Fee:          f.fee,
		Type:         f.req.Type,
		Counterparty: counterparty,
		Description:  f.req.Description,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			metrics.MovementsFailed.WithLabelValues("insufficient_funds").Inc()
			return nil, err
		}
		metrics.MovementsFailed.WithLabelValues("ledger_write").Inc()
		return nil, errors.Join(ErrLedgerWrite, err)
	}

	return receiptFrom(entry, f.fee), nil
}

func (s *Service) commitWithdrawal(ctx context.Context, f *flow, pin string) (*domain.Receipt, error) {
	user, err := s.userRepo.GetByID(ctx, f.userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrAccountNotFound
	}
	if !validate.IsPIN(pin) || !s.hash.Compare(user.PINHash, pin) {
		metrics.MovementsFailed.WithLabelValues("pin_mismatch").Inc()
		return nil, ErrPINMismatch
	}

	sender, err := s.accountRepo.GetByUserID(ctx, f.userID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrAccountNotFound
	}
	if sender.Balance < f.req.Amount {
		metrics.MovementsFailed.WithLabelValues("insufficient_funds").Inc()
		return nil, domain.ErrInsufficientFunds
	}

	// The deduction is deferred to claim time, so the snapshot records the
	// pre-deduction balance.
	entry, err := s.txRepo.Insert(ctx, &domain.Transaction{
		AccountID:    sender.ID,
		Amount:       -f.req.Amount,
		Type:         domain.CardlessWithdrawal,
		Status:       domain.StatusPending,
		Counterparty: "ATM cardless withdrawal",
		Description:  f.req.Description,
		BalanceAfter: sender.Balance,
	})
	if err != nil {
		metrics.MovementsFailed.WithLabelValues("ledger_write").Inc()
		return nil, errors.Join(ErrLedgerWrite, err)
	}

	code, err := generateCode(6)
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.cfg.HoldTTL)

	if err := s.holds.Arm(ctx, &domain.WithdrawalHold{
		UserID:        f.userID,
		AccountID:     sender.ID,
		TransactionID: entry.ID,
		Code:          code,
		Amount:        f.req.Amount,
		ExpiresAt:     expiresAt,
	}); err != nil {
		return nil, err
	}

	receipt := receiptFrom(entry, 0)
	receipt.Code = code
	receipt.ExpiresAt = expiresAt
	return receipt, nil
}

// History returns the account's ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID int) ([]domain.Transaction, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return s.txRepo.ListByAccountID(ctx, account.ID)
}

// GetAccount returns the user's account for the balance screen.
func (s *Service) GetAccount(ctx context.Context, userID int) (*domain.Account, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func receiptFrom(entry *domain.Transaction, fee int64) *domain.Receipt {
	amount := entry.Amount
	if amount < 0 {
		amount = -amount
	}
	if fee > 0 {
		amount -= fee
	}
	return &domain.Receipt{
		Reference:    entry.ID,
		Type:         entry.Type,
		Status:       entry.Status,
		Amount:       amount,
		Fee:          fee,
		Counterparty: entry.Counterparty,
		BalanceAfter: entry.BalanceAfter,
		CreatedAt:    entry.CreatedAt,
	}
}

func generateCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
