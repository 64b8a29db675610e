package holdservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/internal/metrics"
	"github.com/nstepanov/bankline/pkg/kvstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type TransactionRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, id int64, status domain.TransactionStatus) error
}

type AccountRepo interface {
	SettleWithdrawal(ctx context.Context, accountID int, transactionID int64, amount int64) (*domain.Transaction, error)
}

var (
	ErrNoActiveHold = errors.New("no active withdrawal hold")
	ErrHoldExpired  = errors.New("withdrawal hold has expired")
)

const (
	holdKeyPrefix = "withdrawal:hold:"
	sweepInterval = time.Second
)

// Service tracks pending cardless-withdrawal holds: at most one per user.
// Holds are persisted so a restart re-derives the countdown from the stored
// expiry timestamp. Expiry is a wall-clock deadline: a process that slept
// past it finalizes the hold on the next sweep, and because no balance was
// deducted at reservation time, expiry performs no balance adjustment.
type Service struct {
	mu    sync.Mutex
	holds map[int]*domain.WithdrawalHold

	txRepo      TransactionRepo
	accountRepo AccountRepo
	store       kvstore.Store

	now func() time.Time
}

func New(txRepo TransactionRepo, accountRepo AccountRepo, store kvstore.Store) *Service {
	return &Service{
		holds:       make(map[int]*domain.WithdrawalHold),
		txRepo:      txRepo,
		accountRepo: accountRepo,
		store:       store,
		now:         time.Now,
	}
}

func holdKey(userID int) string {
	return fmt.Sprintf("%s%d", holdKeyPrefix, userID)
}

// Restore loads persisted holds after a restart and re-synchronizes each
// against its ledger entry: a hold whose entry already left Pending is
// discarded immediately.
func (s *Service) Restore(ctx context.Context) error {
	raw, err := s.store.List(ctx, holdKeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to list persisted holds: %w", err)
	}

	for key, value := range raw {
		var hold domain.WithdrawalHold
		if err := json.Unmarshal(value, &hold); err != nil {
			zap.L().Error("discarding malformed persisted hold", zap.String("key", key), zap.Error(err))
			s.store.Delete(ctx, key)
			continue
		}

		entry, err := s.txRepo.GetByID(ctx, hold.TransactionID)
		if err != nil {
			return err
		}
		if entry == nil || entry.Status != domain.StatusPending {
			zap.L().Info("discarding stale hold", zap.Int64("transaction_id", hold.TransactionID))
			s.store.Delete(ctx, key)
			continue
		}

		s.mu.Lock()
		s.holds[hold.UserID] = &hold
		s.mu.Unlock()
	}

	return nil
}

// Start runs the expiry sweeper until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	zap.L().Info("withdrawal hold monitor started")
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("context canceled, stopping hold monitor")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*domain.WithdrawalHold
	for _, hold := range s.holds {
		if !now.Before(hold.ExpiresAt) {
			due = append(due, hold)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, hold := range due {
		hold := hold
		g.Go(func() error {
			return s.expire(ctx, hold)
		})
	}
	if err := g.Wait(); err != nil {
		zap.L().Error("error finalizing expired holds", zap.Error(err))
	}
}

// expire finalizes an unclaimed hold: the entry becomes Unsuccessful and the
// hold is dropped. Nothing was deducted at reservation time, so no refund.
func (s *Service) expire(ctx context.Context, hold *domain.WithdrawalHold) error {
	// The entry may have been finalized elsewhere; either way the hold is
	// spent, so a failed transition is logged, not retried.
	if err := s.txRepo.UpdateStatus(ctx, hold.TransactionID, domain.StatusUnsuccessful); err != nil {
		zap.L().Error("failed to mark expired withdrawal", zap.Int64("transaction_id", hold.TransactionID), zap.Error(err))
	}
	s.drop(ctx, hold.UserID)
	metrics.HoldsFinalized.WithLabelValues("expired").Inc()
	zap.L().Info("withdrawal hold expired", zap.Int64("transaction_id", hold.TransactionID))
	return nil
}

func (s *Service) drop(ctx context.Context, userID int) {
	s.mu.Lock()
	delete(s.holds, userID)
	s.mu.Unlock()
	if err := s.store.Delete(ctx, holdKey(userID)); err != nil {
		zap.L().Error("failed to delete persisted hold", zap.Error(err))
	}
}

// Arm registers a freshly reserved hold and persists it.
func (s *Service) Arm(ctx context.Context, hold *domain.WithdrawalHold) error {
	if err := s.store.Put(ctx, holdKey(hold.UserID), hold); err != nil {
		return fmt.Errorf("failed to persist hold: %w", err)
	}
	s.mu.Lock()
	s.holds[hold.UserID] = hold
	s.mu.Unlock()
	return nil
}

// Active returns the user's live hold, or nil when none exists. A hold whose
// deadline already passed is finalized on the spot rather than returned.
func (s *Service) Active(ctx context.Context, userID int) (*domain.WithdrawalHold, error) {
	s.mu.Lock()
	hold := s.holds[userID]
	s.mu.Unlock()

	if hold == nil {
		return nil, nil
	}
	if !s.now().Before(hold.ExpiresAt) {
		s.expire(ctx, hold)
		return nil, nil
	}
	return hold, nil
}

// Claim performs the deferred deduction and completes the entry. Claiming
// after expiry is rejected; the expiry path wins.
func (s *Service) Claim(ctx context.Context, userID int) (*domain.Transaction, error) {
	s.mu.Lock()
	hold := s.holds[userID]
	s.mu.Unlock()

	if hold == nil {
		return nil, ErrNoActiveHold
	}
	if !s.now().Before(hold.ExpiresAt) {
		s.expire(ctx, hold)
		return nil, ErrHoldExpired
	}

	entry, err := s.accountRepo.SettleWithdrawal(ctx, hold.AccountID, hold.TransactionID, hold.Amount)
	if err != nil {
		zap.L().Error("failed to settle withdrawal claim", zap.Error(err))
		return nil, err
	}

	s.drop(ctx, userID)
	metrics.HoldsFinalized.WithLabelValues("claimed").Inc()
	zap.L().Info("withdrawal hold claimed", zap.Int64("transaction_id", hold.TransactionID))
	return entry, nil
}

// Cancel finalizes the hold as user-cancelled. No balance change: nothing
// was deducted at reservation time.
func (s *Service) Cancel(ctx context.Context, userID int) error {
	s.mu.Lock()
	hold := s.holds[userID]
	s.mu.Unlock()

	if hold == nil {
		return ErrNoActiveHold
	}

	if err := s.txRepo.UpdateStatus(ctx, hold.TransactionID, domain.StatusCancelled); err != nil {
		zap.L().Error("failed to cancel withdrawal", zap.Error(err))
		return err
	}

	s.drop(ctx, userID)
	metrics.HoldsFinalized.WithLabelValues("cancelled").Inc()
	zap.L().Info("withdrawal hold cancelled", zap.Int64("transaction_id", hold.TransactionID))
	return nil
}
