package otpservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nstepanov/bankline/internal/metrics"
	"github.com/nstepanov/bankline/pkg/kvstore"
	"go.uber.org/zap"
)

// Sender is the outbound delivery channel. It generates the code and returns
// it to the manager; see internal/sms.
type Sender interface {
	SendCode(ctx context.Context, phones []string) (string, error)
}

var (
	ErrNoChallenge    = errors.New("no active challenge")
	ErrCodeMismatch   = errors.New("invalid code")
	ErrResendCooldown = errors.New("resend cooldown is active")
)

// LockedError is returned while a verification lockout is active. Remaining
// is rendered by the UI as a live countdown.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("verification locked, retry in %d seconds", int(e.Remaining.Seconds()+0.5))
}

type Options struct {
	ResendCooldown time.Duration
	Lockout        time.Duration
	MaxAttempts    int
}

// Manager drives one OTP challenge for one in-progress movement flow:
// Idle -> Issued -> {Verified | Locked}. Issued self-loops on mismatch until
// the third cumulative mismatch forces a lockout, which self-expires. The
// lockout deadline is mirrored into the durable store so an abandoned
// process cannot shed it by restarting.
type Manager struct {
	mu     sync.Mutex
	sender Sender
	store  kvstore.Store
	key    string
	opts   Options

	expected    string
	attempts    int
	resendAfter time.Time
	lockedUntil time.Time
	loaded      bool

	now func() time.Time
}

func New(sender Sender, store kvstore.Store, key string, opts Options) *Manager {
	return &Manager{
		sender: sender,
		store:  store,
		key:    key,
		opts:   opts,
		now:    time.Now,
	}
}

// loadLock pulls a persisted lockout deadline once per manager lifetime.
// Callers hold m.mu.
func (m *Manager) loadLock(ctx context.Context) {
	if m.loaded || m.store == nil {
		return
	}
	m.loaded = true
	var deadline time.Time
	ok, err := m.store.Get(ctx, m.key, &deadline)
	if err != nil {
		zap.L().Error("failed to load lockout state", zap.Error(err))
		return
	}
	if ok && deadline.After(m.now()) {
		m.lockedUntil = deadline
	}
}

func (m *Manager) persistLock(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.Put(ctx, m.key, m.lockedUntil); err != nil {
		zap.L().Error("failed to persist lockout state", zap.Error(err))
	}
}

func (m *Manager) clearLock(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.Delete(ctx, m.key); err != nil {
		zap.L().Error("failed to clear lockout state", zap.Error(err))
	}
}

// locked reports the active lockout, expiring it when its window has passed.
// Callers hold m.mu.
func (m *Manager) locked(ctx context.Context) (time.Duration, bool) {
	m.loadLock(ctx)
	if m.lockedUntil.IsZero() {
		return 0, false
	}
	remaining := m.lockedUntil.Sub(m.now())
	if remaining > 0 {
		return remaining, true
	}
	// Lockout expired: back to Idle. The expected code survives so a
	// correct entry after the window succeeds.
	m.lockedUntil = time.Time{}
	m.attempts = 0
	m.clearLock(ctx)
	return 0, false
}

// Issue dispatches a fresh code to the given contacts and makes it the
// expected value, replacing any prior challenge. Starts the resend cooldown
// and resets the attempt counter.
func (m *Manager) Issue(ctx context.Context, phones []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remaining, ok := m.locked(ctx); ok {
		return &LockedError{Remaining: remaining}
	}

	code, err := m.sender.SendCode(ctx, phones)
	if err != nil {
		return err
	}

	m.expected = code
	m.attempts = 0
	m.resendAfter = m.now().Add(m.opts.ResendCooldown)
	return nil
}

// Resend re-dispatches a code, refusing while the cooldown or a lockout is
// active. Unlike Issue it leaves the attempt counter alone.
func (m *Manager) Resend(ctx context.Context, phones []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remaining, ok := m.locked(ctx); ok {
		return &LockedError{Remaining: remaining}
	}
	if m.expected == "" {
		return ErrNoChallenge
	}
	if m.now().Before(m.resendAfter) {
		return ErrResendCooldown
	}

	code, err := m.sender.SendCode(ctx, phones)
	if err != nil {
		return err
	}

	m.expected = code
	m.resendAfter = m.now().Add(m.opts.ResendCooldown)
	return nil
}

// Verify compares the candidate against the expected code (exact string
// match after trimming). The third cumulative mismatch starts the lockout.
// A match consumes the challenge.
func (m *Manager) Verify(ctx context.Context, candidate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remaining, ok := m.locked(ctx); ok {
		metrics.OTPVerifications.WithLabelValues("locked").Inc()
		return &LockedError{Remaining: remaining}
	}
	if m.expected == "" {
		return ErrNoChallenge
	}

	if strings.TrimSpace(candidate) != m.expected {
		m.attempts++
		if m.attempts >= m.opts.MaxAttempts {
			m.lockedUntil = m.now().Add(m.opts.Lockout)
			m.persistLock(ctx)
			metrics.OTPVerifications.WithLabelValues("locked").Inc()
			return &LockedError{Remaining: m.opts.Lockout}
		}
		metrics.OTPVerifications.WithLabelValues("mismatch").Inc()
		return ErrCodeMismatch
	}

	m.expected = ""
	m.attempts = 0
	m.resendAfter = time.Time{}
	m.clearLock(ctx)
	metrics.OTPVerifications.WithLabelValues("ok").Inc()
	return nil
}

// Reset clears all challenge state unconditionally. Used when the user
// abandons the flow.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expected = ""
	m.attempts = 0
	m.resendAfter = time.Time{}
	m.lockedUntil = time.Time{}
	m.clearLock(ctx)
}
