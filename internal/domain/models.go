package domain

import "time"

// MovementType is the closed set of money-movement kinds the orchestrator
// accepts. Switches over it must be exhaustive.
type MovementType string

const (
	FundTransfer       MovementType = "fund-transfer"
	BankTransfer       MovementType = "bank-transfer"
	BillPayment        MovementType = "bill-payment"
	CardlessWithdrawal MovementType = "cardless-withdrawal"
)

func (t MovementType) Valid() bool {
	switch t {
	case FundTransfer, BankTransfer, BillPayment, CardlessWithdrawal:
		return true
	}
	return false
}

// TransactionStatus values are stored verbatim in the ledger and shown on
// receipts. A Pending entry transitions exactly once to a terminal status.
type TransactionStatus string

const (
	StatusPending      TransactionStatus = "Pending"
	StatusCompleted    TransactionStatus = "Successfully Completed"
	StatusUnsuccessful TransactionStatus = "Unsuccessful"
	StatusCancelled    TransactionStatus = "Cancelled"
)

type User struct {
	ID           int       `db:"id"`
	Login        string    `db:"login"`
	PasswordHash string    `db:"password_hash"`
	FullName     string    `db:"full_name"`
	Phone        string    `db:"phone"`
	PINHash      string    `db:"pin_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// Account balance is kept in minor units (cents).
type Account struct {
	ID        int       `db:"id"`
	UserID    int       `db:"user_id"`
	Number    string    `db:"number"`
	Balance   int64     `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
}

// Transaction is one immutable ledger entry. Amount is signed: negative for
// debits, positive for credits. BalanceAfter snapshots the owning account's
// balance immediately after the entry was applied (for a Pending withdrawal,
// the pre-deduction balance, since the deduction is deferred to claim time).
type Transaction struct {
	ID           int64             `db:"id"`
	AccountID    int               `db:"account_id"`
	Amount       int64             `db:"amount"`
	Type         MovementType      `db:"movement_type"`
	Status       TransactionStatus `db:"status"`
	Counterparty string            `db:"counterparty"`
	Description  string            `db:"description"`
	BalanceAfter int64             `db:"balance_after"`
	CreatedAt    time.Time         `db:"created_at"`
}

// MovementRequest is a validated movement intent handed to the orchestrator.
type MovementRequest struct {
	Type         MovementType
	Amount       int64
	Recipient    string
	Counterparty string
	Description  string
}

// Receipt is returned to the caller after a movement commits. Reference is
// the ledger entry id, used as the user-facing reference number. Code and
// ExpiresAt are set for withdrawal reservations only.
type Receipt struct {
	Reference    int64
	Type         MovementType
	Status       TransactionStatus
	Amount       int64
	Fee          int64
	Counterparty string
	BalanceAfter int64
	CreatedAt    time.Time
	Code         string
	ExpiresAt    time.Time
}

// TransferParams describes an internal two-account movement. Amount is in
// minor units and must be positive.
type TransferParams struct {
	FromAccountID    int
	ToAccountID      int
	Amount           int64
	FromCounterparty string
	ToCounterparty   string
	Description      string
}

// DebitParams describes a single-account external movement (bank transfer or
// bill payment). The sender is debited Amount+Fee in one ledger entry.
type DebitParams struct {
	AccountID    int
	Amount       int64
	Fee          int64
	Type         MovementType
	Counterparty string
	Description  string
}

// WithdrawalHold is the client-visible projection of a Pending
// cardless-withdrawal entry. The json tags are its persisted form.
type WithdrawalHold struct {
	UserID        int       `json:"user_id"`
	AccountID     int       `json:"account_id"`
	TransactionID int64     `json:"transaction_id"`
	Code          string    `json:"code"`
	Amount        int64     `json:"amount"`
	ExpiresAt     time.Time `json:"expires_at"`
}
