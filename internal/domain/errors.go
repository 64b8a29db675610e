package domain

import "errors"

// Sentinels shared between the ledger repositories and the services that
// interpret their outcomes.
var (
	// ErrInsufficientFunds: the debit side cannot cover amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrEntryNotPending: a status transition targeted a ledger entry that
	// already reached a terminal status.
	ErrEntryNotPending = errors.New("ledger entry is not pending")
)
