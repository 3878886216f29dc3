package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// State tracks a transaction through the reversal lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateDisputed  State = "disputed"
	StateReversed  State = "reversed"
)

// Transaction mirrors the transactions table. Rows are append-only; only the
// state (and settled_at) ever change, and only through sanctioned transitions.
type Transaction struct {
	ID        string
	Sender    string
	Receiver  string
	Amount    decimal.Decimal
	State     State
	CreatedAt time.Time
	SettledAt *time.Time
}

// BalancePair holds the two categorized balances of a wallet. Funds received
// inside an open reversal window sit in the reversible balance; only the
// non-reversible balance can fund a new outbound transfer.
type BalancePair struct {
	WalletID      string
	Reversible    decimal.Decimal
	NonReversible decimal.Decimal
	UpdatedAt     time.Time
}

// Event is an append-only record of a transaction state change, kept in the
// same database transaction as the change itself.
type Event struct {
	ID            int64
	TransactionID string
	Type          string
	Payload       []byte
	CreatedAt     time.Time
}

const (
	EventTransferInitiated = "TRANSFER_INITIATED"
	EventTransferSettled   = "TRANSFER_SETTLED"
	EventTransferDisputed  = "TRANSFER_DISPUTED"
	EventTransferReversed  = "TRANSFER_REVERSED"
	EventDisputeDismissed  = "DISPUTE_DISMISSED"
)
