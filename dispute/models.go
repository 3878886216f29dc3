package dispute

import "time"

// Verdict is the outcome of a dispute's vote tally.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Record mirrors the disputes table. Title and Content carry the raiser's
// claim and never change after submission; the verdict is written exactly
// once, by the tally engine, after the voting window closes.
type Record struct {
	ID            string
	TransactionID string
	Raiser        string
	Title         string
	Content       string
	Verdict       Verdict
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}
