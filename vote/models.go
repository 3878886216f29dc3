package vote

import (
	"time"

	"revpay/dispute"
)

// Decision is a judge's stance on whether the disputed transfer should be
// reversed.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Ballot mirrors the ballots table. The decision is stored sealed and is not
// observable by any reader until the dispute's voting window has elapsed. At
// most one ballot exists per (dispute, judge); recasting replaces it.
type Ballot struct {
	DisputeID   string
	JudgeWallet string
	Sealed      []byte
	CastAt      time.Time
}

// Tally is the outcome of counting a dispute's ballots.
type Tally struct {
	Approve int
	Reject  int
	Verdict dispute.Verdict
}
