package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"revpay/dispute"
)

// LedgerTransitions is the slice of the ledger repository the verdict
// applier needs: the tx-scoped transitions out of the disputed state.
type LedgerTransitions interface {
	ReverseTx(ctx context.Context, tx pgx.Tx, id string) error
	ResolveWithoutReversalTx(ctx context.Context, tx pgx.Tx, id string, asOf time.Time) error
}

// VerdictApplier translates a frozen verdict into the matching ledger
// transition. It runs inside the tally's database transaction, so the
// verdict write and the balance moves commit together.
type VerdictApplier struct {
	ledger LedgerTransitions
	now    func() time.Time
}

func NewVerdictApplier(ledger LedgerTransitions) *VerdictApplier {
	return &VerdictApplier{ledger: ledger, now: time.Now}
}

func (a *VerdictApplier) WithClock(now func() time.Time) *VerdictApplier {
	a.now = now
	return a
}

func (a *VerdictApplier) Apply(ctx context.Context, tx pgx.Tx, transactionID string, verdict dispute.Verdict) error {
	switch verdict {
	case dispute.VerdictApproved:
		return a.ledger.ReverseTx(ctx, tx, transactionID)
	case dispute.VerdictRejected:
		return a.ledger.ResolveWithoutReversalTx(ctx, tx, transactionID, a.now())
	default:
		return fmt.Errorf("lifecycle: cannot apply verdict %q", verdict)
	}
}
