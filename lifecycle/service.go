package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"revpay/dispute"
	"revpay/vote"
)

// DisputeStore is satisfied by dispute.Service.
type DisputeStore interface {
	Open(ctx context.Context, transactionID, raiser, title, content string) (dispute.Record, error)
	Get(ctx context.Context, id string) (dispute.Record, error)
	ListDue(ctx context.Context, votingWindow time.Duration) ([]string, error)
}

// Tallier is satisfied by vote.Service.
type Tallier interface {
	Tally(ctx context.Context, disputeID string) (vote.Tally, error)
	Percentages(ctx context.Context, disputeID string) (approvePct, rejectPct int, err error)
}

// Status is the externally visible state of a dispute: sealed while the
// voting window is open, counted once it closes.
type Status struct {
	Dispute    dispute.Record
	WindowEnd  time.Time
	Active     bool
	ApprovePct int
	RejectPct  int
}

// Service orchestrates a dispute from raise through verdict.
type Service struct {
	disputes     DisputeStore
	votes        Tallier
	votingWindow time.Duration
	now          func() time.Time
}

func NewService(disputes DisputeStore, votes Tallier, votingWindow time.Duration) *Service {
	return &Service{
		disputes:     disputes,
		votes:        votes,
		votingWindow: votingWindow,
		now:          time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RaiseDispute opens a dispute against a transaction. The voting window
// starts at the dispute's creation time.
func (s *Service) RaiseDispute(ctx context.Context, transactionID, raiser, title, content string) (dispute.Record, error) {
	return s.disputes.Open(ctx, transactionID, raiser, title, content)
}

// CloseIfDue freezes the verdict for a dispute whose voting window has
// elapsed and carries it into the ledger. It is safe to call repeatedly and
// from concurrent closers: a dispute still inside its window, or one already
// closed, is left untouched.
func (s *Service) CloseIfDue(ctx context.Context, disputeID string) (dispute.Verdict, error) {
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return "", err
	}
	if d.Verdict != dispute.VerdictPending {
		return d.Verdict, nil
	}
	if s.now().Before(d.CreatedAt.Add(s.votingWindow)) {
		return dispute.VerdictPending, nil
	}

	tally, err := s.votes.Tally(ctx, disputeID)
	if err != nil {
		return "", err
	}
	return tally.Verdict, nil
}

// CloseDue sweeps every dispute whose window has elapsed. Individual
// failures are logged and do not stop the sweep.
func (s *Service) CloseDue(ctx context.Context) error {
	ids, err := s.disputes.ListDue(ctx, s.votingWindow)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.CloseIfDue(ctx, id); err != nil {
			zap.L().Error("close dispute",
				zap.String("dispute_id", id),
				zap.Error(err))
		}
	}
	return nil
}

// Status reports a dispute's current phase. While the window is open the
// percentages stay at zero; once it has elapsed the verdict is frozen on
// demand and the final split is reported.
func (s *Service) Status(ctx context.Context, disputeID string) (Status, error) {
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return Status{}, err
	}
	windowEnd := d.CreatedAt.Add(s.votingWindow)

	if d.Verdict == dispute.VerdictPending && s.now().Before(windowEnd) {
		return Status{Dispute: d, WindowEnd: windowEnd, Active: true}, nil
	}

	// Due but not yet closed: freeze lazily so a read after the deadline
	// never shows a stale pending verdict.
	if d.Verdict == dispute.VerdictPending {
		tally, err := s.votes.Tally(ctx, disputeID)
		if err != nil {
			return Status{}, err
		}
		d.Verdict = tally.Verdict
	}

	approvePct, rejectPct, err := s.votes.Percentages(ctx, disputeID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Dispute:    d,
		WindowEnd:  windowEnd,
		ApprovePct: approvePct,
		RejectPct:  rejectPct,
	}, nil
}
