package vote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"revpay/dispute"
)

var (
	// ErrNotEligible signals the caster is not an eligible judge for the dispute.
	ErrNotEligible = errors.New("vote: wallet not eligible to vote on this dispute")
	// ErrWindowClosed signals the voting window has elapsed or the verdict is
	// already final.
	ErrWindowClosed = errors.New("vote: voting window closed")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Eligibility is satisfied by judge.Service.
type Eligibility interface {
	IsEligible(ctx context.Context, walletID, disputeID string) (bool, error)
}

// VerdictApplier carries the verdict into the ledger inside the same database
// transaction as the verdict write, so the state transition happens exactly
// once and atomically with the tally.
type VerdictApplier interface {
	Apply(ctx context.Context, tx pgx.Tx, transactionID string, verdict dispute.Verdict) error
}

// Service is the tally engine: it collects sealed ballots during the voting
// window and freezes a verdict once the window elapses.
type Service struct {
	pool         TxBeginner
	repo         Repository
	eligibility  Eligibility
	applier      VerdictApplier
	sealer       *Sealer
	votingWindow time.Duration
	now          func() time.Time
}

func NewService(pool TxBeginner, repo Repository, eligibility Eligibility, applier VerdictApplier, sealer *Sealer, votingWindow time.Duration) *Service {
	return &Service{
		pool:         pool,
		repo:         repo,
		eligibility:  eligibility,
		applier:      applier,
		sealer:       sealer,
		votingWindow: votingWindow,
		now:          time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) windowEnd(d dispute.Record) time.Time {
	return d.CreatedAt.Add(s.votingWindow)
}

// CastBallot records a judge's sealed decision. A later ballot from the same
// judge within the window silently replaces the earlier one.
func (s *Service) CastBallot(ctx context.Context, disputeID, judgeWallet string, decision Decision) error {
	if decision != DecisionApprove && decision != DecisionReject {
		return fmt.Errorf("vote: unknown decision %q", decision)
	}

	d, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return err
	}

	eligible, err := s.eligibility.IsEligible(ctx, judgeWallet, disputeID)
	if err != nil {
		return err
	}
	if !eligible {
		return ErrNotEligible
	}

	now := s.now()
	if d.Verdict != dispute.VerdictPending || !now.Before(s.windowEnd(d)) {
		return ErrWindowClosed
	}

	sealed, err := s.sealer.Seal(decision)
	if err != nil {
		return err
	}
	if err := s.repo.UpsertBallot(ctx, Ballot{
		DisputeID:   disputeID,
		JudgeWallet: judgeWallet,
		Sealed:      sealed,
		CastAt:      now,
	}); err != nil {
		return err
	}

	zap.L().Debug("ballot cast",
		zap.String("dispute_id", disputeID),
		zap.String("judge", judgeWallet))
	return nil
}

func (s *Service) count(ctx context.Context, disputeID string) (approve, reject int, err error) {
	ballots, err := s.repo.ListBallots(ctx, disputeID)
	if err != nil {
		return 0, 0, err
	}
	for _, b := range ballots {
		decision, err := s.sealer.Open(b.Sealed)
		if err != nil {
			return 0, 0, err
		}
		if decision == DecisionApprove {
			approve++
		} else {
			reject++
		}
	}
	return approve, reject, nil
}

// Tally reports the dispute's vote counts. Before the window end it returns
// zero counts and a pending verdict without touching storage. The first call
// at or after the window end freezes the verdict and applies it to the
// ledger, atomically; every later or concurrently racing call observes that
// result and writes nothing.
func (s *Service) Tally(ctx context.Context, disputeID string) (Tally, error) {
	d, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return Tally{}, err
	}

	now := s.now()
	if d.Verdict == dispute.VerdictPending && now.Before(s.windowEnd(d)) {
		// Sealed: no partial results leak while voting is open.
		return Tally{Verdict: dispute.VerdictPending}, nil
	}

	approve, reject, err := s.count(ctx, disputeID)
	if err != nil {
		return Tally{}, err
	}
	if d.Verdict != dispute.VerdictPending {
		return Tally{Approve: approve, Reject: reject, Verdict: d.Verdict}, nil
	}

	// Ties do not reverse: the transfer stands unless a strict majority
	// approves.
	verdict := dispute.VerdictRejected
	if approve > reject {
		verdict = dispute.VerdictApproved
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Tally{}, fmt.Errorf("vote: begin tally: %w", err)
	}
	defer tx.Rollback(ctx)

	won, err := s.repo.CasVerdict(ctx, tx, disputeID, verdict, now)
	if err != nil {
		return Tally{}, err
	}
	if !won {
		// Another closer got there first; surface its verdict.
		_ = tx.Rollback(ctx)
		d, err = s.repo.GetDispute(ctx, disputeID)
		if err != nil {
			return Tally{}, err
		}
		return Tally{Approve: approve, Reject: reject, Verdict: d.Verdict}, nil
	}

	if err := s.applier.Apply(ctx, tx, d.TransactionID, verdict); err != nil {
		return Tally{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Tally{}, fmt.Errorf("vote: commit tally: %w", err)
	}

	zap.L().Info("verdict frozen",
		zap.String("dispute_id", disputeID),
		zap.String("verdict", string(verdict)),
		zap.Int("approve", approve),
		zap.Int("reject", reject))
	return Tally{Approve: approve, Reject: reject, Verdict: verdict}, nil
}

// Percentages reports the approve/reject split as integer percentages. It is
// a pure read: before the window end, and when no ballots were cast, both
// values are zero.
func (s *Service) Percentages(ctx context.Context, disputeID string) (approvePct, rejectPct int, err error) {
	d, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return 0, 0, err
	}
	if d.Verdict == dispute.VerdictPending && s.now().Before(s.windowEnd(d)) {
		return 0, 0, nil
	}

	approve, reject, err := s.count(ctx, disputeID)
	if err != nil {
		return 0, 0, err
	}
	total := approve + reject
	if total == 0 {
		return 0, 0, nil
	}
	approvePct = int(math.Round(float64(approve) / float64(total) * 100))
	return approvePct, 100 - approvePct, nil
}
