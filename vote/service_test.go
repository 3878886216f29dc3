package vote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"revpay/dispute"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRepo mimics the Postgres repository, including the compare-and-set
// discipline on the verdict column.
type fakeRepo struct {
	mu      sync.Mutex
	d       dispute.Record
	ballots map[string]Ballot
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		d: dispute.Record{
			ID:            "d-1",
			TransactionID: "tx-1",
			Raiser:        "0xsender",
			Title:         "claim",
			Content:       "details",
			Verdict:       dispute.VerdictPending,
			CreatedAt:     t0,
		},
		ballots: map[string]Ballot{},
	}
}

func (f *fakeRepo) GetDispute(ctx context.Context, id string) (dispute.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.d.ID {
		return dispute.Record{}, dispute.ErrNotFound
	}
	return f.d, nil
}

func (f *fakeRepo) UpsertBallot(ctx context.Context, b Ballot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ballots[b.JudgeWallet] = b
	return nil
}

func (f *fakeRepo) ListBallots(ctx context.Context, disputeID string) ([]Ballot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Ballot, 0, len(f.ballots))
	for _, b := range f.ballots {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeRepo) CasVerdict(ctx context.Context, tx pgx.Tx, disputeID string, v dispute.Verdict, resolvedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.d.Verdict != dispute.VerdictPending {
		return false, nil
	}
	f.d.Verdict = v
	f.d.ResolvedAt = &resolvedAt
	return true, nil
}

type fakeApplier struct {
	applied atomic.Int32
	mu      sync.Mutex
	verdict dispute.Verdict
	txID    string
}

func (f *fakeApplier) Apply(ctx context.Context, tx pgx.Tx, transactionID string, verdict dispute.Verdict) error {
	f.applied.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdict = verdict
	f.txID = transactionID
	return nil
}

type allowAll struct{}

func (allowAll) IsEligible(ctx context.Context, walletID, disputeID string) (bool, error) {
	return true, nil
}

type denyAll struct{}

func (denyAll) IsEligible(ctx context.Context, walletID, disputeID string) (bool, error) {
	return false, nil
}

func newTestEngine(repo *fakeRepo, applier *fakeApplier, elig Eligibility) (*Service, *time.Time) {
	now := t0
	svc := NewService(&fakePool{}, repo, elig, applier, NewSealer(testKey()), 24*time.Hour).
		WithClock(func() time.Time { return now })
	return svc, &now
}

func TestCastBallotEligibilityAndWindow(t *testing.T) {
	repo := newFakeRepo()
	svc, now := newTestEngine(repo, &fakeApplier{}, denyAll{})
	ctx := context.Background()

	if err := svc.CastBallot(ctx, "d-1", "0xjudge", DecisionApprove); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}

	svc, now = newTestEngine(repo, &fakeApplier{}, allowAll{})
	if err := svc.CastBallot(ctx, "d-1", "0xjudge", Decision("maybe")); err == nil {
		t.Fatal("expected error for unknown decision")
	}
	if err := svc.CastBallot(ctx, "missing", "0xjudge", DecisionApprove); !errors.Is(err, dispute.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	*now = t0.Add(24 * time.Hour)
	if err := svc.CastBallot(ctx, "d-1", "0xjudge", DecisionApprove); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed at deadline, got %v", err)
	}

	*now = t0.Add(time.Hour)
	if err := svc.CastBallot(ctx, "d-1", "0xjudge", DecisionApprove); err != nil {
		t.Fatalf("cast inside window: %v", err)
	}
}

func TestCastBallotReplacesEarlierVote(t *testing.T) {
	repo := newFakeRepo()
	applier := &fakeApplier{}
	svc, now := newTestEngine(repo, applier, allowAll{})
	ctx := context.Background()

	*now = t0.Add(time.Hour)
	if err := svc.CastBallot(ctx, "d-1", "0xjudge", DecisionApprove); err != nil {
		t.Fatalf("first cast: %v", err)
	}
	*now = t0.Add(2 * time.Hour)
	if err := svc.CastBallot(ctx, "d-1", "0xjudge", DecisionReject); err != nil {
		t.Fatalf("recast: %v", err)
	}

	*now = t0.Add(25 * time.Hour)
	tally, err := svc.Tally(ctx, "d-1")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Approve != 0 || tally.Reject != 1 {
		t.Fatalf("expected exactly one reject ballot, got %d/%d", tally.Approve, tally.Reject)
	}
}

func TestSealHoldsUntilDeadline(t *testing.T) {
	repo := newFakeRepo()
	svc, now := newTestEngine(repo, &fakeApplier{}, allowAll{})
	ctx := context.Background()

	*now = t0.Add(time.Hour)
	svc.CastBallot(ctx, "d-1", "0xj1", DecisionApprove)
	svc.CastBallot(ctx, "d-1", "0xj2", DecisionReject)

	*now = t0.Add(23 * time.Hour)
	tally, err := svc.Tally(ctx, "d-1")
	if err != nil {
		t.Fatalf("preview tally: %v", err)
	}
	if tally.Approve != 0 || tally.Reject != 0 || tally.Verdict != dispute.VerdictPending {
		t.Fatalf("counts leaked before deadline: %+v", tally)
	}
	a, r, err := svc.Percentages(ctx, "d-1")
	if err != nil || a != 0 || r != 0 {
		t.Fatalf("percentages leaked before deadline: %d/%d err=%v", a, r, err)
	}
	if repo.d.Verdict != dispute.VerdictPending {
		t.Fatal("preview must not write a verdict")
	}
}

func TestTieResolvesToRejected(t *testing.T) {
	repo := newFakeRepo()
	applier := &fakeApplier{}
	svc, now := newTestEngine(repo, applier, allowAll{})
	ctx := context.Background()

	*now = t0.Add(2 * time.Hour)
	svc.CastBallot(ctx, "d-1", "0xj1", DecisionApprove)
	*now = t0.Add(3 * time.Hour)
	svc.CastBallot(ctx, "d-1", "0xj2", DecisionReject)

	*now = t0.Add(25 * time.Hour)
	tally, err := svc.Tally(ctx, "d-1")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Approve != 1 || tally.Reject != 1 {
		t.Fatalf("unexpected counts: %+v", tally)
	}
	if tally.Verdict != dispute.VerdictRejected {
		t.Fatalf("tie must resolve to rejected, got %s", tally.Verdict)
	}
	if applier.verdict != dispute.VerdictRejected || applier.txID != "tx-1" {
		t.Fatalf("applier saw %s on %s", applier.verdict, applier.txID)
	}
}

func TestMajorityApproves(t *testing.T) {
	repo := newFakeRepo()
	applier := &fakeApplier{}
	svc, now := newTestEngine(repo, applier, allowAll{})
	ctx := context.Background()

	*now = t0.Add(2 * time.Hour)
	svc.CastBallot(ctx, "d-1", "0xj1", DecisionApprove)

	*now = t0.Add(25 * time.Hour)
	tally, err := svc.Tally(ctx, "d-1")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Verdict != dispute.VerdictApproved || tally.Approve != 1 || tally.Reject != 0 {
		t.Fatalf("unexpected tally: %+v", tally)
	}
	if applier.verdict != dispute.VerdictApproved {
		t.Fatalf("applier saw %s", applier.verdict)
	}
}

// Many concurrent closers must produce exactly one verdict write and one
// ledger application.
func TestConcurrentTallySingleVerdictWrite(t *testing.T) {
	repo := newFakeRepo()
	applier := &fakeApplier{}
	svc, now := newTestEngine(repo, applier, allowAll{})
	ctx := context.Background()

	*now = t0.Add(time.Hour)
	svc.CastBallot(ctx, "d-1", "0xj1", DecisionApprove)
	*now = t0.Add(25 * time.Hour)

	const closers = 16
	var wg sync.WaitGroup
	results := make([]Tally, closers)
	errs := make([]error, closers)
	for i := 0; i < closers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Tally(ctx, "d-1")
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("closer %d errored: %v", i, errs[i])
		}
		if results[i].Verdict != dispute.VerdictApproved {
			t.Fatalf("closer %d observed verdict %s", i, results[i].Verdict)
		}
	}
	if got := applier.applied.Load(); got != 1 {
		t.Fatalf("expected exactly one ledger application, got %d", got)
	}
}

func TestPreviewAndTallyAgreeAfterDeadline(t *testing.T) {
	repo := newFakeRepo()
	svc, now := newTestEngine(repo, &fakeApplier{}, allowAll{})
	ctx := context.Background()

	*now = t0.Add(time.Hour)
	svc.CastBallot(ctx, "d-1", "0xj1", DecisionApprove)
	svc.CastBallot(ctx, "d-1", "0xj2", DecisionReject)
	svc.CastBallot(ctx, "d-1", "0xj3", DecisionReject)

	*now = t0.Add(25 * time.Hour)
	first, err := svc.Tally(ctx, "d-1")
	if err != nil {
		t.Fatalf("first tally: %v", err)
	}
	second, err := svc.Tally(ctx, "d-1")
	if err != nil {
		t.Fatalf("second tally: %v", err)
	}
	if first.Approve != second.Approve || first.Reject != second.Reject || first.Verdict != second.Verdict {
		t.Fatalf("tallies disagree: %+v vs %+v", first, second)
	}

	a, r, err := svc.Percentages(ctx, "d-1")
	if err != nil {
		t.Fatalf("percentages: %v", err)
	}
	if a != 33 || r != 67 {
		t.Fatalf("expected 33/67, got %d/%d", a, r)
	}
}

func TestPercentagesNoBallots(t *testing.T) {
	repo := newFakeRepo()
	svc, now := newTestEngine(repo, &fakeApplier{}, allowAll{})
	*now = t0.Add(25 * time.Hour)

	a, r, err := svc.Percentages(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("percentages: %v", err)
	}
	if a != 0 || r != 0 {
		t.Fatalf("expected 0/0 with no ballots, got %d/%d", a, r)
	}
}

type fakePool struct{}

func (fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
