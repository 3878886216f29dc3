package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"revpay/dispute"
	"revpay/judge"
	"revpay/ledger"
	"revpay/lifecycle"
	"revpay/vote"

	"revpay/test/actors"
	"revpay/test/chaos"
	"revpay/test/infra"
	"revpay/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "kill random database backends during the run")
)

const (
	stressWallets      = 6
	stressJudges       = 3
	stressVotingWindow = 3 * time.Second
	stressMintPerSeed  = 1000
)

func TestDisputeEngineConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	env := mustSeed(t, ctx, pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Transferrer(ctx2, env, stop) })
	}
	g.Go(func() error { return actors.Settler(ctx2, env, stop) })
	g.Go(func() error { return actors.Settler(ctx2, env, stop) })
	g.Go(func() error { return actors.Disputer(ctx2, env, stop) })
	for _, judgeWallet := range env.Judges {
		judgeWallet := judgeWallet
		g.Go(func() error { return actors.Voter(ctx2, env, judgeWallet, stop) })
	}
	// Racing closers: the verdict CAS must keep them from double-applying.
	g.Go(func() error { return actors.Closer(ctx2, env, stop) })
	g.Go(func() error { return actors.Closer(ctx2, env, stop) })
	g.Go(func() error { return actors.Closer(ctx2, env, stop) })

	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

var stressSealKey = [32]byte{
	0x5e, 0x11, 0xa2, 0x43, 0x84, 0xd5, 0x36, 0x07,
	0xc8, 0x79, 0x0a, 0x9b, 0xec, 0x2d, 0x5e, 0x8f,
	0x10, 0xb1, 0x42, 0xd3, 0x64, 0xf5, 0xa6, 0x37,
	0x08, 0x99, 0x2a, 0xbb, 0x4c, 0xdd, 0x6e, 0xff,
}

// mustSeed provisions wallets and judges, records the minted supply for the
// conservation oracle, and wires the full service stack against the pool.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) *actors.Env {
	t.Helper()

	ledgerRepo := ledger.NewRepository(pool, time.Minute)
	ledgerService := ledger.NewService(ledgerRepo)
	disputeService := dispute.NewService(pool, dispute.NewRepository(pool), ledgerRepo)
	judgeService := judge.NewService(judge.NewRepository(pool))
	voteService := vote.NewService(
		pool,
		vote.NewRepository(pool),
		judgeService,
		lifecycle.NewVerdictApplier(ledgerRepo),
		vote.NewSealer(stressSealKey),
		stressVotingWindow,
	)
	lifecycleService := lifecycle.NewService(disputeService, voteService, stressVotingWindow)

	env := &actors.Env{
		Pool:      pool,
		Ledger:    ledgerService,
		Lifecycle: lifecycleService,
		Votes:     voteService,
	}

	mintAmount := decimal.NewFromInt(stressMintPerSeed)
	for i := 0; i < stressWallets; i++ {
		walletID := fmt.Sprintf("wallet-%d-%d", i, rand.Int63())
		if _, err := ledgerService.Mint(ctx, walletID, mintAmount); err != nil {
			t.Fatalf("seed wallet %s: %v", walletID, err)
		}
		env.Wallets = append(env.Wallets, walletID)
	}
	for i := 0; i < stressJudges; i++ {
		judgeWallet := fmt.Sprintf("judge-%d-%d", i, rand.Int63())
		if _, err := ledgerService.Mint(ctx, judgeWallet, decimal.NewFromInt(1)); err != nil {
			t.Fatalf("seed judge wallet %s: %v", judgeWallet, err)
		}
		if _, err := judgeService.Add(ctx, judgeWallet); err != nil {
			t.Fatalf("seed judge %s: %v", judgeWallet, err)
		}
		env.Judges = append(env.Judges, judgeWallet)
	}

	total := mintAmount.Mul(decimal.NewFromInt(stressWallets)).
		Add(decimal.NewFromInt(stressJudges))
	if _, err := pool.Exec(ctx, `
		INSERT INTO stress_seed (id, total_supply) VALUES (1, $1::numeric)
		ON CONFLICT (id) DO UPDATE SET total_supply = EXCLUDED.total_supply
	`, total.String()); err != nil {
		t.Fatalf("record seed supply: %v", err)
	}

	return env
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"wallets", `SELECT id, reversible, non_reversible FROM wallets ORDER BY updated_at DESC LIMIT 20`},
		{"transactions", `SELECT id, sender_wallet, receiver_wallet, amount, state, settled_at FROM transactions ORDER BY created_at DESC LIMIT 50`},
		{"disputes", `SELECT id, transaction_id, verdict, created_at, resolved_at FROM disputes ORDER BY created_at DESC LIMIT 50`},
		{"ballots", `SELECT dispute_id, judge_wallet, cast_at FROM ballots ORDER BY cast_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
