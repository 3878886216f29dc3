package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"revpay/dispute"
	"revpay/ledger"
	"revpay/lifecycle"
	"revpay/vote"
)

// Env bundles the services and seed identities the stress actors drive.
type Env struct {
	Pool      *pgxpool.Pool
	Ledger    *ledger.Service
	Lifecycle *lifecycle.Service
	Votes     *vote.Service
	Wallets   []string
	Judges    []string
}

func (e *Env) randomWallet() string {
	return e.Wallets[rand.Intn(len(e.Wallets))]
}

// randomTransaction picks an existing transaction in one of the given states,
// returning its id and sender. Empty id means none matched.
func (e *Env) randomTransaction(ctx context.Context, states ...string) (id, sender string, err error) {
	err = e.Pool.QueryRow(ctx, `
		SELECT id, sender_wallet FROM transactions
		WHERE state = ANY($1) ORDER BY random() LIMIT 1
	`, states).Scan(&id, &sender)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", nil
	}
	return id, sender, err
}

// randomOpenDispute picks a dispute still awaiting a verdict.
func (e *Env) randomOpenDispute(ctx context.Context) (string, error) {
	var id string
	err := e.Pool.QueryRow(ctx, `
		SELECT id FROM disputes WHERE verdict = 'pending' ORDER BY random() LIMIT 1
	`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// Transferrer fires transfers between random seeded wallets. Insufficient
// funds are expected under contention and ignored.
func Transferrer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		sender := env.randomWallet()
		receiver := env.randomWallet()
		if sender == receiver {
			continue
		}
		amount := decimal.NewFromInt(int64(1 + rand.Intn(5)))
		_, err := env.Ledger.RecordTransaction(ctx, sender, receiver, amount)
		if err != nil && !errors.Is(err, ledger.ErrInsufficientFunds) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("transferrer: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Settler settles random pending transfers; losing a race to a dispute or
// another settler is expected.
func Settler(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, _, err := env.randomTransaction(ctx, "pending")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("settler pick: %w", err)
		}
		if id != "" {
			err := env.Ledger.Settle(ctx, id)
			switch {
			case err == nil,
				errors.Is(err, ledger.ErrNotEligible),
				errors.Is(err, ledger.ErrTransactionNotFound):
			default:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("settler settle: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Disputer raises disputes on random live transfers in the sender's name.
// Duplicates and ineligible transfers are expected under contention.
func Disputer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, sender, err := env.randomTransaction(ctx, "pending", "completed")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("disputer pick: %w", err)
		}
		if id != "" {
			_, err := env.Lifecycle.RaiseDispute(ctx, id, sender, "stress claim", "raised under load")
			switch {
			case err == nil,
				errors.Is(err, dispute.ErrDuplicateDispute),
				errors.Is(err, dispute.ErrTransactionNotEligible),
				errors.Is(err, ledger.ErrTransactionNotFound):
			default:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("disputer raise: %w", err)
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// Voter casts ballots from a judge wallet on random open disputes, flipping
// its decision at random to exercise last-write-wins replacement.
func Voter(ctx context.Context, env *Env, judgeWallet string, stop <-chan struct{}) error {
	decisions := []vote.Decision{vote.DecisionApprove, vote.DecisionReject}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		disputeID, err := env.randomOpenDispute(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("voter pick: %w", err)
		}
		if disputeID != "" {
			err := env.Votes.CastBallot(ctx, disputeID, judgeWallet, decisions[rand.Intn(len(decisions))])
			switch {
			case err == nil,
				errors.Is(err, vote.ErrNotEligible),
				errors.Is(err, vote.ErrWindowClosed),
				errors.Is(err, dispute.ErrNotFound):
			default:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("voter cast: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Closer sweeps due disputes in a tight loop. Several closers racing is the
// point: verdicts must still land exactly once.
func Closer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := env.Lifecycle.CloseDue(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("closer sweep: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}
