package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrWalletNotFound      = errors.New("ledger: wallet not found")
	ErrInsufficientFunds   = errors.New("ledger: insufficient non-reversible funds")
	ErrNotEligible         = errors.New("ledger: transaction not eligible for settlement")
	ErrAlreadyDisputed     = errors.New("ledger: transaction already disputed")
	ErrWindowExpired       = errors.New("ledger: reversal window expired")
	ErrNotDisputed         = errors.New("ledger: transaction not in disputed state")
	ErrInvalidTransition   = errors.New("ledger: invalid state transition")
)

// CreateTransactionParams enumerates the fields written on transfer initiation.
type CreateTransactionParams struct {
	ID        string
	Sender    string
	Receiver  string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Repository defines the data access required by the ledger service.
type Repository interface {
	CreateTransaction(ctx context.Context, params CreateTransactionParams) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	ListBySender(ctx context.Context, wallet string, limit int) ([]Transaction, error)
	ListByReceiver(ctx context.Context, wallet string, limit int) ([]Transaction, error)
	Balances(ctx context.Context, walletID string) (BalancePair, error)
	Mint(ctx context.Context, walletID string, amount decimal.Decimal) (BalancePair, error)
	Settle(ctx context.Context, id string, settledAt time.Time) error
	MarkDisputed(ctx context.Context, id string, now time.Time) error
	Reverse(ctx context.Context, id string) error
	ResolveWithoutReversal(ctx context.Context, id string, asOf time.Time) error
}

type PGRepository struct {
	pool           *pgxpool.Pool
	reversalWindow time.Duration
}

func NewRepository(pool *pgxpool.Pool, reversalWindow time.Duration) *PGRepository {
	return &PGRepository{pool: pool, reversalWindow: reversalWindow}
}

const selectTransaction = `
	SELECT id, sender_wallet, receiver_wallet, amount::text, state::text, created_at, settled_at
	FROM transactions
`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		rec       Transaction
		amountStr string
	)
	if err := row.Scan(&rec.ID, &rec.Sender, &rec.Receiver, &amountStr, &rec.State, &rec.CreatedAt, &rec.SettledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, fmt.Errorf("ledger: scan transaction: %w", err)
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: parse amount %q: %w", amountStr, err)
	}
	rec.Amount = amount
	return rec, nil
}

// lockTransaction fetches a transaction row under FOR UPDATE so concurrent
// transitions on the same id serialize.
func lockTransaction(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx, selectTransaction+`WHERE id = $1 FOR UPDATE`, id))
}

func appendEvent(ctx context.Context, tx pgx.Tx, transactionID, eventType string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ledger: marshal event payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO transaction_events (transaction_id, type, payload)
		VALUES ($1, $2, $3::jsonb)
	`, transactionID, eventType, string(b)); err != nil {
		return fmt.Errorf("ledger: append event: %w", err)
	}
	return nil
}

func (r *PGRepository) CreateTransaction(ctx context.Context, params CreateTransactionParams) (Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	amount := params.Amount.String()

	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET non_reversible = non_reversible - $2::numeric, updated_at = now()
		WHERE id = $1 AND non_reversible >= $2::numeric
	`, params.Sender, amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: debit sender: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, params.Sender).Scan(&exists); err != nil {
			return Transaction{}, fmt.Errorf("ledger: check sender wallet: %w", err)
		}
		if !exists {
			return Transaction{}, ErrWalletNotFound
		}
		return Transaction{}, ErrInsufficientFunds
	}

	// Receiver wallets are provisioned lazily; funds land in the reversible
	// balance until the transfer settles.
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (id, reversible)
		VALUES ($1, $2::numeric)
		ON CONFLICT (id) DO UPDATE
		SET reversible = wallets.reversible + EXCLUDED.reversible, updated_at = now()
	`, params.Receiver, amount); err != nil {
		return Transaction{}, fmt.Errorf("ledger: credit receiver: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, sender_wallet, receiver_wallet, amount, state, created_at)
		VALUES ($1, $2, $3, $4::numeric, 'pending', $5)
	`, params.ID, params.Sender, params.Receiver, amount, params.CreatedAt); err != nil {
		return Transaction{}, fmt.Errorf("ledger: insert transaction: %w", err)
	}

	if err := appendEvent(ctx, tx, params.ID, EventTransferInitiated, map[string]any{
		"sender":   params.Sender,
		"receiver": params.Receiver,
		"amount":   amount,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("ledger: commit transaction: %w", err)
	}

	return Transaction{
		ID:        params.ID,
		Sender:    params.Sender,
		Receiver:  params.Receiver,
		Amount:    params.Amount,
		State:     StatePending,
		CreatedAt: params.CreatedAt,
	}, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, selectTransaction+`WHERE id = $1`, id))
}

func (r *PGRepository) listByWallet(ctx context.Context, column, wallet string, limit int) ([]Transaction, error) {
	query := fmt.Sprintf(`%sWHERE %s = $1 ORDER BY created_at DESC LIMIT $2`, selectTransaction, column)
	rows, err := r.pool.Query(ctx, query, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, limit)
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate transactions: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListBySender(ctx context.Context, wallet string, limit int) ([]Transaction, error) {
	return r.listByWallet(ctx, "sender_wallet", wallet, limit)
}

func (r *PGRepository) ListByReceiver(ctx context.Context, wallet string, limit int) ([]Transaction, error) {
	return r.listByWallet(ctx, "receiver_wallet", wallet, limit)
}

func (r *PGRepository) Balances(ctx context.Context, walletID string) (BalancePair, error) {
	var (
		pair          BalancePair
		reversible    string
		nonReversible string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, reversible::text, non_reversible::text, updated_at
		FROM wallets WHERE id = $1
	`, walletID).Scan(&pair.WalletID, &reversible, &nonReversible, &pair.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BalancePair{}, ErrWalletNotFound
		}
		return BalancePair{}, fmt.Errorf("ledger: fetch balances: %w", err)
	}
	if pair.Reversible, err = decimal.NewFromString(reversible); err != nil {
		return BalancePair{}, fmt.Errorf("ledger: parse reversible balance: %w", err)
	}
	if pair.NonReversible, err = decimal.NewFromString(nonReversible); err != nil {
		return BalancePair{}, fmt.Errorf("ledger: parse non-reversible balance: %w", err)
	}
	return pair, nil
}

// Mint credits freely transferable funds to a wallet, provisioning it if
// needed. Development environments expose this as a faucet.
func (r *PGRepository) Mint(ctx context.Context, walletID string, amount decimal.Decimal) (BalancePair, error) {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO wallets (id, non_reversible)
		VALUES ($1, $2::numeric)
		ON CONFLICT (id) DO UPDATE
		SET non_reversible = wallets.non_reversible + EXCLUDED.non_reversible, updated_at = now()
	`, walletID, amount.String()); err != nil {
		return BalancePair{}, fmt.Errorf("ledger: mint: %w", err)
	}
	return r.Balances(ctx, walletID)
}

func (r *PGRepository) Settle(ctx context.Context, id string, settledAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin settle: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := lockTransaction(ctx, tx, id)
	if err != nil {
		return err
	}
	switch rec.State {
	case StateCompleted:
		return nil
	case StatePending:
	default:
		return ErrNotEligible
	}

	var disputed bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM disputes WHERE transaction_id = $1 AND verdict = 'pending')
	`, id).Scan(&disputed); err != nil {
		return fmt.Errorf("ledger: check open dispute: %w", err)
	}
	if disputed {
		return ErrNotEligible
	}

	if err := releaseToNonReversible(ctx, tx, rec.Receiver, rec.Amount); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET state = 'completed', settled_at = $2 WHERE id = $1
	`, id, settledAt); err != nil {
		return fmt.Errorf("ledger: mark settled: %w", err)
	}
	if err := appendEvent(ctx, tx, id, EventTransferSettled, map[string]any{"receiver": rec.Receiver}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit settle: %w", err)
	}
	return nil
}

// releaseToNonReversible moves amount from a wallet's reversible balance into
// its non-reversible balance.
func releaseToNonReversible(ctx context.Context, tx pgx.Tx, walletID string, amount decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET reversible = reversible - $2::numeric,
		    non_reversible = non_reversible + $2::numeric,
		    updated_at = now()
		WHERE id = $1 AND reversible >= $2::numeric
	`, walletID, amount.String())
	if err != nil {
		return fmt.Errorf("ledger: release reversible funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: reversible balance underflow for wallet %s", walletID)
	}
	return nil
}

// MarkDisputedTx performs the disputed transition inside the caller's
// transaction so the dispute row and the state change commit together.
func (r *PGRepository) MarkDisputedTx(ctx context.Context, tx pgx.Tx, id string, now time.Time) error {
	rec, err := lockTransaction(ctx, tx, id)
	if err != nil {
		return err
	}
	switch rec.State {
	case StateDisputed:
		return ErrAlreadyDisputed
	case StateReversed:
		return ErrInvalidTransition
	case StateCompleted:
		if !now.Before(rec.CreatedAt.Add(r.reversalWindow)) {
			return ErrWindowExpired
		}
		// A transaction that already went through a dispute stays settled.
		var resolved bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM disputes WHERE transaction_id = $1 AND verdict <> 'pending')
		`, id).Scan(&resolved); err != nil {
			return fmt.Errorf("ledger: check prior disputes: %w", err)
		}
		if resolved {
			return ErrInvalidTransition
		}
	case StatePending:
	default:
		return ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions SET state = 'disputed' WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ledger: mark disputed: %w", err)
	}
	return appendEvent(ctx, tx, id, EventTransferDisputed, nil)
}

func (r *PGRepository) MarkDisputed(ctx context.Context, id string, now time.Time) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return r.MarkDisputedTx(ctx, tx, id, now)
	})
}

// ReverseTx undoes a disputed transfer: the amount returns to the sender's
// non-reversible balance and leaves the receiver's reversible balance, or the
// non-reversible one when the transfer had settled before the dispute.
func (r *PGRepository) ReverseTx(ctx context.Context, tx pgx.Tx, id string) error {
	rec, err := lockTransaction(ctx, tx, id)
	if err != nil {
		return err
	}
	if rec.State == StateReversed {
		return nil
	}
	if rec.State != StateDisputed {
		return ErrNotDisputed
	}

	amount := rec.Amount.String()
	if _, err := tx.Exec(ctx, `
		UPDATE wallets
		SET non_reversible = non_reversible + $2::numeric, updated_at = now()
		WHERE id = $1
	`, rec.Sender, amount); err != nil {
		return fmt.Errorf("ledger: credit sender: %w", err)
	}

	column := "reversible"
	if rec.SettledAt != nil {
		column = "non_reversible"
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE wallets
		SET %[1]s = %[1]s - $2::numeric, updated_at = now()
		WHERE id = $1 AND %[1]s >= $2::numeric
	`, column), rec.Receiver, amount)
	if err != nil {
		return fmt.Errorf("ledger: debit receiver: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: receiver wallet %s cannot cover reversal of %s", rec.Receiver, amount)
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions SET state = 'reversed' WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ledger: mark reversed: %w", err)
	}
	return appendEvent(ctx, tx, id, EventTransferReversed, map[string]any{"settled": rec.SettledAt != nil})
}

func (r *PGRepository) Reverse(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return r.ReverseTx(ctx, tx, id)
	})
}

// ResolveWithoutReversalTx completes a disputed transfer after a rejected
// verdict, performing the same balance release as settlement unless the
// transfer had already settled before the dispute opened.
func (r *PGRepository) ResolveWithoutReversalTx(ctx context.Context, tx pgx.Tx, id string, asOf time.Time) error {
	rec, err := lockTransaction(ctx, tx, id)
	if err != nil {
		return err
	}
	if rec.State == StateCompleted {
		return nil
	}
	if rec.State != StateDisputed {
		return ErrNotDisputed
	}

	if rec.SettledAt == nil {
		if err := releaseToNonReversible(ctx, tx, rec.Receiver, rec.Amount); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET state = 'completed', settled_at = COALESCE(settled_at, $2) WHERE id = $1
	`, id, asOf); err != nil {
		return fmt.Errorf("ledger: mark resolved: %w", err)
	}
	return appendEvent(ctx, tx, id, EventDisputeDismissed, nil)
}

func (r *PGRepository) ResolveWithoutReversal(ctx context.Context, id string, asOf time.Time) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return r.ResolveWithoutReversalTx(ctx, tx, id, asOf)
	})
}

func (r *PGRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit tx: %w", err)
	}
	return nil
}
