package vote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"revpay/dispute"
)

// Repository defines the data access required by the tally engine.
type Repository interface {
	GetDispute(ctx context.Context, id string) (dispute.Record, error)
	UpsertBallot(ctx context.Context, b Ballot) error
	ListBallots(ctx context.Context, disputeID string) ([]Ballot, error)
	// CasVerdict writes the verdict iff it is still pending, reporting
	// whether this caller performed the write.
	CasVerdict(ctx context.Context, tx pgx.Tx, disputeID string, v dispute.Verdict, resolvedAt time.Time) (bool, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) GetDispute(ctx context.Context, id string) (dispute.Record, error) {
	var rec dispute.Record
	err := r.pool.QueryRow(ctx, `
		SELECT id, transaction_id, raiser_wallet, title, content, verdict::text, created_at, resolved_at
		FROM disputes WHERE id = $1
	`, id).Scan(&rec.ID, &rec.TransactionID, &rec.Raiser, &rec.Title, &rec.Content,
		&rec.Verdict, &rec.CreatedAt, &rec.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dispute.Record{}, dispute.ErrNotFound
		}
		return dispute.Record{}, fmt.Errorf("vote: fetch dispute: %w", err)
	}
	return rec, nil
}

// UpsertBallot inserts or replaces the judge's ballot. The primary key on
// (dispute_id, judge_wallet) serializes concurrent casts from the same judge;
// last write wins.
func (r *PGRepository) UpsertBallot(ctx context.Context, b Ballot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ballots (dispute_id, judge_wallet, sealed_decision, cast_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dispute_id, judge_wallet) DO UPDATE
		SET sealed_decision = EXCLUDED.sealed_decision, cast_at = EXCLUDED.cast_at
	`, b.DisputeID, b.JudgeWallet, b.Sealed, b.CastAt)
	if err != nil {
		return fmt.Errorf("vote: upsert ballot: %w", err)
	}
	return nil
}

func (r *PGRepository) ListBallots(ctx context.Context, disputeID string) ([]Ballot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dispute_id, judge_wallet, sealed_decision, cast_at
		FROM ballots WHERE dispute_id = $1
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("vote: list ballots: %w", err)
	}
	defer rows.Close()

	out := make([]Ballot, 0, 8)
	for rows.Next() {
		var b Ballot
		if err := rows.Scan(&b.DisputeID, &b.JudgeWallet, &b.Sealed, &b.CastAt); err != nil {
			return nil, fmt.Errorf("vote: scan ballot: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vote: iterate ballots: %w", err)
	}
	return out, nil
}

func (r *PGRepository) CasVerdict(ctx context.Context, tx pgx.Tx, disputeID string, v dispute.Verdict, resolvedAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET verdict = $2::dispute_verdict, resolved_at = $3
		WHERE id = $1 AND verdict = 'pending'
	`, disputeID, string(v), resolvedAt)
	if err != nil {
		return false, fmt.Errorf("vote: cas verdict: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
