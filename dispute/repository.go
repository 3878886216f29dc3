package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound         = errors.New("dispute: not found")
	ErrDuplicateDispute = errors.New("dispute: transaction already has an open dispute")
)

// Repository defines the data access required by the dispute service.
type Repository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	ListByWallet(ctx context.Context, walletID string) ([]Record, error)
	ListDue(ctx context.Context, openedBefore time.Time) ([]string, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectDispute = `
	SELECT id, transaction_id, raiser_wallet, title, content, verdict::text, created_at, resolved_at
	FROM disputes
`

func scanDispute(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.TransactionID, &rec.Raiser, &rec.Title, &rec.Content,
		&rec.Verdict, &rec.CreatedAt, &rec.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: scan: %w", err)
	}
	return rec, nil
}

// CreateTx inserts the dispute inside the caller's transaction so the insert
// and the ledger's disputed transition commit together. A partial unique
// index on open disputes upholds the one-open-dispute-per-transaction rule.
func (r *PGRepository) CreateTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO disputes (id, transaction_id, raiser_wallet, title, content, verdict, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
	`, rec.ID, rec.TransactionID, rec.Raiser, rec.Title, rec.Content, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicateDispute
		}
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	rec.Verdict = VerdictPending
	return rec, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Record, error) {
	return scanDispute(r.pool.QueryRow(ctx, selectDispute+`WHERE id = $1`, id))
}

// ListByWallet returns disputes the wallet raised or is a party to, newest
// first.
func (r *PGRepository) ListByWallet(ctx context.Context, walletID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.transaction_id, d.raiser_wallet, d.title, d.content, d.verdict::text, d.created_at, d.resolved_at
		FROM disputes d
		JOIN transactions t ON t.id = d.transaction_id
		WHERE d.raiser_wallet = $1 OR t.sender_wallet = $1 OR t.receiver_wallet = $1
		ORDER BY d.created_at DESC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list by wallet: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// ListDue returns ids of disputes still pending whose voting window opened at
// or before the cutoff.
func (r *PGRepository) ListDue(ctx context.Context, openedBefore time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM disputes
		WHERE verdict = 'pending' AND created_at <= $1
		ORDER BY created_at
	`, openedBefore)
	if err != nil {
		return nil, fmt.Errorf("dispute: list due: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dispute: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate due: %w", err)
	}
	return ids, nil
}
