package judge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAlreadyJudge = errors.New("judge: wallet already in judge set")

// Repository defines the data access required by the eligibility resolver.
type Repository interface {
	IsJudge(ctx context.Context, walletID string) (bool, error)
	IsParty(ctx context.Context, walletID, disputeID string) (bool, error)
	Add(ctx context.Context, walletID string) (Judge, error)
	Remove(ctx context.Context, walletID string) error
	List(ctx context.Context) ([]Judge, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) IsJudge(ctx context.Context, walletID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM judges WHERE wallet_id = $1)`, walletID).Scan(&ok); err != nil {
		return false, fmt.Errorf("judge: membership check: %w", err)
	}
	return ok, nil
}

// IsParty reports whether the wallet is the sender or receiver of the
// transaction underlying the dispute.
func (r *PGRepository) IsParty(ctx context.Context, walletID, disputeID string) (bool, error) {
	var party bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM disputes d
			JOIN transactions t ON t.id = d.transaction_id
			WHERE d.id = $2 AND (t.sender_wallet = $1 OR t.receiver_wallet = $1)
		)
	`, walletID, disputeID).Scan(&party)
	if err != nil {
		return false, fmt.Errorf("judge: party check: %w", err)
	}
	return party, nil
}

func (r *PGRepository) Add(ctx context.Context, walletID string) (Judge, error) {
	var j Judge
	err := r.pool.QueryRow(ctx, `
		INSERT INTO judges (wallet_id) VALUES ($1)
		RETURNING wallet_id, added_at
	`, walletID).Scan(&j.WalletID, &j.AddedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Judge{}, ErrAlreadyJudge
		}
		return Judge{}, fmt.Errorf("judge: add: %w", err)
	}
	return j, nil
}

func (r *PGRepository) Remove(ctx context.Context, walletID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM judges WHERE wallet_id = $1`, walletID); err != nil {
		return fmt.Errorf("judge: remove: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context) ([]Judge, error) {
	rows, err := r.pool.Query(ctx, `SELECT wallet_id, added_at FROM judges ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("judge: list: %w", err)
	}
	defer rows.Close()

	out := make([]Judge, 0, 8)
	for rows.Next() {
		var j Judge
		if err := rows.Scan(&j.WalletID, &j.AddedAt); err != nil {
			return nil, fmt.Errorf("judge: scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("judge: iterate: %w", err)
	}
	return out, nil
}
