package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAccountNotFound signals that the account does not exist.
	ErrAccountNotFound = errors.New("auth: account not found")
	// ErrDuplicateUsername signals that the username is already taken.
	ErrDuplicateUsername = errors.New("auth: username already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetByUsername(ctx context.Context, username string) (Account, error)
	GetByWallet(ctx context.Context, walletID string) (Account, error)
}

// CreateAccountParams contains write parameters for creating accounts.
type CreateAccountParams struct {
	WalletID     string
	Username     string
	PasswordHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateAccount inserts a new account and provisions its empty wallet in the
// same statement batch.
func (r *PGRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("auth: begin create account: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO accounts (wallet_id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING wallet_id, username, password_hash, created_at
	`
	account, err := scanAccount(tx.QueryRow(ctx, insertSQL, params.WalletID, params.Username, params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateUsername
		}
		return Account{}, fmt.Errorf("auth: create account: %w", err)
	}

	const walletSQL = `
		INSERT INTO wallets (id, reversible, non_reversible)
		VALUES ($1, 0, 0)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, walletSQL, params.WalletID); err != nil {
		return Account{}, fmt.Errorf("auth: provision wallet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("auth: commit create account: %w", err)
	}
	return account, nil
}

// GetByUsername retrieves an account by username.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (Account, error) {
	const selectSQL = `
		SELECT wallet_id, username, password_hash, created_at
		FROM accounts
		WHERE username = $1
	`
	account, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("auth: get account by username: %w", err)
	}
	return account, nil
}

// GetByWallet retrieves an account by its wallet id.
func (r *PGRepository) GetByWallet(ctx context.Context, walletID string) (Account, error) {
	const selectSQL = `
		SELECT wallet_id, username, password_hash, created_at
		FROM accounts
		WHERE wallet_id = $1
	`
	account, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, walletID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("auth: get account by wallet: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var account Account
	err := row.Scan(
		&account.WalletID,
		&account.Username,
		&account.PasswordHash,
		&account.CreatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}
