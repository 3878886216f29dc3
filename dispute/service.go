package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"revpay/ledger"
)

// ErrTransactionNotEligible signals the underlying transaction cannot be
// disputed: it is reversed, already past a verdict, or outside the reversal
// window.
var ErrTransactionNotEligible = errors.New("dispute: transaction not eligible for dispute")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LedgerMarker flips the disputed transaction's state inside the dispute
// service's transaction.
type LedgerMarker interface {
	MarkDisputedTx(ctx context.Context, tx pgx.Tx, id string, now time.Time) error
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	ledger      LedgerMarker
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, ledger LedgerMarker) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		ledger:      ledger,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open creates a dispute against a transaction and marks the transaction
// disputed in the same database transaction: either both commit or neither.
func (s *Service) Open(ctx context.Context, transactionID, raiser, title, content string) (Record, error) {
	if transactionID == "" || raiser == "" {
		return Record{}, fmt.Errorf("dispute: transaction id and raiser are required")
	}
	if title == "" || content == "" {
		return Record{}, fmt.Errorf("dispute: title and content are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	if err := s.ledger.MarkDisputedTx(ctx, tx, transactionID, now); err != nil {
		switch {
		case errors.Is(err, ledger.ErrAlreadyDisputed):
			return Record{}, ErrDuplicateDispute
		case errors.Is(err, ledger.ErrWindowExpired), errors.Is(err, ledger.ErrInvalidTransition):
			return Record{}, fmt.Errorf("%w: %w", ErrTransactionNotEligible, err)
		default:
			return Record{}, err
		}
	}

	rec, err := s.repo.CreateTx(ctx, tx, Record{
		ID:            s.idGenerator(),
		TransactionID: transactionID,
		Raiser:        raiser,
		Title:         title,
		Content:       content,
		CreatedAt:     now,
	})
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit open: %w", err)
	}

	zap.L().Info("dispute opened",
		zap.String("dispute_id", rec.ID),
		zap.String("transaction_id", transactionID),
		zap.String("raiser", raiser))
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByWallet(ctx context.Context, walletID string) ([]Record, error) {
	return s.repo.ListByWallet(ctx, walletID)
}

// ListDue returns disputes whose voting window of the given length has
// elapsed but whose verdict is still pending.
func (s *Service) ListDue(ctx context.Context, votingWindow time.Duration) ([]string, error) {
	return s.repo.ListDue(ctx, s.now().Add(-votingWindow))
}
