package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidAmount signals a zero or negative transfer amount.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// DefaultHistoryLimit bounds the per-wallet transaction history views.
const DefaultHistoryLimit = 5

// Service owns transaction creation and the sanctioned state transitions.
type Service struct {
	repo        Repository
	idGenerator func() string
	now         func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:        repo,
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

// RecordTransaction debits the sender's non-reversible balance, credits the
// receiver's reversible balance, and creates the transaction in pending state.
func (s *Service) RecordTransaction(ctx context.Context, sender, receiver string, amount decimal.Decimal) (Transaction, error) {
	if sender == "" || receiver == "" {
		return Transaction{}, fmt.Errorf("ledger: sender and receiver are required")
	}
	if sender == receiver {
		return Transaction{}, fmt.Errorf("ledger: sender and receiver must differ")
	}
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}

	rec, err := s.repo.CreateTransaction(ctx, CreateTransactionParams{
		ID:        s.idGenerator(),
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		CreatedAt: s.now(),
	})
	if err != nil {
		return Transaction{}, err
	}

	zap.L().Info("transfer recorded",
		zap.String("transaction_id", rec.ID),
		zap.String("sender", sender),
		zap.String("receiver", receiver),
		zap.String("amount", amount.String()))
	return rec, nil
}

// Settle releases the receiver's reversible funds once no dispute can still
// claim them back.
func (s *Service) Settle(ctx context.Context, id string) error {
	if err := s.repo.Settle(ctx, id, s.now()); err != nil {
		return err
	}
	zap.L().Info("transfer settled", zap.String("transaction_id", id))
	return nil
}

func (s *Service) MarkDisputed(ctx context.Context, id string) error {
	return s.repo.MarkDisputed(ctx, id, s.now())
}

func (s *Service) Reverse(ctx context.Context, id string) error {
	if err := s.repo.Reverse(ctx, id); err != nil {
		return err
	}
	zap.L().Info("transfer reversed", zap.String("transaction_id", id))
	return nil
}

func (s *Service) ResolveWithoutReversal(ctx context.Context, id string) error {
	if err := s.repo.ResolveWithoutReversal(ctx, id, s.now()); err != nil {
		return err
	}
	zap.L().Info("transfer resolved without reversal", zap.String("transaction_id", id))
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Balances(ctx context.Context, walletID string) (BalancePair, error) {
	return s.repo.Balances(ctx, walletID)
}

// Mint credits spendable funds to a wallet. Real deposits would arrive through
// a payment rail; this faucet stands in for one in development and testing.
func (s *Service) Mint(ctx context.Context, walletID string, amount decimal.Decimal) (BalancePair, error) {
	if walletID == "" {
		return BalancePair{}, fmt.Errorf("ledger: wallet id is required")
	}
	if !amount.IsPositive() {
		return BalancePair{}, ErrInvalidAmount
	}
	return s.repo.Mint(ctx, walletID, amount)
}

// SentHistory returns a wallet's most recent outbound transfers, newest first.
func (s *Service) SentHistory(ctx context.Context, wallet string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.ListBySender(ctx, wallet, limit)
}

// ReceivedHistory returns a wallet's most recent inbound transfers, newest first.
func (s *Service) ReceivedHistory(ctx context.Context, wallet string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.ListByReceiver(ctx, wallet, limit)
}
