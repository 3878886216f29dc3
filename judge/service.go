package judge

import (
	"context"
	"fmt"
)

// Service resolves voting eligibility from the judge set and the dispute's
// parties.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// IsEligible reports whether the wallet may vote on the dispute: it must be
// in the judge set and must not be a party to the disputed transaction.
func (s *Service) IsEligible(ctx context.Context, walletID, disputeID string) (bool, error) {
	if walletID == "" || disputeID == "" {
		return false, fmt.Errorf("judge: wallet id and dispute id are required")
	}
	member, err := s.repo.IsJudge(ctx, walletID)
	if err != nil {
		return false, err
	}
	if !member {
		return false, nil
	}
	party, err := s.repo.IsParty(ctx, walletID, disputeID)
	if err != nil {
		return false, err
	}
	return !party, nil
}

// IsJudge reports bare judge-set membership, independent of any dispute.
func (s *Service) IsJudge(ctx context.Context, walletID string) (bool, error) {
	return s.repo.IsJudge(ctx, walletID)
}

func (s *Service) Add(ctx context.Context, walletID string) (Judge, error) {
	if walletID == "" {
		return Judge{}, fmt.Errorf("judge: wallet id is required")
	}
	return s.repo.Add(ctx, walletID)
}

func (s *Service) Remove(ctx context.Context, walletID string) error {
	return s.repo.Remove(ctx, walletID)
}

func (s *Service) List(ctx context.Context) ([]Judge, error) {
	return s.repo.List(ctx)
}
