package judge

import (
	"context"
	"testing"
	"time"
)

type fakeRepo struct {
	judges  map[string]bool
	parties map[string]map[string]bool // disputeID -> wallet -> party
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{judges: map[string]bool{}, parties: map[string]map[string]bool{}}
}

func (f *fakeRepo) IsJudge(ctx context.Context, walletID string) (bool, error) {
	return f.judges[walletID], nil
}

func (f *fakeRepo) IsParty(ctx context.Context, walletID, disputeID string) (bool, error) {
	return f.parties[disputeID][walletID], nil
}

func (f *fakeRepo) Add(ctx context.Context, walletID string) (Judge, error) {
	if f.judges[walletID] {
		return Judge{}, ErrAlreadyJudge
	}
	f.judges[walletID] = true
	return Judge{WalletID: walletID, AddedAt: time.Now()}, nil
}

func (f *fakeRepo) Remove(ctx context.Context, walletID string) error {
	delete(f.judges, walletID)
	return nil
}

func (f *fakeRepo) List(ctx context.Context) ([]Judge, error) {
	out := make([]Judge, 0, len(f.judges))
	for w := range f.judges {
		out = append(out, Judge{WalletID: w})
	}
	return out, nil
}

func TestIsEligible(t *testing.T) {
	repo := newFakeRepo()
	repo.judges["0xjudge"] = true
	repo.judges["0xsender"] = true
	repo.parties["d-1"] = map[string]bool{"0xsender": true, "0xreceiver": true}
	svc := NewService(repo)
	ctx := context.Background()

	ok, err := svc.IsEligible(ctx, "0xjudge", "d-1")
	if err != nil || !ok {
		t.Fatalf("expected eligible, got ok=%v err=%v", ok, err)
	}

	// a judge who is a party to the transaction may not self-judge
	ok, err = svc.IsEligible(ctx, "0xsender", "d-1")
	if err != nil || ok {
		t.Fatalf("expected party judge to be ineligible, got ok=%v err=%v", ok, err)
	}

	// non-members are never eligible
	ok, err = svc.IsEligible(ctx, "0xstranger", "d-1")
	if err != nil || ok {
		t.Fatalf("expected non-member to be ineligible, got ok=%v err=%v", ok, err)
	}

	if _, err := svc.IsEligible(ctx, "", "d-1"); err == nil {
		t.Fatal("expected validation error for empty wallet")
	}
}

func TestAddDuplicate(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if _, err := svc.Add(ctx, "0xjudge"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, "0xjudge"); err != ErrAlreadyJudge {
		t.Fatalf("expected ErrAlreadyJudge, got %v", err)
	}
}
