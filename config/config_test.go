package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/revpay?sslmode=disable")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("BALLOT_SEAL_KEY", strings.Repeat("ab", 32))
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VotingWindow != 24*time.Hour {
		t.Fatalf("expected 24h voting window, got %s", cfg.VotingWindow)
	}
	if cfg.ReversalWindow != 48*time.Hour {
		t.Fatalf("expected 48h reversal window, got %s", cfg.ReversalWindow)
	}
	if cfg.BallotSealKey == [32]byte{} {
		t.Fatal("expected seal key to be populated")
	}
}

func TestLoadIndependentWindows(t *testing.T) {
	setRequired(t)
	t.Setenv("VOTING_WINDOW", "6h")
	t.Setenv("REVERSAL_WINDOW", "72h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VotingWindow != 6*time.Hour || cfg.ReversalWindow != 72*time.Hour {
		t.Fatalf("windows not independently set: %s / %s", cfg.VotingWindow, cfg.ReversalWindow)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setRequired(t)
	t.Setenv("VOTING_WINDOW", "yesterday")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed duration")
	}

	setRequired(t)
	t.Setenv("VOTING_WINDOW", "-1h")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-positive duration")
	}

	setRequired(t)
	t.Setenv("BALLOT_SEAL_KEY", "abcd")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short seal key")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL missing")
	}
}
