package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// Config carries the operator-tunable knobs for the dispute engine.
//
// VotingWindow and ReversalWindow are deliberately independent settings: a
// deployment may close voting one day after a dispute opens while keeping
// transfers reversible for two days, so neither value is derived from the
// other.
type Config struct {
	ListenAddr  string
	DatabaseURL string
	JWTSecret   string

	// BallotSealKey encrypts ballot decisions at rest until tally time.
	BallotSealKey [32]byte

	VotingWindow       time.Duration
	ReversalWindow     time.Duration
	CloserPollInterval time.Duration
}

const (
	defaultListenAddr         = ":8080"
	defaultVotingWindow       = 24 * time.Hour
	defaultReversalWindow     = 48 * time.Hour
	defaultCloserPollInterval = 30 * time.Second
)

// Load reads configuration from the environment, applying defaults for the
// optional knobs and failing fast on the required ones.
func Load() (*Config, error) {
	votingWindow, err := getEnvDuration("VOTING_WINDOW", defaultVotingWindow)
	if err != nil {
		return nil, err
	}

	reversalWindow, err := getEnvDuration("REVERSAL_WINDOW", defaultReversalWindow)
	if err != nil {
		return nil, err
	}

	closerPoll, err := getEnvDuration("CLOSER_POLL_INTERVAL", defaultCloserPollInterval)
	if err != nil {
		return nil, err
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}

	sealKey, err := getEnvSealKey("BALLOT_SEAL_KEY")
	if err != nil {
		return nil, err
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	return &Config{
		ListenAddr:         listenAddr,
		DatabaseURL:        dbURL,
		JWTSecret:          jwtSecret,
		BallotSealKey:      sealKey,
		VotingWindow:       votingWindow,
		ReversalWindow:     reversalWindow,
		CloserPollInterval: closerPoll,
	}, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration for %s: %q (%w)", key, value, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %q", key, value)
	}
	return duration, nil
}

func getEnvSealKey(key string) ([32]byte, error) {
	var out [32]byte
	value := os.Getenv(key)
	if value == "" {
		return out, fmt.Errorf("config: %s is required", key)
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return out, fmt.Errorf("config: %s must be hex encoded: %w", key, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("config: %s must decode to 32 bytes, got %d", key, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
