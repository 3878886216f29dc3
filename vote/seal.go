package vote

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Sealer encrypts ballot decisions at rest. Decisions stay opaque to every
// reader of the ballots table, including the tally path itself, until the
// voting window closes and the sealer opens them; client-side hiding alone
// would not survive a malicious caller.
type Sealer struct {
	key [32]byte
}

func NewSealer(key [32]byte) *Sealer {
	return &Sealer{key: key}
}

func (s *Sealer) Seal(decision Decision) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("vote: seal nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(decision), &nonce, &s.key), nil
}

func (s *Sealer) Open(sealed []byte) (Decision, error) {
	if len(sealed) < 24 {
		return "", fmt.Errorf("vote: sealed ballot too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return "", fmt.Errorf("vote: sealed ballot failed authentication")
	}
	switch d := Decision(plain); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	default:
		return "", fmt.Errorf("vote: sealed ballot holds unknown decision %q", plain)
	}
}
