// Package fairness produces the commit/reveal artifact published with every
// settled market. Anyone holding the outcome, secret and market id can
// recompute the hash and compare it with the published commitment.
package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// secretBytes is the length of a generated secret before hex encoding.
const secretBytes = 32

// Commitment is the published hash together with its revealed inputs.
type Commitment struct {
	MarketID string
	Outcome  domain.Outcome
	Secret   string
	Hash     string
}

// NewSecret returns a fresh hex-encoded random secret.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("fairness: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Hash returns hex(SHA256(outcome + ":" + secret + ":" + marketID)).
func Hash(outcome domain.Outcome, secret, marketID string) string {
	sum := sha256.Sum256([]byte(string(outcome) + ":" + secret + ":" + marketID))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the hash from the revealed inputs and compares it with
// the published one.
func Verify(hash string, outcome domain.Outcome, secret, marketID string) bool {
	want := Hash(outcome, secret, marketID)
	return subtle.ConstantTimeCompare([]byte(want), []byte(hash)) == 1
}

// Commit generates a secret for the settled outcome and returns the
// resulting commitment.
func Commit(outcome domain.Outcome, marketID string) (Commitment, error) {
	secret, err := NewSecret()
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{
		MarketID: marketID,
		Outcome:  outcome,
		Secret:   secret,
		Hash:     Hash(outcome, secret, marketID),
	}, nil
}

// Verify reports whether the commitment's hash matches its inputs.
func (c Commitment) Verify() bool {
	return Verify(c.Hash, c.Outcome, c.Secret, c.MarketID)
}
