package fairness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func TestHash_KnownVector(t *testing.T) {
	// sha256("yes:abc:42")
	assert.Equal(t,
		"467abf8dd2db97e1dcc0ed56c6ed9aac2cfb18ecca6f7ef67f95a4b34027ca66",
		Hash(domain.OutcomeYes, "abc", "42"),
	)
}

func TestCommitRoundTrip(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)
	require.Len(t, secret, 64)

	h := Hash(domain.OutcomeYes, secret, "42")
	assert.True(t, Verify(h, domain.OutcomeYes, secret, "42"))

	assert.False(t, Verify(h, domain.OutcomeNo, secret, "42"), "outcome mutated")
	assert.False(t, Verify(h, domain.OutcomeYes, secret+"0", "42"), "secret mutated")
	assert.False(t, Verify(h, domain.OutcomeYes, secret, "43"), "market id mutated")
}

func TestCommit(t *testing.T) {
	c, err := Commit(domain.OutcomeRefunded, "m-1")
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeRefunded, c.Outcome)
	assert.Equal(t, "m-1", c.MarketID)
	assert.True(t, c.Verify())

	other, err := Commit(domain.OutcomeRefunded, "m-1")
	require.NoError(t, err)
	assert.NotEqual(t, c.Secret, other.Secret)
	assert.NotEqual(t, c.Hash, other.Hash)
}
