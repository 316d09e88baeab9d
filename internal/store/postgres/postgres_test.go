package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/engine?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "engine", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p@db:6543/engine?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "engine", User: "u", Password: "p", SSLMode: "require"}))
}

func TestListQuery(t *testing.T) {
	since := time.Unix(100, 0)
	q, args := listQuery("SELECT x FROM t WHERE a = $1", []any{"v"}, "created_at", "DESC",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})

	assert.Equal(t, "SELECT x FROM t WHERE a = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"v", since, 10, 20}, args)

	q, args = listQuery("SELECT x FROM t WHERE 1=1", nil, "ts", "ASC", domain.ListOpts{})
	assert.Equal(t, "SELECT x FROM t WHERE 1=1 ORDER BY ts ASC", q)
	assert.Empty(t, args)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("x")))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_init.sql", names[0])

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"markets", "bets", "resolution_tracking", "automated_market_logs",
		"engine_state", "token_reservations", "payout_results", "user_balances"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
