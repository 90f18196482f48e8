package migrations

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

// TestApplyIsIdempotent mirrors the teacher's internal/auth/store_test.go
// convention: skip when no live Postgres DSN is configured rather than
// mocking database/sql.
func TestApplyIsIdempotent(t *testing.T) {
	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Apply(db))
	require.NoError(t, Apply(db), "re-applying migrations must be a no-op, not an error")

	var exists bool
	err = db.QueryRow(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'sessions')`).Scan(&exists)
	require.NoError(t, err)
	require.True(t, exists)
}
