package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Runs only when SOCKETHUB_TEST_POSTGRES_DSN points at a scratch database.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("SOCKETHUB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SOCKETHUB_TEST_POSTGRES_DSN not set")
	}
	p, err := NewPostgres(context.Background(), dsn)
	require.NoError(t, err)
	defer p.Close()
	exerciseStore(t, p)
}
