package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// getTestDB connects to APPCORE_TEST_DATABASE_URL when set, otherwise starts a
// throwaway postgres container. Skips when neither is available.
func getTestDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping DB test in -short mode")
	}

	url := os.Getenv("APPCORE_TEST_DATABASE_URL")
	if url == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("appcore"),
			tcpostgres.WithUsername("appcore"),
			tcpostgres.WithPassword("appcore"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Skipf("skipping DB test (cannot start postgres): %v", err)
		}
		t.Cleanup(func() { testcontainers.TerminateContainer(ctr) })

		url, err = ctr.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := Connect(url)
	if err != nil {
		t.Skipf("skipping DB test (cannot connect): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnect(t *testing.T) {
	db := getTestDB(t)

	var one int
	require.NoError(t, db.QueryRow(context.Background(), "SELECT 1").Scan(&one))
	require.Equal(t, 1, one)
}

func TestMigrate(t *testing.T) {
	db := getTestDB(t)
	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db), "second run must be a no-op")
}

func TestPostgres(t *testing.T) {
	db := getTestDB(t)
	require.NoError(t, Migrate(db))
	runBackendTests(t, db)
}
