package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fumapis/models"
	"fumapis/utils"
)

// Requires a reachable database, e.g.
// POSTGRES_TEST_DSN="host=localhost user=fumapis password=fumapis dbname=fumapis_test sslmode=disable".
func newTestPostgres(t *testing.T) *PostgresWriter {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	pw, err := NewPostgresWriter(ctx, dsn, &utils.RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pw.Close() })

	_, err = pw.db.ExecContext(ctx, "TRUNCATE dashboard_snapshots CASCADE")
	require.NoError(t, err)
	return pw
}

func TestPostgresSnapshots(t *testing.T) {
	pw := newTestPostgres(t)
	ctx := context.Background()

	older := &models.DashboardReport{
		Summary:        models.Summary{Total: 2, Records: 2, Eligible: 1, Voted: 1},
		ByNeighborhood: map[string]int{"Centro": 2},
		GeneratedAt:    time.Date(2024, 10, 5, 12, 0, 0, 0, time.UTC),
	}
	newer := &models.DashboardReport{
		Summary:        models.Summary{Total: 3, Records: 4, Duplicates: 1, Pending: 2, Unmapped: 1},
		ByNeighborhood: map[string]int{"Centro": 1, "Inamar": 2},
		GeneratedAt:    time.Date(2024, 10, 6, 12, 0, 0, 0, time.UTC),
	}

	_, err := pw.SaveSnapshot(ctx, older)
	require.NoError(t, err)
	newID, err := pw.SaveSnapshot(ctx, newer)
	require.NoError(t, err)

	snaps, err := pw.LatestSnapshots(ctx, 5)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	assert.Equal(t, newID, snaps[0].ID)
	assert.Equal(t, newer.Summary, snaps[0].Summary)
	assert.Equal(t, newer.ByNeighborhood, snaps[0].ByNeighborhood)
	assert.True(t, snaps[0].GeneratedAt.Equal(newer.GeneratedAt))
	assert.Equal(t, older.ByNeighborhood, snaps[1].ByNeighborhood)

	one, err := pw.LatestSnapshots(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestPostgresUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewPostgresWriter(ctx,
		"host=127.0.0.1 port=1 user=x dbname=x sslmode=disable connect_timeout=1",
		&utils.RetryConfig{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond})
	assert.Error(t, err)
}
