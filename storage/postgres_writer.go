package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"fumapis/models"
	"fumapis/utils"
)

// PostgresWriter persists aggregate dashboard snapshots to PostgreSQL.
// Only counts are stored, never citizen records.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, waits for it with the
// given retry policy, runs schema migrations, and returns a ready-to-use
// PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string, retry *utils.RetryConfig) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := retry.Do(ctx, "postgres ping", func() error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dashboard_snapshots (
			id             BIGSERIAL   PRIMARY KEY,
			total          INTEGER     NOT NULL,
			records        INTEGER     NOT NULL,
			duplicates     INTEGER     NOT NULL DEFAULT 0,
			eligible       INTEGER     NOT NULL,
			pending        INTEGER     NOT NULL,
			voted          INTEGER     NOT NULL,
			unmapped       INTEGER     NOT NULL,
			generated_at   TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS snapshot_neighborhoods (
			snapshot_id  BIGINT  NOT NULL REFERENCES dashboard_snapshots(id) ON DELETE CASCADE,
			neighborhood TEXT    NOT NULL,
			total        INTEGER NOT NULL,
			PRIMARY KEY (snapshot_id, neighborhood)
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_generated_at ON dashboard_snapshots(generated_at DESC);
	`)
	return err
}

// SaveSnapshot stores the report's counts in one transaction and returns the
// new snapshot id.
func (pw *PostgresWriter) SaveSnapshot(ctx context.Context, report *models.DashboardReport) (int64, error) {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	s := report.Summary
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO dashboard_snapshots (total, records, duplicates, eligible, pending, voted, unmapped, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, s.Total, s.Records, s.Duplicates, s.Eligible, s.Pending, s.Voted, s.Unmapped, report.GeneratedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert snapshot: %w", err)
	}

	if err := insertNeighborhoods(ctx, tx, id, report.ByNeighborhood); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return id, nil
}

func insertNeighborhoods(ctx context.Context, tx *sql.Tx, snapshotID int64, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(counts))
	valueArgs := make([]interface{}, 0, len(counts)*3)

	idx := 0
	for name, total := range counts {
		base := idx * 3
		valueStrings = append(valueStrings, fmt.Sprintf("($%d,$%d,$%d)", base+1, base+2, base+3))
		valueArgs = append(valueArgs, snapshotID, name, total)
		idx++
	}

	query := fmt.Sprintf(`
		INSERT INTO snapshot_neighborhoods (snapshot_id, neighborhood, total)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert neighborhoods: %w", err)
	}
	return nil
}

// LatestSnapshots returns up to n snapshots, newest first.
func (pw *PostgresWriter) LatestSnapshots(ctx context.Context, n int) ([]*models.Snapshot, error) {
	if n <= 0 {
		n = 10
	}

	rows, err := pw.db.QueryContext(ctx, `
		SELECT id, total, records, duplicates, eligible, pending, voted, unmapped, generated_at
		FROM dashboard_snapshots
		ORDER BY generated_at DESC, id DESC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.Snapshot
	byID := make(map[int64]*models.Snapshot)
	for rows.Next() {
		sn := &models.Snapshot{ByNeighborhood: make(map[string]int)}
		s := &sn.Summary
		if err := rows.Scan(
			&sn.ID, &s.Total, &s.Records, &s.Duplicates, &s.Eligible,
			&s.Pending, &s.Voted, &s.Unmapped, &sn.GeneratedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snapshots = append(snapshots, sn)
		byID[sn.ID] = sn
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fetch snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		return snapshots, nil
	}

	ids := make([]string, 0, len(snapshots))
	args := make([]interface{}, 0, len(snapshots))
	for i, sn := range snapshots {
		ids = append(ids, fmt.Sprintf("$%d", i+1))
		args = append(args, sn.ID)
	}

	nrows, err := pw.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT snapshot_id, neighborhood, total
		FROM snapshot_neighborhoods
		WHERE snapshot_id IN (%s)
	`, strings.Join(ids, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch neighborhoods: %w", err)
	}
	defer nrows.Close()

	for nrows.Next() {
		var (
			id    int64
			name  string
			total int
		)
		if err := nrows.Scan(&id, &name, &total); err != nil {
			return nil, fmt.Errorf("postgres: scan neighborhood: %w", err)
		}
		if sn, ok := byID[id]; ok {
			sn.ByNeighborhood[name] = total
		}
	}
	return snapshots, nrows.Err()
}

// Close closes the database connection.
func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
