package storage

import (
	"context"

	"fumapis/models"
)

// SnapshotWriter is the interface any snapshot backend must satisfy.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, report *models.DashboardReport) (int64, error)
	Close() error
}

// SnapshotReader lists stored snapshots, newest first.
type SnapshotReader interface {
	LatestSnapshots(ctx context.Context, n int) ([]*models.Snapshot, error)
}

// ReportExporter writes report extracts to files.
type ReportExporter interface {
	WriteUnmapped(report *models.DashboardReport) (string, error)
	WriteNeighborhoods(report *models.DashboardReport) (string, error)
}
