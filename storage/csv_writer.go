package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"fumapis/models"
	"fumapis/services"
)

// CSVWriter exports dashboard data as CSV files under one directory.
// It is safe for concurrent use.
type CSVWriter struct {
	mu  sync.Mutex
	dir string
}

// NewCSVWriter creates the output directory if needed.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}
	return &CSVWriter{dir: dir}, nil
}

// WriteUnmapped writes the citizens without a neighborhood, in report order,
// and returns the path of the file written.
func (c *CSVWriter) WriteUnmapped(report *models.DashboardReport) (string, error) {
	rows := make([][]string, 0, len(report.Unmapped))
	for _, u := range report.Unmapped {
		voted := "nao"
		if u.HasVoted {
			voted = "sim"
		}
		rows = append(rows, []string{u.ID, u.FullName, services.FormatCPF(u.NationalID), voted})
	}
	return c.write(
		"unmapped", report.GeneratedAt,
		[]string{"id", "nome_completo", "cpf", "votou"},
		rows,
	)
}

// WriteNeighborhoods writes per-neighborhood record counts, largest first,
// and returns the path of the file written.
func (c *CSVWriter) WriteNeighborhoods(report *models.DashboardReport) (string, error) {
	counts := services.NeighborhoodsByCount(report.ByNeighborhood)
	rows := make([][]string, 0, len(counts))
	for _, nc := range counts {
		rows = append(rows, []string{nc.Name, strconv.Itoa(nc.Count)})
	}
	return c.write(
		"neighborhoods", report.GeneratedAt,
		[]string{"bairro", "total"},
		rows,
	)
}

func (c *CSVWriter) write(name string, at time.Time, header []string, rows [][]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if at.IsZero() {
		at = time.Now()
	}
	path := filepath.Join(c.dir, fmt.Sprintf("%s_%s.csv", name, at.Format("20060102-150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("csv: write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("csv: write rows: %w", err)
	}
	return path, f.Close()
}
