package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fumapis/models"
	"fumapis/utils"
)

// ErrNilRecord is returned when the aggregator is handed a nil record.
var ErrNilRecord = errors.New("aggregator: nil citizen record")

// Aggregator computes dashboard statistics over citizen records.
type Aggregator struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewAggregator creates an Aggregator with the given logger.
func NewAggregator(logger *utils.Logger) *Aggregator {
	return &Aggregator{logger: logger, now: time.Now}
}

// Generate aggregates records into a DashboardReport.
//
// Summary.Total counts distinct ids while every other tally, including
// ByNeighborhood, counts each record; a nil record fails the whole call.
func (a *Aggregator) Generate(records []*models.CitizenRecord) (*models.DashboardReport, error) {
	report := &models.DashboardReport{
		ByNeighborhood: make(map[string]int),
		Unmapped:       make([]models.UnmappedRecord, 0),
		Zones:          make([]models.ZoneBreakdown, 0),
		GeneratedAt:    a.now(),
	}

	if len(records) == 0 {
		return report, nil
	}

	ids := make(map[string]struct{}, len(records))
	zones := make(map[string]*zoneTally)

	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("%w at index %d", ErrNilRecord, i)
		}

		ids[r.ID] = struct{}{}
		report.Summary.Records++

		if r.IsEligible {
			report.Summary.Eligible++
		}
		if r.RegistrationStatus == models.StatusPending {
			report.Summary.Pending++
		}
		if r.HasVoted {
			report.Summary.Voted++
		}

		if r.Mapped() {
			report.ByNeighborhood[r.Neighborhood]++
		} else {
			report.Summary.Unmapped++
			report.Unmapped = append(report.Unmapped, models.UnmappedRecord{
				ID:         r.ID,
				FullName:   r.FullName,
				NationalID: r.NationalID,
				HasVoted:   r.HasVoted,
			})
			report.UnmappedStats.Total++
			if r.HasVoted {
				report.UnmappedStats.Voted++
			}
		}

		zone := r.Zone
		if zone == "" {
			zone = models.NoZoneLabel
		}
		zt, ok := zones[zone]
		if !ok {
			zt = &zoneTally{neighborhoods: make(map[string]int)}
			zones[zone] = zt
		}
		zt.total++
		if r.Mapped() {
			zt.neighborhoods[r.Neighborhood]++
		}
	}

	report.Summary.Total = len(ids)
	report.Summary.Duplicates = report.Summary.Records - report.Summary.Total
	report.UnmappedStats.NotVoted = report.UnmappedStats.Total - report.UnmappedStats.Voted
	report.Zones = buildZones(zones)

	if report.Summary.Duplicates > 0 {
		a.logger.Warn("[aggregator] %d records share an id with another record", report.Summary.Duplicates)
	}
	a.logger.Debug("[aggregator] Aggregated %d records (%d distinct, %d unmapped)",
		report.Summary.Records, report.Summary.Total, report.Summary.Unmapped)

	return report, nil
}

type zoneTally struct {
	total         int
	neighborhoods map[string]int
}

func buildZones(zones map[string]*zoneTally) []models.ZoneBreakdown {
	out := make([]models.ZoneBreakdown, 0, len(zones))
	for name, zt := range zones {
		hoods := make([]models.NeighborhoodCount, 0, len(zt.neighborhoods))
		for hood, count := range zt.neighborhoods {
			hoods = append(hoods, models.NeighborhoodCount{Name: hood, Count: count})
		}
		sort.Slice(hoods, func(i, j int) bool { return hoods[i].Name < hoods[j].Name })
		out = append(out, models.ZoneBreakdown{Zone: name, Total: zt.total, Neighborhoods: hoods})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Zone < out[j].Zone })
	return out
}

// NeighborhoodsByCount returns the neighborhood tallies sorted by count
// descending, then name.
func NeighborhoodsByCount(byNeighborhood map[string]int) []models.NeighborhoodCount {
	out := make([]models.NeighborhoodCount, 0, len(byNeighborhood))
	for name, count := range byNeighborhood {
		out = append(out, models.NeighborhoodCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Print renders the report to stdout.
func (a *Aggregator) Print(r *models.DashboardReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  FUMAPIS REGISTRY DASHBOARD\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Total citizens  : \033[1m%d\033[0m\n", r.Summary.Total)
	fmt.Printf("  Eligible        : \033[1;32m%d\033[0m\n", r.Summary.Eligible)
	fmt.Printf("  Pending         : \033[1;33m%d\033[0m\n", r.Summary.Pending)
	fmt.Printf("  Voted           : \033[1;35m%d\033[0m\n", r.Summary.Voted)
	fmt.Printf("  No neighborhood : \033[1;31m%d\033[0m\n", r.Summary.Unmapped)
	if r.Summary.Duplicates > 0 {
		fmt.Printf("  Duplicate ids   : %d (of %d records)\n", r.Summary.Duplicates, r.Summary.Records)
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Citizens by Neighborhood\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ByNeighborhood) == 0 {
		fmt.Printf("  No neighborhood data\n")
	} else {
		for _, nc := range NeighborhoodsByCount(r.ByNeighborhood) {
			bar := strings.Repeat("█", barWidth(nc.Count, r.Summary.Records))
			fmt.Printf("  %-24s %s (%d)\n", truncate(nc.Name, 22), bar, nc.Count)
		}
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Citizens by Zone\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.Zones) == 0 {
		fmt.Printf("  No zone data\n")
	}
	for _, z := range r.Zones {
		fmt.Printf("  \033[1m%-24s\033[0m %d\n", z.Zone, z.Total)
		for _, nc := range z.Neighborhoods {
			fmt.Printf("    %-22s %d\n", truncate(nc.Name, 20), nc.Count)
		}
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Unmapped Citizens\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Total: %d | Voted: %d | Not voted: %d\n",
		r.UnmappedStats.Total, r.UnmappedStats.Voted, r.UnmappedStats.NotVoted)

	fmt.Printf("\n  Updated at %s\n", r.GeneratedAt.Format("02/01/2006 15:04"))
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)
}

// PrintUnmapped lists the unmapped citizens.
func (a *Aggregator) PrintUnmapped(r *models.DashboardReport) {
	if len(r.Unmapped) == 0 {
		fmt.Println("  Every citizen has a neighborhood.")
		return
	}
	for i, u := range r.Unmapped {
		voted := "no"
		if u.HasVoted {
			voted = "yes"
		}
		fmt.Printf("  %3d. %-8s %-36s %-14s voted: %s\n",
			i+1, truncate(u.ID, 8), truncate(u.FullName, 36), FormatCPF(u.NationalID), voted)
	}
}

// barWidth scales count to at most 30 blocks.
func barWidth(count, total int) int {
	const max = 30
	if total <= max {
		return count
	}
	w := count * max / total
	if w == 0 && count > 0 {
		w = 1
	}
	return w
}

func truncate(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
