package models

import "time"

// Summary holds the dashboard headline counts.
//
// Total counts distinct ids; every other field counts raw records, so
// duplicated ids are visible as Records - Total.
type Summary struct {
	Total      int `json:"total"`
	Records    int `json:"records"`
	Duplicates int `json:"duplicates"`
	Eligible   int `json:"eligible"`
	Pending    int `json:"pending"`
	Voted      int `json:"voted"`
	Unmapped   int `json:"unmapped"`
}

// UnmappedRecord is the projection kept for citizens without a neighborhood.
type UnmappedRecord struct {
	ID         string `json:"id"`
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	HasVoted   bool   `json:"has_voted"`
}

// UnmappedStats splits the unmapped bucket by voting status.
type UnmappedStats struct {
	Total    int `json:"total"`
	Voted    int `json:"voted"`
	NotVoted int `json:"not_voted"`
}

// NeighborhoodCount is a single neighborhood tally.
type NeighborhoodCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ZoneBreakdown groups records of one electoral zone.
type ZoneBreakdown struct {
	Zone          string              `json:"zone"`
	Total         int                 `json:"total"`
	Neighborhoods []NeighborhoodCount `json:"neighborhoods"`
}

// DashboardReport holds the computed aggregates over a citizen payload.
type DashboardReport struct {
	Summary        Summary          `json:"summary"`
	ByNeighborhood map[string]int   `json:"by_neighborhood"`
	Unmapped       []UnmappedRecord `json:"unmapped"`
	UnmappedStats  UnmappedStats    `json:"unmapped_stats"`
	Zones          []ZoneBreakdown  `json:"zones"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// Snapshot is the aggregate-only view of a report persisted for history.
type Snapshot struct {
	ID             int64          `json:"id"`
	Summary        Summary        `json:"summary"`
	ByNeighborhood map[string]int `json:"by_neighborhood"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
