package models

import "time"

// RegistrationStatus is the normalized registry status of a citizen.
type RegistrationStatus string

const (
	StatusActive  RegistrationStatus = "Active"
	StatusPending RegistrationStatus = "Pending"
)

// NoZoneLabel buckets records without an electoral zone in zone breakdowns.
const NoZoneLabel = "Sem Zona"

// CitizenRecord is a registry entry after ingestion normalization.
// Aggregation only relies on the first eight fields; the rest is carried for
// lookup and search output.
type CitizenRecord struct {
	ID                 string             `json:"id"`
	FullName           string             `json:"full_name"`
	NationalID         string             `json:"national_id"`
	Neighborhood       string             `json:"neighborhood,omitempty"`
	Zone               string             `json:"zone,omitempty"`
	RegistrationStatus RegistrationStatus `json:"registration_status,omitempty"`
	IsEligible         bool               `json:"is_eligible"`
	HasVoted           bool               `json:"has_voted"`

	Phone            string    `json:"phone,omitempty"`
	Email            string    `json:"email,omitempty"`
	Address          string    `json:"address,omitempty"`
	SocialProgram    string    `json:"social_program,omitempty"`
	SpouseName       string    `json:"spouse_name,omitempty"`
	SpouseNationalID string    `json:"spouse_national_id,omitempty"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// Mapped reports whether the record has a neighborhood assignment.
func (c *CitizenRecord) Mapped() bool {
	return c.Neighborhood != ""
}

// CitizenPage is one page of a paginated citizen search.
type CitizenPage struct {
	Items []*CitizenRecord `json:"items"`
	Total int              `json:"total"`
}

// SearchFilter narrows a citizen search. Empty fields are not sent.
type SearchFilter struct {
	Skip         int
	Limit        int
	NationalID   string
	Neighborhood string
	Zone         string
	Eligible     *bool
	Voted        *bool
}
