package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"fumapis/models"
	"fumapis/utils"
)

var (
	// ErrNotSequence is returned when a citizen list payload is not a JSON array.
	ErrNotSequence = errors.New("normalizer: citizen payload is not a JSON array")
	// ErrNullRecord is returned when a citizen list contains a null element.
	ErrNullRecord = errors.New("normalizer: null citizen record")
)

// rawCitizen mirrors the registry API's citizen object, including the field
// name variants different endpoints use.
type rawCitizen struct {
	ID             flexString `json:"id"`
	NomeCompleto   string     `json:"nome_completo"`
	Nome           string     `json:"nome"`
	FullName       string     `json:"full_name"`
	CPF            flexString `json:"cpf"`
	Bairro         *string    `json:"bairro"`
	Zona           *string    `json:"zona"`
	StatusCadastro string     `json:"status_cadastro"`
	Status         string     `json:"status"`
	Elegivel       strictBool `json:"elegivel"`
	Votou          votedBool  `json:"votou"`
	JaVotou        votedBool  `json:"ja_votou"`

	Telefone         string     `json:"telefone"`
	Email            string     `json:"email"`
	EnderecoCompleto string     `json:"endereco_completo"`
	ProgramaSocial   string     `json:"programa_social"`
	NomeConjuge      string     `json:"nome_conjuge"`
	CPFConjuge       flexString `json:"cpf_conjuge"`
	DataCadastro     string     `json:"data_cadastro"`
}

type rawPage struct {
	Items json.RawMessage `json:"items"`
	Total *int            `json:"total"`
}

// Normalizer turns registry API payloads into CitizenRecords.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Decode parses a JSON array of citizens. Any other top-level shape is
// rejected with ErrNotSequence so upstream shape bugs never read as an empty
// registry.
func (n *Normalizer) Decode(body []byte) ([]*models.CitizenRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: got %s", ErrNotSequence, describeJSON(trimmed))
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("normalizer: decode citizen list: %w", err)
	}

	records := make([]*models.CitizenRecord, 0, len(elems))
	for i, elem := range elems {
		if bytes.Equal(bytes.TrimSpace(elem), []byte("null")) {
			return nil, fmt.Errorf("%w at index %d", ErrNullRecord, i)
		}
		var raw rawCitizen
		if err := json.Unmarshal(elem, &raw); err != nil {
			return nil, fmt.Errorf("normalizer: decode citizen at index %d: %w", i, err)
		}
		records = append(records, n.normalize(&raw))
	}

	n.logger.Debug("[normalizer] Normalized %d citizen records", len(records))
	return records, nil
}

// DecodeOne parses a single citizen object.
func (n *Normalizer) DecodeOne(body []byte) (*models.CitizenRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("normalizer: expected citizen object, got %s", describeJSON(trimmed))
	}
	var raw rawCitizen
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("normalizer: decode citizen: %w", err)
	}
	return n.normalize(&raw), nil
}

// DecodePage parses a search response, which is either a bare array or an
// {"items": [...], "total": n} envelope.
func (n *Normalizer) DecodePage(body []byte) (*models.CitizenPage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var page rawPage
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, fmt.Errorf("normalizer: decode page: %w", err)
		}
		if page.Items == nil {
			return nil, fmt.Errorf("%w: page envelope has no items", ErrNotSequence)
		}
		items, err := n.Decode(page.Items)
		if err != nil {
			return nil, err
		}
		total := len(items)
		if page.Total != nil {
			total = *page.Total
		}
		return &models.CitizenPage{Items: items, Total: total}, nil
	}

	items, err := n.Decode(trimmed)
	if err != nil {
		return nil, err
	}
	return &models.CitizenPage{Items: items, Total: len(items)}, nil
}

func (n *Normalizer) normalize(r *rawCitizen) *models.CitizenRecord {
	rec := &models.CitizenRecord{
		ID:                 strings.TrimSpace(string(r.ID)),
		FullName:           normaliseText(firstNonEmpty(r.NomeCompleto, r.Nome, r.FullName)),
		NationalID:         DigitsOnly(string(r.CPF)),
		Neighborhood:       normaliseText(deref(r.Bairro)),
		Zone:               normaliseText(deref(r.Zona)),
		RegistrationStatus: normaliseStatus(firstNonEmpty(r.StatusCadastro, r.Status)),
		IsEligible:         bool(r.Elegivel),
		HasVoted:           bool(r.Votou) || bool(r.JaVotou),

		Phone:            strings.TrimSpace(r.Telefone),
		Email:            strings.TrimSpace(r.Email),
		Address:          normaliseText(r.EnderecoCompleto),
		SocialProgram:    normaliseText(r.ProgramaSocial),
		SpouseName:       normaliseText(r.NomeConjuge),
		SpouseNationalID: DigitsOnly(string(r.CPFConjuge)),
		RegisteredAt:     parseTimestamp(r.DataCadastro),
	}
	if rec.ID == "" {
		n.logger.Warn("[normalizer] Citizen without id: %s", rec.FullName)
	}
	return rec
}

func normaliseStatus(s string) models.RegistrationStatus {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return ""
	case "pendente", "pending":
		return models.StatusPending
	case "ativo", "active":
		return models.StatusActive
	default:
		return models.RegistrationStatus(s)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func describeJSON(b []byte) string {
	if len(b) == 0 {
		return "empty body"
	}
	switch b[0] {
	case '{':
		return "object"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(num.String())
	return nil
}

// strictBool is true only for the JSON literal true. Strings, numbers and
// null all decode to false.
type strictBool bool

func (b *strictBool) UnmarshalJSON(data []byte) error {
	*b = strictBool(bytes.Equal(bytes.TrimSpace(data), []byte("true")))
	return nil
}

// votedBool is true for the JSON literal true or the exact string "true",
// the one spelling the registry emits for votou besides a real boolean.
type votedBool bool

func (b *votedBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*b = votedBool(bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte(`"true"`)))
	return nil
}
