package services

import (
	"fmt"
	"net/mail"
	"strings"

	"fumapis/catalog"
	"fumapis/models"
	"fumapis/utils"
)

// ValidationError reports an invalid registration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Registrar validates registration input and builds the API payload.
type Registrar struct {
	catalog *catalog.Catalog
	logger  *utils.Logger
}

// NewRegistrar creates a Registrar checking zones and neighborhoods against cat.
func NewRegistrar(cat *catalog.Catalog, logger *utils.Logger) *Registrar {
	return &Registrar{catalog: cat, logger: logger}
}

// Validate checks a registration form. The first problem found is returned
// as a *ValidationError.
func (r *Registrar) Validate(in *models.CitizenInput) error {
	if strings.TrimSpace(in.FullName) == "" {
		return &ValidationError{Field: "full_name", Message: "required"}
	}
	if err := checkCPF("cpf", in.CPF, true); err != nil {
		return err
	}
	if err := checkCPF("spouse_cpf", in.SpouseCPF, false); err != nil {
		return err
	}
	if DigitsOnly(in.CPF) == DigitsOnly(in.SpouseCPF) {
		return &ValidationError{Field: "spouse_cpf", Message: "must differ from the citizen's CPF"}
	}
	if in.Zone != "" {
		if _, ok := r.catalog.Zone(in.Zone); !ok {
			return &ValidationError{Field: "zone", Message: fmt.Sprintf("unknown zone %q", in.Zone)}
		}
	}
	if in.Neighborhood != "" {
		if _, ok := r.catalog.Neighborhood(in.Neighborhood); !ok {
			return &ValidationError{Field: "neighborhood", Message: fmt.Sprintf("unknown neighborhood %q", in.Neighborhood)}
		}
	}
	if in.SocialProgram != "" {
		if _, ok := r.catalog.SocialProgram(in.SocialProgram); !ok {
			return &ValidationError{Field: "social_program", Message: fmt.Sprintf("unknown social program %q", in.SocialProgram)}
		}
	}
	if in.CEP != "" && !ValidCEP(in.CEP) {
		return &ValidationError{Field: "cep", Message: "must have 8 digits"}
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return &ValidationError{Field: "email", Message: "invalid address"}
		}
	}
	return nil
}

func checkCPF(field, value string, required bool) error {
	if strings.TrimSpace(value) == "" {
		if required {
			return &ValidationError{Field: field, Message: "required"}
		}
		return nil
	}
	if len(DigitsOnly(value)) != cpfLength {
		return &ValidationError{Field: field, Message: "must have 11 digits"}
	}
	if !ValidateCPF(value) {
		return &ValidationError{Field: field, Message: "invalid check digits"}
	}
	return nil
}

// Payload builds the creation body: CPFs reduced to digits, catalog values in
// canonical spelling, empty optionals as null.
func (r *Registrar) Payload(in *models.CitizenInput) *models.CitizenPayload {
	zone, neighborhood, program := in.Zone, in.Neighborhood, in.SocialProgram
	if z, ok := r.catalog.Zone(zone); ok {
		zone = z
	}
	if n, ok := r.catalog.Neighborhood(neighborhood); ok {
		neighborhood = n
	}
	if p, ok := r.catalog.SocialProgram(program); ok {
		program = p
	}

	r.logger.Debug("[registrar] Building payload for %s", normaliseText(in.FullName))
	return &models.CitizenPayload{
		FullName:      normaliseText(in.FullName),
		CPF:           DigitsOnly(in.CPF),
		SpouseName:    optional(normaliseText(in.SpouseName)),
		SpouseCPF:     optional(DigitsOnly(in.SpouseCPF)),
		Zone:          optional(zone),
		Neighborhood:  optional(neighborhood),
		Phone:         optional(strings.TrimSpace(in.Phone)),
		Email:         optional(strings.TrimSpace(in.Email)),
		Address:       optional(normaliseText(in.Address)),
		SocialProgram: optional(program),
	}
}

// ComposeAddress joins a postal lookup and house number into the registry's
// single-line address: street, Nº number, complement, city, state.
func ComposeAddress(addr *models.PostalAddress, number string) string {
	num := strings.TrimSpace(number)
	if num != "" {
		num = "Nº " + num
	}
	parts := []string{addr.Street, num, addr.Complement, addr.City, addr.State}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
