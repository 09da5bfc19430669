package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"fumapis/models"
	"fumapis/services"
)

type viaCEPResponse struct {
	models.PostalAddress
	Erro any `json:"erro"`
}

// LookupCEP resolves a postal code through ViaCEP. Unknown codes yield
// ErrNotFound.
func (c *Client) LookupCEP(ctx context.Context, cep string) (*models.PostalAddress, error) {
	if !services.ValidCEP(cep) {
		return nil, fmt.Errorf("api: CEP must have 8 digits")
	}
	digits := services.DigitsOnly(cep)

	body, err := c.do(ctx, request{
		method:    http.MethodGet,
		url:       c.viaCEPURL + "/ws/" + digits + "/json/",
		anonymous: true,
		fallback:  "error fetching CEP",
	})
	if err != nil {
		return nil, err
	}

	var resp viaCEPResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("api: decode CEP response: %w", err)
	}
	if resp.Erro == true || resp.Erro == "true" {
		return nil, fmt.Errorf("api: CEP %s: %w", services.FormatCEP(digits), ErrNotFound)
	}
	addr := resp.PostalAddress
	return &addr, nil
}
