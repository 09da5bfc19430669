package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"fumapis/models"
	"fumapis/services"
	"fumapis/utils"
)

// ListCitizens fetches the full citizen list used by the dashboard and
// returns it normalized. A payload that is not a JSON array is an error.
func (c *Client) ListCitizens(ctx context.Context) ([]*models.CitizenRecord, error) {
	body, err := c.ListCitizensRaw(ctx)
	if err != nil {
		return nil, err
	}
	return c.normalizer.Decode(body)
}

// ListCitizensRaw fetches the full citizen list without decoding it.
func (c *Client) ListCitizensRaw(ctx context.Context) ([]byte, error) {
	return c.do(ctx, request{
		method:   http.MethodGet,
		url:      c.endpoint("/cidadaos/", nil),
		auth:     true,
		fallback: "error fetching citizens",
	})
}

// SearchCitizens fetches one page of citizens matching filter.
func (c *Client) SearchCitizens(ctx context.Context, filter models.SearchFilter) (*models.CitizenPage, error) {
	body, err := c.do(ctx, request{
		method:   http.MethodGet,
		url:      c.endpoint("/cidadaos", c.searchQuery(filter)),
		auth:     true,
		fallback: "error searching citizens",
	})
	if err != nil {
		return nil, err
	}
	return c.normalizer.DecodePage(body)
}

func (c *Client) searchQuery(f models.SearchFilter) url.Values {
	limit := f.Limit
	if limit <= 0 {
		limit = c.pageSize
	}
	q := url.Values{}
	q.Set("skip", strconv.Itoa(f.Skip))
	q.Set("limit", strconv.Itoa(limit))
	if cpf := services.DigitsOnly(f.NationalID); cpf != "" {
		q.Set("cpf", cpf)
	}
	if f.Neighborhood != "" {
		q.Set("bairro", f.Neighborhood)
	}
	if f.Zone != "" {
		q.Set("zona", f.Zone)
	}
	if f.Eligible != nil {
		q.Set("elegivel", strconv.FormatBool(*f.Eligible))
	}
	if f.Voted != nil {
		q.Set("votou", strconv.FormatBool(*f.Voted))
	}
	return q
}

// FetchAll walks every page of a search, fetching pages concurrently through
// a rate-limited worker pool once the total is known. Records repeated across
// pages are kept once.
func (c *Client) FetchAll(ctx context.Context, filter models.SearchFilter) ([]*models.CitizenRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = c.pageSize
	}

	first, err := c.SearchCitizens(ctx, filter)
	if err != nil {
		return nil, err
	}
	pages := [][]*models.CitizenRecord{first.Items}

	switch {
	case first.Total > len(first.Items) && len(first.Items) > 0:
		// Servers may cap the page size below the requested limit; step by
		// what the first page actually held so no range is skipped.
		stride := filter.Limit
		if n := len(first.Items); n < stride {
			c.logger.Debug("[api] Server capped page size at %d (asked for %d)", n, stride)
			stride = n
		}
		remaining := (first.Total - len(first.Items) + stride - 1) / stride
		if remaining > c.maxPages-1 {
			c.logger.Warn("[api] Search has %d citizens; stopping after %d pages", first.Total, c.maxPages)
			remaining = c.maxPages - 1
		}
		if remaining > 0 {
			rest, err := c.fetchPages(ctx, filter, stride, remaining)
			if err != nil {
				return nil, err
			}
			pages = append(pages, rest...)
		}

	case len(first.Items) == filter.Limit:
		// Bare arrays carry no total: keep paging until a short page.
		f := filter
		for i := 1; i < c.maxPages; i++ {
			f.Skip += f.Limit
			page, err := c.SearchCitizens(ctx, f)
			if err != nil {
				return nil, err
			}
			pages = append(pages, page.Items)
			if len(page.Items) < f.Limit {
				break
			}
		}
	}

	seen := utils.NewIDSet()
	var out []*models.CitizenRecord
	for _, page := range pages {
		for _, rec := range page {
			if rec.ID != "" && !seen.Add(rec.ID) {
				continue
			}
			out = append(out, rec)
		}
	}
	if len(out) < first.Total {
		c.logger.Warn("[api] Fetched %d of %d citizens; the result is incomplete", len(out), first.Total)
	}
	c.logger.Info("[api] Fetched %d citizens across %d pages", len(out), len(pages))
	return out, nil
}

// fetchPages fetches count pages of stride records following the first one.
func (c *Client) fetchPages(ctx context.Context, filter models.SearchFilter, stride, count int) ([][]*models.CitizenRecord, error) {
	pool := utils.NewWorkerPool(c.maxConcurrency, c.rateLimitMs)
	results := make([][]*models.CitizenRecord, count)

	var (
		mu       sync.Mutex
		firstErr error
	)

	for i := 0; i < count; i++ {
		idx := i
		f := filter
		f.Skip = filter.Skip + (idx+1)*stride
		f.Limit = stride

		pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			page, err := c.SearchCitizens(ctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("api: page at skip=%d: %w", f.Skip, err)
				}
				return
			}
			results[idx] = page.Items
		})
	}
	pool.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// GetByCPF looks a citizen up by CPF. A missing citizen yields ErrNotFound.
func (c *Client) GetByCPF(ctx context.Context, cpf string) (*models.CitizenRecord, error) {
	digits := services.DigitsOnly(cpf)
	if len(digits) != 11 {
		return nil, fmt.Errorf("api: CPF must have 11 digits, got %d", len(digits))
	}

	body, err := c.do(ctx, request{
		method:   http.MethodGet,
		url:      c.endpoint("/cidadaos/cpf/"+digits, nil),
		auth:     true,
		fallback: "error fetching citizen",
	})
	if err != nil {
		return nil, err
	}
	return c.normalizer.DecodeOne(body)
}

// CreateCitizen registers a citizen and returns the stored record.
func (c *Client) CreateCitizen(ctx context.Context, payload *models.CitizenPayload) (*models.CitizenRecord, error) {
	reqBody, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		url:         c.endpoint("/cidadaos/", nil),
		body:        reqBody,
		contentType: "application/json",
		auth:        true,
		fallback:    "error registering citizen",
	})
	if err != nil {
		return nil, err
	}
	rec, err := c.normalizer.DecodeOne(body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("[api] Registered citizen %s (id %s)", rec.FullName, rec.ID)
	return rec, nil
}

// UpdateCitizen applies a partial update to the citizen with the given id.
// Field names are the API's own (e.g. "bairro", "elegivel", "votou").
func (c *Client) UpdateCitizen(ctx context.Context, id string, fields map[string]any) (*models.CitizenRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("api: update: empty citizen id")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("api: update: no fields to change")
	}
	reqBody, err := jsonBody(fields)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, request{
		method:      http.MethodPatch,
		url:         c.endpoint("/cidadaos/"+url.PathEscape(id), nil),
		body:        reqBody,
		contentType: "application/json",
		auth:        true,
		fallback:    "error updating citizen",
	})
	if err != nil {
		return nil, err
	}
	return c.normalizer.DecodeOne(body)
}

// UploadSpreadsheet sends an .xlsx file for server-side import. The file is
// not inspected locally beyond its extension.
func (c *Client) UploadSpreadsheet(ctx context.Context, path string) (*models.ImportResult, error) {
	if !strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return nil, fmt.Errorf("api: upload: only .xlsx files are accepted, got %q", filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("api: upload: open %q: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("api: upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("api: upload: read %q: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("api: upload: %w", err)
	}

	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		url:         c.endpoint("/upload-xlsx", nil),
		body:        &buf,
		contentType: mw.FormDataContentType(),
		fallback:    "error uploading file",
	})
	if err != nil {
		return nil, err
	}

	result := &models.ImportResult{}
	if len(bytes.TrimSpace(body)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, fmt.Errorf("api: upload: invalid server response: %w", err)
	}
	c.logger.Info("[api] Uploaded %s", filepath.Base(path))
	return result, nil
}
