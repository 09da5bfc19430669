// Package api talks to the FUMAPIS registry REST API and the ViaCEP postal
// code service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"fumapis/config"
	"fumapis/models"
	"fumapis/services"
	"fumapis/utils"
)

const maxResponseBytes = 32 << 20

// Client is a registry API client bound to one staff session.
type Client struct {
	baseURL        string
	viaCEPURL      string
	http           *http.Client
	session        *models.Session
	normalizer     *services.Normalizer
	logger         *utils.Logger
	maxConcurrency int
	rateLimitMs    int
	pageSize       int
	maxPages       int
}

// New creates a Client. session may be nil for login and postal lookups.
func New(cfg *config.Config, session *models.Session, logger *utils.Logger) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.APIURL, "/"),
		viaCEPURL:      strings.TrimRight(cfg.ViaCEPURL, "/"),
		http:           &http.Client{Timeout: cfg.HTTPTimeout},
		session:        session,
		normalizer:     services.NewNormalizer(logger),
		logger:         logger,
		maxConcurrency: cfg.MaxConcurrency,
		rateLimitMs:    cfg.RateLimitMs,
		pageSize:       cfg.PageSize,
		maxPages:       cfg.MaxPages,
	}
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *models.Session {
	return c.session
}

// SetSession replaces the client's session.
func (c *Client) SetSession(s *models.Session) {
	c.session = s
}

type request struct {
	method      string
	url         string
	body        io.Reader
	contentType string
	auth        bool
	// anonymous requests never carry the session token.
	anonymous bool
	// fallback is used as the error message when the body carries none.
	fallback string
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	if r.auth && !c.session.Valid() {
		return nil, ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if !r.anonymous && c.session.Valid() {
		req.Header.Set("Authorization", "Token "+c.session.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: could not reach the registry API: %w", r.method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("api: read response: %w", err)
	}

	c.logger.Debug("[api] %s %s -> %d in %v (request %s)",
		r.method, req.URL.Path, resp.StatusCode, time.Since(start).Round(time.Millisecond), requestID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body, requestID, r.fallback)
	}
	return body, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("api: encode body: %w", err)
	}
	return bytes.NewReader(b), nil
}

// Login exchanges staff credentials for a session.
func (c *Client) Login(ctx context.Context, username, password string) (*models.Session, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		url:         c.endpoint("/login", nil),
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		fallback:    "invalid username or password",
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		Username    string `json:"username"`
		Name        string `json:"name"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("api: login: invalid response format: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("api: login: response carried no access token")
	}

	s := &models.Session{
		Token:    resp.AccessToken,
		Username: firstNonEmpty(resp.Username, username),
		Name:     firstNonEmpty(resp.Name, resp.Username, username),
		IssuedAt: time.Now(),
	}
	c.session = s
	c.logger.Info("[api] Logged in as %s", s.Username)
	return s, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
