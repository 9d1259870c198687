// Package apiclient is the backend REST client shared by every view of the platform.
// Responses use a {data, success, error} envelope and bearer-token auth.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/civicpulse/sessionkit/internal/errors"
)

// Options groups dependencies for Client.
type Options struct {
	BaseURL    string
	Tokens     *TokenPropagator
	HTTPClient *http.Client // Optional; its Transport is wrapped with the propagator.
	Logger     *slog.Logger
}

// Client issues JSON requests against the backend API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// envelope is the backend's response wrapper.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// NewClient constructs a Client. The propagator is a required constructor
// parameter so callers cannot issue requests outside the shared bearer state.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("api base URL is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token propagator is required")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base URL: %w", err)
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 15 * time.Second}
	}
	hc := *base
	hc.Transport = opts.Tokens.Transport(base.Transport)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{baseURL: u, httpClient: &hc, logger: logger}, nil
}

// ListParams are the query parameters shared by list endpoints.
type ListParams struct {
	Page    int
	Limit   int
	Search  string
	Filters map[string]string
}

// Query encodes the params, skipping zero values.
func (p ListParams) Query() url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if s := strings.TrimSpace(p.Search); s != "" {
		q.Set("search", s)
	}
	for k, v := range p.Filters {
		if k != "" && v != "" {
			q.Set(k, v)
		}
	}
	return q
}

// Get issues a GET and decodes the envelope's data into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// List issues a GET with list params and decodes the data into out.
func (c *Client) List(ctx context.Context, path string, params ListParams, out any) error {
	return c.Do(ctx, http.MethodGet, path, params.Query(), nil, out)
}

// Do issues a request with an optional JSON body and decodes the envelope.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := apperrors.FromContext(err, fmt.Sprintf("%s %s", method, path)); apperrors.GetCode(ctxErr) != "" {
			return ctxErr
		}
		return apperrors.Wrapf(err, apperrors.ErrCodeUnavailable, "%s %s", method, path)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeUnavailable, "read %s %s response", method, path)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
			if resp.StatusCode >= http.StatusBadRequest {
				return statusError(resp.StatusCode, method, path, strings.TrimSpace(string(raw)))
			}
			return apperrors.Wrapf(jsonErr, apperrors.ErrCodeInternal, "decode %s %s response", method, path)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp.StatusCode, method, path, firstNonEmpty(env.Error, env.Message))
	}
	if !env.Success && env.Error != "" {
		return apperrors.Internalf("%s %s: %s", method, path, env.Error)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeInternal, "decode %s %s data", method, path)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL.JoinPath(strings.TrimLeft(path, "/"))
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func statusError(status int, method, path, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := apperrors.ErrCodeInternal
	switch {
	case status == http.StatusUnauthorized:
		code = apperrors.ErrCodeUnauthenticated
	case status == http.StatusForbidden:
		code = apperrors.ErrCodeForbidden
	case status == http.StatusNotFound:
		code = apperrors.ErrCodeNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = apperrors.ErrCodeValidation
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		code = apperrors.ErrCodeTimeout
	case status >= http.StatusInternalServerError:
		code = apperrors.ErrCodeUnavailable
	}
	return apperrors.New(code, fmt.Sprintf("%s %s: %d %s", method, path, status, msg))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
