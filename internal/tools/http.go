package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 32 << 20
	maxErrorBody       = 2048
)

// statusError is a non-2xx response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d - %s", e.Code, e.Body)
}

// httpStatus returns the status code of a statusError, or 0.
func httpStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

type httpClient struct {
	client *http.Client
}

func newHTTPClient(c *http.Client) *httpClient {
	if c == nil {
		c = &http.Client{Timeout: 2 * defaultHTTPTimeout}
	}
	return &httpClient{client: c}
}

type requestOption func(*http.Request)

func withBasicAuth(user, token string) requestOption {
	return func(r *http.Request) {
		if user != "" && token != "" {
			r.SetBasicAuth(user, token)
		}
	}
}

func withHeader(key, value string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// get fetches endpoint?query and returns the body. Timeouts are applied
// through ctx; timeout <= 0 means defaultHTTPTimeout.
func (c *httpClient) get(ctx context.Context, endpoint string, query url.Values, timeout time.Duration, opts ...requestOption) ([]byte, error) {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := endpoint
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target = endpoint + sep + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, NewToolErrorf(ErrInvalidParams, "invalid URL %q: %v", target, err)
	}
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	log.WithField("url", target).Debug("tool request")
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, NewToolErrorf(ErrUnreachable, "request to %s timed out after %s", endpoint, timeout)
		}
		return nil, NewToolErrorf(ErrUnreachable, "failed to connect to %s - %v", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, NewToolErrorf(ErrUnreachable, "read response from %s: %v", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(body)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody] + "..."
		}
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(text)}
	}
	return body, nil
}

// getJSON fetches endpoint and decodes the JSON body into out.
func (c *httpClient) getJSON(ctx context.Context, endpoint string, query url.Values, timeout time.Duration, out any, opts ...requestOption) error {
	body, err := c.get(ctx, endpoint, query, timeout, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewToolErrorf(ErrInvalidOutput, "invalid JSON response from %s", endpoint)
	}
	return nil
}

// asToolError maps transport failures to a ToolError the model can read.
func asToolError(err error) error {
	var se *statusError
	if errors.As(err, &se) {
		return NewToolError(ErrUpstream, se.Error())
	}
	return err
}

// sippyAPI is the part of every Sippy-backed tool that talks to the API.
type sippyAPI struct {
	baseURL string
	http    *httpClient
}

func (s sippyAPI) endpoint(path string) (string, error) {
	if s.baseURL == "" {
		return "", NewToolError(ErrNotConfigured, "No Sippy API URL configured. Please set SIPPY_API_URL or sippy_api_url in the config file.")
	}
	return strings.TrimRight(s.baseURL, "/") + path, nil
}

// fetch GETs a Sippy API path and decodes the response into out.
func (s sippyAPI) fetch(ctx context.Context, path string, query url.Values, timeout time.Duration, out any) error {
	endpoint, err := s.endpoint(path)
	if err != nil {
		return err
	}
	return asToolError(s.http.getJSON(ctx, endpoint, query, timeout, out))
}
