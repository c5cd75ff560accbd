// Package databricks forwards tool requests to the Databricks REST API.
//
// Client is the single chokepoint for outbound HTTP. Service groups the
// request-shaping functions for each resource family; each one validates its
// arguments against fixed allow-lists and then issues exactly one request.
package databricks

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

	"github.com/harun/dbperms-mcp/internal/metrics"
	"github.com/harun/dbperms-mcp/internal/tracing"
	"github.com/harun/dbperms-mcp/pkg/apierr"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimeout bounds a single request when the config leaves it unset
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is sent when the config leaves it unset
	DefaultUserAgent = "dbperms-mcp"

	maxErrorBody = 4096
)

// Requester issues one request against the workspace. Client implements it;
// tests substitute their own.
type Requester interface {
	Do(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error)
}

// ClientConfig configures a Client
type ClientConfig struct {
	Host       string
	Token      string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Client sends authenticated requests to a Databricks workspace
type Client struct {
	baseURL    *url.URL
	token      string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	metrics    *metrics.Metrics
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// NewClient creates a client for the workspace at cfg.Host
func NewClient(cfg ClientConfig) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("databricks host is required")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	baseURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid databricks host %q: %w", cfg.Host, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid databricks host %q: scheme must be http or https", cfg.Host)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("databricks token is required")
	}

	c := &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		metrics:    cfg.Metrics,
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	return c, nil
}

// Host returns the workspace base URL
func (c *Client) Host() string {
	return c.baseURL.String()
}

// Do sends one request and returns the JSON body of a 2xx response unchanged.
// An empty body is returned as {}.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return nil, apierr.Validation("method", "unsupported HTTP method: %s", method)
	}
	op := method + " " + path

	ctx, span := tracing.StartSpan(ctx, "databricks.request",
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		duration := time.Since(start)
		c.metrics.RecordAPIRequest(method, 0, duration)
		logger.Debug().Str("op", op).Dur("duration", duration).Err(err).Msg("Databricks request failed")

		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, apierr.Transport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	c.metrics.RecordAPIRequest(method, resp.StatusCode, duration)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("Databricks request completed")

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response")
		return nil, apierr.Transport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := remoteError(op, resp.StatusCode, data)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}

	return responseBody(op, resp.StatusCode, data)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := *c.baseURL
	u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + path
	decoded, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return nil, apierr.Validation("path", "invalid request path %q", path)
	}
	u.Path = decoded
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, apierr.Internal(fmt.Errorf("failed to encode request body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("failed to build request: %w", err))
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHeaders(ctx, req.Header)

	return req, nil
}

// remoteError builds the error for a non-2xx response. Databricks reports
// {"error_code", "message"}; the SCIM endpoints report {"detail", "status"}.
func remoteError(op string, status int, data []byte) *apierr.Error {
	var code, message string

	if gjson.ValidBytes(data) {
		parsed := gjson.ParseBytes(data)
		code = parsed.Get("error_code").String()
		if code == "" {
			code = parsed.Get("scimType").String()
		}
		for _, field := range []string{"message", "detail", "error_description", "error"} {
			if v := parsed.Get(field); v.Exists() && v.Type == gjson.String && v.String() != "" {
				message = v.String()
				break
			}
		}
	}

	if message == "" {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		message = text
	}
	if message == "" {
		message = http.StatusText(status)
	}

	return apierr.Remote(op, status, code, message)
}

// responseBody returns the 2xx body as sent by the workspace, only trimmed
func responseBody(op string, status int, data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, apierr.Remote(op, status, "", "response is not valid JSON")
	}
	return json.RawMessage(trimmed), nil
}
