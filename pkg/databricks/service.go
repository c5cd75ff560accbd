package databricks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/harun/dbperms-mcp/pkg/apierr"
)

// Service exposes the request-shaping functions for every resource family
type Service struct {
	api Requester
}

// NewService creates a service that sends its requests through api
func NewService(api Requester) *Service {
	return &Service{api: api}
}

func (s *Service) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return s.api.Do(ctx, http.MethodGet, path, query, nil)
}

func (s *Service) send(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	return s.api.Do(ctx, method, path, nil, body)
}

func (s *Service) delete(ctx context.Context, path string) (json.RawMessage, error) {
	return s.api.Do(ctx, http.MethodDelete, path, nil, nil)
}

// enum is a fixed set of allowed values
type enum map[string]bool

func newEnum(values ...string) enum {
	e := make(enum, len(values))
	for _, v := range values {
		e[v] = true
	}
	return e
}

// Values returns the members in sorted order
func (e enum) Values() []string {
	values := make([]string, 0, len(e))
	for v := range e {
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

func (e enum) check(param, value string) error {
	if !e[value] {
		return apierr.NotAllowed(param, value, e.Values())
	}
	return nil
}

func required(param, value string) error {
	if strings.TrimSpace(value) == "" {
		return apierr.Missing(param)
	}
	return nil
}

// segment escapes a caller supplied identifier for use as one path segment
func segment(value string) string {
	return url.PathEscape(value)
}
