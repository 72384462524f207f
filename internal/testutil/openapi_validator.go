package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// unchecked lists probe endpoints that answer with plain text.
var unchecked = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// OpenAPIValidator matches responses against api/openapi/openapi.yaml.
type OpenAPIValidator struct {
	router routers.Router
	opts   *openapi3filter.Options
}

// LoadOpenAPIValidator parses and validates the document at path.
func LoadOpenAPIValidator(path string) (*OpenAPIValidator, error) {
	doc, err := openapi3.NewLoader().LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load openapi document %s: %w", path, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	return &OpenAPIValidator{
		router: router,
		opts:   &openapi3filter.Options{MultiError: true, IncludeResponseStatus: true},
	}, nil
}

// ValidateResponse reports on t when resp does not match the documented
// operation for req. resp.Body stays readable for the caller.
func (v *OpenAPIValidator) ValidateResponse(t *testing.T, req *http.Request, resp *http.Response) {
	t.Helper()

	if unchecked[req.URL.Path] {
		return
	}

	route, params, err := v.find(req)
	if err != nil {
		t.Errorf("openapi: %s %s is not documented: %v", req.Method, req.URL.Path, err)
		return
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		t.Errorf("read response body: %v", err)
		return
	}

	err = openapi3filter.ValidateResponse(context.Background(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: params,
			Route:      route,
		},
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    io.NopCloser(bytes.NewReader(body)),
		Options: v.opts,
	})
	if err != nil {
		t.Errorf("openapi: %s %s returned %d not matching the document:\n%s\nbody: %s",
			req.Method, req.URL.Path, resp.StatusCode, clip(err.Error(), 500), clip(string(body), 200))
	}
}

// find matches on method and path only; the document declares no servers.
func (v *OpenAPIValidator) find(req *http.Request) (*routers.Route, map[string]string, error) {
	pathOnly, err := http.NewRequest(req.Method, req.URL.Path, nil)
	if err != nil {
		return nil, nil, err
	}
	return v.router.FindRoute(pathOnly)
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
