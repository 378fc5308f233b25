package rest

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/davidleathers/interaction-analytics/internal/domain/errors"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// ContractValidator validates HTTP requests against the embedded OpenAPI document
type ContractValidator struct {
	doc    *openapi3.T
	router routers.Router
}

// NewContractValidator loads and validates the embedded document
func NewContractValidator() (*ContractValidator, error) {
	loader := openapi3.NewLoader()

	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}

	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	return &ContractValidator{doc: doc, router: router}, nil
}

// Document returns the parsed OpenAPI document
func (cv *ContractValidator) Document() *openapi3.T {
	return cv.doc
}

// ValidateRequest checks parameters and body. Requests for undocumented routes
// are reported with routers.ErrPathNotFound or routers.ErrMethodNotAllowed.
func (cv *ContractValidator) ValidateRequest(req *http.Request) error {
	route, pathParams, err := cv.router.FindRoute(req)
	if err != nil {
		return err
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    &openapi3filter.Options{MultiError: true},
	}
	if err := openapi3filter.ValidateRequest(req.Context(), input); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	return nil
}

// Middleware rejects requests that break the contract with 400. Undocumented
// routes pass through to the mux.
func (cv *ContractValidator) Middleware(next http.Handler) http.Handler {
	if cv == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := cv.ValidateRequest(r)
		switch {
		case err == nil:
		case isRouteError(err):
		default:
			writeError(w, r, errors.NewValidationError("CONTRACT_VIOLATION", "request does not match the API contract").
				WithCause(err).
				WithDetails(map[string]interface{}{"reason": err.Error()}))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isRouteError(err error) bool {
	return err == routers.ErrPathNotFound || err == routers.ErrMethodNotAllowed
}
