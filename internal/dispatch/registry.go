// Package dispatch binds method+path pairs to handlers and runs the upload
// ingestion and shape-conformity steps before a handler sees the request.
package dispatch

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "inlet/internal/errors"
	"inlet/internal/ingest"
	"inlet/internal/request"
	"inlet/internal/shape"
)

// HandlerFunc is an endpoint handler. It receives the request context with
// the payload slot populated when the endpoint declared an upload policy.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, rc *request.Context)

// Endpoint associates a path and method with a handler, an optional upload
// policy, and an optional declared payload shape.
type Endpoint struct {
	Method  string
	Path    string
	Handler HandlerFunc

	// Policy, when set, runs body ingestion before the handler.
	Policy *ingest.Policy
	// Shape, when set, is a struct prototype the decoded JSON payload must
	// conform to. Requires a buffer-mode Policy.
	Shape interface{}
}

// Registry is a keyed lookup from method+path to an endpoint descriptor.
type Registry struct {
	ingestor  *ingest.Ingestor
	checker   shape.Checker
	logger    *slog.Logger
	endpoints map[string]Endpoint
	order     []string
}

// NewRegistry creates an empty endpoint registry.
func NewRegistry(ingestor *ingest.Ingestor, checker shape.Checker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ingestor:  ingestor,
		checker:   checker,
		logger:    logger.With(slog.String("component", "dispatch")),
		endpoints: make(map[string]Endpoint),
	}
}

// Register adds an endpoint. Registering the same method+path twice is a
// programming error and is rejected.
func (reg *Registry) Register(ep Endpoint) error {
	if ep.Method == "" || ep.Path == "" {
		return stderrors.New("endpoint requires a method and a path")
	}
	if ep.Handler == nil {
		return fmt.Errorf("endpoint %s %s has no handler", ep.Method, ep.Path)
	}
	if ep.Shape != nil && (ep.Policy == nil || ep.Policy.Mode != ingest.ModeBuffer) {
		return fmt.Errorf("endpoint %s %s declares a shape without a buffer-mode policy", ep.Method, ep.Path)
	}

	key := ep.Method + " " + ep.Path
	if _, exists := reg.endpoints[key]; exists {
		return fmt.Errorf("endpoint %s already registered", key)
	}
	reg.endpoints[key] = ep
	reg.order = append(reg.order, key)
	return nil
}

// Mount installs all registered endpoints on the router.
func (reg *Registry) Mount(r chi.Router) {
	for _, key := range reg.order {
		ep := reg.endpoints[key]
		r.MethodFunc(ep.Method, ep.Path, reg.wrap(ep))
	}
}

// wrap builds the http.HandlerFunc for one endpoint: request context, body
// ingestion per policy, JSON decode plus shape check, then the handler.
func (reg *Registry) wrap(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := request.New(r, reg.checker)

		if ep.Policy != nil {
			// On rejection the ingestor has already stopped consuming; the
			// HTTP server drains and closes the remaining body.
			if err := reg.ingestor.Ingest(r.Context(), r.Body, rc, *ep.Policy); err != nil {
				reg.renderError(w, r, rc, err)
				return
			}
		}

		if ep.Shape != nil {
			rc.DecodeJSON()
			if err := rc.VerifyShape(ep.Shape); err != nil {
				reg.renderError(w, r, rc, err)
				return
			}
		}

		ep.Handler(w, r, rc)
	}
}

// renderError surfaces a rejection to the client, preserving the status and
// code carried by APIError values.
func (reg *Registry) renderError(w http.ResponseWriter, r *http.Request, rc *request.Context, err error) {
	var apiErr *apierrors.APIError
	if !stderrors.As(err, &apiErr) {
		apiErr = apierrors.InternalError("dispatch", err)
	}

	reg.logger.WarnContext(r.Context(), "request rejected",
		slog.String("request_id", rc.ID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error_code", apiErr.ErrorCode),
		slog.Int("status", apiErr.StatusCode))

	render.Render(w, r, apierrors.NewErrorResponse(apiErr))
}
