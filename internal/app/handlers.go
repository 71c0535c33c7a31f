package app

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/render"

	"inlet/internal/dispatch"
	apierrors "inlet/internal/errors"
	"inlet/internal/ingest"
	"inlet/internal/request"
)

// DocumentRequest is the declared shape for the buffered JSON endpoint.
type DocumentRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Content string `json:"content" validate:"required"`
}

// registerEndpoints installs the built-in upload API.
func (a *Application) registerEndpoints() error {
	jsonPolicy := &ingest.Policy{
		Mode:         ingest.ModeBuffer,
		AllowedTypes: []string{"application/json"},
		MaxBytes:     a.Config.Upload.MaxBodySize,
	}
	blobPolicy := &ingest.Policy{
		Mode:     ingest.ModeStream,
		MaxBytes: a.Config.Upload.MaxBodySize,
	}

	endpoints := []dispatch.Endpoint{
		{
			Method:  http.MethodPost,
			Path:    "/api/documents",
			Policy:  jsonPolicy,
			Shape:   DocumentRequest{},
			Handler: a.handleDocument,
		},
		{
			Method:  http.MethodPost,
			Path:    "/api/blobs",
			Policy:  blobPolicy,
			Handler: a.handleBlob,
		},
	}

	for _, ep := range endpoints {
		if err := a.Registry.Register(ep); err != nil {
			return err
		}
	}
	return nil
}

// handleHealth reports liveness.
func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{"status": "ok"})
}

// handleDocument accepts a shape-validated JSON document.
func (a *Application) handleDocument(w http.ResponseWriter, r *http.Request, rc *request.Context) {
	body, _ := rc.Buffered()

	a.Logger.InfoContext(r.Context(), "document accepted",
		slog.String("request_id", rc.ID),
		slog.Int("bytes", len(body)))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"bytes":   len(body),
	})
}

// handleBlob accepts a streamed upload. Ownership of the staged file
// transfers here on success, so the handler removes it once processed.
func (a *Application) handleBlob(w http.ResponseWriter, r *http.Request, rc *request.Context) {
	path, ok := rc.FilePath()
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InternalError("blob stat", err)))
		return
	}

	a.Logger.InfoContext(r.Context(), "blob accepted",
		slog.String("request_id", rc.ID),
		slog.String("path", path),
		slog.Int64("bytes", info.Size()))

	// Staged file is consumed here; the ingestor never deletes on success.
	if err := os.Remove(path); err != nil {
		a.Logger.WarnContext(r.Context(), "failed to remove consumed blob",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"bytes":   info.Size(),
	})
}
