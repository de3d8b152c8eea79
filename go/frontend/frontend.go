// Package frontend is the HTTP surface. Handlers decode typed request
// structs, call the service, and translate error kinds to status codes;
// no domain logic lives here.
package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sheafdata/sheaf/go/metrics"
	"github.com/sheafdata/sheaf/go/service"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/shlog"
	"github.com/sheafdata/sheaf/go/types"
)

const (
	// defaultRequestTimeout bounds ordinary requests.
	defaultRequestTimeout = time.Minute
	// uploadRequestTimeout bounds import uploads, which stream large
	// files to disk.
	uploadRequestTimeout = 15 * time.Minute
)

// Frontend holds the handlers.
type Frontend struct {
	svc  *service.Service
	auth *Authenticator

	requests prometheus.Counter
	errors   prometheus.Counter
}

// New returns a Frontend.
func New(svc *service.Service, auth *Authenticator) *Frontend {
	return &Frontend{
		svc:      svc,
		auth:     auth,
		requests: metrics.GetCounter("sheaf_frontend_requests"),
		errors:   metrics.GetCounter("sheaf_frontend_errors"),
	}
}

// RegisterHandlers attaches all routes to the router.
func (f *Frontend) RegisterHandlers(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(f.auth.Middleware)

		r.Post("/datasets", f.createDatasetHandler)
		r.Get("/datasets", f.listDatasetsHandler)
		r.Get("/datasets/search", f.searchDatasetsHandler)
		r.Get("/datasets/{id}", f.getDatasetHandler)
		r.Patch("/datasets/{id}", f.updateDatasetHandler)
		r.Delete("/datasets/{id}", f.deleteDatasetHandler)
		r.Put("/datasets/{id}/tags", f.setTagsHandler)
		r.Get("/datasets/{id}/overview", f.overviewHandler)
		r.Get("/datasets/{id}/history", f.historyHandler)

		r.Post("/datasets/{id}/refs", f.createRefHandler)
		r.Get("/datasets/{id}/refs", f.listRefsHandler)
		r.Delete("/datasets/{id}/refs/{ref}", f.deleteRefHandler)
		r.Post("/datasets/{id}/refs/{ref}/import", f.importHandler)
		r.Get("/datasets/{id}/refs/{ref}/data", f.dataAtRefHandler)

		r.Get("/datasets/{id}/commits/{commit}/data", f.dataAtCommitHandler)
		r.Get("/datasets/{id}/commits/{commit}/schema", f.schemaHandler)
		r.Get("/datasets/{id}/commits/{commit}/tables", f.listTablesHandler)

		r.Post("/datasets/{id}/sample", f.sampleHandler)
		r.Post("/datasets/{id}/profile", f.profileHandler)

		r.Post("/datasets/{id}/permissions", f.grantPermissionHandler)
		r.Get("/datasets/{id}/permissions", f.listPermissionsHandler)
		r.Delete("/datasets/{id}/permissions/{user}", f.revokePermissionHandler)

		r.Get("/jobs", f.listJobsHandler)
		r.Get("/jobs/{job}", f.getJobHandler)
		r.Post("/jobs/{job}/cancel", f.cancelJobHandler)
	})
}

// errorBody is the error response shape.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(kind sherr.Kind) int {
	switch kind {
	case sherr.NotFound:
		return http.StatusNotFound
	case sherr.Forbidden:
		return http.StatusForbidden
	case sherr.Validation:
		return http.StatusBadRequest
	case sherr.Conflict:
		return http.StatusConflict
	case sherr.BusinessRule:
		return http.StatusUnprocessableEntity
	case sherr.QuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case sherr.InvalidFileFormat:
		return http.StatusUnprocessableEntity
	case sherr.Transient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sendError renders err with its kind's status code. Internal errors get
// a correlation id in the log and a generic body.
func (f *Frontend) sendError(w http.ResponseWriter, err error) {
	f.errors.Add(1)
	kind := sherr.KindOf(err)
	body := errorBody{Kind: string(kind), Message: err.Error()}
	if kind == sherr.Internal {
		correlationID := uuid.New()
		shlog.Errorf("Internal error %s: %s", correlationID, err)
		body.Message = "internal error, correlation id " + correlationID.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	_ = json.NewEncoder(w).Encode(body)
}

// sendJSON renders a success response.
func (f *Frontend) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		shlog.Errorf("Failed to encode response: %s", err)
	}
}

// decode parses a JSON request body into dst, rejecting unknown fields.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return sherr.New(sherr.Validation, "malformed request body: %s", err)
	}
	return nil
}

// withTimeout derives the handler context.
func withTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// datasetIDParam parses the {id} route parameter.
func datasetIDParam(r *http.Request) (types.DatasetID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, sherr.New(sherr.Validation, "malformed dataset id")
	}
	return id, nil
}

// commitIDParam parses the {commit} route parameter.
func commitIDParam(r *http.Request) (types.CommitID, error) {
	id := types.CommitID(chi.URLParam(r, "commit"))
	if !id.Valid() {
		return types.BadCommitID, sherr.New(sherr.Validation, "malformed commit id")
	}
	return id, nil
}

// pageParams parses offset and limit query parameters. Absent values
// default to zero; the service validates and clamps.
func pageParams(r *http.Request) (int, int, error) {
	parse := func(name string) (int, error) {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, sherr.New(sherr.Validation, "malformed %s %q", name, raw)
		}
		return n, nil
	}
	offset, err := parse("offset")
	if err != nil {
		return 0, 0, err
	}
	limit, err := parse("limit")
	if err != nil {
		return 0, 0, err
	}
	return offset, limit, nil
}
