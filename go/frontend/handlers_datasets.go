package frontend

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/go-chi/chi/v5"

	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// createDatasetRequest is the body of POST /datasets.
type createDatasetRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (f *Frontend) createDatasetHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	var req createDatasetRequest
	if err := decode(r, &req); err != nil {
		f.sendError(w, err)
		return
	}
	ds, err := f.svc.CreateDataset(ctx, userFrom(ctx), req.Name, req.Description, req.Tags)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusCreated, ds)
}

func (f *Frontend) listDatasetsHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	offset, limit, err := pageParams(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	ret, err := f.svc.ListDatasets(ctx, userFrom(ctx), offset, limit)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, ret)
}

func (f *Frontend) searchDatasetsHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	offset, limit, err := pageParams(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	ret, err := f.svc.SearchDatasets(ctx, userFrom(ctx), r.URL.Query().Get("q"), offset, limit)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, ret)
}

func (f *Frontend) getDatasetHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	ds, err := f.svc.GetDataset(ctx, userFrom(ctx), id)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, ds)
}

// updateDatasetRequest is the body of PATCH /datasets/{id}.
type updateDatasetRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (f *Frontend) updateDatasetHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	var req updateDatasetRequest
	if err := decode(r, &req); err != nil {
		f.sendError(w, err)
		return
	}
	ds, err := f.svc.UpdateDataset(ctx, userFrom(ctx), id, req.Name, req.Description)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, ds)
}

func (f *Frontend) deleteDatasetHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	if err := f.svc.DeleteDataset(ctx, userFrom(ctx), id); err != nil {
		f.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setTagsRequest is the body of PUT /datasets/{id}/tags.
type setTagsRequest struct {
	Tags []string `json:"tags"`
}

func (f *Frontend) setTagsHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	var req setTagsRequest
	if err := decode(r, &req); err != nil {
		f.sendError(w, err)
		return
	}
	if err := f.svc.SetDatasetTags(ctx, userFrom(ctx), id, req.Tags); err != nil {
		f.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *Frontend) overviewHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	overview, err := f.svc.GetOverview(ctx, userFrom(ctx), id)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, overview)
}

// createRefRequest is the body of POST /datasets/{id}/refs.
type createRefRequest struct {
	Name    string `json:"name"`
	FromRef string `json:"from_ref"`
}

func (f *Frontend) createRefHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	var req createRefRequest
	if err := decode(r, &req); err != nil {
		f.sendError(w, err)
		return
	}
	ref, err := f.svc.CreateRef(ctx, userFrom(ctx), id, types.RefName(req.Name), types.RefName(req.FromRef))
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusCreated, ref)
}

func (f *Frontend) listRefsHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	refs, err := f.svc.ListRefs(ctx, userFrom(ctx), id)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, refs)
}

func (f *Frontend) deleteRefHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	if err := f.svc.DeleteRef(ctx, userFrom(ctx), id, types.RefName(chi.URLParam(r, "ref"))); err != nil {
		f.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// grantPermissionRequest is the body of POST /datasets/{id}/permissions.
type grantPermissionRequest struct {
	UserID string `json:"user_id"`
	Level  string `json:"level"`
}

func (f *Frontend) grantPermissionHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	var req grantPermissionRequest
	if err := decode(r, &req); err != nil {
		f.sendError(w, err)
		return
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		f.sendError(w, sherr.New(sherr.Validation, "malformed user id"))
		return
	}
	level, err := permstore.ParseLevel(req.Level)
	if err != nil {
		f.sendError(w, err)
		return
	}
	if err := f.svc.GrantPermission(ctx, userFrom(ctx), id, target, level); err != nil {
		f.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *Frontend) listPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	grants, err := f.svc.ListPermissions(ctx, userFrom(ctx), id)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, grants)
}

func (f *Frontend) revokePermissionHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	target, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		f.sendError(w, sherr.New(sherr.Validation, "malformed user id"))
		return
	}
	if err := f.svc.RevokePermission(ctx, userFrom(ctx), id, target); err != nil {
		f.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
