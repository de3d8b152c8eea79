package frontend

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sheafdata/sheaf/go/types"
)

func (f *Frontend) historyHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	offset, limit, err := pageParams(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	refName := types.RefName(r.URL.Query().Get("ref"))
	commits, err := f.svc.GetHistory(ctx, userFrom(ctx), id, refName, offset, limit)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, commits)
}

func (f *Frontend) dataAtRefHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	offset, limit, err := pageParams(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	table := types.TableKey(r.URL.Query().Get("table"))
	rows, err := f.svc.GetDataAtRef(ctx, userFrom(ctx), id, types.RefName(chi.URLParam(r, "ref")), table, offset, limit)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, rows)
}

func (f *Frontend) dataAtCommitHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	commitID, err := commitIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	offset, limit, err := pageParams(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	table := types.TableKey(r.URL.Query().Get("table"))
	rows, err := f.svc.GetDataAtCommit(ctx, userFrom(ctx), id, commitID, table, offset, limit)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, rows)
}

func (f *Frontend) schemaHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	commitID, err := commitIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	table := types.TableKey(r.URL.Query().Get("table"))
	schema, err := f.svc.GetSchema(ctx, userFrom(ctx), id, commitID, table)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, schema)
}

func (f *Frontend) listTablesHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	commitID, err := commitIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	tables, err := f.svc.ListTables(ctx, userFrom(ctx), id, commitID)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, tables)
}
