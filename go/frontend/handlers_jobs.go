package frontend

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sheafdata/sheaf/go/derive"
	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// jobQueuedBody is the 202 response of the enqueue endpoints.
type jobQueuedBody struct {
	JobID uuid.UUID `json:"job_id"`
}

// importHandler accepts a multipart upload and queues an import job. The
// file part is streamed straight into the staging area, so the message
// part must precede it.
func (f *Frontend) importHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, uploadRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	refName := types.RefName(chi.URLParam(r, "ref"))

	mr, err := r.MultipartReader()
	if err != nil {
		f.sendError(w, sherr.New(sherr.Validation, "a multipart body is required: %s", err))
		return
	}
	message := r.URL.Query().Get("message")
	for {
		part, err := mr.NextPart()
		if err != nil {
			f.sendError(w, sherr.New(sherr.Validation, "the multipart body has no file part"))
			return
		}
		switch part.FormName() {
		case "message":
			b, err := io.ReadAll(io.LimitReader(part, 4096))
			if err != nil {
				f.sendError(w, sherr.New(sherr.Validation, "unreadable message part: %s", err))
				return
			}
			message = string(b)
		case "file":
			jobID, err := f.svc.EnqueueImport(ctx, userFrom(ctx), id, refName, message, part, part.FileName())
			if err != nil {
				f.sendError(w, err)
				return
			}
			f.sendJSON(w, http.StatusAccepted, jobQueuedBody{JobID: jobID})
			return
		}
	}
}

// sampleRequest is the body of POST /datasets/{id}/sample.
type sampleRequest struct {
	CommitID string `json:"commit_id"`
	Ref      string `json:"ref"`
	derive.SampleParams
}

func (f *Frontend) sampleHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	var req sampleRequest
	if err := decode(r, &req); err != nil {
		f.sendError(w, err)
		return
	}
	jobID, err := f.svc.EnqueueSample(ctx, userFrom(ctx), id, types.CommitID(req.CommitID), types.RefName(req.Ref), req.SampleParams)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusAccepted, jobQueuedBody{JobID: jobID})
}

// profileRequest is the body of POST /datasets/{id}/profile.
type profileRequest struct {
	CommitID string `json:"commit_id"`
	Ref      string `json:"ref"`
	derive.ProfileParams
}

func (f *Frontend) profileHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := datasetIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	var req profileRequest
	if err := decode(r, &req); err != nil {
		f.sendError(w, err)
		return
	}
	jobID, err := f.svc.EnqueueProfile(ctx, userFrom(ctx), id, types.CommitID(req.CommitID), types.RefName(req.Ref), req.ProfileParams)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusAccepted, jobQueuedBody{JobID: jobID})
}

// jobIDParam parses the {job} route parameter.
func jobIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "job"))
	if err != nil {
		return uuid.Nil, sherr.New(sherr.Validation, "malformed job id")
	}
	return id, nil
}

func (f *Frontend) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	offset, limit, err := pageParams(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	filter := jobstore.ListFilter{
		Type:   jobstore.RunType(r.URL.Query().Get("type")),
		Status: jobstore.Status(r.URL.Query().Get("status")),
	}
	jobs, err := f.svc.ListJobs(ctx, userFrom(ctx), filter, offset, limit)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, jobs)
}

func (f *Frontend) getJobHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := jobIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	job, err := f.svc.GetJob(ctx, userFrom(ctx), id)
	if err != nil {
		f.sendError(w, err)
		return
	}
	f.sendJSON(w, http.StatusOK, job)
}

func (f *Frontend) cancelJobHandler(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	ctx, cancel := withTimeout(r, defaultRequestTimeout)
	defer cancel()
	id, err := jobIDParam(r)
	if err != nil {
		f.sendError(w, err)
		return
	}
	if err := f.svc.CancelJob(ctx, userFrom(ctx), id); err != nil {
		f.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
