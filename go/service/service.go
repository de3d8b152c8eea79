// Package service implements the application operations behind the HTTP
// surface. Every operation runs the permission gate first and executes
// inside a unit of work; domain errors carry kinds and are translated to
// status codes only in go/frontend.
package service

import (
	"github.com/sheafdata/sheaf/go/ingest/upload"
	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/permstore"
	"github.com/sheafdata/sheaf/go/searchindex"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/uow"
)

// Options are the service's behavioral knobs.
type Options struct {
	// DefaultPageLimit applies when a request passes limit = 0.
	DefaultPageLimit int
	// MaxPageLimit clamps any larger requested limit.
	MaxPageLimit int
	// MaxActiveImports bounds pending+running imports per dataset.
	MaxActiveImports int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		DefaultPageLimit: 100,
		MaxPageLimit:     1000,
		MaxActiveImports: 4,
	}
}

// Service exposes the application operations.
type Service struct {
	uowf   uow.Factory
	jobs   jobstore.Store
	index  searchindex.Index
	stager *upload.Stager
	opts   Options
}

// New returns a Service.
func New(uowf uow.Factory, jobs jobstore.Store, index searchindex.Index, stager *upload.Stager, opts Options) *Service {
	return &Service{uowf: uowf, jobs: jobs, index: index, stager: stager, opts: opts}
}

// gate builds the permission gate over the unit's stores.
func (s *Service) gate(u uow.UnitOfWork) *permstore.Gate {
	return permstore.NewGate(u.Stores().Datasets, u.Stores().Perms)
}

// page validates and clamps pagination arguments. Negative values are a
// validation error; an oversized limit is clamped, not rejected.
func (s *Service) page(offset, limit int) (int, int, error) {
	if offset < 0 {
		return 0, 0, sherr.New(sherr.Validation, "offset must not be negative")
	}
	if limit < 0 {
		return 0, 0, sherr.New(sherr.Validation, "limit must not be negative")
	}
	if limit == 0 {
		limit = s.opts.DefaultPageLimit
	}
	if limit > s.opts.MaxPageLimit {
		limit = s.opts.MaxPageLimit
	}
	return offset, limit, nil
}
