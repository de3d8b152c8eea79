// Package worker claims queued jobs and runs them. A worker process runs
// several claim loops plus a recovery loop that returns jobs with stale
// heartbeats to the queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sheafdata/sheaf/go/derive"
	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/ingest/process"
	"github.com/sheafdata/sheaf/go/jobstore"
	"github.com/sheafdata/sheaf/go/metrics"
	"github.com/sheafdata/sheaf/go/now"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/shlog"
)

const (
	// idleInitialInterval and idleMaxInterval bound the poll backoff of an
	// idle claim loop.
	idleInitialInterval = time.Second
	idleMaxInterval     = 30 * time.Second

	// heartbeatInterval is how often a derived run's claim is refreshed.
	heartbeatInterval = 15 * time.Second
)

// runnableTypes are the run types this worker has runners for. Claims are
// restricted to these so other types stay queued for their own workers.
var runnableTypes = []jobstore.RunType{jobstore.RunImport, jobstore.RunSampling, jobstore.RunProfiling}

// Runner claims and executes jobs.
type Runner struct {
	jobs     jobstore.Store
	importer *process.Importer
	sampler  *derive.Sampler
	profiler *derive.Profiler
	bus      eventbus.EventBus

	workerID         string
	concurrency      int
	heartbeatTimeout time.Duration

	claimed   prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	recovered prometheus.Counter
}

// New returns a Runner. The worker id is derived from the hostname so
// claims are attributable in the job registry.
func New(jobs jobstore.Store, importer *process.Importer, sampler *derive.Sampler, profiler *derive.Profiler, bus eventbus.EventBus, concurrency int, heartbeatTimeout time.Duration) *Runner {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	return &Runner{
		jobs:             jobs,
		importer:         importer,
		sampler:          sampler,
		profiler:         profiler,
		bus:              bus,
		workerID:         fmt.Sprintf("%s-%s", hostname, uuid.New()),
		concurrency:      concurrency,
		heartbeatTimeout: heartbeatTimeout,
		claimed:          metrics.GetCounter("sheaf_worker_jobs_claimed"),
		completed:        metrics.GetCounter("sheaf_worker_jobs_completed"),
		failed:           metrics.GetCounter("sheaf_worker_jobs_failed"),
		recovered:        metrics.GetCounter("sheaf_worker_jobs_recovered"),
	}
}

// Start launches the claim loops and the recovery loop. It returns
// immediately; the loops stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.concurrency; i++ {
		go r.claimLoop(ctx)
	}
	go r.recoveryLoop(ctx)
	shlog.Infof("Worker %s started with %d claim loops", r.workerID, r.concurrency)
}

// claimLoop polls for pending jobs, backing off while the queue is empty.
func (r *Runner) claimLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = idleInitialInterval
	bo.MaxInterval = idleMaxInterval
	bo.MaxElapsedTime = 0
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := r.jobs.Claim(ctx, r.workerID, runnableTypes, now.Now(ctx))
		if err != nil {
			shlog.Warningf("Worker %s: claim failed: %s", r.workerID, err)
		}
		if !ok || err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}
		bo.Reset()
		r.claimed.Inc()
		r.runOne(ctx, job)
	}
}

// runOne dispatches a claimed job and records the outcome.
func (r *Runner) runOne(ctx context.Context, job jobstore.Job) {
	shlog.Infof("Worker %s: running %s job %s", r.workerID, job.Type, job.ID)
	started := time.Now()

	var err error
	switch job.Type {
	case jobstore.RunImport:
		// The importer refreshes its own claim at batch boundaries.
		err = r.importer.Run(ctx, job, r.workerID)
	case jobstore.RunSampling:
		err = r.withHeartbeat(ctx, job.ID, func(ctx context.Context) error {
			return r.sampler.Run(ctx, job)
		})
	case jobstore.RunProfiling:
		err = r.withHeartbeat(ctx, job.ID, func(ctx context.Context) error {
			return r.profiler.Run(ctx, job)
		})
	default:
		err = sherr.New(sherr.Validation, "no runner for %q jobs", job.Type)
	}

	if err != nil {
		// A Conflict means the job went terminal under us, which is how a
		// cancelled or reclaimed run surfaces. There is no outcome to record.
		if sherr.IsKind(err, sherr.Conflict) {
			shlog.Infof("Worker %s: lost job %s: %s", r.workerID, job.ID, err)
			return
		}
		r.failed.Inc()
		shlog.Errorf("Worker %s: job %s failed after %s: %s", r.workerID, job.ID, time.Since(started), err)
		if failErr := r.jobs.Fail(ctx, job.ID, err.Error(), now.Now(ctx)); failErr != nil {
			// A Conflict means the job went terminal under us, which is
			// how cancellation surfaces; anything else is worth a log.
			if !sherr.IsKind(failErr, sherr.Conflict) {
				shlog.Errorf("Worker %s: could not mark job %s failed: %s", r.workerID, job.ID, failErr)
			}
		}
		r.publishOutcome(ctx, job, events.JobFailed, err.Error())
		return
	}

	// A nil error means the run drove the job to a terminal state itself.
	// Only a job that actually completed gets a completion event; one
	// cancelled or reclaimed under us does not.
	final, getErr := r.jobs.Get(ctx, job.ID)
	if getErr != nil {
		shlog.Warningf("Worker %s: could not reload job %s: %s", r.workerID, job.ID, getErr)
		return
	}
	if final.Status == jobstore.StatusCompleted {
		r.completed.Inc()
		shlog.Infof("Worker %s: job %s completed in %s", r.workerID, job.ID, time.Since(started))
		r.publishOutcome(ctx, final, events.JobCompleted, "")
	}
}

// withHeartbeat refreshes the job's claim on a ticker while fn runs. A
// failing heartbeat cancels fn's context, which is how a cancelled or
// reclaimed job interrupts a derived run.
func (r *Runner) withHeartbeat(ctx context.Context, jobID uuid.UUID, fn func(ctx context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.jobs.Heartbeat(runCtx, jobID, r.workerID, now.Now(runCtx)); err != nil {
					shlog.Infof("Worker %s: lost claim on job %s: %s", r.workerID, jobID, err)
					cancel()
					return
				}
			}
		}
	}()
	return fn(runCtx)
}

// publishOutcome emits the terminal event for a run.
func (r *Runner) publishOutcome(ctx context.Context, job jobstore.Job, t events.EventType, errMsg string) {
	e := events.New(t, events.AggregateJob, job.ID.String(), now.Now(ctx))
	e.UserID = job.UserID.String()
	e.CorrelationID = job.ID.String()
	payload, err := json.Marshal(struct {
		Type      jobstore.RunType `json:"type"`
		DatasetID string           `json:"dataset_id"`
		Error     string           `json:"error,omitempty"`
	}{Type: job.Type, DatasetID: job.DatasetID.String(), Error: errMsg})
	if err == nil {
		e.Payload = payload
	}
	r.bus.Publish(e)
}

// recoveryLoop periodically returns stale running jobs to the queue.
func (r *Runner) recoveryLoop(ctx context.Context) {
	interval := r.heartbeatTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := now.Now(ctx).Add(-r.heartbeatTimeout)
			n, err := r.jobs.RecoverStale(ctx, cutoff)
			if err != nil {
				shlog.Warningf("Worker %s: stale job recovery failed: %s", r.workerID, err)
				continue
			}
			if n > 0 {
				r.recovered.Add(float64(n))
				shlog.Infof("Worker %s: returned %d stale jobs to the queue", r.workerID, n)
			}
		}
	}
}
