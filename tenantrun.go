// Package tenantrun is a Postgres backed background job service that carries the tenant of the
// dispatching flow into the job. Jobs dispatched while a tenant is active record it in their
// metadata, and their handlers run with that tenant in scope again.
package tenantrun

import (
	"context"
	"database/sql"
	"time"

	"github.com/jswidler/tenantrun/propagate"
	"github.com/jswidler/tenantrun/rundb"
	"github.com/jswidler/tenantrun/triggers"
)

type Service interface {
	ScheduleImmediately(ctx context.Context, job Job, opts ...DispatchOption) (jobId string, err error)
	ScheduleAfter(ctx context.Context, delay time.Duration, job Job, opts ...DispatchOption) (jobId string, err error)
	ScheduleRepeated(ctx context.Context, interval time.Duration, job Job, opts ...DispatchOption) (triggerId string, err error)
	ScheduleRepeatedWithKey(ctx context.Context, triggerId string, interval time.Duration, job Job, opts ...DispatchOption) error

	GetJob(ctx context.Context, jobId string) (*rundb.JobData, error)
	ListJobs(ctx context.Context, start, end time.Time) ([]*rundb.JobData, error)
	ListTriggers(ctx context.Context) ([]*rundb.JobTrigger, error)
	DeleteTrigger(ctx context.Context, triggerId string) error

	Start(ctx context.Context) error
	Close()
}

type Handler[T Job] func(ctx context.Context, args *T) (string, error)

type Job interface {
	// Return a constant name for the job that will process the request - this is used to uniquely identify the job handler
	JobType() string
}

type Validateable interface {
	Validate() error
}

const (
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Trigger = triggers.Trigger

func New(db *sql.DB, opts ...Option) (Service, error) {
	rdb, err := rundb.New(db)
	if err != nil {
		return nil, err
	}
	return newRunner(rdb.JobView, opts), nil
}

func NewFromEnv(ctx context.Context, opts ...Option) (Service, error) {
	rdb, err := rundb.NewFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	return newRunner(rdb.JobView, opts), nil
}

type Option func(*options)

// How often each job server will check for new jobs to run
func WithBatchFreq(freq time.Duration) Option {
	return func(o *options) {
		o.batchFreq = freq
	}
}

// How many new jobs to run in each batch.  Currently there is no limit on the number of concurrent jobs.
func WithBatchSize(size int) Option {
	return func(o *options) {
		o.batchSize = size
	}
}

// The maximum amount of time a job can run. The job's context is cancelled then, and a job still
// marked running after it is failed by MarkIncompleteJobs.
func WithJobTimeout(jobTimeout time.Duration) Option {
	return func(o *options) {
		o.jobTimeout = jobTimeout
	}
}

// WithRouter sets where job tenants are resolved. Defaults to the process-wide router registry.
// Passing nil runs every job without a tenant.
func WithRouter(resolver propagate.Resolver) Option {
	return func(o *options) {
		o.resolver = resolver
		o.resolverSet = true
	}
}

// OnJobInit is called before each handler, inside the job's tenant scope.
func OnJobInit(f func(ctx context.Context, jobType string, jobId string) context.Context) Option {
	return func(o *options) {
		o.jobInit = f
	}
}

func WithArgProcessor(f func(ctx context.Context, jobType string, jobId string, args any) error) Option {
	return func(o *options) {
		o.argProcessor = f
	}
}

func OnJobComplete(f func(ctx context.Context, jobType string, jobId string, result string, err error)) Option {
	return func(o *options) {
		o.jobComplete = f
	}
}

func DisableLogging() Option {
	return func(o *options) {
		o.disableLogging = true
	}
}

// DispatchOption adjusts a single dispatch.
type DispatchOption func(*dispatch)

type dispatch struct {
	metadata propagate.Metadata
}

// WithMetadata adds a metadata entry to the dispatched job. The active tenant always wins over
// an explicit tenantId entry.
func WithMetadata(key, value string) DispatchOption {
	return func(d *dispatch) {
		if d.metadata == nil {
			d.metadata = propagate.Metadata{}
		}
		d.metadata[key] = value
	}
}
