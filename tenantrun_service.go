package tenantrun

import (
	"context"
	"encoding/json"
	"maps"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/logger"
	"github.com/jswidler/tenantrun/propagate"
	"github.com/jswidler/tenantrun/router"
	"github.com/jswidler/tenantrun/rundb"
	"github.com/jswidler/tenantrun/tenantctx"
	"github.com/jswidler/tenantrun/triggers"
	"github.com/jswidler/tenantrun/ulid"
)

var (
	ErrUnregisteredJobType = errors.Sentinel("unregistered job type")
	ErrNoJobInContext      = errors.Sentinel("context does not belong to a running job")
)

// jobStore is the part of rundb.JobView the runner uses.
type jobStore interface {
	AcquireJobsToRun(ctx context.Context, jobLimit int) ([]*rundb.JobData, error)
	MarkIncompleteJobs(ctx context.Context, jobTimeout time.Duration) ([]*rundb.JobData, error)
	UpdateJob(ctx context.Context, job *rundb.JobData) error
	GetJobById(ctx context.Context, jobId string) (*rundb.JobData, error)
	ListJobs(ctx context.Context, startTime, endTime time.Time) ([]*rundb.JobData, error)
	ListTriggers(ctx context.Context) ([]*rundb.JobTrigger, error)
	DeleteTriggerById(ctx context.Context, triggerId string) error
	InsertJobs(ctx context.Context, jobs []*rundb.JobData) error
	MaybeUpsertTriggerWithJobs(ctx context.Context, jobTrigger *rundb.JobTrigger, jobs []*rundb.JobData) error
	GetTriggersToUpdate(ctx context.Context, t time.Time) ([]*rundb.JobTrigger, error)
	ScheduleNewJobsFromTrigger(ctx context.Context, jobTrigger *rundb.JobTrigger, prevScheduleUntil time.Time, jobs []*rundb.JobData) error
}

var _ jobStore = rundb.JobView{}

type runner struct {
	store    jobStore
	resolver propagate.Resolver

	batchSize  int
	batchFreq  time.Duration
	jobTimeout time.Duration

	ticker    *time.Ticker
	done      chan (struct{})
	waitGroup *sync.WaitGroup

	jobInit      func(ctx context.Context, jobType string, jobId string) context.Context
	argProcessor func(ctx context.Context, jobType string, jobId string, args any) error
	jobComplete  func(ctx context.Context, jobType string, jobId string, result string, err error)
}

type options struct {
	batchSize      int
	batchFreq      time.Duration
	jobTimeout     time.Duration
	disableLogging bool

	resolver    propagate.Resolver
	resolverSet bool

	jobInit      func(ctx context.Context, jobType string, jobId string) context.Context
	argProcessor func(ctx context.Context, jobType string, jobId string, args any) error
	jobComplete  func(ctx context.Context, jobType string, jobId string, result string, err error)
}

func newRunner(store jobStore, opts []Option) *runner {
	o := options{
		batchSize:  10,
		batchFreq:  1 * time.Second,
		jobTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.jobTimeout <= 0 {
		o.jobTimeout = 10 * time.Minute
	}
	if !o.resolverSet {
		o.resolver = router.Default()
	}

	logger.DisableLogging = o.disableLogging

	return &runner{
		store:        store,
		resolver:     o.resolver,
		batchSize:    o.batchSize,
		batchFreq:    o.batchFreq,
		jobTimeout:   o.jobTimeout,
		jobInit:      o.jobInit,
		argProcessor: o.argProcessor,
		jobComplete:  o.jobComplete,
	}
}

func (g *runner) Start(ctx context.Context) error {
	if g.ticker != nil {
		return nil
	}
	g.ticker = time.NewTicker(g.batchFreq)
	g.done = make(chan struct{})
	g.waitGroup = &sync.WaitGroup{}

	// The housekeeping jobs belong to no tenant.
	ctx = withRunner(tenantctx.WithoutTenant(ctx), g)

	go func() {
		logger.Default().Info().Msg("starting job server")
		for {
			select {
			case <-g.done:
				return
			case <-g.ticker.C:
				err := g.runBatch(ctx)
				if err != nil {
					logger.Ctx(ctx).Error().Err(err).Msg("job batch returned an error")
				}
			}
		}
	}()

	var err error
	defer func() {
		if err != nil {
			g.Close()
		}
	}()
	err = g.ScheduleRepeatedWithKey(ctx, "tenantrun:processTriggers", 30*time.Second, ProcessTriggers{})
	if err != nil {
		return err
	}
	err = g.ScheduleRepeatedWithKey(ctx, "tenantrun:markIncompleteJobs", 5*time.Minute, MarkIncompleteJobs{})
	if err != nil {
		return err
	}
	err = g.ProcessTriggers(ctx)
	return err
}

func (g *runner) Close() {
	if g.ticker == nil {
		return
	}
	g.ticker.Stop()
	close(g.done)
	g.waitGroup.Wait()
}

func (g *runner) ScheduleImmediately(ctx context.Context, job Job, opts ...DispatchOption) (jobId string, err error) {
	return g.schedule(ctx, ulid.New(), triggers.NewRunOnceTrigger(0), job, opts)
}

func (g *runner) ScheduleAfter(ctx context.Context, delay time.Duration, job Job, opts ...DispatchOption) (jobId string, err error) {
	return g.schedule(ctx, ulid.New(), triggers.NewRunOnceTrigger(delay), job, opts)
}

func (g *runner) ScheduleRepeated(ctx context.Context, interval time.Duration, job Job, opts ...DispatchOption) (triggerId string, err error) {
	triggerId = ulid.New()
	_, err = g.schedule(ctx, triggerId, triggers.NewRepeatTrigger(interval), job, opts)
	return
}

func (g *runner) ScheduleRepeatedWithKey(ctx context.Context, triggerId string, interval time.Duration, job Job, opts ...DispatchOption) (err error) {
	_, err = g.schedule(ctx, triggerId, triggers.NewRepeatTrigger(interval), job, opts)
	return
}

func (g *runner) schedule(ctx context.Context, triggerId string, trigger Trigger, job Job, opts []DispatchOption) (jobId string, err error) {
	if v, ok := job.(Validateable); ok {
		err = v.Validate()
		if err != nil {
			return
		}
	}

	d := dispatch{}
	for _, opt := range opts {
		opt(&d)
	}
	md := propagate.Inject(ctx, d.metadata)

	trig, jobData, err := firstRun(triggerId, trigger, job, rundb.Metadata(md))
	if err != nil {
		return
	}
	jobId = jobData[0].Id
	if trig == nil {
		err = g.store.InsertJobs(ctx, jobData)
	} else {
		err = g.store.MaybeUpsertTriggerWithJobs(ctx, trig, jobData)
	}
	return
}

func (g *runner) GetJob(ctx context.Context, jobId string) (*rundb.JobData, error) {
	return g.store.GetJobById(ctx, jobId)
}

func (g *runner) DeleteTrigger(ctx context.Context, triggerId string) error {
	return g.store.DeleteTriggerById(ctx, triggerId)
}

func (g *runner) ListJobs(ctx context.Context, start, end time.Time) ([]*rundb.JobData, error) {
	return g.store.ListJobs(ctx, start, end)
}

func (g *runner) ListTriggers(ctx context.Context) ([]*rundb.JobTrigger, error) {
	return g.store.ListTriggers(ctx)
}

// ProcessTriggers schedules the upcoming jobs of every trigger that is only scheduled a short
// while ahead.
func (g *runner) ProcessTriggers(ctx context.Context) error {
	now := time.Now()
	minScheduleTime := now.Add(3 * time.Minute)

	triggers, err := g.store.GetTriggersToUpdate(ctx, minScheduleTime)
	if err != nil {
		return err
	}

	for _, t := range triggers {
		err := g.scheduleJobsFromTrigger(ctx, t, now, minScheduleTime)
		if err != nil {
			if errors.Is(err, rundb.ErrConflict) {
				// ProcessTriggers may run concurrently on several servers.
				logger.Ctx(ctx).Info().Str("triggerId", t.Id).Msg("trigger scheduled by concurrent process")
				continue
			}
			return err
		}
	}
	return nil
}

func (g *runner) MarkIncompleteJobs(ctx context.Context) error {
	jobs, err := g.store.MarkIncompleteJobs(ctx, g.jobTimeout)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		ev := logger.Ctx(ctx).Error().Str("failedJobId", job.Id).Str("failedJobType", job.Type)
		if tenantId := job.Metadata.Get(propagate.TenantIdKey); tenantId != "" {
			ev = ev.Str("failedJobTenantId", tenantId)
		}
		ev.Msg("job timed out")
	}
	return nil
}

func (g *runner) scheduleJobsFromTrigger(ctx context.Context, trigger *rundb.JobTrigger, now, minScheduleTime time.Time) error {
	logger.Ctx(ctx).Info().
		Str("scheduledJobType", trigger.JobType).
		Str("triggerType", trigger.TriggerType).
		Str("triggerId", trigger.Id).
		Msg("scheduling job for trigger")

	prevScheduleUntil := trigger.ScheduledUntil // the update only applies if nobody else moved it
	trig, err := triggers.LoadTrigger(trigger.TriggerType, trigger.TriggerData)
	if err != nil {
		return err
	}

	jobList := []*rundb.JobData{}
	next := trigger.ScheduledUntil
	for {
		next, err = trig.NextFireTime(next)
		if err != nil {
			if len(jobList) == 0 {
				return err
			}
			break
		}
		// missed fire times collapse into a single job now
		if next.Before(now) {
			next = now
		}
		jobList = append(jobList, newJobFromTrigger(trigger, next))
		trigger.ScheduledUntil = next
		if next.After(minScheduleTime) {
			break
		}
	}

	return g.store.ScheduleNewJobsFromTrigger(ctx, trigger, prevScheduleUntil, jobList)
}

func (g *runner) runBatch(ctx context.Context) error {
	ctx = logger.WithStr(ctx, "batchId", ulid.New())

	jobs, err := g.store.AcquireJobsToRun(ctx, g.batchSize)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("error acquiring jobs")
		return err
	}
	if len(jobs) == 0 {
		logger.Ctx(ctx).Debug().Msg("no jobs to run")
		return nil
	}

	g.waitGroup.Add(len(jobs))
	logger.Ctx(ctx).Info().Int("jobCount", len(jobs)).Msg("running job batch")
	for i := range jobs {
		go func(job *rundb.JobData) {
			defer g.waitGroup.Done()

			ctx, cancel := context.WithTimeout(ctx, g.jobTimeout)
			defer cancel()

			g.runJob(ctx, job)
		}(jobs[i])
	}
	return nil
}

// runJob executes one acquired job and records its result. The handler runs inside the tenant
// scope named by the job metadata, resolved through the runner's router.
func (g *runner) runJob(ctx context.Context, job *rundb.JobData) {
	start := time.Now()
	l := logger.Ctx(ctx).With().Str("jobId", job.Id).Str("jobType", job.Type)
	if job.TriggerId != nil {
		l = l.Str("triggerId", *job.TriggerId)
	}
	ll := l.Logger()
	ctx = withJob(ll.WithContext(ctx), job)

	logger.Ctx(ctx).Info().Msg("job starting")

	var err error
	result := ""
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(r, debug.Stack())
		}
		if tenantId := job.Metadata.Get(propagate.TenantIdKey); tenantId != "" && err != nil {
			err = errors.Wrap(err, errors.WithTenant(tenantId))
		}
		g.writeJobResult(ctx, job, start, result, err)
		if g.jobComplete != nil {
			g.jobComplete(ctx, job.Type, job.Id, result, err)
		}
	}()

	handler, err := getHandler(job.Type)
	if err != nil {
		return
	}

	err = propagate.Run(ctx, g.resolver, Metadata, func(ctx context.Context) error {
		if g.jobInit != nil {
			ctx = g.jobInit(ctx, job.Type, job.Id)
		}
		var err error
		result, err = handler(ctx, g, job)
		return err
	})
}

func (g *runner) writeJobResult(ctx context.Context, job *rundb.JobData, start time.Time, result string, err error) {
	if err == nil {
		job.Status = StatusCompleted
		if result == "" {
			result = "success"
		}
	} else {
		job.Status = StatusFailed
		if result == "" {
			result = err.Error()
		}
	}
	job.Result = &result

	// the result is written even when the job context has expired
	err2 := g.store.UpdateJob(context.WithoutCancel(ctx), job)
	if err2 != nil {
		logger.Ctx(ctx).Error().Err(err2).Msg("failed to write job result")
	}

	dur := time.Since(start)
	if err == nil {
		logger.Ctx(ctx).Info().Str("result", result).Dur("duration", dur).Msg("job completed")
	} else {
		logger.Ctx(ctx).Error().Str("result", result).Dur("duration", dur).Err(err).Msg("job failed")
	}
}

// firstRun determines the first fire time of a trigger and builds the rows to save. Run-once
// triggers are not saved, only their job.
func firstRun(triggerId string, trigger Trigger, job Job, md rundb.Metadata) (*rundb.JobTrigger, []*rundb.JobData, error) {
	dbTrigger, err := toDbTrigger(triggerId, trigger, job, md)
	if err != nil {
		return nil, nil, err
	}

	next, err := trigger.NextFireTime(time.Now())
	if err != nil {
		return nil, nil, err
	}

	dbTrigger.ScheduledUntil = next
	jobList := []*rundb.JobData{newJobFromTrigger(dbTrigger, next)}

	if dbTrigger.TriggerType == triggers.RunOnce {
		dbTrigger = nil
		jobList[0].TriggerId = nil
	}

	return dbTrigger, jobList, nil
}

func toDbTrigger(triggerId string, trigger Trigger, job Job, md rundb.Metadata) (*rundb.JobTrigger, error) {
	jobArgs, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	triggerArgs, err := trigger.Serialize()
	if err != nil {
		return nil, err
	}
	return &rundb.JobTrigger{
		Id:          triggerId,
		Metadata:    md,
		TriggerType: trigger.Type(),
		TriggerData: triggerArgs,
		JobType:     job.JobType(),
		JobArgs:     string(jobArgs),
	}, nil
}

func newJobFromTrigger(trigger *rundb.JobTrigger, runAt time.Time) *rundb.JobData {
	triggerId := trigger.Id
	return &rundb.JobData{
		Id:        ulid.New(),
		Metadata:  maps.Clone(trigger.Metadata),
		Status:    StatusScheduled,
		TriggerId: &triggerId,
		RunAt:     runAt,
		Type:      trigger.JobType,
		Args:      trigger.JobArgs,
	}
}

type ctxKey int

const (
	runnerCtxKey ctxKey = iota
	jobCtxKey
)

func withRunner(ctx context.Context, service *runner) context.Context {
	return context.WithValue(ctx, runnerCtxKey, service)
}

func getRunner(ctx context.Context) *runner {
	service, _ := ctx.Value(runnerCtxKey).(*runner)
	return service
}

func withJob(ctx context.Context, job *rundb.JobData) context.Context {
	return context.WithValue(ctx, jobCtxKey, job)
}

// Metadata returns a copy of the metadata of the job running on ctx.
func Metadata(ctx context.Context) (propagate.Metadata, error) {
	job, _ := ctx.Value(jobCtxKey).(*rundb.JobData)
	if job == nil {
		return nil, errors.Wrap(ErrNoJobInContext)
	}
	md := propagate.Metadata{}
	maps.Copy(md, job.Metadata)
	return md, nil
}
