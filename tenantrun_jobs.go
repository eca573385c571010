package tenantrun

import (
	"context"
	"encoding/json"

	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/rundb"
)

func init() {
	RegisterHandler(ProcessTriggersHandler)
	RegisterHandler(MarkIncompleteJobsHandler)
}

// jobHandler decodes the stored args of a job and runs the registered Handler with them.
type jobHandler func(ctx context.Context, g *runner, job *rundb.JobData) (string, error)

var jobHandlers = map[string]jobHandler{}

// RegisterHandler registers the handler for jobs of type T. Registering a job type twice panics.
func RegisterHandler[T Job](h Handler[T]) {
	var t T
	jobType := t.JobType()
	if _, ok := jobHandlers[jobType]; ok {
		panic("handler already registered for job type " + jobType)
	}
	jobHandlers[jobType] = func(ctx context.Context, g *runner, job *rundb.JobData) (string, error) {
		args := new(T)
		if err := json.Unmarshal([]byte(job.Args), args); err != nil {
			return "", errors.Wrap(err)
		}
		if v, ok := any(args).(Validateable); ok {
			if err := v.Validate(); err != nil {
				return "", errors.Wrap(err)
			}
		}
		if g.argProcessor != nil {
			if err := g.argProcessor(ctx, job.Type, job.Id, args); err != nil {
				return "", errors.Wrap(err)
			}
		}
		return h(ctx, args)
	}
}

func getHandler(jobType string) (jobHandler, error) {
	handler, ok := jobHandlers[jobType]
	if !ok {
		return nil, errors.Wrap(ErrUnregisteredJobType, errors.WithMessagef("unregistered job type %q", jobType))
	}
	return handler, nil
}

type ProcessTriggers struct{}

func (a ProcessTriggers) JobType() string {
	return "tenantrun:ProcessTriggers"
}

func ProcessTriggersHandler(ctx context.Context, args *ProcessTriggers) (string, error) {
	err := getRunner(ctx).ProcessTriggers(ctx)
	if err != nil {
		return "", err
	}
	return "done", nil
}

type MarkIncompleteJobs struct{}

func (a MarkIncompleteJobs) JobType() string {
	return "tenantrun:MarkIncompleteJobs"
}

func MarkIncompleteJobsHandler(ctx context.Context, args *MarkIncompleteJobs) (string, error) {
	err := getRunner(ctx).MarkIncompleteJobs(ctx)
	if err != nil {
		return "", err
	}
	return "done", nil
}
