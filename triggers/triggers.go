// Package triggers decides when the jobs of a schedule fire. Triggers are stored as a type
// name plus serialized data and loaded back through the registered handlers.
package triggers

import (
	"time"

	"github.com/jswidler/tenantrun/errors"
)

const (
	RunOnce = "run-once"
	Repeat  = "repeat"
)

type Trigger interface {
	Type() string

	// NextFireTime returns the fire time following prev. An error means the trigger will not fire again.
	NextFireTime(prev time.Time) (time.Time, error)

	Serialize() (string, error)

	Deserialize(data string) (Trigger, error)
}

var (
	ErrInvalidTriggerType = errors.Sentinel("invalid trigger type")
	ErrTriggerExpired     = errors.Sentinel("trigger expired")
)

var triggerHandlers = map[string]Trigger{}

func RegisterTriggerHandler(handlers ...Trigger) {
	for i := range handlers {
		triggerHandlers[handlers[i].Type()] = handlers[i]
	}
}

func LoadTrigger(triggerType string, data string) (Trigger, error) {
	handler, ok := triggerHandlers[triggerType]
	if !ok {
		return nil, errors.Wrap(ErrInvalidTriggerType, errors.WithMessagef("invalid trigger type %q", triggerType))
	}
	return handler.Deserialize(data)
}
