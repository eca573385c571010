package triggers

import (
	"encoding/json"
	"time"

	"github.com/jswidler/tenantrun/errors"
)

func init() {
	RegisterTriggerHandler(&RunOnceTrigger{}, &RepeatTrigger{})
}

// RepeatTrigger fires every Interval.
type RepeatTrigger struct {
	Interval time.Duration
}

var _ Trigger = (*RepeatTrigger)(nil)

func NewRepeatTrigger(interval time.Duration) *RepeatTrigger {
	return &RepeatTrigger{
		Interval: interval,
	}
}

func (t *RepeatTrigger) Type() string {
	return Repeat
}

func (t *RepeatTrigger) NextFireTime(prev time.Time) (time.Time, error) {
	if t.Interval <= 0 {
		return time.Time{}, errors.Wrap(ErrTriggerExpired, errors.WithMessage("repeat interval must be positive"))
	}
	return prev.Add(t.Interval), nil
}

func (t *RepeatTrigger) Serialize() (string, error) {
	return serialize(t)
}

func (t *RepeatTrigger) Deserialize(data string) (Trigger, error) {
	return deserialize[RepeatTrigger](data)
}

// RunOnceTrigger fires a single time, Delay after the time it is first asked about.
type RunOnceTrigger struct {
	Delay   time.Duration
	Expired bool
}

var _ Trigger = (*RunOnceTrigger)(nil)

func NewRunOnceTrigger(delay time.Duration) *RunOnceTrigger {
	return &RunOnceTrigger{
		Delay: delay,
	}
}

func (t *RunOnceTrigger) Type() string {
	return RunOnce
}

// NextFireTime returns prev plus the delay the first time, then ErrTriggerExpired.
func (t *RunOnceTrigger) NextFireTime(prev time.Time) (time.Time, error) {
	if t.Expired {
		return time.Time{}, errors.Wrap(ErrTriggerExpired)
	}
	t.Expired = true
	return prev.Add(t.Delay), nil
}

func (t *RunOnceTrigger) Serialize() (string, error) {
	return serialize(t)
}

func (t *RunOnceTrigger) Deserialize(data string) (Trigger, error) {
	return deserialize[RunOnceTrigger](data)
}

func serialize(t Trigger) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", errors.Wrap(err)
	}
	return string(data), nil
}

func deserialize[T any, PT interface {
	*T
	Trigger
}](data string) (Trigger, error) {
	var t T
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, errors.Wrap(err)
	}
	return PT(&t), nil
}
