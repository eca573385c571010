package triggers_test

import (
	"testing"
	"time"

	"github.com/jswidler/tenantrun/errors"
	"github.com/jswidler/tenantrun/triggers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnceTrigger(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	trig := triggers.NewRunOnceTrigger(time.Minute)

	next, err := trig.NextFireTime(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), next)

	_, err = trig.NextFireTime(next)
	assert.True(t, errors.Is(err, triggers.ErrTriggerExpired))
}

func TestRepeatTrigger(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	trig := triggers.NewRepeatTrigger(30 * time.Second)

	next, err := trig.NextFireTime(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Second), next)

	_, err = triggers.NewRepeatTrigger(0).NextFireTime(now)
	assert.True(t, errors.Is(err, triggers.ErrTriggerExpired))
}

func TestLoadTrigger(t *testing.T) {
	data, err := triggers.NewRepeatTrigger(time.Hour).Serialize()
	require.NoError(t, err)

	loaded, err := triggers.LoadTrigger(triggers.Repeat, data)
	require.NoError(t, err)
	assert.Equal(t, &triggers.RepeatTrigger{Interval: time.Hour}, loaded)

	expired := triggers.NewRunOnceTrigger(0)
	_, _ = expired.NextFireTime(time.Now())
	data, err = expired.Serialize()
	require.NoError(t, err)
	loaded, err = triggers.LoadTrigger(triggers.RunOnce, data)
	require.NoError(t, err)
	_, err = loaded.NextFireTime(time.Now())
	assert.True(t, errors.Is(err, triggers.ErrTriggerExpired))

	_, err = triggers.LoadTrigger("cron", "{}")
	assert.True(t, errors.Is(err, triggers.ErrInvalidTriggerType))
}
