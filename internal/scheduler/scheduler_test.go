package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acfleet/internal/models"
)

func TestAddOrUpdateRoutineReplacesTimer(t *testing.T) {
	sched := NewScheduler(func(int64) {})

	require.NoError(t, sched.AddOrUpdateRoutine(1, "0 7 * * *", true))
	require.NoError(t, sched.AddOrUpdateRoutine(1, "0 8 * * *", true))

	assert.Equal(t, 1, sched.ScheduledCount(), "a routine owns at most one timer")
}

func TestAddOrUpdateRoutineDisableRemovesTimer(t *testing.T) {
	sched := NewScheduler(func(int64) {})

	require.NoError(t, sched.AddOrUpdateRoutine(1, "0 7 * * *", true))
	require.NoError(t, sched.AddOrUpdateRoutine(1, "0 7 * * *", false))
	assert.Zero(t, sched.ScheduledCount())
}

func TestAddOrUpdateRoutineEmptyCronRemovesTimer(t *testing.T) {
	sched := NewScheduler(func(int64) {})

	require.NoError(t, sched.AddOrUpdateRoutine(1, "0 7 * * *", true))
	require.NoError(t, sched.AddOrUpdateRoutine(1, "", true))
	assert.Zero(t, sched.ScheduledCount())
}

func TestAddOrUpdateRoutineInvalidCron(t *testing.T) {
	sched := NewScheduler(func(int64) {})

	assert.Error(t, sched.AddOrUpdateRoutine(1, "not a cron", true))
	assert.Zero(t, sched.ScheduledCount())
}

func TestInvalidUpdateDropsOldTimer(t *testing.T) {
	sched := NewScheduler(func(int64) {})

	require.NoError(t, sched.AddOrUpdateRoutine(1, "0 7 * * *", true))
	assert.Error(t, sched.AddOrUpdateRoutine(1, "garbage", true))

	// The old timer is gone rather than firing with a stale spec.
	assert.Zero(t, sched.ScheduledCount())
}

func TestRemoveRoutine(t *testing.T) {
	sched := NewScheduler(func(int64) {})

	require.NoError(t, sched.AddOrUpdateRoutine(1, "0 7 * * *", true))
	sched.RemoveRoutine(1)
	sched.RemoveRoutine(1) // idempotent
	assert.Zero(t, sched.ScheduledCount())
}

func TestLoadRoutines(t *testing.T) {
	sched := NewScheduler(func(int64) {})

	sched.LoadRoutines([]models.Routine{
		{ID: 1, Enabled: true, Cron: "0 7 * * *"},
		{ID: 2, Enabled: false, Cron: "0 8 * * *"},
		{ID: 3, Enabled: true}, // sensor automation, no timer
		{ID: 4, Enabled: true, Cron: "bad spec"},
		{ID: 5, Enabled: true, Cron: "@every 1h"},
	})

	assert.Equal(t, 2, sched.ScheduledCount())
}
