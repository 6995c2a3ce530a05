package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tanker-dispatch/dispatch"
)

type sweepCounts struct {
	runs                    int
	scanned, raised, failed int
}

func (c *sweepCounts) ObserveSweep(scanned, raised, failed int) {
	c.runs++
	c.scanned += scanned
	c.raised += raised
	c.failed += failed
}

func TestPODSweepScheduler_RunOnce(t *testing.T) {
	// GIVEN: yesterday's missing-pod scenario, two trips returned without POD
	e := newTestEnv(t)
	require.NoError(t, e.handler.LoadScenarioByID(context.Background(), "missing-pod", nil))

	e.now = testNow.Add(2 * time.Hour)

	counts := &sweepCounts{}
	s := NewPODSweepScheduler(e.svc)
	s.Observer = counts
	s.Deadline = time.Hour

	// WHEN: the sweep runs twice
	first := s.RunOnce(context.Background())
	second := s.RunOnce(context.Background())

	// THEN: each trip gets exactly one MISSING_POD exception
	assert.Equal(t, 2, first.Raised)
	assert.Equal(t, 0, second.Raised)
	assert.Equal(t, 2, counts.runs)
	assert.Equal(t, 2, counts.raised)
	assert.Zero(t, counts.failed)

	days, err := e.svc.ListInRange(context.Background(), testNow.AddDate(0, 0, -1), testNow)
	require.NoError(t, err)
	require.Len(t, days, 1)
	missing := 0
	for _, exc := range days[0].Exceptions {
		if exc.Type == dispatch.ExceptionMissingPOD {
			missing++
		}
	}
	assert.Equal(t, 2, missing)
}

func TestPODSweepScheduler_DeadlineNotReached(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.handler.LoadScenarioByID(context.Background(), "missing-pod", nil))

	e.now = testNow.Add(2 * time.Hour)

	s := NewPODSweepScheduler(e.svc)
	s.Deadline = 48 * time.Hour

	assert.Zero(t, s.RunOnce(context.Background()).Raised)
}

func TestPODSweepScheduler_StartStop(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.handler.LoadScenarioByID(context.Background(), "missing-pod", nil))

	e.now = testNow.Add(2 * time.Hour)

	counts := &sweepCounts{}
	s := NewPODSweepScheduler(e.svc)
	s.Observer = counts
	s.CheckInterval = time.Hour
	s.Deadline = time.Hour

	// Start sweeps immediately; Stop waits for it.
	s.Start()
	require.Eventually(t, func() bool {
		days, err := e.svc.ListInRange(context.Background(), testNow.AddDate(0, 0, -1), testNow)
		return err == nil && len(days) == 1 && days[0].OpenExceptions() >= 2
	}, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.GreaterOrEqual(t, counts.runs, 1)
}

func TestPODSweepScheduler_Disabled(t *testing.T) {
	s := NewPODSweepScheduler(nil)
	s.Enabled = false
	s.Start()
	assert.Nil(t, s.ticker)
	s.Stop()

	s = NewPODSweepScheduler(nil)
	s.CheckInterval = 0
	s.Start()
	assert.Nil(t, s.ticker)
}
