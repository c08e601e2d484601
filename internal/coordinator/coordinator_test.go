package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatload/internal/hub"
	"chatload/pkg/interfaces"
	"chatload/pkg/types"
)

// scriptedScenario passes signup for even virtual users and fails it for odd ones
type scriptedScenario struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
	seen    sync.Map
}

func (s *scriptedScenario) Name() string { return types.ScenarioHTTP }

func (s *scriptedScenario) Run(ctx context.Context, vu int) *types.Outcome {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	s.seen.Store(vu, true)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}

	o := &types.Outcome{Scenario: s.Name(), VirtualUser: vu}
	if vu%2 == 0 {
		o.Pass(types.CheckSignup, 0)
	} else {
		o.Fail(types.CheckSignup, errors.New("conflict"), 0)
	}
	return o
}

type activity struct {
	hub.ObserverFunc
	started, stopped atomic.Int32
}

func (a *activity) VirtualUserStarted(string) { a.started.Add(1) }
func (a *activity) VirtualUserStopped(string) { a.stopped.Add(1) }

func shared(s interfaces.Scenario) ScenarioFactory {
	return func(int) interfaces.Scenario { return s }
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{VirtualUsers: 1, Duration: time.Second}
	assert.NoError(t, valid.Validate())

	assert.ErrorIs(t, Config{VirtualUsers: 0, Duration: time.Second}.Validate(), ErrInvalidVirtualUsers)
	assert.ErrorIs(t, Config{VirtualUsers: 1}.Validate(), ErrInvalidDuration)
	assert.ErrorIs(t, Config{VirtualUsers: 1, Duration: time.Second, Iterations: -1}.Validate(), ErrInvalidIterations)
}

func TestCoordinator_IterationBudget(t *testing.T) {
	scenario := &scriptedScenario{}
	c := New(Config{VirtualUsers: 4, Duration: time.Minute, Iterations: 3}, shared(scenario), nil)

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, c.RunID(), report.RunID)
	assert.Equal(t, types.ScenarioHTTP, report.Scenario)
	assert.Equal(t, 4, report.VirtualUsers)
	assert.Equal(t, 12, report.Iterations)

	signup, ok := report.Stats(types.CheckSignup)
	require.True(t, ok)
	assert.Equal(t, 6, signup.Passes)
	assert.Equal(t, 6, signup.Fails)
	assert.True(t, report.Failed())

	for vu := 0; vu < 4; vu++ {
		_, ok := scenario.seen.Load(vu)
		assert.True(t, ok, "virtual user %d never ran", vu)
	}
}

func TestCoordinator_VirtualUsersRunConcurrently(t *testing.T) {
	scenario := &scriptedScenario{delay: 100 * time.Millisecond}
	c := New(Config{VirtualUsers: 10, Duration: time.Minute, Iterations: 1}, shared(scenario), nil)

	start := time.Now()
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(10), scenario.peak.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestCoordinator_DurationStopsSpawning(t *testing.T) {
	scenario := &scriptedScenario{}
	c := New(Config{VirtualUsers: 2, Duration: 150 * time.Millisecond, ThinkTime: 40 * time.Millisecond}, shared(scenario), nil)

	start := time.Now()
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Greater(t, report.Iterations, 2)
	assert.Less(t, report.Iterations, 20)
}

func TestCoordinator_InFlightIterationFinishes(t *testing.T) {
	scenario := &scriptedScenario{delay: 300 * time.Millisecond}
	c := New(Config{VirtualUsers: 3, Duration: 50 * time.Millisecond}, shared(scenario), nil)

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Iterations, "each virtual user finishes the iteration it had started")
	assert.GreaterOrEqual(t, report.Elapsed, 300*time.Millisecond)
}

func TestCoordinator_CancelReturnsPartialReport(t *testing.T) {
	scenario := &scriptedScenario{delay: time.Hour}
	c := New(Config{VirtualUsers: 2, Duration: time.Hour}, shared(scenario), nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	report, err := c.Run(ctx)
	assert.ErrorIs(t, err, ErrRunCanceled)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Iterations)
}

func TestCoordinator_ObserversSeeEveryOutcome(t *testing.T) {
	var observed atomic.Int32
	tracker := &activity{ObserverFunc: func(*types.Outcome) { observed.Add(1) }}
	c := New(Config{VirtualUsers: 3, Duration: time.Minute, Iterations: 2}, shared(&scriptedScenario{}), nil, tracker)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(6), observed.Load())
	assert.Equal(t, int32(3), tracker.started.Load())
	assert.Equal(t, int32(3), tracker.stopped.Load())
}

func TestCoordinator_NilScenario(t *testing.T) {
	c := New(Config{VirtualUsers: 1, Duration: time.Second}, func(int) interfaces.Scenario { return nil }, nil)
	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrNilScenario)
}
