package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/cretz/teleworker/internal/limits"
	"github.com/cretz/teleworker/internal/orchestrator"
	"github.com/stretchr/testify/require"
)

// scriptedRunner returns queued results in order, ignoring the request, so
// aggregation logic can be tested without spawning real processes.
type scriptedRunner struct {
	results []orchestrator.Result
	calls   int
}

func (s *scriptedRunner) Run(context.Context, orchestrator.Request) (orchestrator.Result, error) {
	r := s.results[s.calls]
	s.calls++
	return r, nil
}

func TestRunRejectsZeroRuns(t *testing.T) {
	_, err := Run(context.Background(), &scriptedRunner{}, orchestrator.Request{
		Options: limits.ExecutionOptions{NumberOfRuns: 0},
	})
	require.Error(t, err)
}

func TestRunSingleReturnsVerbatim(t *testing.T) {
	runner := &scriptedRunner{results: []orchestrator.Result{
		{Status: orchestrator.StatusCompleted, Stdout: "hi", ExitCode: 0, ExecutionTime: time.Second, MemoryUsage: 100},
	}}
	res, err := Run(context.Background(), runner, orchestrator.Request{
		Options: limits.ExecutionOptions{NumberOfRuns: 1},
	})
	require.NoError(t, err)
	require.Equal(t, "hi", res.Stdout)
	require.Equal(t, 1, res.RunsExecuted)
}

func TestRunAggregatesSumAndMax(t *testing.T) {
	runner := &scriptedRunner{results: []orchestrator.Result{
		{Status: orchestrator.StatusCompleted, Stdout: "a\n", ExecutionTime: time.Second, MemoryUsage: 100},
		{Status: orchestrator.StatusCompleted, Stdout: "b\n", ExecutionTime: 2 * time.Second, MemoryUsage: 300},
		{Status: orchestrator.StatusCompleted, Stdout: "c\n", ExecutionTime: time.Second, MemoryUsage: 50},
	}}
	res, err := Run(context.Background(), runner, orchestrator.Request{
		Options: limits.ExecutionOptions{NumberOfRuns: 3},
	})
	require.NoError(t, err)
	require.Equal(t, orchestrator.StatusCompleted, res.Status)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, 4*time.Second, res.ExecutionTime)
	require.Equal(t, uint64(300), res.MemoryUsage)
	require.Contains(t, res.Stdout, "--- Run 2 ---")
	require.Contains(t, res.Stdout, "--- Run 3 ---")
	require.Equal(t, 3, res.RunsExecuted)
}

func TestRunStopsOnFirstFailure(t *testing.T) {
	runner := &scriptedRunner{results: []orchestrator.Result{
		{Status: orchestrator.StatusCompleted, Stdout: "a\n", ExitCode: 0},
		{Status: orchestrator.StatusRuntimeError, Stdout: "", Stderr: "boom", ExitCode: 9},
		{Status: orchestrator.StatusCompleted, Stdout: "never reached"},
	}}
	res, err := Run(context.Background(), runner, orchestrator.Request{
		Options: limits.ExecutionOptions{NumberOfRuns: 3, StopOnFirstFailure: true},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.RunsExecuted)
	require.Equal(t, orchestrator.StatusRuntimeError, res.Status)
	require.Equal(t, 9, res.ExitCode)
	require.Contains(t, res.Stderr, "Run 2: boom")
	require.NotContains(t, res.Stdout, "never reached")
}
