package engine

import (
	"context"
	"testing"
	"time"

	"github.com/cretz/teleworker/internal/catalog"
	"github.com/cretz/teleworker/internal/orchestrator"
	"github.com/cretz/teleworker/internal/store"
	"github.com/stretchr/testify/require"
)

// scriptedRunner lets engine tests drive deterministic orchestrator
// outcomes without spawning real processes or needing a language toolchain.
type scriptedRunner struct {
	result orchestrator.Result
	err    error
}

func (s *scriptedRunner) Run(context.Context, orchestrator.Request) (orchestrator.Result, error) {
	return s.result, s.err
}

func testCatalog() *catalog.Catalog {
	return catalog.New(map[string]catalog.Recipe{
		"echo": {SourceFilename: "main.sh", RunArgv: []string{"sh", "main.sh"}},
	}, nil)
}

func waitForTerminal(t *testing.T, e *Engine, id string) *store.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job := e.GetStatus(id)
		if job != nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestSubmitRejectsEmptySource(t *testing.T) {
	e := New(Config{Catalog: testCatalog(), Runner: &scriptedRunner{}})
	defer e.Close()
	_, err := e.Submit(SubmitRequest{Language: "echo"})
	require.Error(t, err)
}

func TestSubmitRejectsUnknownLanguage(t *testing.T) {
	e := New(Config{Catalog: testCatalog(), Runner: &scriptedRunner{}})
	defer e.Close()
	_, err := e.Submit(SubmitRequest{Language: "cobol", SourceCode: "x"})
	require.Error(t, err)
}

func TestSubmitRunsToCompletion(t *testing.T) {
	runner := &scriptedRunner{result: orchestrator.Result{Status: orchestrator.StatusCompleted, Stdout: "hi", ExitCode: 0}}
	e := New(Config{Catalog: testCatalog(), Runner: runner})
	defer e.Close()

	id, err := e.Submit(SubmitRequest{Language: "echo", SourceCode: "echo hi"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := waitForTerminal(t, e, id)
	require.Equal(t, store.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	require.Equal(t, "hi", job.Result.Stdout)
}

func TestGetResultRedactsOutputWhenNotIncluded(t *testing.T) {
	runner := &scriptedRunner{result: orchestrator.Result{Status: orchestrator.StatusCompleted, Stdout: "secret"}}
	e := New(Config{Catalog: testCatalog(), Runner: runner})
	defer e.Close()

	id, err := e.Submit(SubmitRequest{Language: "echo", SourceCode: "echo secret"})
	require.NoError(t, err)
	waitForTerminal(t, e, id)

	redacted := e.GetResult(id, false)
	require.Empty(t, redacted.Result.Stdout)

	full := e.GetResult(id, true)
	require.Equal(t, "secret", full.Result.Stdout)
}

func TestCancelQueuedJob(t *testing.T) {
	// Block the worker on a never-returning submission by using a very slow
	// runner, so the second submitted job stays Queued long enough to cancel.
	blocker := make(chan struct{})
	runner := &blockingRunner{unblock: blocker}
	e := New(Config{Catalog: testCatalog(), Runner: runner})
	defer func() {
		close(blocker)
		e.Close()
	}()

	_, err := e.Submit(SubmitRequest{Language: "echo", SourceCode: "echo first"})
	require.NoError(t, err)
	id2, err := e.Submit(SubmitRequest{Language: "echo", SourceCode: "echo second"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.Cancel(id2) }, time.Second, time.Millisecond)
	job := e.GetStatus(id2)
	require.Equal(t, store.StatusCancelled, job.Status)
}

func TestCancelUnknownReturnsFalse(t *testing.T) {
	e := New(Config{Catalog: testCatalog(), Runner: &scriptedRunner{}})
	defer e.Close()
	require.False(t, e.Cancel("does-not-exist"))
}

func TestStatsReflectsSubmittedTotal(t *testing.T) {
	runner := &scriptedRunner{result: orchestrator.Result{Status: orchestrator.StatusCompleted}}
	e := New(Config{Catalog: testCatalog(), Runner: runner})
	defer e.Close()

	id, err := e.Submit(SubmitRequest{Language: "echo", SourceCode: "echo hi"})
	require.NoError(t, err)
	waitForTerminal(t, e, id)

	stats := e.Stats()
	require.Equal(t, 1, stats.Total)
}

type blockingRunner struct{ unblock <-chan struct{} }

func (b *blockingRunner) Run(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error) {
	select {
	case <-b.unblock:
	case <-ctx.Done():
	}
	return orchestrator.Result{Status: orchestrator.StatusCompleted}, nil
}
