// Package engine implements the Engine Façade and Worker Loop (spec.md
// §4.9): submit/get_status/get_result/cancel/stats, backed by the Job
// Store and Execution Queue, driving the Single-Run Orchestrator and
// Multi-Run Aggregator on a single background worker goroutine.
//
// The worker loop's poll/backoff shape (dequeue; sleep ~100ms when empty;
// sleep ~1s on internal error) is spec-mandated (§4.8) and mirrors the
// teacher's own preference for a single long-running consumer goroutine
// over a blocking channel read, since the queue must also support
// non-blocking Size/Clear from other call sites.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cretz/teleworker/internal/aggregator"
	"github.com/cretz/teleworker/internal/catalog"
	"github.com/cretz/teleworker/internal/hostinfo"
	"github.com/cretz/teleworker/internal/limits"
	"github.com/cretz/teleworker/internal/orchestrator"
	"github.com/cretz/teleworker/internal/queue"
	"github.com/cretz/teleworker/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	pollInterval = 100 * time.Millisecond
	errorBackoff = 1 * time.Second
)

// Runner is the per-run execution dependency, satisfied by
// *orchestrator.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// Engine is the public façade described by spec.md §4.9.
type Engine struct {
	log     *zap.Logger
	catalog *catalog.Catalog
	runner  Runner
	store   *store.Store
	queue   *queue.Queue

	startedAt time.Time
	totalMu   sync.Mutex
	total     int

	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures a new Engine.
type Config struct {
	Catalog *catalog.Catalog
	Runner  Runner
	Logger  *zap.Logger
}

// New constructs an Engine and starts its background worker goroutine.
// Callers must call Close to stop the worker.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cat := cfg.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		log:       log,
		catalog:   cat,
		runner:    cfg.Runner,
		store:     store.New(),
		queue:     queue.New(),
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go e.workerLoop(ctx)
	return e
}

// Close stops the worker loop and waits for it to exit.
func (e *Engine) Close() {
	e.cancel()
	<-e.done
}

// SubmitRequest is the engine-facing form of an ExecutionRequest (spec.md §3).
type SubmitRequest struct {
	ID              string
	Language        string
	LanguageID      *int
	SourceCode      string
	Stdin           string
	AdditionalFiles string

	CPUTime      *time.Duration
	CPUExtraTime *time.Duration
	Memory       *uint64
	WallTime     *time.Duration
	Stack        *uint64
	FileSize     *uint64
	Processes    *int

	RedirectStderrToStdout bool
	NumberOfRuns           *int
	EnableNetwork          bool
}

// EmptySourceError is a synchronous 4xx-class submit error (spec.md §7).
type EmptySourceError struct{}

func (EmptySourceError) Error() string { return "source_code must not be empty" }

// Submit validates req, creates the job in Queued, and enqueues it.
func (e *Engine) Submit(req SubmitRequest) (string, error) {
	if req.SourceCode == "" {
		return "", EmptySourceError{}
	}
	if _, err := e.catalog.Lookup(req.Language, req.LanguageID); err != nil {
		return "", err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	job := &store.Job{
		ID:        id,
		Status:    store.StatusQueued,
		CreatedAt: time.Now(),
		Request: store.Request{
			Language:               req.Language,
			LanguageID:             req.LanguageID,
			SourceCode:             req.SourceCode,
			Stdin:                  req.Stdin,
			AdditionalFiles:        req.AdditionalFiles,
			CPUTime:                req.CPUTime,
			CPUExtraTime:           req.CPUExtraTime,
			Memory:                 req.Memory,
			WallTime:               req.WallTime,
			Stack:                  req.Stack,
			FileSize:               req.FileSize,
			Processes:              req.Processes,
			RedirectStderrToStdout: req.RedirectStderrToStdout,
			NumberOfRuns:           req.NumberOfRuns,
			EnableNetwork:          req.EnableNetwork,
		},
	}
	if err := e.store.Put(job); err != nil {
		return "", err
	}
	e.totalMu.Lock()
	e.total++
	e.totalMu.Unlock()
	e.queue.Enqueue(id)
	return id, nil
}

// GetStatus returns a status snapshot, or nil if id is unknown.
func (e *Engine) GetStatus(id string) *store.Job {
	return e.store.Get(id)
}

// GetResult returns the job, or nil if unknown. When includeOutput is
// false, stdout/stderr/compile_output are redacted per spec.md §4.9.
func (e *Engine) GetResult(id string, includeOutput bool) *store.Job {
	job := e.store.Get(id)
	if job == nil || job.Result == nil || includeOutput {
		return job
	}
	redacted := *job.Result
	redacted.Stdout = ""
	redacted.Stderr = ""
	redacted.CompileOutput = ""
	job.Result = &redacted
	return job
}

// Cancel marks id Cancelled if it is currently Queued/Processing/Running.
// Returns false if id is unknown or already terminal (spec.md §4.9,
// CancelIneligible per §7).
func (e *Engine) Cancel(id string) bool {
	cancelled := false
	updated := e.store.Update(id, func(j *store.Job) {
		if j.Status.Terminal() {
			return
		}
		j.Status = store.StatusCancelled
		now := time.Now()
		j.FinishedAt = &now
		cancelled = true
	})
	return updated != nil && cancelled
}

// Stats is the stats() snapshot (spec.md §4.9).
type Stats struct {
	Total         int
	Queued        int
	Active        int
	UptimeSeconds float64
	Host          hostinfo.Snapshot
}

// Stats returns a Stats snapshot.
func (e *Engine) Stats() Stats {
	queued, active := e.store.Counts()
	e.totalMu.Lock()
	total := e.total
	e.totalMu.Unlock()
	return Stats{
		Total:         total,
		Queued:        queued,
		Active:        active,
		UptimeSeconds: time.Since(e.startedAt).Seconds(),
		Host:          hostinfo.Read(),
	}
}

// Languages returns the catalog's full language listing, for /languages.
func (e *Engine) Languages() []catalog.LanguageInfo {
	return e.catalog.Languages()
}

func (e *Engine) workerLoop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		id, ok := e.queue.Dequeue()
		if !ok {
			sleep(ctx, pollInterval)
			continue
		}
		if err := e.processOne(ctx, id); err != nil {
			e.log.Error("worker: processing job failed", zap.String("id", id), zap.Error(err))
			sleep(ctx, errorBackoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) processOne(ctx context.Context, id string) error {
	job := e.store.Get(id)
	if job == nil {
		return fmt.Errorf("worker: job %v vanished from store", id)
	}
	if job.Status.Terminal() {
		return nil
	}

	recipe, err := e.catalog.Lookup(job.Request.Language, job.Request.LanguageID)
	if err != nil {
		e.finishInternalError(id, err)
		return nil
	}

	now := time.Now()
	e.store.Update(id, func(j *store.Job) {
		if j.Status.Terminal() {
			return
		}
		j.Status = store.StatusProcessing
		j.StartedAt = &now
	})

	rl, opts := limits.Derive(requestLimits(job.Request), requestOptions(job.Request))

	e.store.Update(id, func(j *store.Job) {
		if j.Status.Terminal() {
			return
		}
		j.Status = store.StatusRunning
	})

	req := orchestrator.Request{
		Recipe:          recipe,
		SourceCode:      job.Request.SourceCode,
		Stdin:           job.Request.Stdin,
		AdditionalFiles: job.Request.AdditionalFiles,
		Limits:          rl,
		Options:         opts,
	}
	res, err := aggregator.Run(ctx, orchestratorAdapter{e.runner}, req)
	if err != nil {
		e.finishInternalError(id, err)
		return nil
	}

	e.store.Update(id, func(j *store.Job) {
		if j.Status.Terminal() {
			// Cancelled while running: drop this result (spec.md §3 invariant).
			return
		}
		finished := time.Now()
		exitCode := res.ExitCode
		j.Status = store.Status(res.Status)
		j.FinishedAt = &finished
		j.Result = &store.Result{
			Status:        store.Status(res.Status),
			Stdout:        res.Stdout,
			Stderr:        res.Stderr,
			CompileOutput: res.CompileOutput,
			ExitCode:      &exitCode,
			Time:          res.ExecutionTime,
			Memory:        res.MemoryUsage,
		}
	})
	return nil
}

func (e *Engine) finishInternalError(id string, cause error) {
	e.log.Warn("worker: job failed with internal error", zap.String("id", id), zap.Error(cause))
	e.store.Update(id, func(j *store.Job) {
		if j.Status.Terminal() {
			return
		}
		now := time.Now()
		j.Status = store.StatusInternalError
		j.FinishedAt = &now
		j.Result = &store.Result{
			Status: store.StatusInternalError,
			Stderr: cause.Error(),
		}
	})
}

func requestLimits(r store.Request) limits.RequestLimits {
	return limits.RequestLimits{
		CPUTime:      r.CPUTime,
		CPUExtraTime: r.CPUExtraTime,
		Memory:       r.Memory,
		WallTime:     r.WallTime,
		Stack:        r.Stack,
		FileSize:     r.FileSize,
		Processes:    r.Processes,
	}
}

func requestOptions(r store.Request) limits.RequestOptions {
	return limits.RequestOptions{
		RedirectStderrToStdout: &r.RedirectStderrToStdout,
		NumberOfRuns:           r.NumberOfRuns,
		EnableNetwork:          &r.EnableNetwork,
	}
}

// orchestratorAdapter adapts Engine.runner (Runner) to aggregator.Runner.
type orchestratorAdapter struct{ r Runner }

func (a orchestratorAdapter) Run(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error) {
	return a.r.Run(ctx, req)
}
