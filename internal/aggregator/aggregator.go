// Package aggregator implements the Multi-Run Aggregator (spec.md §4.6):
// runs a single-run orchestrator up to number_of_runs times and folds the
// per-run results into one aggregated result.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cretz/teleworker/internal/orchestrator"
)

// Runner is the single-run dependency the aggregator drives; satisfied by
// *orchestrator.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// Result is the aggregated outcome of number_of_runs single-run results.
type Result struct {
	Status        orchestrator.Status
	Stdout        string
	Stderr        string
	CompileOutput string
	ExitCode      int
	ExecutionTime time.Duration
	MemoryUsage   uint64
	RunsExecuted  int
}

// Run executes req.Options.NumberOfRuns single runs sequentially with the
// same inputs and aggregates them per spec.md §4.6. N=0 is an internal
// error; N=1 returns the sole result verbatim.
func Run(ctx context.Context, runner Runner, req orchestrator.Request) (Result, error) {
	n := req.Options.NumberOfRuns
	if n <= 0 {
		return Result{}, fmt.Errorf("aggregator: number_of_runs must be >= 1, got %d", n)
	}

	var runs []orchestrator.Result
	for i := 0; i < n; i++ {
		res, err := runner.Run(ctx, req)
		if err != nil {
			return Result{}, err
		}
		runs = append(runs, res)
		if req.Options.StopOnFirstFailure && res.ExitCode != 0 {
			break
		}
	}

	if len(runs) == 1 {
		r := runs[0]
		return Result{
			Status:        r.Status,
			Stdout:        r.Stdout,
			Stderr:        r.Stderr,
			CompileOutput: r.CompileOutput,
			ExitCode:      r.ExitCode,
			ExecutionTime: r.ExecutionTime,
			MemoryUsage:   r.MemoryUsage,
			RunsExecuted:  1,
		}, nil
	}
	return combine(runs), nil
}

func combine(runs []orchestrator.Result) Result {
	var stdout, stderr strings.Builder
	var totalTime time.Duration
	var maxMemory uint64
	exitCode := 0
	status := orchestrator.StatusCompleted
	firstFailureSeen := false

	for i, r := range runs {
		k := i + 1
		if k > 1 {
			stdout.WriteString(fmt.Sprintf("--- Run %d ---\n", k))
		}
		stdout.WriteString(r.Stdout)

		if r.Stderr != "" {
			if stderr.Len() > 0 {
				stderr.WriteByte('\n')
			}
			stderr.WriteString(fmt.Sprintf("Run %d: %s", k, r.Stderr))
		}

		totalTime += r.ExecutionTime
		if r.MemoryUsage > maxMemory {
			maxMemory = r.MemoryUsage
		}

		if r.ExitCode != 0 && !firstFailureSeen {
			firstFailureSeen = true
			exitCode = r.ExitCode
			status = r.Status
		}
	}

	return Result{
		Status:        status,
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		CompileOutput: runs[0].CompileOutput,
		ExitCode:      exitCode,
		ExecutionTime: totalTime,
		MemoryUsage:   maxMemory,
		RunsExecuted:  len(runs),
	}
}
