// Package orchestrator implements the Single-Run Orchestrator (spec.md §4.5):
// prepares a fresh working directory, materializes source/stdin/additional
// files, runs an optional compile step, then the program, and classifies the
// outcome.
package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cretz/teleworker/internal/catalog"
	"github.com/cretz/teleworker/internal/limits"
	"github.com/cretz/teleworker/internal/procrunner"
	"github.com/google/uuid"
)

// Status is the terminal classification of a single run (spec.md §4.5).
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusCompilationError    Status = "compilation_error"
	StatusRuntimeError        Status = "runtime_error"
	StatusTimeLimitExceeded   Status = "time_limit_exceeded"
	StatusMemoryLimitExceeded Status = "memory_limit_exceeded"
)

// Request is the input to a single run.
type Request struct {
	Recipe          catalog.Recipe
	SourceCode      string
	Stdin           string
	AdditionalFiles string // base64-encoded zip archive, or empty
	Limits          limits.ResourceLimits
	Options         limits.ExecutionOptions
}

// Result is the outcome of a single run.
type Result struct {
	Status        Status
	Stdout        string
	Stderr        string
	CompileOutput string
	ExitCode      int
	ExecutionTime time.Duration
	MemoryUsage   uint64
	Signal        string
}

// BadArchiveError is returned when AdditionalFiles cannot be safely
// extracted (spec.md §4.5 step 3: path traversal, absolute paths, or a
// malformed archive).
type BadArchiveError struct{ Reason string }

func (e *BadArchiveError) Error() string { return fmt.Sprintf("bad archive: %v", e.Reason) }

// ProcessRunner is the process-execution backend the orchestrator drives.
// *procrunner.Runner (a re-exec'd rlimited child) is the default
// implementation; *dockerrunner.Runner is a drop-in alternate backend that
// runs the same argv inside a throwaway container (spec.md §2, "Docker
// Runner").
type ProcessRunner interface {
	Run(ctx context.Context, req procrunner.Request) (procrunner.Result, error)
}

// Orchestrator stages a fresh working directory per run under workDirRoot
// (spec.md §4.5 step 1) and drives compile/run through a ProcessRunner.
type Orchestrator struct {
	runner      ProcessRunner
	workDirRoot string
}

// New returns an Orchestrator that runs processes via runner and stages work
// directories under workDirRoot.
func New(runner ProcessRunner, workDirRoot string) *Orchestrator {
	return &Orchestrator{runner: runner, workDirRoot: workDirRoot}
}

// Run executes one compile+run cycle per spec.md §4.5.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	dir, err := os.MkdirTemp(o.workDirRoot, "run-"+uuid.New().String()+"-")
	if err != nil {
		return Result{}, fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	sourcePath := filepath.Join(dir, req.Recipe.SourceFilename)
	if err := os.WriteFile(sourcePath, []byte(req.SourceCode), 0644); err != nil {
		return Result{}, fmt.Errorf("writing source file: %w", err)
	}

	if req.AdditionalFiles != "" {
		if err := extractArchive(req.AdditionalFiles, dir); err != nil {
			return Result{}, err
		}
	}

	var stdinFile string
	if req.Stdin != "" {
		stdinFile = filepath.Join(dir, "input.txt")
		if err := os.WriteFile(stdinFile, []byte(req.Stdin), 0644); err != nil {
			return Result{}, fmt.Errorf("writing stdin file: %w", err)
		}
	}

	var compileOutput string
	if len(req.Recipe.CompileArgv) > 0 {
		compileRes, err := o.runner.Run(ctx, procrunner.Request{
			Argv:                   req.Recipe.CompileArgv,
			Dir:                    dir,
			Limits:                 req.Limits,
			RedirectStderrToStdout: true,
		})
		if err != nil {
			return Result{}, fmt.Errorf("running compile step: %w", err)
		}
		compileOutput = string(compileRes.Stdout)
		if compileRes.ExitCode != 0 {
			return Result{
				Status:        StatusCompilationError,
				CompileOutput: compileOutput,
				ExitCode:      compileRes.ExitCode,
				ExecutionTime: compileRes.ExecutionTime,
			}, nil
		}
	}

	runRes, err := o.runner.Run(ctx, procrunner.Request{
		Argv:                   req.Recipe.RunArgv,
		Dir:                    dir,
		Limits:                 req.Limits,
		StdinFile:              stdinFile,
		RedirectStderrToStdout: req.Options.RedirectStderrToStdout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("running program: %w", err)
	}

	res := Result{
		CompileOutput: compileOutput,
		Stdout:        string(runRes.Stdout),
		Stderr:        string(runRes.Stderr),
		ExitCode:      runRes.ExitCode,
		ExecutionTime: runRes.ExecutionTime,
		MemoryUsage:   runRes.MemoryUsage,
		Signal:        runRes.Signal,
	}
	res.Status = classify(runRes, req.Limits)
	return res, nil
}

func classify(r procrunner.Result, l limits.ResourceLimits) Status {
	switch {
	case r.TimedOut:
		return StatusTimeLimitExceeded
	case isOOMSignal(r, l):
		return StatusMemoryLimitExceeded
	case r.ExitCode == 0:
		return StatusCompleted
	default:
		return StatusRuntimeError
	}
}

// isOOMSignal applies the heuristic from spec.md §4.5: a memory cap hit is
// "evidenced by runner or signal semantics" rather than a distinct rlimit
// errno, since address-space exhaustion under RLIMIT_AS surfaces as SIGSEGV
// or SIGKILL (OOM-killer) rather than a clean syscall failure.
func isOOMSignal(r procrunner.Result, l limits.ResourceLimits) bool {
	if l.Memory == 0 {
		return false
	}
	return r.Signal == "segmentation fault" || r.Signal == "killed"
}

// extractArchive base64-decodes and extracts additionalFiles into dir,
// rejecting path traversal and absolute-path entries, and skipping directory
// entries (spec.md §4.5 step 3). Uses the standard library's archive/zip:
// no third-party archive reader in the example pack offers a safer or more
// idiomatic extraction primitive for this.
func extractArchive(additionalFiles, dir string) error {
	raw, err := base64.StdEncoding.DecodeString(additionalFiles)
	if err != nil {
		return &BadArchiveError{Reason: "invalid base64: " + err.Error()}
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return &BadArchiveError{Reason: "invalid zip: " + err.Error()}
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.FileInfo().Mode()&os.ModeSymlink != 0 {
			return &BadArchiveError{Reason: "symlink entry refused: " + f.Name}
		}
		if filepath.IsAbs(f.Name) || strings.Contains(f.Name, "..") {
			return &BadArchiveError{Reason: "path traversal entry: " + f.Name}
		}
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return &BadArchiveError{Reason: "entry escapes work dir: " + f.Name}
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("creating parent dir for %v: %w", f.Name, err)
		}
		if err := extractEntry(f, target); err != nil {
			return &BadArchiveError{Reason: err.Error()}
		}
	}
	return nil
}

func extractEntry(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening entry %v: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %v: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("writing %v: %w", target, err)
	}
	return nil
}
