// Package limits implements the resource policy (spec.md §4.2): a pure
// function from a request's optional limit/option fields to fully-populated
// ResourceLimits and ExecutionOptions values, so downstream code never has to
// re-reason about defaults.
package limits

import "time"

// Defaults per spec.md §3.
const (
	DefaultCPUTime      = 5 * time.Second
	DefaultCPUExtraTime = 500 * time.Millisecond
	DefaultWallTime     = 10 * time.Second
	DefaultMemory       = 256 * 1024 * 1024 // 256 MiB
	DefaultStack        = 64 * 1024 * 1024  // 64 MiB
	DefaultFileSize     = 1024 * 1024       // 1 MiB
	DefaultProcesses    = 1
)

// ResourceLimits are the fully-derived limits for one run, per spec.md §3.
type ResourceLimits struct {
	CPUTime      time.Duration
	CPUExtraTime time.Duration
	WallTime     time.Duration
	Memory       uint64
	Stack        uint64
	FileSize     uint64
	Processes    int
}

// ExecutionOptions are the fully-derived options for one submission.
type ExecutionOptions struct {
	RedirectStderrToStdout bool
	EnableNetwork          bool
	NumberOfRuns           int
	StopOnFirstFailure     bool
}

// RequestLimits mirrors the optional limit fields an ExecutionRequest may
// carry. Defined here (rather than imported from a request package) to keep
// this derivation pure and independently testable; engine wires the two
// together.
type RequestLimits struct {
	CPUTime      *time.Duration
	CPUExtraTime *time.Duration
	Memory       *uint64
	WallTime     *time.Duration
	Stack        *uint64
	FileSize     *uint64
	Processes    *int
}

// RequestOptions mirrors the optional option fields an ExecutionRequest may
// carry.
type RequestOptions struct {
	RedirectStderrToStdout *bool
	NumberOfRuns           *int
	EnableNetwork          *bool
}

// Derive applies defaults and the wall/CPU invariant from spec.md §3:
// "wall_time >= cpu_time; if violated, wall is raised to
// cpu_time + cpu_extra_time + 1s". stop_on_first_failure defaults to true and
// has no corresponding request field (spec.md §3 lists it as derived-only).
func Derive(rl RequestLimits, ro RequestOptions) (ResourceLimits, ExecutionOptions) {
	out := ResourceLimits{
		CPUTime:      valueOr(rl.CPUTime, DefaultCPUTime),
		CPUExtraTime: valueOr(rl.CPUExtraTime, DefaultCPUExtraTime),
		WallTime:     valueOr(rl.WallTime, DefaultWallTime),
		Memory:       valueOrU64(rl.Memory, DefaultMemory),
		Stack:        valueOrU64(rl.Stack, DefaultStack),
		FileSize:     valueOrU64(rl.FileSize, DefaultFileSize),
		Processes:    valueOrInt(rl.Processes, DefaultProcesses),
	}
	if out.WallTime < out.CPUTime {
		out.WallTime = out.CPUTime + out.CPUExtraTime + time.Second
	}
	opts := ExecutionOptions{
		RedirectStderrToStdout: ro.RedirectStderrToStdout != nil && *ro.RedirectStderrToStdout,
		EnableNetwork:          ro.EnableNetwork != nil && *ro.EnableNetwork,
		NumberOfRuns:           valueOrInt(ro.NumberOfRuns, 1),
		StopOnFirstFailure:     true,
	}
	if opts.NumberOfRuns < 1 {
		opts.NumberOfRuns = 1
	}
	return out, opts
}

func valueOr(v *time.Duration, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return *v
}

func valueOrU64(v *uint64, def uint64) uint64 {
	if v == nil {
		return def
	}
	return *v
}

func valueOrInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
