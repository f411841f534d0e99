//go:build unix

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/cretz/teleworker/internal/limits"
	"golang.org/x/sys/unix"
)

// RlimitApplier wraps a run's argv in a re-exec of this same binary with the
// hidden ChildExecArg subcommand, which calls ChildMain (below) to install
// rlimits before exec'ing into the real program.
type RlimitApplier struct{}

// NewRlimitApplier returns the unix setrlimit-backed Applier.
func NewRlimitApplier() *RlimitApplier { return &RlimitApplier{} }

func (r *RlimitApplier) Wrap(argv []string, l limits.ResourceLimits) ([]string, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving self executable: %w", err)
	}
	payload, err := encodeChildArgs(l, argv)
	if err != nil {
		return nil, err
	}
	return []string{self, ChildExecArg, payload}, nil
}

// ChildMain is the entrypoint invoked, in the re-exec'd child, with the JSON
// payload produced by RlimitApplier.Wrap. It installs the rlimits from
// spec.md §4.3 (CPU, address space, stack, file size, process count, and
// zeroing the core dump limit) and then replaces the current process image
// with the real program via execve, so no extra process layer remains.
func ChildMain(payload string) error {
	c, err := decodeChildArgs(payload)
	if err != nil {
		return err
	}
	if err := applyRlimits(c.Limits); err != nil {
		return fmt.Errorf("applying resource limits: %w", err)
	}
	bin, err := exec.LookPath(c.Argv[0])
	if err != nil {
		return fmt.Errorf("resolving %v: %w", c.Argv[0], err)
	}
	return syscall.Exec(bin, c.Argv, os.Environ())
}

func applyRlimits(l limits.ResourceLimits) error {
	totalCPU := uint64(l.CPUTime.Seconds() + l.CPUExtraTime.Seconds())
	if totalCPU == 0 {
		totalCPU = 1
	}
	sets := []struct {
		resource int
		cur, max uint64
	}{
		{unix.RLIMIT_CPU, totalCPU, totalCPU},
		{unix.RLIMIT_AS, l.Memory, l.Memory},
		{unix.RLIMIT_STACK, l.Stack, l.Stack},
		{unix.RLIMIT_FSIZE, l.FileSize, l.FileSize},
		{unix.RLIMIT_NPROC, uint64(l.Processes), uint64(l.Processes)},
		{unix.RLIMIT_CORE, 0, 0},
	}
	for _, s := range sets {
		rlim := unix.Rlimit{Cur: s.cur, Max: s.max}
		if err := unix.Setrlimit(s.resource, &rlim); err != nil {
			return fmt.Errorf("setrlimit(%v): %w", s.resource, err)
		}
	}
	return nil
}
