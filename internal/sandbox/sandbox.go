// Package sandbox implements the sandbox applier (spec.md §4.3): the
// designated extension point that installs OS-level resource caps on a
// child-process spec before exec. Chroot/namespaces/seccomp/job objects are
// all valid future backends through this same interface; none is mandated.
//
// The rlimit backend uses the same trick the teacher's cgroup-based
// limitedRunner uses (worker/runner_linux.go): it re-execs the worker binary
// itself as a hidden "__exec_child" subcommand, which applies the limits and
// then execve's into the real program. Go's os/exec has no equivalent of a
// pre-fork/pre-exec hook that is safe to use with setrlimit directly (unlike
// Rust's Command::pre_exec), so the re-exec indirection is the idiomatic Go
// way to get code running between fork and exec.
package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/cretz/teleworker/internal/limits"
)

// ChildExecArg is the hidden first argument the rlimit backend re-execs
// itself with; cmd.Execute intercepts it before cobra parses argv.
const ChildExecArg = "__exec_child"

// Applier installs resource limits on the argv that is about to be executed.
type Applier interface {
	// Wrap returns the argv that should actually be spawned in place of argv,
	// with sandboxing applied. It may return argv unchanged if this applier is
	// a no-op on the current platform (spec.md §4.3: "on platforms without
	// setrlimit, the applier is a no-op and logs a warning").
	Wrap(argv []string, l limits.ResourceLimits) ([]string, error)
}

// childArgs is the JSON payload passed as the first argument after
// ChildExecArg: the limits to apply and the real argv to exec into.
type childArgs struct {
	Limits limits.ResourceLimits `json:"limits"`
	Argv   []string              `json:"argv"`
}

func encodeChildArgs(l limits.ResourceLimits, argv []string) (string, error) {
	b, err := json.Marshal(childArgs{Limits: l, Argv: argv})
	if err != nil {
		return "", fmt.Errorf("encoding child exec args: %w", err)
	}
	return string(b), nil
}

func decodeChildArgs(s string) (childArgs, error) {
	var c childArgs
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return childArgs{}, fmt.Errorf("decoding child exec args: %w", err)
	}
	if len(c.Argv) == 0 {
		return childArgs{}, fmt.Errorf("empty argv in child exec args")
	}
	return c, nil
}
