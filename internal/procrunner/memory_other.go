//go:build !unix

package procrunner

import "os/exec"

func bestEffortMemory(cmd *exec.Cmd) uint64 { return 0 }

func signalName(exitErr *exec.ExitError) string { return "" }
