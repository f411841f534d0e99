//go:build !unix

package sandbox

import (
	"fmt"
	"log"

	"github.com/cretz/teleworker/internal/limits"
)

// NoopApplier is used on platforms without setrlimit. Per spec.md §4.3, it is
// a no-op that logs a warning; wall-time enforcement (procrunner) still
// applies regardless.
type NoopApplier struct{ warned bool }

// NewRlimitApplier returns the no-op applier on non-unix platforms.
func NewRlimitApplier() *NoopApplier { return &NoopApplier{} }

func (n *NoopApplier) Wrap(argv []string, _ limits.ResourceLimits) ([]string, error) {
	if !n.warned {
		log.Printf("sandbox: setrlimit is not supported on this platform; resource limits other than wall-time will not be enforced")
		n.warned = true
	}
	return argv, nil
}

// ChildMain is unreachable on non-unix builds, no re-exec wrapper is ever
// produced by NoopApplier.
func ChildMain(string) error {
	return fmt.Errorf("sandbox: limited child execution only supported on unix")
}
