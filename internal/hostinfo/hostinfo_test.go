package hostinfo

import "testing"

// Read must never panic regardless of platform/environment, since stats()
// callers treat host info as best-effort.
func TestReadNeverPanics(t *testing.T) {
	_ = Read()
}

func TestParseMemInfoLineKB(t *testing.T) {
	if got := parseMemInfoLineKB("MemTotal:       16374616 kB"); got != 16374616*1024 {
		t.Fatalf("got %d", got)
	}
	if got := parseMemInfoLineKB("garbage"); got != 0 {
		t.Fatalf("expected 0 for malformed line, got %d", got)
	}
}
