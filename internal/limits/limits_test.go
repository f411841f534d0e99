package limits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeriveDefaults(t *testing.T) {
	rl, ro := Derive(RequestLimits{}, RequestOptions{})
	require.Equal(t, DefaultCPUTime, rl.CPUTime)
	require.Equal(t, DefaultWallTime, rl.WallTime)
	require.Equal(t, uint64(DefaultMemory), rl.Memory)
	require.Equal(t, 1, ro.NumberOfRuns)
	require.True(t, ro.StopOnFirstFailure)
	require.False(t, ro.RedirectStderrToStdout)
}

func TestDeriveRaisesWallTimeBelowCPUTime(t *testing.T) {
	cpu := 8 * time.Second
	wall := 2 * time.Second
	rl, _ := Derive(RequestLimits{CPUTime: &cpu, WallTime: &wall}, RequestOptions{})
	require.Equal(t, cpu+DefaultCPUExtraTime+time.Second, rl.WallTime)
}

func TestDeriveKeepsWallTimeWhenAlreadyValid(t *testing.T) {
	cpu := 2 * time.Second
	wall := 20 * time.Second
	rl, _ := Derive(RequestLimits{CPUTime: &cpu, WallTime: &wall}, RequestOptions{})
	require.Equal(t, wall, rl.WallTime)
}

func TestDeriveZeroOrNegativeRunsClampedToOne(t *testing.T) {
	n := 0
	_, ro := Derive(RequestLimits{}, RequestOptions{NumberOfRuns: &n})
	require.Equal(t, 1, ro.NumberOfRuns)

	neg := -3
	_, ro = Derive(RequestLimits{}, RequestOptions{NumberOfRuns: &neg})
	require.Equal(t, 1, ro.NumberOfRuns)
}
