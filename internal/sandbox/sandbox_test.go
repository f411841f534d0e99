package sandbox

import (
	"testing"
	"time"

	"github.com/cretz/teleworker/internal/limits"
	"github.com/stretchr/testify/require"
)

func TestChildArgsRoundTrip(t *testing.T) {
	l := limits.ResourceLimits{CPUTime: 5 * time.Second, Memory: 1024, Processes: 1}
	payload, err := encodeChildArgs(l, []string{"python3", "main.py"})
	require.NoError(t, err)

	decoded, err := decodeChildArgs(payload)
	require.NoError(t, err)
	require.Equal(t, l, decoded.Limits)
	require.Equal(t, []string{"python3", "main.py"}, decoded.Argv)
}

func TestDecodeChildArgsRejectsEmptyArgv(t *testing.T) {
	payload, err := encodeChildArgs(limits.ResourceLimits{}, nil)
	require.NoError(t, err)
	_, err = decodeChildArgs(payload)
	require.Error(t, err)
}
