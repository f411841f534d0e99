package dockerrunner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyImage(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestInt64PtrNilForNonPositive(t *testing.T) {
	require.Nil(t, int64Ptr(0))
	require.Nil(t, int64Ptr(-1))
	got := int64Ptr(5)
	require.NotNil(t, got)
	require.Equal(t, int64(5), *got)
}
