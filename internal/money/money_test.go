package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	require.True(t, Valid("USD"))
	require.True(t, Valid("IDR"))
	require.False(t, Valid("NOPE"))
	require.False(t, Valid(""))
}

func TestFormat(t *testing.T) {
	require.Equal(t, "USD 1234.50", Format("USD", 123450))
	require.Equal(t, "USD -0.01", Format("USD", -1))
}

func TestAbs(t *testing.T) {
	require.Equal(t, int64(5), Abs(-5))
	require.Equal(t, int64(5), Abs(5))
	require.Equal(t, int64(0), Abs(0))
}
