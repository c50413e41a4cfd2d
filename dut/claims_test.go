package dut

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaims(t *testing.T) {
	c := NewClaims()
	require.NoError(t, c.Claim("/dev/ttyUSB1", 0))
	require.NoError(t, c.Claim("/dev/ttyUSB0", 1))
	require.NoError(t, c.Claim("/dev/ttyUSB0", 1), "re-claim by the owner")
	require.ErrorContains(t, c.Claim("/dev/ttyUSB0", 2), "already used by dut-1")
	require.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, c.Held())

	c.Release("/dev/ttyUSB0")
	require.NoError(t, c.Claim("/dev/ttyUSB0", 2))
}
