package nidonet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAvailablePort_SkipsReservedAndBound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	assert.False(t, IsPortAvailable(busy))

	_, err = FindAvailablePort(busy, busy, nil)
	assert.Error(t, err)

	port, err := FindAvailablePort(busy-10, busy, map[int]bool{busy - 10: true})
	require.NoError(t, err)
	assert.NotEqual(t, busy, port)
	assert.NotEqual(t, busy-10, port)
}
