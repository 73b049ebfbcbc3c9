package nidonet

import (
	"fmt"
	"net"
)

// FindAvailablePort scans [start, end] for a free TCP port on localhost,
// skipping ports already promised to another VM.
func FindAvailablePort(start, end int, reserved map[int]bool) (int, error) {
	for port := start; port <= end; port++ {
		if reserved[port] {
			continue
		}
		if IsPortAvailable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available ports in range %d-%d", start, end)
}

// IsPortAvailable checks if a TCP port can be bound on localhost.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
