package sysutil

import (
	"encoding/binary"
	"syscall"
)

func totalSystemMemoryMB() int {
	out, err := syscall.Sysctl("hw.memsize")
	if err != nil {
		return 0
	}

	// Sysctl trims trailing NULs, so the value may come back short.
	b := []byte(out)
	for len(b) < 8 {
		b = append(b, 0)
	}
	return int(binary.LittleEndian.Uint64(b[:8]) / 1024 / 1024)
}
