package sysutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMemory(t *testing.T) {
	tests := []struct {
		totalMB int
		want    int
	}{
		{0, MaxDefaultMemory},
		{-1, MaxDefaultMemory},
		{2048, 1024},
		{4096, 2048},
		{65536, 2048},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultMemory(tt.totalMB), "total %d MB", tt.totalMB)
	}
	got := DefaultMemory()
	assert.Greater(t, got, 0)
	assert.LessOrEqual(t, got, MaxDefaultMemory)
}
