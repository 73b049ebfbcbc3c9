package sysutil

// MaxDefaultMemory caps the guest memory chosen when none is configured.
const MaxDefaultMemory = 2048

// DefaultMemory is min(2048MB, 50% of system RAM). If the host memory cannot
// be read it returns MaxDefaultMemory.
func DefaultMemory() int {
	return defaultMemory(totalSystemMemoryMB())
}

func defaultMemory(totalMB int) int {
	if totalMB <= 0 {
		return MaxDefaultMemory
	}
	half := totalMB / 2
	if half < MaxDefaultMemory {
		return half
	}
	return MaxDefaultMemory
}
