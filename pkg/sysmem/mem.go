// Package sysmem detects the memory available to the process so that the
// raster block cache can be sized against the machine or container it runs
// in. Unsupported platforms fall back to DefaultMemoryBytes.
package sysmem

// DefaultMemoryBytes is the fallback memory value (4 GB) used when
// platform-specific detection fails or is unsupported.
const DefaultMemoryBytes uint64 = 4 * 1024 * 1024 * 1024

// Source names where a memory figure came from.
type Source string

const (
	SourceSysinfo            Source = "sysinfo"
	SourceCgroup             Source = "cgroup"
	SourceSysctl             Source = "sysctl"
	SourceGlobalMemoryStatus Source = "GlobalMemoryStatusEx"
	SourceFallback           Source = "fallback"
)

// Result holds the result of memory detection.
type Result struct {
	// TotalBytes is the memory available to the process, in bytes. On Linux
	// this is the container limit when one is lower than physical RAM.
	TotalBytes uint64
	Source     Source
	// Reliable is false when TotalBytes is DefaultMemoryBytes.
	Reliable bool
}

// Total returns the memory available to the process, or DefaultMemoryBytes
// with Reliable=false when detection fails.
func Total() Result {
	bytes, src, ok := totalSystemMemory()
	if !ok || bytes == 0 {
		return Result{TotalBytes: DefaultMemoryBytes, Source: SourceFallback}
	}
	return Result{TotalBytes: bytes, Source: src, Reliable: true}
}

// TotalBytes is a convenience function that returns just the memory value.
// Use Total() if you need to know whether the value is reliable.
func TotalBytes() uint64 {
	return Total().TotalBytes
}

// Budget returns fraction of total system memory, in bytes. Fractions
// outside (0, 1] are clamped to that range.
func Budget(fraction float64) uint64 {
	switch {
	case fraction <= 0:
		return 0
	case fraction > 1:
		fraction = 1
	}
	return uint64(float64(TotalBytes()) * fraction)
}
