//go:build linux

package sysmem

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// cgroupLimitFiles hold the container memory limit under cgroup v2 and v1.
var cgroupLimitFiles = []string{
	"/sys/fs/cgroup/memory.max",
	"/sys/fs/cgroup/memory/memory.limit_in_bytes",
}

// totalSystemMemory returns physical RAM from sysinfo, lowered to the
// cgroup limit when the process runs in a memory-limited container.
func totalSystemMemory() (uint64, Source, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, SourceFallback, false
	}
	total := info.Totalram * uint64(info.Unit)

	for _, path := range cgroupLimitFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if limit, ok := parseCgroupLimit(string(data)); ok && limit < total {
			return limit, SourceCgroup, true
		}
		break
	}
	return total, SourceSysinfo, true
}

// parseCgroupLimit parses a cgroup memory limit. "max" and v1's
// near-MaxInt64 sentinel mean no limit.
func parseCgroupLimit(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "max" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 || v >= 1<<62 {
		return 0, false
	}
	return v, true
}
