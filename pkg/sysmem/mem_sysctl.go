//go:build darwin || freebsd || openbsd || netbsd || dragonfly

package sysmem

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// sysctlKeys lists, per OS, the sysctl names holding physical memory in
// bytes, in the order they are tried.
var sysctlKeys = map[string][]string{
	"darwin": {"hw.memsize"},
}

var bsdKeys = []string{"hw.physmem", "hw.realmem"}

func totalSystemMemory() (uint64, Source, bool) {
	keys, ok := sysctlKeys[runtime.GOOS]
	if !ok {
		keys = bsdKeys
	}
	for _, k := range keys {
		if mem, err := unix.SysctlUint64(k); err == nil && mem > 0 {
			return mem, SourceSysctl, true
		}
	}
	return 0, SourceFallback, false
}
