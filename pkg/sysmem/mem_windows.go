//go:build windows

package sysmem

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func totalSystemMemory() (uint64, Source, bool) {
	var st windows.MemoryStatusEx
	st.Length = uint32(unsafe.Sizeof(st))
	if err := windows.GlobalMemoryStatusEx(&st); err != nil {
		return 0, SourceFallback, false
	}
	return st.TotalPhys, SourceGlobalMemoryStatus, true
}
