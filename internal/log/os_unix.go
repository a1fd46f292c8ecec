//go:build unix

package log

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// GetOSInfo describes the running host for the startup debug line.
func GetOSInfo() []any {
	attrs := runtimeInfo()
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return attrs
	}
	return append(attrs,
		slog.String("sysname", unix.ByteSliceToString(uname.Sysname[:])),
		slog.String("release", unix.ByteSliceToString(uname.Release[:])),
		slog.String("machine", unix.ByteSliceToString(uname.Machine[:])),
	)
}
