//go:build !unix

package log

import (
	"log/slog"
	"os"
)

func GetOSInfo() []any {
	attrs := runtimeInfo()
	if v, ok := os.LookupEnv("OS"); ok {
		attrs = append(attrs, slog.String("os", v))
	}
	return attrs
}
