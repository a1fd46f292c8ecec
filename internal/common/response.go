package common

import (
	"log/slog"

	"github.com/sunbk201/uricheck/internal/status"
)

// Response pairs a request with its terminal status.
type Response struct {
	Request CheckRequest
	Status  status.Status
}

func (r Response) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("uri", r.Request.URI.String()),
		slog.String("source", r.Request.Source.String()),
		slog.Any("status", r.Status),
	)
}
