package status

import (
	"log/slog"
)

// Outcome is the raw result of one network attempt. Err is set when no HTTP
// response was obtained.
type Outcome struct {
	Code        int
	Err         error
	ContentType string
	Body        []byte
}

// Classifier maps an Outcome to a Status. It holds no mutable state.
type Classifier struct {
	accept CodeSet
	reject CodeSet
}

// NewClassifier returns a classifier. An empty accept set selects
// DefaultAccept; a non-empty one replaces it entirely.
func NewClassifier(accept, reject CodeSet) Classifier {
	if accept.IsEmpty() {
		accept = DefaultAccept()
	}
	return Classifier{accept: accept, reject: reject}
}

func (c Classifier) Classify(o Outcome) Status {
	if o.Err != nil {
		return Error(TransportFailure, 0, o.Err.Error())
	}
	return c.ClassifyCode(o.Code)
}

// ClassifyCode classifies a bare status code, e.g. one loaded from the cache.
func (c Classifier) ClassifyCode(code int) Status {
	if code < 100 || code > 599 {
		return Unknown(code)
	}
	if c.reject.Contains(code) {
		return Error(RejectedStatusCode, code, "")
	}
	if c.accept.Contains(code) {
		return Ok(code)
	}
	return Error(RejectedStatusCode, code, "")
}

func (c Classifier) Accept() CodeSet { return c.accept }
func (c Classifier) Reject() CodeSet { return c.reject }

func (c Classifier) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("accept", c.accept.String()),
		slog.String("reject", c.reject.String()),
	)
}
