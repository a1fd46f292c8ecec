package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sunbk201/uricheck/internal/status"
)

const (
	DefaultMaxRetries = 2
	DefaultWait       = time.Second
	DefaultMaxWait    = 30 * time.Second
)

// DefaultTransient is the set of transport errors retried by default.
var DefaultTransient = []error{
	context.DeadlineExceeded,
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	io.ErrUnexpectedEOF,
	io.EOF,
}

var errRetryable = errors.New("retryable outcome")

// Attempt performs one network attempt. RetryAfter, when positive, is the
// server supplied delay for a 429.
type Attempt func(ctx context.Context) (status.Outcome, time.Duration)

// Policy retries an attempt on transient outcomes: HTTP 429 and the
// transport errors in Transient. The budget belongs to a single request.
type Policy struct {
	MaxRetries  int
	Wait        time.Duration
	MaxWait     time.Duration
	Exponential bool
	// Transient lists the errors, matched with errors.Is, worth another
	// attempt. Network timeouts always are. Nil selects DefaultTransient.
	Transient []error

	// notify observes every wait; tests use it.
	notify func(time.Duration)
}

func New(maxRetries int, wait, maxWait time.Duration) Policy {
	return Policy{
		MaxRetries:  maxRetries,
		Wait:        wait,
		MaxWait:     maxWait,
		Exponential: true,
	}
}

func Default() Policy {
	return New(DefaultMaxRetries, DefaultWait, DefaultMaxWait)
}

// Do runs attempt until it yields a non-retryable outcome or the budget is
// spent. It returns the last outcome and the number of attempts made.
func (p Policy) Do(ctx context.Context, attempt Attempt) (status.Outcome, int) {
	attempts := 0
	op := func() (status.Outcome, error) {
		outcome, retryAfter := attempt(ctx)
		attempts++
		if !p.Retryable(outcome) {
			return outcome, nil
		}
		if retryAfter > 0 {
			return outcome, &backoff.RetryAfterError{Duration: min(retryAfter, p.maxWait())}
		}
		return outcome, errRetryable
	}

	// The error only says why retrying stopped; the outcome carries the result.
	outcome, _ := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.MaxRetries, 0))+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Debug("Retrying request",
				slog.Int("attempt", attempts),
				slog.Any("reason", err),
				slog.Duration("backoff", wait))
			if p.notify != nil {
				p.notify(wait)
			}
		}),
	)
	return outcome, attempts
}

func (p Policy) backOff() backoff.BackOff {
	if !p.Exponential {
		return backoff.NewConstantBackOff(min(p.Wait, p.maxWait()))
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.Wait,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.maxWait(),
	}
}

func (p Policy) maxWait() time.Duration {
	if p.MaxWait <= 0 {
		return DefaultMaxWait
	}
	return p.MaxWait
}

// Retryable reports whether an outcome is worth another attempt.
func (p Policy) Retryable(o status.Outcome) bool {
	if o.Err == nil {
		return o.Code == http.StatusTooManyRequests
	}
	transient := p.Transient
	if transient == nil {
		transient = DefaultTransient
	}
	return isTransient(o.Err, transient)
}

// IsTransient reports whether err is one of DefaultTransient or a network
// timeout.
func IsTransient(err error) bool {
	return isTransient(err, DefaultTransient)
}

func isTransient(err error, transient []error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, target := range transient {
		if errors.Is(err, target) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "i/o timeout") ||
		(containsErr(transient, syscall.ECONNRESET) && strings.Contains(msg, "connection reset by peer"))
}

func containsErr(errs []error, target error) bool {
	for _, e := range errs {
		if errors.Is(e, target) {
			return true
		}
	}
	return false
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
