package checker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/dedup"
)

// Run checks every request received from in and sends one Response per
// admitted request. Cancelling ctx stops admission; requests already admitted
// run to completion with a context detached from ctx. The returned channel is
// closed once all admitted requests are answered.
func (c *Checker) Run(ctx context.Context, in <-chan common.CheckRequest) <-chan common.Response {
	out := make(chan common.Response)
	ctrl := c.opts.Controller
	work := context.WithoutCancel(ctx)

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(out)
		}()

		for {
			select {
			case <-ctx.Done():
				ctrl.Cancel()
				return
			case <-ctrl.Canceled():
				return
			case req, ok := <-in:
				if !ok {
					return
				}
				if err := ctrl.Admit(); err != nil {
					if !errors.Is(err, dedup.ErrCanceled) {
						slog.Error("Admit", slog.Any("error", err))
					}
					return
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer ctrl.Done()
					out <- c.Check(work, req)
				}()
			}
		}
	}()
	return out
}
