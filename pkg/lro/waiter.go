package lro

import (
	"context"
	"net/http"
	"time"

	"github.com/bacalhau-project/armpoller/pkg/transport"
)

// Waiter is the suspension capability the polling state machine runs
// on. The machine is written once against this interface; the two
// instantiations below give it blocking and cooperative behavior
// without duplicating any decision logic.
type Waiter interface {
	Sleep(ctx context.Context, d time.Duration) error
	Send(ctx context.Context, req *http.Request) (*http.Response, error)
}

// BlockingWaiter parks the calling goroutine for the full duration.
// It does not observe context cancellation mid-sleep.
type BlockingWaiter struct {
	Sender transport.Senderer
}

func (w *BlockingWaiter) Sleep(_ context.Context, d time.Duration) error {
	time.Sleep(d)
	return nil
}

func (w *BlockingWaiter) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return w.Sender.Send(ctx, req)
}

// SuspendingWaiter yields between polls: its sleep is a select on the
// timer and the context, so cancellation interrupts the wait and other
// work can proceed while it is parked.
type SuspendingWaiter struct {
	Sender transport.Senderer
}

func (w *SuspendingWaiter) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *SuspendingWaiter) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return w.Sender.Send(ctx, req)
}
