package lro

import "context"

// Result is the terminal outcome of an asynchronously driven session.
type Result struct {
	Resource any
	Err      error
}

// Start runs the polling loop on its own goroutine and delivers the
// terminal outcome on the returned channel, which is closed after the
// single send. The session is still single-owner: the caller must not
// touch the poller again until the channel yields.
//
// Cancellation of ctx interrupts the wait between polls when the
// poller was built with NewAsyncPoller; a blocking-mode poller
// finishes its current sleep first.
func (p *Poller) Start(ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		resource, err := p.PollUntilDone(ctx)
		ch <- Result{Resource: resource, Err: err}
	}()
	return ch
}
