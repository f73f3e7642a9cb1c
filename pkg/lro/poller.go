package lro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bacalhau-project/armpoller/pkg/logger"
	"github.com/bacalhau-project/armpoller/pkg/transport"
)

// PollerState is the driver-level state, distinct from the operation
// status the service reports.
type PollerState int

const (
	StateNotStarted PollerState = iota
	StatePolling
	StateSucceeded
	StateFailed
)

func (s PollerState) String() string {
	return [...]string{"Not Started", "Polling", "Succeeded", "Failed"}[s]
}

// Poller drives one long-running operation to completion. It owns a
// Tracker for the life of the session and is not safe for concurrent
// use.
type Poller struct {
	tracker *Tracker
	waiter  Waiter
	opts    Options

	state           PollerState
	clientRequestID string
	lastResponse    *http.Response
	boff            backoff.BackOff
	initErr         error

	result  any
	doneErr error
}

// NewPoller builds a blocking-mode poller from the response that
// created the operation. The creation response is interpreted
// immediately; a setup-time failure leaves the poller in the Failed
// state and is returned wrapped as a *CloudError.
func NewPoller(
	initial *http.Response,
	deserialize Deserializer,
	sender transport.Senderer,
	opts Options,
) (*Poller, error) {
	return newPoller(initial, deserialize, &BlockingWaiter{Sender: sender}, opts)
}

// NewAsyncPoller is NewPoller with a cooperative waiter: sleeps are
// suspension points that observe context cancellation, and Start can
// run the session on its own goroutine.
func NewAsyncPoller(
	initial *http.Response,
	deserialize Deserializer,
	sender transport.Senderer,
	opts Options,
) (*Poller, error) {
	return newPoller(initial, deserialize, &SuspendingWaiter{Sender: sender}, opts)
}

func newPoller(
	initial *http.Response,
	deserialize Deserializer,
	waiter Waiter,
	opts Options,
) (*Poller, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := &Poller{
		tracker: NewTracker(initial, deserialize, opts),
		waiter:  waiter,
		opts:    opts,
		state:   StateNotStarted,
		boff:    opts.Backoff,
	}
	if initial != nil && initial.Request != nil {
		p.clientRequestID = initial.Request.Header.Get(headerClientRequestID)
	}
	if err := p.initialize(); err != nil {
		return p, err
	}
	return p, nil
}

// initialize feeds the creation response to the tracker. Tracker-level
// failures here are setup-time failures: the poller is marked Failed
// and the triggering response travels with the error.
func (p *Poller) initialize() error {
	err := p.tracker.SetInitialStatus()
	if err == nil {
		return nil
	}
	var badStatus *BadStatusError
	var badResponse *BadResponseError
	var opFailed *OperationFailedError
	if errors.As(err, &badStatus) || errors.As(err, &badResponse) || errors.As(err, &opFailed) {
		p.state = StateFailed
		p.initErr = &CloudError{
			Phase:    PhaseInitialization,
			Response: p.tracker.InitialResponse(),
			Err:      err,
		}
		return p.initErr
	}
	return err
}

// Poll issues a single status request and folds the response into the
// tracker. It does not sleep. Transport errors propagate as-is;
// tracker errors come back wrapped as a poll-time *CloudError.
func (p *Poller) Poll(ctx context.Context) (*http.Response, error) {
	link, err := p.tracker.StatusLink()
	if err != nil {
		return nil, &CloudError{Phase: PhasePolling, Response: p.triggerResponse(), Err: err}
	}
	resp, err := p.get(ctx, link)
	if err != nil {
		return nil, err
	}
	p.lastResponse = resp
	if err := p.tracker.UpdateStatus(resp); err != nil {
		return resp, &CloudError{Phase: PhasePolling, Response: resp, Err: err}
	}
	return resp, nil
}

// get issues a GET carrying the original request's
// x-ms-client-request-id so the service can correlate the poll with
// the operation it belongs to.
func (p *Poller) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if p.clientRequestID != "" {
		req.Header.Set(headerClientRequestID, p.clientRequestID)
	}
	return p.waiter.Send(ctx, req)
}

// triggerResponse is the response to attach to a CloudError: the last
// polling response, or the creation response when polling never ran.
func (p *Poller) triggerResponse() *http.Response {
	if p.lastResponse != nil {
		return p.lastResponse
	}
	return p.tracker.InitialResponse()
}

// delay is the sleep before the next poll. A Retry-After header
// overrides the backoff policy for that step and resets it; otherwise
// the policy decides, falling back to the configured interval when
// the policy is exhausted.
func (p *Poller) delay() time.Duration {
	if resp := p.triggerResponse(); resp != nil {
		if ra := resp.Header.Get(headerRetryAfter); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
				p.boff.Reset()
				return time.Duration(secs) * time.Second
			}
		}
	}
	if d := p.boff.NextBackOff(); d != backoff.Stop {
		return d
	}
	return p.opts.Interval
}

// PollUntilDone runs the polling loop to a terminal status, then
// issues the final GET when the verb demands one, and returns the
// authoritative resource (nil when the operation yields none).
func (p *Poller) PollUntilDone(ctx context.Context) (any, error) {
	log := logger.FromContext(ctx)
	if p.initErr != nil {
		return nil, p.initErr
	}
	if p.state == StateSucceeded || p.state == StateFailed {
		return p.result, p.doneErr
	}

	p.state = StatePolling
	for !p.tracker.Status().Terminal() {
		if err := p.waiter.Sleep(ctx, p.delay()); err != nil {
			return nil, err
		}
		if _, err := p.Poll(ctx); err != nil {
			return nil, p.fail(err)
		}
	}

	if status := p.tracker.Status(); status.DidFail() {
		log.Warnf("operation %s %s finished with status %s",
			p.tracker.Method(), p.tracker.OriginalURL(), status)
		return nil, p.fail(&CloudError{
			Phase:    PhasePolling,
			Response: p.triggerResponse(),
			Err:      &OperationFailedError{Status: status},
		})
	}

	if p.tracker.ShouldDoFinalGet() {
		url := p.tracker.FinalGetURL()
		log.Debugf("operation %s %s succeeded, fetching final resource from %s",
			p.tracker.Method(), p.tracker.OriginalURL(), url)
		resp, err := p.get(ctx, url)
		if err != nil {
			return nil, p.fail(err)
		}
		p.lastResponse = resp
		if err := p.tracker.ParseResource(resp); err != nil {
			return nil, p.fail(&CloudError{Phase: PhasePolling, Response: resp, Err: err})
		}
	}

	p.state = StateSucceeded
	p.result, _ = p.tracker.Resource()
	return p.result, nil
}

func (p *Poller) fail(err error) error {
	p.state = StateFailed
	p.doneErr = err
	return err
}

// Status is the operation status the service last reported.
func (p *Poller) Status() (Status, error) {
	if p.tracker.Status() == "" {
		return "", errors.New("poller has not been initialized")
	}
	return p.tracker.Status(), nil
}

// Done reports whether the operation reached a terminal status.
func (p *Poller) Done() bool {
	return p.tracker.Status().Terminal()
}

// Result returns the final resource once polling has completed.
func (p *Poller) Result() (any, error) {
	if !p.Done() {
		return nil, errors.New("polling has not yet completed")
	}
	return p.result, p.doneErr
}

// resumeToken is the serialized form of an in-flight session.
type resumeToken struct {
	Method        string        `json:"method"`
	OriginalURL   string        `json:"originalURL"`
	AsyncURL      string        `json:"asyncURL,omitempty"`
	LocationURL   string        `json:"locationURL,omitempty"`
	Status        Status        `json:"status"`
	FinalStateVia FinalStateVia `json:"finalStateVia"`
}

// ResumeToken serializes enough tracker state to resume polling in a
// different process. The in-memory resource does not travel with the
// token; a resumed session re-materializes it from the service.
func (p *Poller) ResumeToken() (string, error) {
	if p.tracker.Status() == "" {
		return "", errors.New("cannot create a resume token before initialization")
	}
	b, err := json.Marshal(resumeToken{
		Method:        p.tracker.Method(),
		OriginalURL:   p.tracker.OriginalURL(),
		AsyncURL:      p.tracker.AsyncURL(),
		LocationURL:   p.tracker.LocationURL(),
		Status:        p.tracker.Status(),
		FinalStateVia: p.opts.FinalStateVia,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewPollerFromResumeToken rebuilds a blocking-mode poller from a
// token produced by ResumeToken.
func NewPollerFromResumeToken(
	token string,
	deserialize Deserializer,
	sender transport.Senderer,
	opts Options,
) (*Poller, error) {
	opts = opts.withDefaults()
	var tk resumeToken
	if err := json.Unmarshal([]byte(token), &tk); err != nil {
		return nil, fmt.Errorf("invalid resume token: %w", err)
	}
	if tk.Method == "" || tk.OriginalURL == "" || tk.Status == "" {
		return nil, errors.New("invalid resume token: missing required fields")
	}
	if tk.FinalStateVia != "" {
		opts.FinalStateVia = tk.FinalStateVia
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		method:      tk.Method,
		originalURL: tk.OriginalURL,
		asyncURL:    tk.AsyncURL,
		locationURL: tk.LocationURL,
		status:      tk.Status,
		deserialize: deserialize,
		opts:        opts,
	}
	return &Poller{
		tracker: t,
		waiter:  &BlockingWaiter{Sender: sender},
		opts:    opts,
		state:   StatePolling,
		boff:    opts.Backoff,
	}, nil
}
