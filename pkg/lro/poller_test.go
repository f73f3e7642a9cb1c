package lro

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bacalhau-project/armpoller/pkg/logger"
)

// scriptedSender replays a fixed sequence of responses and records
// every request it saw.
type scriptedSender struct {
	t         *testing.T
	responses []*http.Response
	requests  []*http.Request
}

func (s *scriptedSender) Send(_ context.Context, req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req)
	require.Less(s.t, len(s.requests)-1, len(s.responses), "unexpected request %s", req.URL)
	resp := s.responses[len(s.requests)-1]
	resp.Request = req
	return resp, nil
}

func fastOptions() Options {
	return Options{Interval: time.Millisecond}
}

func TestPollerScenarioLocation(t *testing.T) {
	// PUT accepted with a Location header; the first poll returns the
	// finished resource.
	initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
		headerLocation: testMonitorURL,
	})
	sender := &scriptedSender{t: t, responses: []*http.Response{
		fakeResponse(http.MethodGet, testMonitorURL, 200, `{"name":"foo"}`, nil),
	}}

	poller, err := NewPoller(initial, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)

	resource, err := poller.PollUntilDone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "foo", resource.(map[string]any)["name"])

	status, err := poller.Status()
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)
	assert.True(t, poller.Done())

	require.Len(t, sender.requests, 1)
	assert.Equal(t, testMonitorURL, sender.requests[0].URL.String())
}

func TestPollerScenarioFinalStateViaLocation(t *testing.T) {
	// POST with both monitor URLs and final-state-via=location: status
	// comes from the async monitor, the final GET goes to Location.
	initial := fakeResponse(http.MethodPost, testOpURL, 202, "", map[string]string{
		headerAsyncOperation: testAsyncURL,
		headerLocation:       testMonitorURL,
	})
	sender := &scriptedSender{t: t, responses: []*http.Response{
		fakeResponse(http.MethodGet, testAsyncURL, 200, `{"status":"Succeeded"}`, nil),
		fakeResponse(http.MethodGet, testMonitorURL, 200, `{"id":"outcome"}`, nil),
	}}

	opts := fastOptions()
	opts.FinalStateVia = FinalStateViaLocation
	poller, err := NewPoller(initial, jsonDeserializer, sender, opts)
	require.NoError(t, err)

	resource, err := poller.PollUntilDone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "outcome", resource.(map[string]any)["id"])

	require.Len(t, sender.requests, 2)
	assert.Equal(t, testAsyncURL, sender.requests[0].URL.String())
	assert.Equal(t, testMonitorURL, sender.requests[1].URL.String())
}

func TestPollerRoundTripWithFinalGet(t *testing.T) {
	// PUT/201 with an async monitor; the final resource state lives at
	// the original URL and needs one more GET.
	initial := fakeResponse(http.MethodPut, testOpURL, 201, "", map[string]string{
		headerAsyncOperation: testAsyncURL,
	})
	initial.Request.Header.Set(headerClientRequestID, "req-123")
	sender := &scriptedSender{t: t, responses: []*http.Response{
		fakeResponse(http.MethodGet, testAsyncURL, 200, `{"status":"InProgress"}`, nil),
		fakeResponse(http.MethodGet, testAsyncURL, 200, `{"status":"Succeeded"}`, nil),
		fakeResponse(http.MethodGet, testOpURL, 200, `{"name":"final"}`, nil),
	}}

	poller, err := NewPoller(initial, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)

	resource, err := poller.PollUntilDone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "final", resource.(map[string]any)["name"])

	require.Len(t, sender.requests, 3)
	assert.Equal(t, testAsyncURL, sender.requests[0].URL.String())
	assert.Equal(t, testAsyncURL, sender.requests[1].URL.String())
	assert.Equal(t, testOpURL, sender.requests[2].URL.String())
	for _, req := range sender.requests {
		assert.Equal(t, "req-123", req.Header.Get(headerClientRequestID))
	}

	result, err := poller.Result()
	require.NoError(t, err)
	assert.Equal(t, resource, result)
}

func TestPollerMalformedPollBody(t *testing.T) {
	initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
		headerAsyncOperation: testAsyncURL,
	})
	sender := &scriptedSender{t: t, responses: []*http.Response{
		fakeResponse(http.MethodGet, testAsyncURL, 200, "{", nil),
	}}

	poller, err := NewPoller(initial, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)

	_, err = poller.PollUntilDone(context.Background())
	var cloudErr *CloudError
	require.ErrorAs(t, err, &cloudErr)
	assert.Equal(t, PhasePolling, cloudErr.Phase)
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestPollerBadInitialStatus(t *testing.T) {
	initial := fakeResponse(http.MethodPut, testOpURL, 1000, "", nil)
	sender := &scriptedSender{t: t}

	poller, err := NewPoller(initial, jsonDeserializer, sender, fastOptions())
	var cloudErr *CloudError
	require.ErrorAs(t, err, &cloudErr)
	assert.Equal(t, PhaseInitialization, cloudErr.Phase)
	assert.Same(t, initial, cloudErr.Response)
	var badStatus *BadStatusError
	assert.ErrorAs(t, err, &badStatus)

	// Later calls keep surfacing the setup failure.
	_, err = poller.PollUntilDone(context.Background())
	assert.ErrorAs(t, err, &cloudErr)
	assert.Empty(t, sender.requests)
}

func TestPollerOperationFailed(t *testing.T) {
	initial := fakeResponse(http.MethodDelete, testOpURL, 202, "", map[string]string{
		headerAsyncOperation: testAsyncURL,
	})
	sender := &scriptedSender{t: t, responses: []*http.Response{
		fakeResponse(http.MethodGet, testAsyncURL, 200, `{"status":"Canceled"}`, nil),
	}}

	poller, err := NewPoller(initial, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)

	_, err = poller.PollUntilDone(context.Background())
	var cloudErr *CloudError
	require.ErrorAs(t, err, &cloudErr)
	var opFailed *OperationFailedError
	require.ErrorAs(t, err, &opFailed)
	assert.Equal(t, StatusCanceled, opFailed.Status)

	// Result reports the same failure.
	_, err = poller.Result()
	assert.ErrorAs(t, err, &cloudErr)
}

func TestPollerDeleteWithEmptyFinalBody(t *testing.T) {
	initial := fakeResponse(http.MethodDelete, testOpURL, 202, "", map[string]string{
		headerLocation: testMonitorURL,
	})
	sender := &scriptedSender{t: t, responses: []*http.Response{
		fakeResponse(http.MethodGet, testMonitorURL, 200, "", nil),
	}}

	poller, err := NewPoller(initial, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)

	resource, err := poller.PollUntilDone(context.Background())
	require.NoError(t, err)
	assert.Nil(t, resource)
	assert.True(t, poller.Done())
}

func TestPollerAlreadyTerminalAtCreation(t *testing.T) {
	initial := fakeResponse(http.MethodPut, testOpURL, 200,
		`{"name":"vm","properties":{"provisioningState":"Succeeded"}}`, nil)
	sender := &scriptedSender{t: t}

	poller, err := NewPoller(initial, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)
	assert.True(t, poller.Done())

	resource, err := poller.PollUntilDone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vm", resource.(map[string]any)["name"])
	assert.Empty(t, sender.requests)
}

func TestPollerDelay(t *testing.T) {
	t.Run("Retry-After wins", func(t *testing.T) {
		initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
			headerLocation:   testMonitorURL,
			headerRetryAfter: "2",
		})
		poller, err := NewPoller(initial, jsonDeserializer, &scriptedSender{t: t}, fastOptions())
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, poller.delay())
	})

	t.Run("falls back to the configured interval", func(t *testing.T) {
		initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
			headerLocation: testMonitorURL,
		})
		opts := Options{Interval: 5 * time.Millisecond}
		poller, err := NewPoller(initial, jsonDeserializer, &scriptedSender{t: t}, opts)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Millisecond, poller.delay())
	})

	t.Run("malformed Retry-After falls back", func(t *testing.T) {
		initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
			headerLocation:   testMonitorURL,
			headerRetryAfter: "soon",
		})
		opts := Options{Interval: 7 * time.Millisecond}
		poller, err := NewPoller(initial, jsonDeserializer, &scriptedSender{t: t}, opts)
		require.NoError(t, err)
		assert.Equal(t, 7*time.Millisecond, poller.delay())
	})
}

func TestPollerFailedAtCreation(t *testing.T) {
	// The creation response itself reports a terminal failure: the
	// loop never runs, but the raised error must still carry the
	// response whose payload explains the failure.
	initial := fakeResponse(http.MethodPut, testOpURL, 200,
		`{"properties":{"provisioningState":"Failed"}}`, nil)
	sender := &scriptedSender{t: t}

	poller, err := NewPoller(initial, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)
	assert.True(t, poller.Done())

	ctx := logger.IntoContext(context.Background(), logger.NewNopLogger())
	_, err = poller.PollUntilDone(ctx)
	var cloudErr *CloudError
	require.ErrorAs(t, err, &cloudErr)
	require.NotNil(t, cloudErr.Response)
	assert.Same(t, initial, cloudErr.Response)
	var opFailed *OperationFailedError
	require.ErrorAs(t, err, &opFailed)
	assert.Equal(t, StatusFailed, opFailed.Status)
	assert.Empty(t, sender.requests)
}

func TestPollerBackoffPolicy(t *testing.T) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.Reset()

	initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
		headerLocation: testMonitorURL,
	})
	opts := Options{Interval: time.Millisecond, Backoff: b}
	poller, err := NewPoller(initial, jsonDeserializer, &scriptedSender{t: t}, opts)
	require.NoError(t, err)

	// The supplied policy drives the delay and grows between polls.
	assert.Equal(t, 10*time.Millisecond, poller.delay())
	assert.Equal(t, 20*time.Millisecond, poller.delay())

	// A Retry-After header overrides the policy for that step and
	// resets it.
	poller.lastResponse = fakeResponse(http.MethodGet, testMonitorURL, 202, "",
		map[string]string{headerRetryAfter: "1"})
	assert.Equal(t, time.Second, poller.delay())
	poller.lastResponse = fakeResponse(http.MethodGet, testMonitorURL, 202, "", nil)
	assert.Equal(t, 10*time.Millisecond, poller.delay())
}

func TestPollerFinalGetParseError(t *testing.T) {
	// The final GET comes back with a status code the verb does not
	// allow; the parse failure surfaces as a poll-time CloudError
	// carrying that response.
	initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
		headerAsyncOperation: testAsyncURL,
	})
	final := fakeResponse(http.MethodGet, testOpURL, 400, `{"error":"quota exceeded"}`, nil)
	sender := &scriptedSender{t: t, responses: []*http.Response{
		fakeResponse(http.MethodGet, testAsyncURL, 200, `{"status":"Succeeded"}`, nil),
		final,
	}}

	poller, err := NewPoller(initial, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)

	_, err = poller.PollUntilDone(context.Background())
	var cloudErr *CloudError
	require.ErrorAs(t, err, &cloudErr)
	assert.Equal(t, PhasePolling, cloudErr.Phase)
	assert.Same(t, final, cloudErr.Response)
	var badStatus *BadStatusError
	assert.ErrorAs(t, err, &badStatus)
}

func TestPollerOptionsValidation(t *testing.T) {
	initial := fakeResponse(http.MethodPut, testOpURL, 202, "", nil)
	_, err := NewPoller(initial, jsonDeserializer, &scriptedSender{t: t},
		Options{FinalStateVia: "nonsense"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final-state-via")
}

func TestAsyncPollerStart(t *testing.T) {
	initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
		headerLocation: testMonitorURL,
	})
	sender := &scriptedSender{t: t, responses: []*http.Response{
		fakeResponse(http.MethodGet, testMonitorURL, 202, "", nil),
		fakeResponse(http.MethodGet, testMonitorURL, 200, `{"name":"foo"}`, nil),
	}}

	poller, err := NewAsyncPoller(initial, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)

	select {
	case result := <-poller.Start(context.Background()):
		require.NoError(t, result.Err)
		assert.Equal(t, "foo", result.Resource.(map[string]any)["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish")
	}
}

func TestAsyncPollerCancellation(t *testing.T) {
	initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
		headerLocation: testMonitorURL,
	})
	opts := Options{Interval: time.Hour}
	poller, err := NewAsyncPoller(initial, jsonDeserializer, &scriptedSender{t: t}, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := poller.Start(ctx)
	cancel()

	select {
	case result := <-ch:
		require.ErrorIs(t, result.Err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt the sleep")
	}
}

func TestResumeToken(t *testing.T) {
	initial := fakeResponse(http.MethodPut, testOpURL, 202, "", map[string]string{
		headerAsyncOperation: testAsyncURL,
	})
	poller, err := NewPoller(initial, jsonDeserializer, &scriptedSender{t: t}, fastOptions())
	require.NoError(t, err)

	token, err := poller.ResumeToken()
	require.NoError(t, err)

	sender := &scriptedSender{t: t, responses: []*http.Response{
		fakeResponse(http.MethodGet, testAsyncURL, 200, `{"status":"Succeeded"}`, nil),
		fakeResponse(http.MethodGet, testOpURL, 200, `{"name":"resumed"}`, nil),
	}}
	resumed, err := NewPollerFromResumeToken(token, jsonDeserializer, sender, fastOptions())
	require.NoError(t, err)

	resource, err := resumed.PollUntilDone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "resumed", resource.(map[string]any)["name"])

	t.Run("garbage token is rejected", func(t *testing.T) {
		_, err := NewPollerFromResumeToken("not json", jsonDeserializer, sender, fastOptions())
		require.Error(t, err)
	})
}

func TestWaiters(t *testing.T) {
	t.Run("suspending waiter honors cancellation", func(t *testing.T) {
		w := &SuspendingWaiter{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := w.Sleep(ctx, time.Hour)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("blocking waiter sleeps the full duration", func(t *testing.T) {
		w := &BlockingWaiter{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		require.NoError(t, w.Sleep(ctx, 10*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})
}
