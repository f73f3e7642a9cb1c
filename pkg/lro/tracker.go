package lro

import (
	"net/http"

	"github.com/bacalhau-project/armpoller/pkg/logger"
)

// Deserializer turns a raw response into the caller's resource type.
// It is only invoked on responses that passed a body-presence check.
type Deserializer func(resp *http.Response) (any, error)

// Tracker holds the evolving state of one long-running operation and
// interprets each response into a status/resource update. A Tracker
// belongs to exactly one polling session and is not safe for
// concurrent use.
type Tracker struct {
	method      string
	initial     *http.Response
	originalURL string
	deserialize Deserializer
	opts        Options

	status      Status
	resource    any
	hasResource bool
	asyncURL    string
	locationURL string
}

// NewTracker seeds a tracker from the response that created the
// operation. Interpretation of that response happens in
// SetInitialStatus, driven by the poller.
func NewTracker(initial *http.Response, deserialize Deserializer, opts Options) *Tracker {
	t := &Tracker{
		initial:     initial,
		deserialize: deserialize,
		opts:        opts.withDefaults(),
	}
	if initial != nil && initial.Request != nil {
		t.method = initial.Request.Method
		t.originalURL = initial.Request.URL.String()
	}
	return t
}

// checkResponseStatus enforces the verb-specific set of acceptable
// status codes: 200/202 for any verb, 201 additionally for PUT/PATCH,
// 204 additionally for DELETE/POST.
func (t *Tracker) checkResponseStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return nil
	case http.StatusCreated:
		if t.method == http.MethodPut || t.method == http.MethodPatch {
			return nil
		}
	case http.StatusNoContent:
		if t.method == http.MethodDelete || t.method == http.MethodPost {
			return nil
		}
	}
	return &BadStatusError{Code: resp.StatusCode, Method: t.method}
}

// absorbURLs merges polling URLs from a response into the tracker.
// Discovered URLs are sticky: a later response without the header does
// not erase one found earlier.
func (t *Tracker) absorbURLs(resp *http.Response) {
	if u := HeaderURL(resp, headerAsyncOperation); u != "" {
		t.asyncURL = u
	}
	if u := HeaderURL(resp, headerLocation); u != "" {
		t.locationURL = u
	}
}

// probeBody parses the response body leniently, returning nil on any
// read or decode failure. Initialization tolerates malformed or
// partial creation payloads.
func (t *Tracker) probeBody(resp *http.Response) any {
	empty, err := IsEmpty(resp)
	if err != nil || empty {
		return nil
	}
	v, err := AsJSON(resp)
	if err != nil {
		return nil
	}
	return v
}

// SetInitialStatus interprets the creation response. After a
// successful return the tracker always has a non-empty status.
func (t *Tracker) SetInitialStatus() error {
	log := logger.Get()
	if err := t.checkResponseStatus(t.initial); err != nil {
		return err
	}

	body := t.probeBody(t.initial)
	if body != nil {
		if r, err := t.deserialize(t.initial); err == nil {
			t.resource = r
			t.hasResource = true
		} else {
			log.Debugf("initial payload for %s %s not deserializable, continuing without resource: %v",
				t.method, t.originalURL, err)
		}
	}
	t.absorbURLs(t.initial)

	code := t.initial.StatusCode
	switch {
	case t.asyncURL != "" || t.locationURL != "" || code == http.StatusAccepted:
		t.status = StatusInProgress
	case code == http.StatusCreated:
		if s := provisioningState(body); s != "" {
			t.status = ParseStatus(s)
		} else {
			t.status = StatusInProgress
		}
	case code == http.StatusOK:
		if s := provisioningState(body); s != "" {
			t.status = ParseStatus(s)
		} else {
			t.status = StatusSucceeded
		}
	case code == http.StatusNoContent:
		t.status = StatusSucceeded
		t.resource = nil
		t.hasResource = false
	default:
		return &OperationFailedError{Message: "unable to determine initial operation status"}
	}
	log.Debugf("operation %s %s initialized with status %s", t.method, t.originalURL, t.status)
	return nil
}

// StatusLink returns the URL to poll next, preferring the
// async-operation URL, then the location URL, then the original URL
// for PUT requests where the resource itself can be re-fetched.
func (t *Tracker) StatusLink() (string, error) {
	switch {
	case t.asyncURL != "":
		return t.asyncURL, nil
	case t.locationURL != "":
		return t.locationURL, nil
	case t.method == http.MethodPut:
		return t.originalURL, nil
	default:
		return "", &BadResponseError{Message: "unable to find a valid status link for polling"}
	}
}

// UpdateStatus interprets one polling response with the rules for
// whichever URL family produced it.
func (t *Tracker) UpdateStatus(resp *http.Response) error {
	var err error
	switch {
	case t.asyncURL != "":
		err = t.statusFromAsync(resp)
	case t.locationURL != "":
		err = t.statusFromLocation(resp)
	case t.method == http.MethodPut:
		err = t.statusFromResource(resp)
	default:
		err = &BadResponseError{Message: "unable to find a valid status link for polling"}
	}
	if err != nil {
		return err
	}
	t.absorbURLs(resp)
	logger.Get().Debugf("operation %s %s polled, status now %s", t.method, t.originalURL, t.status)
	return nil
}

// statusFromAsync reads the status from an async-operation monitor
// body, which must be present and carry a top-level status field. The
// resource is re-deserialized opportunistically from the same body.
func (t *Tracker) statusFromAsync(resp *http.Response) error {
	empty, err := IsEmpty(resp)
	if err != nil {
		return err
	}
	if empty {
		return &BadResponseError{Message: "the response from long running operation does not contain a body"}
	}
	body, err := AsJSON(resp)
	if err != nil {
		return err
	}
	s := operationStatus(body)
	if s == "" {
		return &BadResponseError{Message: "no status found in body"}
	}
	t.status = ParseStatus(s)

	// Keep the previous resource if this body does not deserialize.
	if r, err := t.deserialize(resp); err == nil {
		t.resource = r
		t.hasResource = true
	}
	return nil
}

// statusFromLocation interprets a poll of the location URL: 202 means
// still in progress, anything else means done with the body (when
// present) as the resource.
func (t *Tracker) statusFromLocation(resp *http.Response) error {
	if resp.StatusCode == http.StatusAccepted {
		t.status = StatusInProgress
		return nil
	}
	t.status = StatusSucceeded
	empty, err := IsEmpty(resp)
	if err != nil {
		return err
	}
	if empty {
		t.resource = nil
		t.hasResource = false
		return nil
	}
	r, err := t.deserialize(resp)
	if err != nil {
		return err
	}
	t.resource = r
	t.hasResource = true
	return nil
}

// statusFromResource interprets a re-GET of the resource itself,
// taking the status from properties.provisioningState and defaulting
// to Succeeded when the field is absent.
func (t *Tracker) statusFromResource(resp *http.Response) error {
	empty, err := IsEmpty(resp)
	if err != nil {
		return err
	}
	if empty {
		return &BadResponseError{Message: "the response from long running operation does not contain a body"}
	}
	body, err := AsJSON(resp)
	if err != nil {
		return err
	}
	if s := provisioningState(body); s != "" {
		t.status = ParseStatus(s)
	} else {
		t.status = StatusSucceeded
	}
	return t.ParseResource(resp)
}

// ParseResource validates the response against the verb rules and
// replaces the tracked resource from its body, or clears it when the
// body is empty.
func (t *Tracker) ParseResource(resp *http.Response) error {
	if err := t.checkResponseStatus(resp); err != nil {
		return err
	}
	empty, err := IsEmpty(resp)
	if err != nil {
		return err
	}
	if empty {
		t.resource = nil
		t.hasResource = false
		return nil
	}
	r, err := t.deserialize(resp)
	if err != nil {
		return err
	}
	t.resource = r
	t.hasResource = true
	return nil
}

// ShouldDoFinalGet reports whether an extra GET is needed to
// materialize the authoritative resource after the operation reaches
// a terminal status. PUT/PATCH state lives at the original resource
// URL; a POST's result may live behind Location when configured so.
func (t *Tracker) ShouldDoFinalGet() bool {
	if (t.asyncURL != "" || !t.hasResource) &&
		(t.method == http.MethodPut || t.method == http.MethodPatch) {
		return true
	}
	return t.opts.FinalStateVia == FinalStateViaLocation &&
		t.asyncURL != "" && t.locationURL != "" &&
		t.method == http.MethodPost
}

// FinalGetURL is the target of the final GET: the location URL for a
// POST configured with final-state-via=location, otherwise the
// original request URL.
func (t *Tracker) FinalGetURL() string {
	if t.method == http.MethodPost &&
		t.opts.FinalStateVia == FinalStateViaLocation &&
		t.locationURL != "" {
		return t.locationURL
	}
	return t.originalURL
}

// Status is the current operation status. Empty only before
// SetInitialStatus has completed.
func (t *Tracker) Status() Status { return t.status }

// Resource returns the last deserialized resource, with a presence
// flag.
func (t *Tracker) Resource() (any, bool) { return t.resource, t.hasResource }

// Method is the HTTP verb that created the operation.
func (t *Tracker) Method() string { return t.method }

// AsyncURL is the discovered Azure-AsyncOperation URL, or "".
func (t *Tracker) AsyncURL() string { return t.asyncURL }

// LocationURL is the discovered Location URL, or "".
func (t *Tracker) LocationURL() string { return t.locationURL }

// OriginalURL is the URL of the request that created the operation.
func (t *Tracker) OriginalURL() string { return t.originalURL }

// InitialResponse is the creation response the tracker was seeded
// with; nil for trackers rebuilt from a resume token.
func (t *Tracker) InitialResponse() *http.Response { return t.initial }
