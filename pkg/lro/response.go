package lro

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

// Header names in the ARM long-running-operation contract.
const (
	headerAsyncOperation  = "Azure-AsyncOperation"
	headerLocation        = "Location"
	headerRetryAfter      = "Retry-After"
	headerClientRequestID = "x-ms-client-request-id"
)

// Payload returns the response body, caching it on the response so
// repeated reads are possible regardless of which transport produced
// the response.
func Payload(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	return runtime.Payload(resp)
}

// IsEmpty reports whether the response carries no usable JSON payload.
// A body parsing to null, "", 0, false, {}, or [] counts as empty. A
// non-empty body that is not valid JSON returns a *DecodeError rather
// than being mistaken for empty.
func IsEmpty(resp *http.Response) (bool, error) {
	body, err := Payload(resp)
	if err != nil {
		return false, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return false, &DecodeError{Err: err}
	}
	switch t := v.(type) {
	case nil:
		return true, nil
	case bool:
		return !t, nil
	case float64:
		return t == 0, nil
	case string:
		return t == "", nil
	case map[string]any:
		return len(t) == 0, nil
	case []any:
		return len(t) == 0, nil
	default:
		return false, nil
	}
}

// AsJSON parses the response body as JSON. Callers are expected to
// have checked IsEmpty first; a degenerate value comes back otherwise.
func AsJSON(resp *http.Response) (any, error) {
	body, err := Payload(resp)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return v, nil
}

// HeaderURL reads the named header as a polling target. Missing
// headers and values lacking both a scheme and a host yield "" so the
// engine never chases a garbage URL.
func HeaderURL(resp *http.Response, name string) string {
	if resp == nil {
		return ""
	}
	raw := resp.Header.Get(name)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return raw
}

// provisioningState extracts properties.provisioningState from a
// parsed resource body, or "" if absent.
func provisioningState(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		return ""
	}
	state, _ := props["provisioningState"].(string)
	return state
}

// operationStatus extracts the top-level status field from a parsed
// async-operation body, or "" if absent.
func operationStatus(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	status, _ := m["status"].(string)
	return status
}
