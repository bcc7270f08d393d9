package bridge

import (
	"encoding/json"
	"time"

	"github.com/pricefinder/pricefinder/internal/domain"
)

// Kind classifies the outcome of a call.
type Kind string

const (
	// KindOK is a 2xx JSON response without an error key.
	KindOK Kind = "ok"
	// KindServiceReported is a well-formed body carrying an error key.
	KindServiceReported Kind = "service_error"
	// KindTimeout means no response arrived before the deadline.
	KindTimeout Kind = "timeout"
	// KindTransport covers non-2xx statuses, connection failures and malformed bodies.
	KindTransport Kind = "transport_error"
)

// TimeoutError is the error text of a timed-out call.
const TimeoutError = "request timed out"

// Result is the classified outcome of one agent call.
type Result struct {
	Kind        Kind
	Error       string
	StatusCode  int
	Response    string
	HasResponse bool
	Status      string
	Message     string
	Products    []domain.Product
	Body        map[string]json.RawMessage
	Elapsed     time.Duration
}

// Failed reports whether the call did not succeed.
func (r Result) Failed() bool {
	return r.Kind != KindOK
}

// Map returns the uniform body representation: the decoded response body
// on success, {"error": ...} otherwise.
func (r Result) Map() map[string]any {
	if r.Failed() {
		return map[string]any{"error": r.Error}
	}
	out := make(map[string]any, len(r.Body))
	for k, v := range r.Body {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			val = string(v)
		}
		out[k] = val
	}
	return out
}

func timeoutResult() Result {
	return Result{Kind: KindTimeout, Error: TimeoutError}
}

func transportResult(detail string) Result {
	return Result{Kind: KindTransport, Error: detail}
}
