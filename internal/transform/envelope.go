package transform

import (
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Envelope attaches the gateway's response metadata under a `_gateway` key:
// timestamp, request id, service, and instance. Non-JSON or invalid-JSON
// bodies pass through untouched, matching Body's own rule.
func Envelope(body []byte, requestID, service, instance string) []byte {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return body
	}
	out, err := sjson.SetBytes(body, "_gateway", map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"requestId": requestID,
		"service":   service,
		"instance":  instance,
	})
	if err != nil {
		return body
	}
	return out
}

// SupportEnvelope patches an error-response body (status >= 400) with a
// support envelope carrying the request id, so an operator can correlate a
// client-reported failure with server-side logs.
func SupportEnvelope(body []byte, requestID string) []byte {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return body
	}
	out, err := sjson.SetBytes(body, "support", map[string]interface{}{
		"requestId": requestID,
	})
	if err != nil {
		return body
	}
	return out
}
