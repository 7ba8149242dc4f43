package security

import (
	"encoding/json"
	"net/http"

	"github.com/northbeam/gateway/internal/config"
)

// SizeLimits bounds request size independent of the transport-level
// LimitsConfig cap, covering header bytes, individual scalar values inside a
// JSON body, and the body's nesting depth.
type SizeLimits struct {
	MaxHeaderBytes int
	MaxScalarBytes int
	MaxBodyNesting int
}

// NewSizeLimits builds SizeLimits from cfg.
func NewSizeLimits(cfg config.SecurityConfig) SizeLimits {
	return SizeLimits{
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		MaxScalarBytes: cfg.MaxScalarBytes,
		MaxBodyNesting: cfg.MaxBodyNesting,
	}
}

// CheckHeaders reports whether header's total wire size stays within the cap;
// a cap of zero or less means no limit.
func (l SizeLimits) CheckHeaders(header http.Header) bool {
	if l.MaxHeaderBytes <= 0 {
		return true
	}
	total := 0
	for k, vv := range header {
		for _, v := range vv {
			total += len(k) + len(v) + 4 // ": " + CRLF
			if total > l.MaxHeaderBytes {
				return false
			}
		}
	}
	return true
}

// CheckBody parses body as JSON and reports whether every scalar value and
// the overall nesting depth stay within the configured caps. A body that
// isn't valid JSON, or isn't present, always passes — the size filter only
// inspects structure it can parse.
func (l SizeLimits) CheckBody(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return true
	}
	return l.checkValue(v, 0)
}

func (l SizeLimits) checkValue(v interface{}, depth int) bool {
	if l.MaxBodyNesting > 0 && depth > l.MaxBodyNesting {
		return false
	}
	switch t := v.(type) {
	case string:
		return l.MaxScalarBytes <= 0 || len(t) <= l.MaxScalarBytes
	case map[string]interface{}:
		for _, child := range t {
			if !l.checkValue(child, depth+1) {
				return false
			}
		}
	case []interface{}:
		for _, child := range t {
			if !l.checkValue(child, depth+1) {
				return false
			}
		}
	}
	return true
}
