package security

import (
	"net"
	"net/http"

	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/errors"
)

// Filter composes the IP lists, size limits, WAF, and violation tracker into
// the single check the pipeline's security stage runs per request.
type Filter struct {
	allow      *IPList
	deny       *IPList
	limits     SizeLimits
	waf        *WAF
	violations *ViolationTracker
}

// New builds a Filter from cfg. waf may be nil if the WAF is disabled.
func New(cfg config.SecurityConfig, waf *WAF) *Filter {
	return &Filter{
		allow:      ParseIPList(cfg.IPAllowList),
		deny:       ParseIPList(cfg.IPDenyList),
		limits:     NewSizeLimits(cfg),
		waf:        waf,
		violations: NewViolationTracker(cfg.ViolationWindow, cfg.ViolationAutoDeny),
	}
}

// Check runs every configured security rule against the request. A non-nil
// GatewayError means the request must be rejected with that error; any
// rejection also counts as a violation for clientIP.
func (f *Filter) Check(clientIP, method, url, proto string, header http.Header, body []byte) *errors.GatewayError {
	ip := net.ParseIP(clientIP)

	if f.violations.IsAutoDenied(clientIP) {
		return errors.ErrForbidden.WithDetails("client IP auto-denied after repeated violations")
	}

	if !f.allow.Empty() && !f.allow.Contains(ip) {
		f.violations.Record(clientIP)
		return errors.ErrForbidden.WithDetails("client IP not in allow list")
	}
	if f.deny.Contains(ip) {
		f.violations.Record(clientIP)
		return errors.ErrForbidden.WithDetails("client IP is denied")
	}

	if !f.limits.CheckHeaders(header) {
		f.violations.Record(clientIP)
		return errors.ErrValidationFailure.WithDetails("request headers exceed the configured size limit")
	}
	if !f.limits.CheckBody(body) {
		f.violations.Record(clientIP)
		return errors.ErrValidationFailure.WithDetails("request body exceeds the configured size or nesting limit")
	}

	if f.waf != nil {
		if blocked, status := f.waf.Scan(method, url, proto, clientIP, header, body); blocked {
			f.violations.Record(clientIP)
			if status == http.StatusForbidden {
				return errors.ErrForbidden.WithDetails("request blocked by threat scanner")
			}
			return errors.ErrValidationFailure.WithDetails("request blocked by threat scanner")
		}
	}

	return nil
}
