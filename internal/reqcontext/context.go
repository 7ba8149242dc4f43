// Package reqcontext defines the per-request mutable context threaded through
// the pipeline, and the Outcome type stages use to report their result.
package reqcontext

import (
	"net/http"
	"time"

	gwerrors "github.com/northbeam/gateway/internal/errors"
)

// AuthMethod names how a Principal was established.
type AuthMethod string

const (
	AuthAPIKey AuthMethod = "API_KEY"
	AuthJWT    AuthMethod = "JWT"
	AuthBasic  AuthMethod = "BASIC"
)

// Permission is one of the fixed gateway permission strings. "admin" implies
// all the others; callers should use Principal.Has rather than comparing sets
// directly.
type Permission string

const (
	PermRead   Permission = "read"
	PermWrite  Permission = "write"
	PermDelete Permission = "delete"
	PermAdmin  Permission = "admin"
)

// APIKeyRecord is the optional API-key-specific metadata attached to a Principal
// authenticated via an API key.
type APIKeyRecord struct {
	Name                string
	QuotaOverrideN      int           // 0 means "no override"
	QuotaOverrideWindow time.Duration
}

// Principal is the authenticated identity attached to a request. It is
// constructed fresh per request from the credential; it is never cached
// across requests.
type Principal struct {
	ID          string
	Method      AuthMethod
	Permissions map[Permission]struct{}
	APIKey      *APIKeyRecord
}

// Has reports whether the principal holds perm, honoring that "admin" implies
// every other permission.
func (p *Principal) Has(perm Permission) bool {
	if p == nil {
		return false
	}
	if _, ok := p.Permissions[PermAdmin]; ok {
		return true
	}
	_, ok := p.Permissions[perm]
	return ok
}

// StageDecisions records what each pipeline stage decided, for logging and
// for the testable properties in the spec (cache hit/miss, quota state,
// sampled circuit state, per-stage timing).
type StageDecisions struct {
	CacheHit       bool
	CacheKey       string
	QuotaRemaining int
	CircuitState   string
	Service        string
	Instance       string
	Timings        map[string]time.Duration
}

// Context is the per-request mutable bag threaded through the pipeline. The
// orchestrator exclusively owns it; stages receive it by reference for the
// duration of their call and must not retain it past their return.
type Context struct {
	RequestID    string
	StartedAt    time.Time
	ClientIP     string
	Method       string
	Path         string
	Query        map[string][]string
	Header       http.Header
	Body         []byte

	Service  string
	Instance string

	Principal *Principal

	Decisions StageDecisions

	// TerminalResponse, once set by a stage, causes the orchestrator to skip
	// directly to the response-emitting tail; subsequent mutating stages are
	// skipped but hooks still fire.
	TerminalResponse *Response
}

// Response is a fully-formed HTTP response a stage can use to short-circuit
// the pipeline, or that the proxy stage produces from the upstream call.
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
}

// NewResponse builds a Response with a fresh header map.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// OutcomeTag discriminates the tagged union a stage returns.
type OutcomeTag int

const (
	// Continue means the stage did its work (if any) and the pipeline should
	// proceed to the next stage.
	Continue OutcomeTag = iota
	// Terminal means the stage produced a final response; later mutating
	// stages are skipped.
	Terminal
	// Fail means the stage encountered a categorized error; the orchestrator
	// maps it to a status code and a terminal response.
	Fail
)

// Outcome is the tagged sum {Continue, Terminal(response), Fail(errorKind)}
// every pipeline stage returns, per the gateway's uniform stage interface.
type Outcome struct {
	Tag      OutcomeTag
	Response *Response
	Err      *gwerrors.GatewayError
}

// OutcomeContinue builds a Continue outcome.
func OutcomeContinue() Outcome { return Outcome{Tag: Continue} }

// OutcomeTerminal builds a Terminal outcome carrying resp.
func OutcomeTerminal(resp *Response) Outcome { return Outcome{Tag: Terminal, Response: resp} }

// OutcomeFail builds a Fail outcome carrying err.
func OutcomeFail(err *gwerrors.GatewayError) Outcome { return Outcome{Tag: Fail, Err: err} }

// Stage is the single-method interface every pipeline stage implements.
type Stage interface {
	Run(ctx *Context) Outcome
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx *Context) Outcome

func (f StageFunc) Run(ctx *Context) Outcome { return f(ctx) }
