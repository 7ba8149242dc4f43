package gateway

import (
	"net/http"

	"github.com/northbeam/gateway/internal/plugin"
	"github.com/northbeam/gateway/internal/reqcontext"
)

// toPluginContext projects the fields a plugin hook may plausibly read or
// mutate out of the full request context.
func toPluginContext(ctx *reqcontext.Context, errKind string) plugin.Context {
	var principalID string
	if ctx.Principal != nil {
		principalID = ctx.Principal.ID
	}
	var status int
	if ctx.TerminalResponse != nil {
		status = ctx.TerminalResponse.Status
	}
	return plugin.Context{
		RequestID:  ctx.RequestID,
		Method:     ctx.Method,
		Path:       ctx.Path,
		ClientIP:   ctx.ClientIP,
		Header:     map[string][]string(ctx.Header),
		Body:       ctx.Body,
		Service:    ctx.Service,
		Instance:   ctx.Instance,
		StatusCode: status,
		Principal:  principalID,
		ErrorKind:  errKind,
	}
}

// applyPluginContext folds a hook's merged override back onto ctx. Only the
// fields both types share are applied; StatusCode and Principal are
// observability-only on the plugin side and are never written back — a
// plugin can see who made the request, but cannot reassign its identity.
func applyPluginContext(ctx *reqcontext.Context, pc plugin.Context) {
	if pc.Method != "" {
		ctx.Method = pc.Method
	}
	if pc.Path != "" {
		ctx.Path = pc.Path
	}
	if pc.ClientIP != "" {
		ctx.ClientIP = pc.ClientIP
	}
	if pc.Header != nil {
		ctx.Header = http.Header(pc.Header)
	}
	if pc.Body != nil {
		ctx.Body = pc.Body
	}
	if pc.Service != "" {
		ctx.Service = pc.Service
	}
	if pc.Instance != "" {
		ctx.Instance = pc.Instance
	}
}

// runHook fans hook out to every plugin registered for it and folds the
// merged result back onto ctx. It always runs, even after a stage has set
// ctx.TerminalResponse — plugins observe the terminal state through
// StatusCode/ErrorKind rather than being skipped, matching the "every
// registered hook fires even on early termination" guarantee.
func (g *Gateway) runHook(hook plugin.Hook, ctx *reqcontext.Context, errKind string) {
	if g.plugins == nil {
		return
	}
	out := g.plugins.Run(hook, toPluginContext(ctx, errKind))
	applyPluginContext(ctx, out)
}
