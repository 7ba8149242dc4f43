package router

import (
	"github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/reqcontext"
)

// Stage adapts Router to the pipeline's Router select-instance step: it
// resolves ctx.Service from the path/header, selects a healthy instance, and
// records both on the context for the proxy stage and for observability.
type Stage struct {
	Router *Router
}

func (s Stage) Run(ctx *reqcontext.Context) reqcontext.Outcome {
	service := s.Router.Resolve(ctx.Method, ctx.Path, ctx.Header)
	if service == "" || !s.Router.Known(service) {
		return reqcontext.OutcomeFail(errors.ErrNotFound.WithDetails("no service matched the request path"))
	}

	inst, gerr := s.Router.Select(service, ctx.ClientIP)
	if gerr != nil {
		return reqcontext.OutcomeFail(gerr)
	}

	ctx.Service = service
	ctx.Instance = inst.Addr()
	ctx.Decisions.Service = service
	ctx.Decisions.Instance = inst.Addr()
	return reqcontext.OutcomeContinue()
}
