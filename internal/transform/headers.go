package transform

import (
	"net/http"

	"github.com/northbeam/gateway/internal/config"
)

// Headers applies the header-targeted ops of a rule set, in configured
// order, to header.
func Headers(header http.Header, ops []config.TransformOp) {
	for _, op := range ops {
		if op.Target != "header" {
			continue
		}
		applyKeyedOp(header, op)
	}
}

func applyKeyedOp(h http.Header, op config.TransformOp) {
	switch op.Action {
	case "add":
		h.Set(op.Path, op.Value)
	case "remove":
		h.Del(op.Path)
	case "rename":
		if v := h.Get(op.Path); v != "" {
			h.Set(op.NewPath, v)
			h.Del(op.Path)
		}
	case "transform":
		if v := h.Get(op.Path); v != "" {
			h.Set(op.Path, applyScalarFunction(op.Function, v))
		}
	}
}
