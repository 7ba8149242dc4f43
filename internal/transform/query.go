package transform

import (
	"net/url"

	"github.com/northbeam/gateway/internal/config"
)

// Query applies the query-targeted ops of a rule set, in configured order,
// to a parsed query string, returning the updated values.
func Query(query url.Values, ops []config.TransformOp) url.Values {
	for _, op := range ops {
		if op.Target != "query" {
			continue
		}
		switch op.Action {
		case "add":
			query.Set(op.Path, op.Value)
		case "remove":
			query.Del(op.Path)
		case "rename":
			if v := query.Get(op.Path); v != "" {
				query.Set(op.NewPath, v)
				query.Del(op.Path)
			}
		case "transform":
			if v := query.Get(op.Path); v != "" {
				query.Set(op.Path, applyScalarFunction(op.Function, v))
			}
		}
	}
	return query
}
