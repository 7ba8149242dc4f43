// Package transform applies configured header, query, and body operations to
// requests and responses, and builds the error-response support envelope for
// status >= 400.
package transform

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/northbeam/gateway/internal/config"
)

// Body applies the body-targeted ops of a rule set, in configured order, to
// a JSON body. Non-JSON or invalid-JSON bodies pass through untouched.
func Body(body []byte, ops []config.TransformOp) []byte {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return body
	}
	for _, op := range ops {
		if op.Target != "body" {
			continue
		}
		switch op.Action {
		case "add":
			if out, err := sjson.SetBytes(body, op.Path, inferType(op.Value)); err == nil {
				body = out
			}
		case "remove":
			if out, err := sjson.DeleteBytes(body, op.Path); err == nil {
				body = out
			}
		case "rename":
			result := gjson.GetBytes(body, op.Path)
			if !result.Exists() {
				continue
			}
			if out, err := sjson.SetRawBytes(body, op.NewPath, []byte(result.Raw)); err == nil {
				body = out
				if out, err := sjson.DeleteBytes(body, op.Path); err == nil {
					body = out
				}
			}
		case "transform":
			result := gjson.GetBytes(body, op.Path)
			if !result.Exists() {
				continue
			}
			transformed := applyFunction(op.Function, result)
			if out, err := sjson.SetBytes(body, op.Path, transformed); err == nil {
				body = out
			}
		}
	}
	return body
}

// applyFunction implements the fixed set of scalar transform functions a
// "transform" op may name.
func applyFunction(function string, v gjson.Result) interface{} {
	switch function {
	case "lowercase":
		return strings.ToLower(v.String())
	case "uppercase":
		return strings.ToUpper(v.String())
	case "trim":
		return strings.TrimSpace(v.String())
	case "toNumber":
		if f, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return f
		}
		return v.Value()
	case "toString":
		return v.String()
	case "toArray":
		if v.IsArray() {
			return v.Value()
		}
		return []interface{}{v.Value()}
	default:
		return v.Value()
	}
}

// applyScalarFunction implements the same fixed function set as
// applyFunction, for the plain-string header/query values that never go
// through gjson.
func applyScalarFunction(function, s string) string {
	switch function {
	case "lowercase":
		return strings.ToLower(s)
	case "uppercase":
		return strings.ToUpper(s)
	case "trim":
		return strings.TrimSpace(s)
	default:
		return s
	}
}

// inferType parses a configured literal string value into the JSON-native
// type it represents, matching how sjson expects typed values.
func inferType(s string) interface{} {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
