package transform

import (
	"strings"

	"github.com/northbeam/gateway/internal/config"
)

// Resolve returns the rule set whose PathPrefix is the longest match for
// path, or nil if none of the configured rule sets apply.
func Resolve(rules []config.TransformRuleSet, path string) *config.TransformRuleSet {
	var best *config.TransformRuleSet
	bestLen := -1
	for i := range rules {
		rs := &rules[i]
		if strings.HasPrefix(path, rs.PathPrefix) && len(rs.PathPrefix) > bestLen {
			best = rs
			bestLen = len(rs.PathPrefix)
		}
	}
	return best
}
