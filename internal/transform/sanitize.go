package transform

import (
	"net/url"
	"regexp"
)

// dangerousPatterns is the small fixed set of HTML/JS patterns query values
// are stripped of before being forwarded upstream.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)<[^>]+>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
}

// SanitizeQuery strips the fixed set of HTML/JS patterns from every query
// value, in place.
func SanitizeQuery(query url.Values) {
	for key, values := range query {
		for i, v := range values {
			for _, re := range dangerousPatterns {
				v = re.ReplaceAllString(v, "")
			}
			values[i] = v
		}
		query[key] = values
	}
}
