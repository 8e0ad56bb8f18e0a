package dispatch

import (
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Personalize substitutes {{token}} occurrences in content with values
// from data. Token names are matched case-insensitively. Unresolved
// tokens are replaced with the empty string, never left literal: a
// recipient must not see raw template syntax.
func Personalize(content string, data map[string]string) string {
	if content == "" {
		return content
	}
	return tokenRe.ReplaceAllStringFunc(content, func(match string) string {
		name := tokenRe.FindStringSubmatch(match)[1]
		if v, ok := data[name]; ok {
			return v
		}
		if v, ok := data[strings.ToLower(name)]; ok {
			return v
		}
		return ""
	})
}
