package logger

import "strings"

// RedactEmail masks a recipient address for safe logging, keeping just
// enough of the local part to correlate entries for the same lead:
// "jane.tenant@example.co.uk" becomes "ja***@example.co.uk". Local
// parts of two characters or fewer, and anything that is not a single
// local@domain pair, are fully masked.
func RedactEmail(addr string) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
