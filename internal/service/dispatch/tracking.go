package dispatch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// TrackingURLs builds the public tracking endpoints embedded in outgoing
// mail. BaseURL is the externally reachable tracking origin.
type TrackingURLs struct {
	BaseURL string
}

// OpenURL returns the pixel URL for a campaign email record.
func (t TrackingURLs) OpenURL(emailID string) string {
	return fmt.Sprintf("%s/track/open/%s", strings.TrimSuffix(t.BaseURL, "/"), emailID)
}

// ClickURL returns the redirect URL wrapping destination for a record.
func (t TrackingURLs) ClickURL(emailID, destination string) string {
	return fmt.Sprintf("%s/track/click/%s?url=%s",
		strings.TrimSuffix(t.BaseURL, "/"), emailID, url.QueryEscape(destination))
}

// InjectPixel inserts the open-tracking <img> immediately before the
// closing body tag, or appends it when the HTML has no such tag.
func (t TrackingURLs) InjectPixel(html, emailID string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt="" />`, t.OpenURL(emailID))
	if idx := strings.LastIndex(html, "</body>"); idx != -1 {
		return html[:idx] + pixel + html[idx:]
	}
	return html + pixel
}

var hrefRe = regexp.MustCompile(`href="(https?://[^"]+)"`)

// RewriteLinks routes every outbound http(s) link through the click
// endpoint. Links already pointing at the tracking origin are left alone
// so a pixel or an unsubscribe URL is never double-wrapped.
func (t TrackingURLs) RewriteLinks(html, emailID string) string {
	return hrefRe.ReplaceAllStringFunc(html, func(match string) string {
		original := hrefRe.FindStringSubmatch(match)[1]
		if strings.Contains(original, "/track/") {
			return match
		}
		return fmt.Sprintf(`href="%s"`, t.ClickURL(emailID, original))
	})
}
