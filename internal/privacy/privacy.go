// Package privacy scrubs credentials from URLs before they reach logs,
// notifications or error telemetry. Alert service URLs, the MySQL DSN and
// the redis address may all carry secrets.
package privacy

import (
	"net/url"
	"regexp"
	"strings"
)

// urlPattern finds scheme://... tokens in free text, including shoutrrr
// service schemes such as smtp:// or discord://.
var urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]{1,15}://\S+`)

// ScrubMessage replaces every URL in message with its redacted form.
// Trailing punctuation stays part of the surrounding text.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, func(match string) string {
		trimmed := strings.TrimRight(match, ".,;:)'\"")
		return RedactURL(trimmed) + match[len(trimmed):]
	})
}

// RedactURL keeps the scheme and host of rawURL and hides credentials,
// path and query. Unparseable input is replaced entirely.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "[redacted-url]"
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString("***@")
	}
	b.WriteString(u.Host)
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Opaque != "" {
		b.WriteString("/...")
	}
	return b.String()
}
