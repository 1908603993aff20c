package logger

import (
	"net/url"
	"strings"
)

// sensitiveParams are query parameter names whose presence forces the whole
// query string out of the logs. Auth flows carry secrets in bodies, not
// queries, but verification links pasted into a browser can leak tokens here.
var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"code",
	"email",
	"auth",
	"refresh",
}

// SanitizedEmail masks an email address for logging, keeping just enough to
// correlate entries: first character of the local part and the TLD.
func SanitizedEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	local := email[:at]
	domain := email[at+1:]

	masked := local[:1] + strings.Repeat("*", len(local)-1)

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return masked + "@" + strings.Join(labels, ".")
}

// SanitizeQueryString reports whether a raw query string carries any
// sensitive parameter and must be redacted wholesale.
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// Unparseable queries are redacted rather than logged raw
		return true
	}

	for key := range values {
		lower := strings.ToLower(key)
		for _, param := range sensitiveParams {
			if strings.Contains(lower, param) {
				return true
			}
		}
	}
	return false
}
