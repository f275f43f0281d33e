package logging

import (
	"net/url"
	"strings"
)

var sensitiveQueryKeys = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"client_secret": true,
	"code":          true,
	"password":      true,
	"accesstoken":   true,
	"sessionkey":    true,
}

// MaskURL hides credential-bearing query values so a URL can be logged.
// Unparseable input is replaced entirely.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	q := u.Query()
	changed := false
	for key := range q {
		if sensitiveQueryKeys[strings.ToLower(key)] {
			q.Set(key, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = strings.ReplaceAll(q.Encode(), "%2A%2A%2A", "***")
	}
	return u.String()
}
