// Package util holds small helpers shared by logging and request handling.
package util

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the cleaned DATA_DIR environment variable, or "" when unset.
// Relative log files are placed under it.
func DataDir() string {
	value := strings.TrimSpace(os.Getenv("DATA_DIR"))
	if value == "" {
		return ""
	}
	return filepath.Clean(value)
}

// MaskSecret keeps only the ends of a secret so it can be logged.
func MaskSecret(secret string) string {
	n := len(secret)
	switch {
	case n > 8:
		return secret[:4] + "..." + secret[n-4:]
	case n > 4:
		return secret[:2] + "..." + secret[n-2:]
	case n > 2:
		return secret[:1] + "..." + secret[n-1:]
	default:
		return secret
	}
}

// sensitiveParams are query parameters carrying tokens or credentials.
var sensitiveParams = []string{"token", "secret", "password", "code", "key"}

// MaskSensitiveQuery masks verification tokens, reset tokens, payment intent
// client secrets and similar values in a raw query string. Parameter order and
// untouched pairs are preserved.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	changed := false
	for i, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if !found || !isSensitiveParam(name) {
			continue
		}
		if decoded, errUnescape := url.QueryUnescape(value); errUnescape == nil {
			value = decoded
		}
		pairs[i] = name + "=" + url.QueryEscape(MaskSecret(strings.TrimSpace(value)))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(pairs, "&")
}

func isSensitiveParam(name string) bool {
	if decoded, errUnescape := url.QueryUnescape(name); errUnescape == nil {
		name = decoded
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for _, marker := range sensitiveParams {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
