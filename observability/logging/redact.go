package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces credential values in log output.
const RedactedValue = "[REDACTED]"

// Keys whose values are credentials wherever they appear. NewHandler masks
// them even when a caller forgets MaskField.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"bearer":        {},
	"jwtsecret":     {},
	"secret":        {},
	"dsn":           {},
}

// Keys that carry call bookkeeping, never caller secrets.
var redactionAllowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"message":    {},
	"severity":   {},
	"timestamp":  {},
	"error":      {},
	"callid":     {},
	"entrypoint": {},
	"caller":     {},
	"blocktime":  {},
	"outcome":    {},
	"code":       {},
	"events":     {},
	"method":     {},
	"path":       {},
	"status":     {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsAllowlisted reports whether key is emitted as is by MaskField.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[normalizeKey(key)]
	return ok
}

// IsSensitive reports whether key always holds a credential.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// RedactionAllowlist returns the allowlisted keys, sorted.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue hides a non-empty value. Empty values pass through so a log line
// still shows that nothing was supplied.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns key with its value masked unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// redactAttr masks string attributes under sensitive keys.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
