package nats

import (
	"encoding/base64"
	"strings"
)

// aggregateToken maps an aggregate id to a string usable as both a subject
// token and a KV key. Ids made of [A-Za-z0-9_-] are used as is; any other id
// is base64url encoded behind a "=" marker, which plain ids never contain.
func aggregateToken(aggregateID string) string {
	if isPlainToken(aggregateID) {
		return aggregateID
	}
	return "=" + base64.RawURLEncoding.EncodeToString([]byte(aggregateID))
}

func isPlainToken(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return false
		}
		return true
	}) < 0
}

func aggregateSubject(prefix, aggregateID string) string {
	return prefix + "." + aggregateToken(aggregateID)
}
