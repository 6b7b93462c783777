// Package cache implements the layered TTL cache fronting LLM calls and
// warehouse queries: a shared key-value backend (Redis) with a bounded
// in-process fallback.
package cache

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// SchemaKey returns the cache key for a data source's schema.
// Bit-exact contract: sha256("schema|" + dataSourceID) truncated to 32 hex chars.
func SchemaKey(dataSourceID string) string {
	sum := sha256.Sum256([]byte("schema|" + dataSourceID))
	return hex.EncodeToString(sum[:])[:32]
}

// QueryKey returns the cache key for a query result.
// Bit-exact contract: sha256("q|" + dataSourceID + "|" + NormalizeSQL(sql)).
func QueryKey(dataSourceID, sql string) string {
	sum := sha256.Sum256([]byte("q|" + dataSourceID + "|" + NormalizeSQL(sql)))
	return hex.EncodeToString(sum[:])
}

// AIKey returns the cache key for an LLM response.
// Bit-exact contract: md5(prompt + ":" + contextFingerprint + ":" + conversationID).
// The conversation id keeps cached responses isolated per conversation.
func AIKey(prompt, contextFingerprint, conversationID string) string {
	sum := md5.Sum([]byte(prompt + ":" + contextFingerprint + ":" + conversationID))
	return hex.EncodeToString(sum[:])
}

// NormalizeSQL produces the canonical form used for query cache keys:
// keywords lowercased (text outside string literals and quoted identifiers),
// whitespace collapsed to single spaces, trailing semicolons stripped.
// The function is deterministic: equal normalized inputs produce equal keys.
func NormalizeSQL(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	lastSpace := false

	for _, ch := range sql {
		switch state {
		case stateNormal:
			if unicode.IsSpace(ch) {
				if !lastSpace && b.Len() > 0 {
					b.WriteByte(' ')
					lastSpace = true
				}
				continue
			}
			lastSpace = false
			switch ch {
			case '\'':
				state = stateSingleQuote
				b.WriteRune(ch)
			case '"':
				state = stateDoubleQuote
				b.WriteRune(ch)
			default:
				b.WriteRune(unicode.ToLower(ch))
			}
		case stateSingleQuote:
			b.WriteRune(ch)
			if ch == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			b.WriteRune(ch)
			if ch == '"' {
				state = stateNormal
			}
		}
	}

	out := strings.TrimSpace(b.String())
	for strings.HasSuffix(out, ";") {
		out = strings.TrimSpace(strings.TrimSuffix(out, ";"))
	}
	return out
}
