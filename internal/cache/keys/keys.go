// Package keys derives cache keys for image service responses.
package keys

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "clipship"

// Key identifies one response of op against endpoint. Parameters are hashed
// in canonical order; the where clause is whitespace-normalized first so
// spacing variants share an entry.
func Key(op, endpoint string, params url.Values) string {
	canon := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			if k == "where" {
				v = normalizeWhere(v)
			}
			canon.Add(k, v)
		}
	}
	sum := xxhash.Sum64String(canon.Encode())

	ep := sanitizeForKey(trimScheme(strings.TrimSpace(endpoint)))
	const maxEndpointLen = 160
	if len(ep) > maxEndpointLen {
		ep = ep[len(ep)-maxEndpointLen:]
	}
	return fmt.Sprintf("%s:%s:%s:q=%016x", prefix, sanitizeForKey(op), ep, sum)
}

var punctSpace = regexp.MustCompile(`\s*([=<>!\.,\(\)])\s*`)

// normalizeWhere collapses whitespace around SQL punctuation. Quoted string
// literals are kept byte for byte.
func normalizeWhere(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for s != "" {
		i := strings.IndexByte(s, '\'')
		if i < 0 {
			b.WriteString(normalizeClause(s))
			break
		}
		b.WriteString(normalizeClause(s[:i]))
		end := literalEnd(s, i)
		b.WriteString(s[i:end])
		s = s[end:]
	}
	return strings.TrimSpace(b.String())
}

func normalizeClause(s string) string {
	return punctSpace.ReplaceAllString(collapseASCIIWhitespace(s), "$1")
}

// literalEnd returns the index just past the literal opening at start. A
// doubled quote is an escaped quote; an unterminated literal runs to the end.
func literalEnd(s string, start int) int {
	for j := start + 1; j < len(s); j++ {
		if s[j] != '\'' {
			continue
		}
		if j+1 < len(s) && s[j+1] == '\'' {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

func trimScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		return s[i+3:]
	}
	return s
}

// sanitizeForKey keeps [A-Za-z0-9:_-], maps '/' to ':' and anything else to
// '-', collapsing repeats.
func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range strings.ToLower(s) {
		var out rune
		switch {
		case r == '/':
			out = ':'
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-' || out == ':') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return strings.Trim(b.String(), ":")
}

func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
