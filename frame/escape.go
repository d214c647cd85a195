package frame

import (
	"strings"
)

// Header escaping.
//
// STOMP 1.0 defines no escaping at all: a colon or newline inside a header
// value is undefined behavior, and this layer passes the bytes through
// verbatim. 1.1 introduces backslash escaping for backslash, line feed and
// colon; 1.2 adds carriage return. The escape table applies to both keys
// and values.
var (
	escapeV11 = strings.NewReplacer(
		"\\", "\\\\",
		"\n", "\\n",
		":", "\\c",
	)
	escapeV12 = strings.NewReplacer(
		"\\", "\\\\",
		"\r", "\\r",
		"\n", "\\n",
		":", "\\c",
	)
)

// escapeHeader encodes one header key or value for the given revision.
func escapeHeader(v Protocol, s string) string {
	switch v {
	case V11:
		return escapeV11.Replace(s)
	case V12:
		return escapeV12.Replace(s)
	default:
		return s
	}
}

// unescapeHeader decodes one header key or value. Unlike encoding, decoding
// cannot use a Replacer: an undefined escape sequence must be rejected, not
// passed through. STOMP 1.1, "Value Encoding": "Undefined escape sequences
// such as \t MUST be treated as a fatal protocol error."
func unescapeHeader(v Protocol, s string) (string, error) {
	if v == V10 || !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", ErrInvalidEscape
		}
		switch s[i] {
		case '\\':
			sb.WriteByte('\\')
		case 'n':
			sb.WriteByte('\n')
		case 'c':
			sb.WriteByte(':')
		case 'r':
			if v != V12 {
				return "", ErrInvalidEscape
			}
			sb.WriteByte('\r')
		default:
			return "", ErrInvalidEscape
		}
	}
	return sb.String(), nil
}
