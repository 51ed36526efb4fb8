package sink

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// SanitizeTerminal replaces control characters and invalid UTF-8 with
// visible escapes. Tabs and newlines are kept.
//   - "hi\x1b[31mred" -> `hi\x1b[31mred`
//   - "bad:\xff"      -> `bad:\xff`
func SanitizeTerminal(s string) string {
	idx := 0
	for idx < len(s) {
		r, size := utf8.DecodeRuneInString(s[idx:])
		if r == utf8.RuneError && size == 1 {
			break
		}
		if r != '\n' && r != '\t' && unicode.IsControl(r) {
			break
		}
		idx += size
	}
	if idx == len(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	b.WriteString(s[:idx])

	for idx < len(s) {
		r, size := utf8.DecodeRuneInString(s[idx:])
		switch {
		case r == utf8.RuneError && size == 1:
			escapeByte(&b, s[idx])
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
			escapeRune(&b, r)
		default:
			b.WriteString(s[idx : idx+size])
		}
		idx += size
	}
	return b.String()
}

func escapeByte(b *strings.Builder, c byte) {
	b.WriteString(`\x`)
	b.WriteByte(hexDigits[c>>4])
	b.WriteByte(hexDigits[c&0x0f])
}

// Control runes are either C0/C1 (one byte escape) or in the BMP.
func escapeRune(b *strings.Builder, r rune) {
	if r <= 0xFF {
		escapeByte(b, byte(r))
		return
	}
	b.WriteString(`\u`)
	for shift := 12; shift >= 0; shift -= 4 {
		b.WriteByte(hexDigits[(r>>uint(shift))&0x0f])
	}
}
