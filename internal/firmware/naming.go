package firmware

import (
	"fmt"
	"strings"

	"aquaflash/internal/catalog"
)

// Filename returns "<sanitized-name>-<board suffix>.ino".
func Filename(deviceName string, board *catalog.Board) string {
	suffix := board.Suffix
	if suffix == "" {
		suffix = sanitize(board.ID)
	}
	return Sketchname(deviceName) + "-" + suffix + ".ino"
}

// Sketchname lower-cases name and collapses anything outside [a-z0-9]
// into single dashes, falling back to DefaultFilename.
func Sketchname(name string) string {
	if s := sanitize(name); s != "" {
		return s
	}
	return DefaultFilename
}

func sanitize(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// cQuote renders s as a C string literal. Only what C requires is escaped;
// control bytes use fixed-width octal so a following digit cannot extend them.
func cQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, `\%03o`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// commentSafe flattens s onto one line for use in a // comment.
func commentSafe(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
