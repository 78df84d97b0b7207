package codec

import "strings"

// fixableEscapes is the explicit allow-list of invalid escape characters
// the auto-fix pass will double up. These come from users pasting Windows
// paths or regular expressions into basic strings. Anything outside this
// list is left alone.
var fixableEscapes = map[byte]bool{
	'd': true,
	's': true,
	'w': true,
	'p': true,
	'x': true,
	'.': true,
	' ': true,
}

// validEscapes are the escape characters TOML basic strings accept.
var validEscapes = map[byte]bool{
	'b': true, 't': true, 'n': true, 'f': true, 'r': true,
	'"': true, '\\': true, 'u': true, 'U': true, 'e': true,
}

// quoteReplacer normalizes typographic quotes and non-breaking spaces that
// word processors introduce into hand-edited files.
var quoteReplacer = strings.NewReplacer(
	"“", `"`, // left double quotation mark
	"”", `"`, // right double quotation mark
	"„", `"`, // double low-9 quotation mark
	"‘", "'", // left single quotation mark
	"’", "'", // right single quotation mark
	" ", " ", // no-break space
)

// AutoFix applies the allow-listed repairs to a malformed file: doubling
// known-invalid backslash escapes inside basic strings, doubling a stray
// trailing backslash that swallowed the closing quote, and normalizing
// typographic quotes and non-breaking spaces. It reports whether anything
// changed. AutoFix is deliberately narrow; it is not a general TOML
// repairer and callers must re-parse to confirm the result.
func AutoFix(text []byte) ([]byte, bool) {
	normalized := quoteReplacer.Replace(string(text))
	fixed := fixEscapes(normalized)
	return []byte(fixed), fixed != string(text)
}

// fixEscapes doubles allow-listed invalid escapes inside basic strings.
// Literal (single-quoted) strings take no escapes and are skipped.
func fixEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inBasic := false
	inLiteral := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case inLiteral:
			b.WriteByte(c)
			if c == '\'' || c == '\n' {
				inLiteral = false
			}

		case inBasic:
			if c == '\\' && i+1 < len(s) {
				next := s[i+1]
				if next == '"' && closesLine(s, i+2) {
					// A pasted path ending in a backslash swallowed the
					// closing quote. Double the backslash so the quote
					// terminates the string again.
					b.WriteString(`\\"`)
					i++
					inBasic = false
					continue
				}
				if !validEscapes[next] && fixableEscapes[next] {
					b.WriteString(`\\`)
					b.WriteByte(next)
					i++
					continue
				}
				b.WriteByte(c)
				b.WriteByte(next)
				i++
				continue
			}
			b.WriteByte(c)
			if c == '"' || c == '\n' {
				inBasic = false
			}

		default:
			b.WriteByte(c)
			switch c {
			case '"':
				inBasic = true
			case '\'':
				inLiteral = true
			case '#':
				// Comment runs to end of line; copy it untouched.
				for i+1 < len(s) && s[i+1] != '\n' {
					i++
					b.WriteByte(s[i])
				}
			}
		}
	}

	return b.String()
}

// closesLine reports whether a quote just before position i would close
// its line: everything up to the newline is whitespace or a comment. An
// embedded escaped quote always has real content after it.
func closesLine(s string, i int) bool {
	for ; i < len(s) && s[i] != '\n'; i++ {
		switch s[i] {
		case ' ', '\t', '\r':
		case '#':
			return true
		default:
			return false
		}
	}
	return true
}
