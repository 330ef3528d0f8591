package codehealth

import (
	"strings"
	"unicode"
)

// isCfgTest reports whether line contains a #[cfg(...)] attribute that
// gates test-only code. "test" appearing only inside a not(...) block marks
// production-only code (e.g. #[cfg(not(test))]), so that does not count.
func isCfgTest(line string) bool {
	line = strings.TrimSpace(line)
	searchStart := 0

	for {
		idx := strings.Index(line[searchStart:], "#[cfg(")
		if idx < 0 {
			return false
		}
		cfgStart := searchStart + idx
		pos := cfgStart + len("#[cfg(")
		parenCount := 1

		for pos < len(line) {
			switch line[pos] {
			case '(':
				parenCount++
			case ')':
				parenCount--
				if parenCount == 0 {
					if pos+1 < len(line) && line[pos+1] == ']' {
						content := line[cfgStart+len("#[cfg(") : pos]
						if hasPositiveTest(content) {
							return true
						}
					}
				}
			}
			if parenCount == 0 {
				break
			}
			pos++
		}

		searchStart = cfgStart + 1
	}
}

// hasPositiveTest reports whether "test" appears in a cfg expression as a
// bare predicate: not inside a not(...) sub-expression, and not inside a
// quoted string literal like feature = "test".
func hasPositiveTest(expr string) bool {
	stripped := stripNotBlocks(expr)
	unquoted := stripQuotedStrings(stripped)

	for _, part := range strings.FieldsFunc(unquoted, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_'
	}) {
		if part == "test" {
			return true
		}
	}
	return false
}

// stripNotBlocks removes every not(...) sub-expression, tolerating optional
// whitespace between "not" and "(".
func stripNotBlocks(s string) string {
	var result strings.Builder
	i := 0
	for i < len(s) {
		if i+3 <= len(s) && s[i:i+3] == "not" {
			j := i + 3
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && s[j] == '(' {
				j++
				depth := 1
				for j < len(s) && depth > 0 {
					switch s[j] {
					case '(':
						depth++
					case ')':
						depth--
					}
					j++
				}
				i = j
				continue
			}
		}
		result.WriteByte(s[i])
		i++
	}
	return result.String()
}

// stripQuotedStrings blanks out the contents of quoted strings so token
// matching can't accidentally match inside them, e.g. feature = "test".
func stripQuotedStrings(s string) string {
	var result strings.Builder
	inQuote := false
	for _, c := range s {
		if c == '"' {
			inQuote = !inQuote
			result.WriteRune(c)
		} else if !inQuote {
			result.WriteRune(c)
		}
	}
	return result.String()
}
