package codehealth

import "strings"

// isSafeUnwrap reports whether a .unwrap()/.expect() call sits in a
// known-safe context: a string literal mentioning it, a static/const
// initializer that cannot fail at runtime, or Mutex/RwLock/channel
// operations where the alternative (propagating the error) isn't
// meaningfully more correct.
func isSafeUnwrap(line string) bool {
	trimmed := strings.TrimSpace(line)

	if strings.Contains(trimmed, `".unwrap()`) || strings.Contains(trimmed, `".expect(`) {
		return true
	}
	if strings.Contains(trimmed, `'.unwrap()`) || strings.Contains(trimmed, `'.expect(`) {
		return true
	}

	if strings.Contains(trimmed, "Selector::parse(") || strings.Contains(trimmed, "Regex::new(") {
		return true
	}

	if strings.Contains(trimmed, ".lock().unwrap()") ||
		strings.Contains(trimmed, ".lock().expect(") ||
		strings.Contains(trimmed, ".read().unwrap()") ||
		strings.Contains(trimmed, ".read().expect(") ||
		strings.Contains(trimmed, ".write().unwrap()") ||
		strings.Contains(trimmed, ".write().expect(") {
		return true
	}

	if strings.Contains(trimmed, ".send(") && (strings.Contains(trimmed, ".unwrap()") || strings.Contains(trimmed, ".expect(")) {
		return true
	}

	if strings.Contains(trimmed, "set_language(") {
		return true
	}

	return false
}
