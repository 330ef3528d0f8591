package codehealth

import "strings"

// checkErrorPattern inspects a trimmed line for one of three problematic
// error-handling shapes. Returns (severity, pattern, description, ok).
func checkErrorPattern(line string) (severity, pattern, description string, ok bool) {
	if strings.Contains(line, "let _ =") &&
		(strings.Contains(line, "execute(") || strings.Contains(line, "insert(") ||
			strings.Contains(line, "update(") || strings.Contains(line, "delete(")) {
		return "high", "silent_db", "DB operation result silently discarded", true
	}

	if strings.Contains(line, ".ok()") && !strings.Contains(line, ".ok()?") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ".") {
			return "", "", "", false
		}

		if strings.Contains(line, "env::var") || strings.Contains(line, "read_to_string") ||
			strings.Contains(line, "from_str") || strings.Contains(line, "parse::<") ||
			strings.Contains(line, "parse()") {
			return "", "", "", false
		}

		if !strings.Contains(line, ".ok().") && !strings.Contains(line, ".ok()?") {
			return "medium", "ok_swallow", ".ok() may be swallowing important errors", true
		}
	}

	if strings.Contains(line, "let _ =") && strings.Contains(line, ".send(") && !strings.Contains(line, "// ") {
		return "low", "send_ignore", "Channel send error ignored (receiver may have dropped)", true
	}

	return "", "", "", false
}

// isAcceptableErrorSwallow reports whether an error-swallowing pattern
// matched by checkErrorPattern is, in context, acceptable: logged before
// discard, explicitly commented as intentional, part of a filter operation,
// chained with explicit fallback handling, or a conventional Option-returning
// "get" accessor.
func isAcceptableErrorSwallow(line string) bool {
	if strings.Contains(line, "error!") || strings.Contains(line, "warn!") || strings.Contains(line, "tracing::") {
		return true
	}

	if strings.Contains(line, "// intentional") || strings.Contains(line, "// ignore") || strings.Contains(line, "// ok to fail") {
		return true
	}

	if strings.Contains(line, "filter_map") || strings.Contains(line, "filter(|") {
		return true
	}

	if strings.Contains(line, ".ok().flatten()") || strings.Contains(line, ".ok().unwrap_or") ||
		strings.Contains(line, ".ok().map(") || strings.Contains(line, ".ok().and_then(") {
		return true
	}

	if strings.Contains(line, ".get_") && strings.Contains(line, ".ok()") {
		return true
	}

	return false
}
