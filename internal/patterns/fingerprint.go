package patterns

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Normalization regexes applied in order to strip dynamic content from a raw
// error message before fingerprinting, exactly matching the original
// engine's substitution sequence: absolute paths, line:col positions, runs
// of 2+ digits, long hex runs (hashes/IDs), then long quoted strings.
var (
	rePath    = regexp.MustCompile(`(/[\w./-]+)+\.\w+`)
	reLineCol = regexp.MustCompile(`:\d+:\d+`)
	reNumbers = regexp.MustCompile(`\b\d{2,}\b`)
	reHex     = regexp.MustCompile(`[0-9a-f]{8,}`)
	reDQuote  = regexp.MustCompile(`"[^"]{20,}"`)
	reBTick   = regexp.MustCompile("`[^`]{20,}`")
)

// Fingerprint normalizes a raw error message and hashes "<tool>:<template>"
// to a 16-hex digest. Returns (fingerprint, normalized template).
func Fingerprint(toolName, rawError string) (fingerprint, template string) {
	normalized := strings.ToLower(rawError)
	normalized = rePath.ReplaceAllString(normalized, "<PATH>")
	normalized = reLineCol.ReplaceAllString(normalized, ":<N>:<N>")
	normalized = reNumbers.ReplaceAllString(normalized, "<N>")
	normalized = reHex.ReplaceAllString(normalized, "<ID>")
	normalized = reDQuote.ReplaceAllString(normalized, "<STR>")
	normalized = reBTick.ReplaceAllString(normalized, "<STR>")

	template = strings.TrimSpace(normalized)

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", toolName, template)))
	fingerprint = hex.EncodeToString(sum[:])[:16]
	return fingerprint, template
}
