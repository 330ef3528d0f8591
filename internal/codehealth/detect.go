// Package codehealth implements the single-pass Rust code-health detector:
// TODO/FIXME markers, unimplemented stubs, risky unwraps, and error-swallowing
// patterns, each capped per scan and written as TTL-bound observations.
package codehealth

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Per-class caps on findings stored per scan.
const (
	maxTODOFindings          = 50
	maxUnimplementedFindings = 20
	maxUnwrapFindings        = 30
	maxErrorHandlingFindings = 20
)

// Confidence levels attached to each finding class.
const (
	confidenceTODO          = 0.7
	confidenceUnimplemented = 0.8
	confidenceUnwrapHigh    = 0.85
	confidenceUnwrapMedium  = 0.7
	confidenceErrorHigh     = 0.8
	confidenceErrorLow      = 0.6
)

var (
	reTODO          = regexp.MustCompile(`(TODO|FIXME|HACK|XXX)(\([^)]+\))?:`)
	reUnimplemented = regexp.MustCompile(`(unimplemented!|todo!)\s*\(`)
)

// skipDirs lists the build, vendor, cache, editor and virtualenv directories
// the scan does not descend into.
var skipDirs = map[string]bool{
	"node_modules": true, "__pycache__": true, ".git": true, "dist": true,
	"build": true, "target": true, "vendor": true, ".idea": true,
	".vscode": true, ".cache": true, "cache": true, "tmp": true, "temp": true,
	".venv": true, "venv": true, "env": true,
}

// Finding is one collected code-health observation, ready for storage.
type Finding struct {
	Key        string
	Content    string
	Category   string
	Confidence float64
}

// Results tallies findings collected per class during a scan.
type Results struct {
	TODOs         int
	Unimplemented int
	Unwraps       int
	ErrorHandling int
}

func (r Results) allMaxed() bool {
	return r.TODOs >= maxTODOFindings &&
		r.Unimplemented >= maxUnimplementedFindings &&
		r.Unwraps >= maxUnwrapFindings &&
		r.ErrorHandling >= maxErrorHandlingFindings
}

// Output is the full result of a scan: counts plus the findings to store.
type Output struct {
	Results  Results
	Findings []Finding
}

// walkRustFiles returns every .rs file under root, skipping common
// vendor/build/cache directories.
func walkRustFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".rs") {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Collect scans every Rust file under projectPath once, applying all four
// detectors per line, and returns the collected findings without writing
// anything to storage.
func Collect(projectPath string) (*Output, error) {
	files, err := walkRustFiles(projectPath)
	if err != nil {
		return nil, err
	}

	var r Results
	var findings []Finding

	for _, file := range files {
		if r.allMaxed() {
			break
		}

		skipTestFile := strings.Contains(file, string(filepath.Separator)+"tests"+string(filepath.Separator)) ||
			strings.HasPrefix(file, "tests"+string(filepath.Separator)) ||
			strings.HasSuffix(file, "_test.rs")

		data, err := os.ReadFile(filepath.Join(projectPath, file))
		if err != nil {
			continue
		}

		scanFile(file, string(data), skipTestFile, &r, &findings)
	}

	return &Output{Results: r, Findings: findings}, nil
}

func scanFile(file, content string, skipTestFile bool, r *Results, findings *[]Finding) {
	inTestModule := false
	braceDepth := 0
	testModuleStartDepth := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if isCfgTest(trimmed) {
			inTestModule = true
			testModuleStartDepth = braceDepth
		}
		braceDepth += strings.Count(line, "{")
		braceDepth -= strings.Count(line, "}")
		if braceDepth < 0 {
			braceDepth = 0
		}
		if inTestModule && braceDepth <= testModuleStartDepth && strings.Contains(trimmed, "}") {
			inTestModule = false
		}

		isComment := strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "/*") || strings.HasPrefix(trimmed, "*")

		if r.TODOs < maxTODOFindings && reTODO.MatchString(line) {
			*findings = append(*findings, Finding{
				Key:        keyFor("todo", file, lineNum),
				Content:    formatFinding("todo", file, lineNum, trimmed),
				Category:   "todo",
				Confidence: confidenceTODO,
			})
			r.TODOs++
		}

		if r.Unimplemented < maxUnimplementedFindings && !isComment && reUnimplemented.MatchString(line) {
			*findings = append(*findings, Finding{
				Key:        keyFor("unimplemented", file, lineNum),
				Content:    formatFinding("unimplemented", file, lineNum, trimmed),
				Category:   "unimplemented",
				Confidence: confidenceUnimplemented,
			})
			r.Unimplemented++
		}

		inTestFn := strings.HasPrefix(trimmed, "#[test]") || strings.HasPrefix(trimmed, "#[tokio::test]")

		if r.Unwraps < maxUnwrapFindings && !skipTestFile && !inTestModule && !inTestFn && !isComment {
			hasUnwrap := strings.Contains(line, ".unwrap()")
			hasExpect := strings.Contains(line, ".expect(")
			if (hasUnwrap || hasExpect) && !isSafeUnwrap(line) {
				severity, pattern := "high", "unwrap"
				confidence := confidenceUnwrapHigh
				if hasExpect {
					severity, pattern, confidence = "medium", "expect", confidenceUnwrapMedium
				}
				*findings = append(*findings, Finding{
					Key:        keyFor("unwrap", file, lineNum),
					Content:    fmt.Sprintf("[%s] .%s() at %s:%d - %s", severity, pattern, file, lineNum, truncate(trimmed, 100)),
					Category:   "unwrap",
					Confidence: confidence,
				})
				r.Unwraps++
			}
		}

		if r.ErrorHandling < maxErrorHandlingFindings && !skipTestFile && !inTestModule && !isComment {
			if severity, pattern, description, ok := checkErrorPattern(trimmed); ok && !isAcceptableErrorSwallow(trimmed) {
				confidence := confidenceErrorLow
				if severity == "high" {
					confidence = confidenceErrorHigh
				}
				*findings = append(*findings, Finding{
					Key:        fmt.Sprintf("health:error:%s:%s:%d", pattern, file, lineNum),
					Content:    fmt.Sprintf("[%s] %s at %s:%d - %s", severity, description, file, lineNum, truncate(trimmed, 80)),
					Category:   "error_handling",
					Confidence: confidence,
				})
				r.ErrorHandling++
			}
		}
	}
}

func keyFor(class, file string, line int) string {
	return fmt.Sprintf("health:%s:%s:%d", class, file, line)
}

func formatFinding(class, file string, line int, trimmed string) string {
	return fmt.Sprintf("[%s] %s:%d - %s", class, file, line, trimmed)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
