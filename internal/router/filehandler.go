package router

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mirabackend/mira/internal/apperror"
)

const (
	defaultReadOffset = 0
	defaultReadLimit  = 500
	maxLineChars      = 500
	headPreviewLines  = 100
	tailPreviewLines  = 50
)

var defaultIgnoredDirs = map[string]bool{
	".git":        true,
	"node_modules": true,
	"target":       true,
	".next":        true,
	"dist":         true,
	"build":        true,
}

// FileHandler owns a base project directory and, per project, an optional
// override directory. Reads dominate so the override map is guarded by a
// read-write mutex.
type FileHandler struct {
	baseDir string

	mu        sync.RWMutex
	overrides map[string]string // projectID -> base dir override
}

// NewFileHandler creates a file handler rooted at baseDir.
func NewFileHandler(baseDir string) *FileHandler {
	return &FileHandler{baseDir: baseDir, overrides: make(map[string]string)}
}

// SetProjectDir overrides the effective base directory for a project.
func (h *FileHandler) SetProjectDir(projectID, dir string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.overrides[projectID] = dir
}

func (h *FileHandler) baseFor(projectID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if projectID != "" {
		if dir, ok := h.overrides[projectID]; ok {
			return dir
		}
	}
	return h.baseDir
}

// ReadFile implements the read_file contract: offset=0/limit=500 defaults,
// whole-file return when it fits, exact slice on explicit range, and a
// head+tail preview when the file overruns the default limit untouched.
func (h *FileHandler) ReadFile(projectID, path string, offset, limit *int) (map[string]any, error) {
	full, err := resolvePath(h.baseFor(projectID), path, false)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "read_file: "+path, err)
	}

	lines := splitLines(string(raw))
	totalLines := len(lines)
	totalChars := len(raw)

	explicitRange := offset != nil || limit != nil
	off := defaultReadOffset
	if offset != nil {
		off = *offset
	}
	lim := defaultReadLimit
	if limit != nil {
		lim = *limit
	}

	result := map[string]any{
		"path":        path,
		"total_lines": totalLines,
		"total_chars": totalChars,
	}

	if !explicitRange && totalLines <= defaultReadLimit {
		result["content"] = joinTruncatedLines(lines)
		return result, nil
	}

	if explicitRange {
		end := off + lim
		if end > totalLines {
			end = totalLines
		}
		if off > totalLines {
			off = totalLines
		}
		slice := lines[off:end]
		result["content"] = joinTruncatedLines(slice)
		result["message"] = fmt.Sprintf("showing lines [%d, %d) of %d", off, end, totalLines)
		if off > 0 || end < totalLines {
			result["truncated"] = true
		}
		return result, nil
	}

	// No explicit range but the file overruns the default limit: head+tail preview.
	head := lines
	if len(head) > headPreviewLines {
		head = head[:headPreviewLines]
	}
	tailStart := totalLines - tailPreviewLines
	if tailStart < headPreviewLines {
		tailStart = headPreviewLines
	}
	var tail []string
	if tailStart < totalLines {
		tail = lines[tailStart:]
	}

	var sb strings.Builder
	sb.WriteString(joinTruncatedLines(head))
	sb.WriteString(fmt.Sprintf("\n... [%d lines omitted] ...\n", totalLines-len(head)-len(tail)))
	sb.WriteString(joinTruncatedLines(tail))

	result["content"] = sb.String()
	result["truncated"] = true
	result["truncation_message"] = fmt.Sprintf(
		"file has %d lines; showing first %d and last %d", totalLines, len(head), len(tail))
	return result, nil
}

func readFileBytes(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func joinTruncatedLines(lines []string) string {
	out := make([]string, len(lines))
	for i, l := range lines {
		if len(l) > maxLineChars {
			out[i] = l[:maxLineChars] + " ... [line truncated]"
		} else {
			out[i] = l
		}
	}
	return strings.Join(out, "\n")
}

// WriteFile implements write_file: sandboxed unless unrestricted, creates
// parent directories, and reports bytes/lines written.
func (h *FileHandler) WriteFile(projectID, path, content string, unrestricted bool) (map[string]any, error) {
	full, err := resolvePath(h.baseFor(projectID), path, unrestricted)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, apperror.Wrap(apperror.IoError, "write_file: mkdir "+path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, apperror.Wrap(apperror.IoError, "write_file: "+path, err)
	}

	return map[string]any{
		"success":       true,
		"path":          path,
		"bytes_written": len(content),
		"lines_written": len(splitLines(content)),
	}, nil
}

// EditFile implements edit_file: a literal, not regex, search-and-replace
// over every occurrence in the file.
func (h *FileHandler) EditFile(projectID, path, search, replace string) (map[string]any, error) {
	full, err := resolvePath(h.baseFor(projectID), path, false)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "edit_file: read "+path, err)
	}

	content := string(raw)
	count := strings.Count(content, search)
	if count == 0 {
		return nil, apperror.New(apperror.SearchNotFound, "search string not found in "+path)
	}

	updated := strings.ReplaceAll(content, search, replace)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return nil, apperror.Wrap(apperror.IoError, "edit_file: write "+path, err)
	}

	return map[string]any{
		"success":         true,
		"path":            path,
		"replacements":    count,
	}, nil
}

// ListFiles implements list_files per the directory/pattern/recursive contract.
func (h *FileHandler) ListFiles(projectID, directory, pattern string, recursive bool) (map[string]any, error) {
	full, err := resolvePath(h.baseFor(projectID), directory, false)
	if err != nil {
		return nil, err
	}

	var files []string

	if pattern != "" {
		var glob string
		if recursive {
			glob = filepath.Join(full, "**", pattern)
		} else {
			glob = filepath.Join(full, pattern)
		}
		matches, err := doublestar.FilepathGlob(filepath.ToSlash(glob))
		if err != nil {
			return nil, apperror.Wrap(apperror.IoError, "list_files: glob "+pattern, err)
		}
		for _, m := range matches {
			rel, err := filepath.Rel(full, m)
			if err != nil {
				continue
			}
			files = append(files, rel)
		}
	} else {
		err := filepath.WalkDir(full, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == full {
				return nil
			}
			if d.IsDir() {
				if defaultIgnoredDirs[d.Name()] {
					return filepath.SkipDir
				}
				if !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			rel, relErr := filepath.Rel(full, p)
			if relErr != nil {
				return nil
			}
			files = append(files, rel)
			return nil
		})
		if err != nil {
			return nil, apperror.Wrap(apperror.IoError, "list_files: walk "+directory, err)
		}
	}

	return map[string]any{
		"directory": directory,
		"files":     files,
		"count":     len(files),
	}, nil
}

type grepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// GrepFiles implements grep_files: a native regex search over a glob of
// candidate files, not a shelled-out ripgrep invocation.
func (h *FileHandler) GrepFiles(projectID, pattern, path, filePattern string, caseInsensitive bool) (map[string]any, error) {
	base := h.baseFor(projectID)
	if path != "" {
		resolved, err := resolvePath(base, path, false)
		if err != nil {
			return nil, err
		}
		base = resolved
	}

	reSrc := pattern
	if caseInsensitive {
		reSrc = "(?i)" + reSrc
	}
	re, err := regexp.Compile(reSrc)
	if err != nil {
		return nil, apperror.Wrap(apperror.ParseError, "grep_files: invalid pattern", err)
	}

	if filePattern == "" {
		filePattern = "*"
	}
	glob := filepath.ToSlash(filepath.Join(base, "**", filePattern))
	candidates, err := doublestar.FilepathGlob(glob)
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "grep_files: glob", err)
	}

	var matches []grepMatch
	searched := 0
	for _, file := range candidates {
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			continue
		}
		searched++

		f, err := os.Open(file)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(base, file)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, grepMatch{File: rel, Line: lineNum, Content: line})
			}
		}
		f.Close()
	}

	return map[string]any{
		"matches":        matches,
		"files_searched": searched,
		"match_count":    len(matches),
	}, nil
}

// SummarizeFile returns a head/tail preview plus simple structural detectors.
func (h *FileHandler) SummarizeFile(projectID, path string, previewLines int) (map[string]any, error) {
	if previewLines <= 0 {
		previewLines = 20
	}

	full, err := resolvePath(h.baseFor(projectID), path, false)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "summarize_file: "+path, err)
	}
	content := string(raw)
	lines := splitLines(content)

	head := lines
	if len(head) > previewLines {
		head = head[:previewLines]
	}
	tail := lines
	if len(tail) > previewLines {
		tail = tail[len(tail)-previewLines:]
	}

	return map[string]any{
		"path":         path,
		"total_lines":  len(lines),
		"head":         strings.Join(head, "\n"),
		"tail":         strings.Join(tail, "\n"),
		"has_imports":  hasAny(content, "import ", "use ", "require(", "#include"),
		"has_exports":  hasAny(content, "export ", "pub fn", "pub struct", "module.exports"),
		"has_classes":  hasAny(content, "class ", "struct ", "impl "),
		"has_functions": hasAny(content, "func ", "fn ", "function ", "def "),
	}, nil
}

func hasAny(content string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(content, n) {
			return true
		}
	}
	return false
}

// CountLines implements count_lines over a set of paths, collecting a
// per-file result or error and never failing the whole batch.
func (h *FileHandler) CountLines(projectID string, paths []string) map[string]map[string]any {
	out := make(map[string]map[string]any, len(paths))
	for _, path := range paths {
		full, err := resolvePath(h.baseFor(projectID), path, false)
		if err != nil {
			out[path] = map[string]any{"error": err.Error()}
			continue
		}
		raw, err := os.ReadFile(full)
		if err != nil {
			out[path] = map[string]any{"error": err.Error()}
			continue
		}
		content := string(raw)
		out[path] = map[string]any{
			"lines": len(splitLines(content)),
			"chars": len(content),
			"words": len(strings.Fields(content)),
		}
	}
	return out
}
