package capture

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// action is a candidate memory-fact write produced from a single tool call.
type action struct {
	key      string
	content  string
	category string
}

func stringArg(input map[string]any, key string) (string, bool) {
	v, ok := input[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func timestampMinute() int64 {
	return time.Now().Unix() / 60
}

var fileActionSkipPatterns = []string{"/tmp/", "node_modules", ".git/", "target/"}

func extractFileAction(toolName, filePath string) *action {
	for _, p := range fileActionSkipPatterns {
		if strings.Contains(filePath, p) {
			return nil
		}
	}

	verb := "Created"
	if toolName == "Edit" {
		verb = "Edited"
	}

	return &action{
		key:      "file-" + filePath,
		content:  fmt.Sprintf("%s file: %s", verb, filepath.Base(filePath)),
		category: "session_activity",
	}
}

// significantCommands maps a bash command substring to a human-readable
// description. go build/test/get/vet are a generalization of the original
// set (which tracked cargo/npm/pip/docker but predates a Go toolchain for
// this project) to the same "significant command" idea.
var significantCommands = []struct{ pattern, description string }{
	{"git commit", "Made git commit"},
	{"git push", "Pushed to remote"},
	{"git pull", "Pulled from remote"},
	{"git checkout", "Switched branch"},
	{"git merge", "Merged branch"},
	{"git rebase", "Rebased branch"},
	{"go build", "Built Go project"},
	{"go test", "Ran Go tests"},
	{"go get", "Added Go dependency"},
	{"go vet", "Ran Go vet"},
	{"cargo build", "Built Rust project"},
	{"cargo test", "Ran Rust tests"},
	{"cargo add", "Added Rust dependency"},
	{"cargo clippy", "Ran Rust linter"},
	{"npm install", "Installed npm packages"},
	{"npm run build", "Built npm project"},
	{"npm run test", "Ran npm tests"},
	{"yarn add", "Added yarn package"},
	{"pip install", "Installed Python package"},
	{"pytest", "Ran Python tests"},
	{"python -m", "Ran Python module"},
	{"docker build", "Built Docker image"},
	{"docker-compose up", "Started Docker services"},
	{"docker run", "Ran Docker container"},
	{"systemctl", "Modified system service"},
	{"make", "Ran make"},
}

func extractBashAction(input map[string]any) *action {
	command, ok := stringArg(input, "command")
	if !ok {
		return nil
	}

	for _, sc := range significantCommands {
		if !strings.Contains(command, sc.pattern) {
			continue
		}
		detail := command
		if len(detail) > 50 {
			detail = detail[:50] + "..."
		}
		return &action{
			key:      fmt.Sprintf("cmd-%s-%d", sc.pattern, timestampMinute()),
			content:  fmt.Sprintf("%s: %s", sc.description, detail),
			category: "session_activity",
		}
	}
	return nil
}

func extractTaskAction(input map[string]any) *action {
	prompt, ok := stringArg(input, "prompt")
	if !ok || len(prompt) < 50 {
		return nil
	}
	subagentType, ok := stringArg(input, "subagent_type")
	if !ok || subagentType == "" {
		subagentType = "unknown"
	}

	summary := prompt
	if len(summary) > 100 {
		summary = summary[:100] + "..."
	}

	return &action{
		key:      fmt.Sprintf("task-%s-%d", subagentType, timestampMinute()),
		content:  fmt.Sprintf("Spawned %s agent: %s", subagentType, summary),
		category: "session_activity",
	}
}

var grepSkipPatterns = []string{"TODO", "FIXME", "import", "use ", "from "}

func extractGrepAction(input map[string]any) *action {
	pattern, ok := stringArg(input, "pattern")
	if !ok || len(pattern) < 4 {
		return nil
	}
	for _, s := range grepSkipPatterns {
		if strings.Contains(pattern, s) {
			return nil
		}
	}

	display := pattern
	if len(display) > 40 {
		display = display[:37] + "..."
	}

	return &action{
		key:      fmt.Sprintf("grep-%d", timestampMinute()),
		content:  "Searched for: " + display,
		category: "research",
	}
}

func extractSearchAction(input map[string]any) *action {
	query, ok := stringArg(input, "query")
	if !ok {
		return nil
	}

	display := query
	if len(display) > 60 {
		display = display[:57] + "..."
	}

	return &action{
		key:      fmt.Sprintf("websearch-%d", timestampMinute()),
		content:  "Web search: " + display,
		category: "research",
	}
}

var workingDocSkipPatterns = []string{
	"/node_modules/", "/.git/", "/target/", "/dist/", "/build/",
	"/.venv/", "/venv/", "/__pycache__/", "/tmp/", "CHANGELOG", "LICENSE",
}

var workingDocExtensions = map[string]bool{
	"md": true, "txt": true, "markdown": true, "rst": true, "org": true,
}

var workingDocNames = map[string]bool{
	"PLAN": true, "TODO": true, "NOTES": true, "SCRATCH": true, "DRAFT": true,
	"WIP": true, "RESEARCH": true, "ANALYSIS": true, "DESIGN": true,
	"SPEC": true, "README": true, "SUMMARY": true,
}

// isWorkingDoc reports whether path is a document worth tracking for
// seamless resume: a known doc extension, or an extensionless file whose
// basename is a known working-doc name. Code files are never working docs.
func isWorkingDoc(path string) bool {
	for _, p := range workingDocSkipPatterns {
		if strings.Contains(path, p) {
			return false
		}
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext != "" {
		return workingDocExtensions[ext]
	}

	base := strings.ToUpper(filepath.Base(path))
	return workingDocNames[base]
}
