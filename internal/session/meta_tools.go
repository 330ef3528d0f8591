package session

import "encoding/json"

// metaTool describes one tool the primary model can call, in the shape the
// LLM provider needs: a name, a one-line description, and a JSON Schema for
// its arguments. The set follows router.Router.dispatch's switch, except that
// dispatch also accepts "write_file", which is not offered here.
type metaTool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

func schemaObj(properties map[string]any, required ...string) json.RawMessage {
	obj := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		obj["required"] = required
	}
	out, _ := json.Marshal(obj)
	return out
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func arrProp(desc string, items map[string]any) map[string]any {
	return map[string]any{"type": "array", "description": desc, "items": items}
}

// metaTools is the full static tool surface exposed to the primary model.
var metaTools = []metaTool{
	{"read_project_file", "Read one or more files from the project, by path.",
		schemaObj(map[string]any{
			"path":   strProp("Single file path to read."),
			"paths":  arrProp("Multiple file paths to read.", strProp("")),
			"offset": intProp("Line offset to start reading from."),
			"limit":  intProp("Maximum number of lines to return."),
		})},
	{"write_project_file", "Write content to a file, creating it if it doesn't exist.",
		schemaObj(map[string]any{
			"path":    strProp("File path to write."),
			"content": strProp("Full file content."),
		}, "path", "content")},
	{"edit_project_file", "Replace a search string with a replacement in a file.",
		schemaObj(map[string]any{
			"path":    strProp("File path to edit."),
			"search":  strProp("Text to find."),
			"replace": strProp("Text to replace it with."),
		}, "path", "search")},
	{"search_codebase", "Search the codebase for a pattern, optionally scoped to a path or file glob.",
		schemaObj(map[string]any{
			"query":             strProp("Search query or regex pattern."),
			"path":              strProp("Directory to restrict the search to."),
			"file_pattern":      strProp("Glob to restrict matched filenames."),
			"case_insensitive":  boolProp("Match case-insensitively."),
		}, "query")},
	{"list_project_files", "List files in a project directory, optionally filtered by a glob pattern.",
		schemaObj(map[string]any{
			"directory": strProp("Directory to list."),
			"pattern":   strProp("Glob pattern to filter by."),
			"recursive": boolProp("Recurse into subdirectories."),
		}, "directory")},
	{"get_file_summary", "Return a short preview and metadata for a file.",
		schemaObj(map[string]any{
			"path":          strProp("File path to summarize."),
			"preview_lines": intProp("Number of lines to preview (default 20)."),
		}, "path")},
	{"get_file_structure", "Extract top-level symbols (functions, types) from one or more files.",
		schemaObj(map[string]any{
			"path":  strProp("Single file path."),
			"paths": arrProp("Multiple file paths.", strProp("")),
		})},
	{"count_lines", "Count lines in each of a set of files.",
		schemaObj(map[string]any{
			"paths": arrProp("File paths to count.", strProp("")),
		}, "paths")},

	{"git_log", "Return the most recent commits.",
		schemaObj(map[string]any{"n": intProp("Number of commits (default 20).")})},
	{"git_blame", "Return blame annotations for a file.",
		schemaObj(map[string]any{"path": strProp("File path.")}, "path")},
	{"git_diff", "Return the working-tree diff, optionally scoped to a path.",
		schemaObj(map[string]any{"path": strProp("Path to restrict the diff to.")})},
	{"git_file_history", "Return the commit history touching a specific file.",
		schemaObj(map[string]any{
			"path": strProp("File path."),
			"n":    intProp("Number of commits (default 20)."),
		}, "path")},
	{"git_branches", "List branches in the repository.", schemaObj(map[string]any{})},
	{"git_show_commit", "Show a commit's message and diff.",
		schemaObj(map[string]any{"commit": strProp("Commit hash or ref.")}, "commit")},
	{"git_file_at_commit", "Return a file's content as of a specific commit.",
		schemaObj(map[string]any{
			"commit": strProp("Commit hash or ref."),
			"path":   strProp("File path."),
		}, "commit", "path")},
	{"git_recent_changes", "Summarize files changed across recent commits.",
		schemaObj(map[string]any{"n": intProp("Number of commits (default 10).")})},
	{"git_contributors", "List contributors and their commit counts.", schemaObj(map[string]any{})},
	{"git_status", "Return the working tree's current status.", schemaObj(map[string]any{})},

	{"find_function", "Find a function definition by name.",
		schemaObj(map[string]any{"name": strProp("Function name.")}, "name")},
	{"find_class", "Find a class definition by name.",
		schemaObj(map[string]any{"name": strProp("Class name.")}, "name")},
	{"find_struct", "Find a struct/type definition by name.",
		schemaObj(map[string]any{"name": strProp("Struct or type name.")}, "name")},
	{"semantic_search", "Search the code index by meaning rather than exact text.",
		schemaObj(map[string]any{
			"query": strProp("Natural-language search query."),
			"limit": intProp("Maximum results (default 20)."),
		}, "query")},
	{"get_imports", "List a file's imports.",
		schemaObj(map[string]any{"path": strProp("File path.")}, "path")},
	{"get_dependencies", "List a file's internal dependencies.",
		schemaObj(map[string]any{"path": strProp("File path.")}, "path")},
	{"complexity_hotspots", "Return the most complex functions in the codebase.",
		schemaObj(map[string]any{"limit": intProp("Maximum results (default 10).")})},
	{"quality_issues", "Scan the codebase for quality issues.", schemaObj(map[string]any{})},
	{"file_symbols", "List all symbols defined in a file.",
		schemaObj(map[string]any{"path": strProp("File path.")}, "path")},
	{"tests_for_code", "Find tests exercising a named function or symbol.",
		schemaObj(map[string]any{"name": strProp("Function or symbol name.")}, "name")},
	{"codebase_stats", "Return aggregate codebase statistics.", schemaObj(map[string]any{})},
	{"find_callers", "Find call sites of a named function or symbol.",
		schemaObj(map[string]any{"name": strProp("Function or symbol name.")}, "name")},
	{"element_definition", "Resolve a symbol name to its definition site.",
		schemaObj(map[string]any{"name": strProp("Symbol name.")}, "name")},

	{"web_search", "Search the web.",
		schemaObj(map[string]any{
			"query": strProp("Search query."),
			"limit": intProp("Maximum results (default 10)."),
		}, "query")},
	{"url_fetch", "Fetch and extract content from a URL.",
		schemaObj(map[string]any{
			"url":    strProp("URL to fetch."),
			"format": strProp("Extraction format (e.g. markdown, text)."),
		}, "url")},
	{"shell_command", "Run a shell command in the project's working directory.",
		schemaObj(map[string]any{
			"command":    strProp("Command to execute."),
			"timeout_ms": intProp("Timeout in milliseconds."),
		}, "command")},
}

// ToolDefinition is the exported shape of metaTool, for API consumers that
// list the tool surface (e.g. the experimental /tool endpoints).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolDefinitions returns the full static tool surface in declaration order.
func ToolDefinitions() []ToolDefinition {
	defs := make([]ToolDefinition, len(metaTools))
	for i, t := range metaTools {
		defs[i] = ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return defs
}

// fileModifyingTools is the set whose execution warrants a checkpoint
// before dispatch, keyed the same way metaTool.Name is.
var fileModifyingTools = map[string]bool{
	"write_project_file": true,
	"write_file":         true,
	"edit_project_file":  true,
	"delete_file":        true,
	"move_file":          true,
	"rename_file":        true,
}

// checkpointPath extracts the path a file-modifying tool call targets, for
// labeling the checkpoint it triggers.
func checkpointPath(args map[string]any) string {
	if p, ok := args["path"].(string); ok {
		return p
	}
	if p, ok := args["file_path"].(string); ok {
		return p
	}
	return ""
}
