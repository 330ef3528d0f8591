// Package router translates the compact meta-tool surface exposed to the
// primary model into calls against the file, git, code-intelligence, and
// external handler subsystems.
package router

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/mirabackend/mira/internal/apperror"
	"github.com/mirabackend/mira/internal/codehealth"
	"github.com/mirabackend/mira/internal/metrics"
)

// Router dispatches named tool calls to the handler that owns them.
type Router struct {
	Files     *FileHandler
	Git       *GitHandler
	CodeIntel *CodeIntelHandler
	External  *ExternalHandler

	// Secondary is an optional cheaper LLM driver for operations whose
	// plan is itself LLM-emergent (e.g. "search for X across these files").
	// Left nil, those operations fall back directly to the deterministic
	// handler path, which matches the bypass-if-no-tool-call rule anyway.
	Secondary SecondaryPlanner
}

// SecondaryPlanner drives a cheaper model over a handler subsystem's tools
// to resolve an operation whose execution plan isn't known up front.
// Implementations must themselves apply the bypass rule: if the model's
// first response carries no tool call, the caller falls back to the
// deterministic path rather than looping.
type SecondaryPlanner interface {
	Plan(ctx context.Context, task string, projectID string) (json.RawMessage, bool, error)
}

// New creates a router wired to concrete handler implementations.
func New(files *FileHandler, git *GitHandler, codeIntel *CodeIntelHandler, external *ExternalHandler) *Router {
	return &Router{Files: files, Git: git, CodeIntel: codeIntel, External: external}
}

// Route executes toolName against args and returns its JSON-encoded result.
// Unknown names fail UnknownTool; missing required args fail InvalidArgs.
func (r *Router) Route(ctx context.Context, toolName string, args map[string]any, projectID, sessionID string) (json.RawMessage, error) {
	start := time.Now()
	result, err := r.dispatch(ctx, toolName, args, projectID, sessionID)
	metrics.ToolLatency.WithLabelValues(toolName, strconv.FormatBool(err == nil)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	out, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return nil, apperror.Wrap(apperror.IoError, "route: marshal result", marshalErr)
	}
	return out, nil
}

func (r *Router) dispatch(ctx context.Context, toolName string, args map[string]any, projectID, sessionID string) (any, error) {
	switch toolName {
	// File ops
	case "read_project_file":
		return r.routePaths(args, func(path string) (any, error) {
			return r.Files.ReadFile(projectID, path, optionalInt(args, "offset"), optionalInt(args, "limit"))
		})
	case "write_project_file", "write_file":
		path, err := requiredString(args, "path")
		if err != nil {
			return nil, err
		}
		content, err := requiredString(args, "content")
		if err != nil {
			return nil, err
		}
		unrestricted := toolName == "write_file" && optionalBool(args, "unrestricted")
		return r.Files.WriteFile(projectID, path, content, unrestricted)
	case "edit_project_file":
		path, err := requiredString(args, "path")
		if err != nil {
			return nil, err
		}
		search, err := requiredString(args, "search")
		if err != nil {
			return nil, err
		}
		replace, _ := args["replace"].(string)
		return r.Files.EditFile(projectID, path, search, replace)
	case "search_codebase":
		return r.searchCodebase(ctx, args, projectID)
	case "list_project_files":
		dir, err := requiredString(args, "directory")
		if err != nil {
			return nil, err
		}
		pattern, _ := args["pattern"].(string)
		return r.Files.ListFiles(projectID, dir, pattern, optionalBool(args, "recursive"))
	case "get_file_summary":
		path, err := requiredString(args, "path")
		if err != nil {
			return nil, err
		}
		preview := 20
		if v := optionalInt(args, "preview_lines"); v != nil {
			preview = *v
		}
		return r.Files.SummarizeFile(projectID, path, preview)
	case "get_file_structure":
		return r.routePaths(args, func(path string) (any, error) {
			symbols, err := r.Files.ExtractSymbols(projectID, path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"path": path, "symbols": symbols}, nil
		})

	// Git ops
	case "git_log":
		return r.Git.Log(ctx, projectID, optionalIntOr(args, "n", 20))
	case "git_blame":
		path, err := requiredString(args, "path")
		if err != nil {
			return nil, err
		}
		return r.Git.Blame(ctx, projectID, path)
	case "git_diff":
		path, _ := args["path"].(string)
		return r.Git.Diff(ctx, projectID, path)
	case "git_file_history":
		path, err := requiredString(args, "path")
		if err != nil {
			return nil, err
		}
		return r.Git.FileHistory(ctx, projectID, path, optionalIntOr(args, "n", 20))
	case "git_branches":
		return r.Git.Branches(ctx, projectID)
	case "git_show_commit":
		commit, err := requiredString(args, "commit")
		if err != nil {
			return nil, err
		}
		return r.Git.ShowCommit(ctx, projectID, commit)
	case "git_file_at_commit":
		commit, err := requiredString(args, "commit")
		if err != nil {
			return nil, err
		}
		path, err := requiredString(args, "path")
		if err != nil {
			return nil, err
		}
		return r.Git.FileAtCommit(ctx, projectID, commit, path)
	case "git_recent_changes":
		return r.Git.RecentChanges(ctx, projectID, optionalIntOr(args, "n", 10))
	case "git_contributors":
		return r.Git.Contributors(ctx, projectID)
	case "git_status":
		return r.Git.Status(ctx, projectID)

	// Code intelligence
	case "find_function":
		name, err := requiredString(args, "name")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.FindFunction(ctx, projectID, name)
	case "find_class":
		name, err := requiredString(args, "name")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.FindClass(ctx, projectID, name)
	case "find_struct":
		name, err := requiredString(args, "name")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.FindStruct(ctx, projectID, name)
	case "semantic_search":
		query, err := requiredString(args, "query")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.SemanticSearch(ctx, projectID, query, optionalIntOr(args, "limit", 20))
	case "get_imports":
		path, err := requiredString(args, "path")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.Imports(ctx, projectID, path)
	case "get_dependencies":
		path, err := requiredString(args, "path")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.Dependencies(ctx, projectID, path)
	case "complexity_hotspots":
		return r.CodeIntel.ComplexityHotspots(ctx, projectID, optionalIntOr(args, "limit", 10))
	case "quality_issues":
		return r.qualityIssues(projectID)
	case "file_symbols":
		path, err := requiredString(args, "path")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.FileSymbols(ctx, projectID, path)
	case "tests_for_code":
		name, err := requiredString(args, "name")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.TestsForCode(ctx, projectID, name)
	case "codebase_stats":
		return r.CodeIntel.CodebaseStats(ctx, projectID)
	case "find_callers":
		name, err := requiredString(args, "name")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.FindCallers(ctx, projectID, name)
	case "element_definition":
		name, err := requiredString(args, "name")
		if err != nil {
			return nil, err
		}
		return r.CodeIntel.ElementDefinition(ctx, projectID, name)

	// External
	case "web_search":
		query, err := requiredString(args, "query")
		if err != nil {
			return nil, err
		}
		return r.External.WebSearch(ctx, query, optionalIntOr(args, "limit", 10))
	case "url_fetch":
		url, err := requiredString(args, "url")
		if err != nil {
			return nil, err
		}
		format, _ := args["format"].(string)
		return r.External.URLFetch(ctx, url, format)
	case "shell_command":
		command, err := requiredString(args, "command")
		if err != nil {
			return nil, err
		}
		timeout := time.Duration(optionalIntOr(args, "timeout_ms", 0)) * time.Millisecond
		return r.External.ShellCommand(ctx, sessionID, command, timeout)

	// count_lines is file-ops adjacent but takes a paths array directly,
	// not the per-path iteration helper, since its result shape is keyed
	// by path rather than a list of per-path records.
	case "count_lines":
		paths, err := requiredStringSlice(args, "paths")
		if err != nil {
			return nil, err
		}
		return r.Files.CountLines(projectID, paths), nil

	default:
		return nil, apperror.New(apperror.UnknownTool, "unknown tool: "+toolName)
	}
}

// qualityIssues runs the code-health detector against the project's file
// handler base directory and returns its findings without persisting them
// (persistence is the background sweep's job, via codehealth.StoreFindings).
func (r *Router) qualityIssues(projectID string) (any, error) {
	out, err := codehealth.Collect(r.Files.baseFor(projectID))
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "quality_issues: scan", err)
	}
	return out, nil
}

// searchCodebase is the one operation whose plan is itself LLM-emergent:
// "search for X" lets a secondary model choose between grep_files and
// extract_symbols. Absent a configured planner, or when its first response
// carries no tool call, it falls back to a plain grep over the pattern.
func (r *Router) searchCodebase(ctx context.Context, args map[string]any, projectID string) (any, error) {
	query, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}

	if r.Secondary != nil {
		if result, handled, planErr := r.Secondary.Plan(ctx, query, projectID); planErr == nil && handled {
			var decoded any
			if err := json.Unmarshal(result, &decoded); err == nil {
				return decoded, nil
			}
		}
	}

	path, _ := args["path"].(string)
	filePattern, _ := args["file_pattern"].(string)
	return r.Files.GrepFiles(projectID, query, path, filePattern, optionalBool(args, "case_insensitive"))
}

// routePaths implements the per-path iteration rule: for file ops that
// accept a paths array, run fn over each path, collecting a {success:false,
// path, error} record on per-path failure instead of aborting.
func (r *Router) routePaths(args map[string]any, fn func(path string) (any, error)) (any, error) {
	if single, ok := args["path"].(string); ok {
		return fn(single)
	}

	paths, err := requiredStringSlice(args, "paths")
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(paths))
	for _, path := range paths {
		res, err := fn(path)
		if err != nil {
			results = append(results, map[string]any{"success": false, "path": path, "error": err.Error()})
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", apperror.New(apperror.InvalidArgs, "missing required argument: "+key)
	}
	return v, nil
}

func requiredStringSlice(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key].([]any)
	if !ok || len(raw) == 0 {
		return nil, apperror.New(apperror.InvalidArgs, "missing required argument: "+key)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func optionalBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func optionalInt(args map[string]any, key string) *int {
	v, ok := args[key].(float64)
	if !ok {
		return nil
	}
	n := int(v)
	return &n
}

func optionalIntOr(args map[string]any, key string, fallback int) int {
	if v := optionalInt(args, key); v != nil {
		return *v
	}
	return fallback
}
