package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/mirabackend/mira/internal/apperror"
	"github.com/mirabackend/mira/internal/permission"
)

const (
	maxFetchBytes  = 5 * 1024 * 1024
	fetchTimeout   = 30 * time.Second
	shellTimeout   = 2 * time.Minute
	maxShellOutput = 30000
)

// ExternalHandler is a stateless value sink over web search, URL fetch,
// and shell-command execution. Shell commands may be gated behind a
// sudo-approval workflow via the permission checker.
type ExternalHandler struct {
	client      *http.Client
	searchURL   string // SearXNG-compatible JSON search endpoint; empty disables search
	permChecker *permission.Checker
	workDir     string
}

// NewExternalHandler wires a web client and an optional permission checker
// for gating shell commands.
func NewExternalHandler(workDir, searchURL string, permChecker *permission.Checker) *ExternalHandler {
	return &ExternalHandler{
		client:      &http.Client{Timeout: fetchTimeout},
		searchURL:   searchURL,
		permChecker: permChecker,
		workDir:     workDir,
	}
}

// WebSearch queries a configured search backend and returns the raw result
// list; it is a no-op returning an empty result set if no backend is configured.
func (h *ExternalHandler) WebSearch(ctx context.Context, query string, limit int) (map[string]any, error) {
	if h.searchURL == "" {
		return map[string]any{"query": query, "results": []map[string]any{}}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	req, err := http.NewRequestWithContext(ctx, "GET", h.searchURL, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "web_search: build request", err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("format", "json")
	req.URL.RawQuery = q.Encode()

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "web_search: request", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperror.Wrap(apperror.ParseError, "web_search: decode", err)
	}
	if len(parsed.Results) > limit {
		parsed.Results = parsed.Results[:limit]
	}
	return map[string]any{"query": query, "results": parsed.Results}, nil
}

// URLFetch retrieves a URL and renders it in the requested format.
func (h *ExternalHandler) URLFetch(ctx context.Context, url, format string) (map[string]any, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, apperror.New(apperror.InvalidArgs, "url must start with http:// or https://")
	}
	if format == "" {
		format = "markdown"
	}

	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", url, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "url_fetch: build request", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "url_fetch: request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperror.New(apperror.IoError, fmt.Sprintf("url_fetch: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, apperror.Wrap(apperror.IoError, "url_fetch: read body", err)
	}
	if len(body) > maxFetchBytes {
		return nil, apperror.New(apperror.IoError, "url_fetch: response exceeds 5MB limit")
	}

	contentType := resp.Header.Get("Content-Type")
	content := string(body)
	var output string

	switch format {
	case "markdown":
		if strings.Contains(contentType, "text/html") {
			output, err = htmlToMarkdown(content)
		} else {
			output = content
		}
	case "text":
		if strings.Contains(contentType, "text/html") {
			output, err = htmlToText(content)
		} else {
			output = content
		}
	default:
		output = content
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.ParseError, "url_fetch: render", err)
	}

	return map[string]any{"url": url, "format": format, "content": output}, nil
}

func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe").Remove()
	return strings.TrimSpace(doc.Text()), nil
}

func htmlToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	converter.Remove("script", "style", "meta", "link")
	return converter.ConvertString(html)
}

// ShellCommand runs a shell command, gated by a permission check when the
// handler has a checker configured. Output is captured and truncated, never
// leaving the command running past its timeout.
func (h *ExternalHandler) ShellCommand(ctx context.Context, sessionID, command string, timeout time.Duration) (map[string]any, error) {
	if h.permChecker != nil {
		req := permission.Request{
			Type:      permission.PermBash,
			SessionID: sessionID,
			Title:     command,
		}
		if err := h.permChecker.Check(ctx, req, permission.ActionAsk); err != nil {
			return nil, apperror.Wrap(apperror.HookBlocked, "shell_command: permission denied", err)
		}
	}

	if timeout <= 0 {
		timeout = shellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = h.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	out := stdout.String()
	if len(out) > maxShellOutput {
		out = out[:maxShellOutput] + "\n... [output truncated]"
	}

	result := map[string]any{
		"command": command,
		"stdout":  out,
		"stderr":  stderr.String(),
		"success": runErr == nil,
	}
	if runErr != nil {
		result["error"] = runErr.Error()
	}
	return result, nil
}
