package session

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mirabackend/mira/internal/permission"
)

// preToolHook inspects a tool call before it reaches the router and may
// veto it outright. Unlike capture.Hook (internal/capture), which observes
// a call's outcome after the fact, a preToolHook runs first and can stop
// the call from ever reaching router.Route.
type preToolHook interface {
	Name() string
	Check(ctx context.Context, toolName string, args map[string]any) error
}

// runPreToolHooks runs every registered hook against a pending tool call in
// order, stopping at the first one that vetoes it. It returns the vetoing
// hook's name alongside its error so the caller can synthesize the
// "blocked by <hook>" failure the router itself never sees.
func (p *Processor) runPreToolHooks(ctx context.Context, toolName string, args map[string]any) (string, error) {
	for _, hook := range p.preToolHooks {
		if err := hook.Check(ctx, toolName, args); err != nil {
			return hook.Name(), err
		}
	}
	return "", nil
}

// bashSafetyHook blocks shell_command calls that would run a filesystem-
// mutating command (per permission.DangerousCommands) against a path
// outside the working tree, or invoke dd at all. It is the one built-in
// PreToolUse gate; anything it doesn't recognize falls through to the
// permission checker and doom-loop detector as before.
type bashSafetyHook struct{}

func (bashSafetyHook) Name() string { return "bash-safety" }

func (bashSafetyHook) Check(ctx context.Context, toolName string, args map[string]any) error {
	if toolName != "shell_command" {
		return nil
	}
	command, _ := args["command"].(string)
	if command == "" {
		return nil
	}

	commands, err := permission.ParseBashCommand(command)
	if err != nil {
		// Unparseable commands are left to the permission checker rather
		// than blocked outright; a parser that can't read the command
		// can't tell us it's dangerous either.
		return nil
	}

	workDir, err := filepath.Abs(".")
	if err != nil {
		workDir = "."
	}

	for _, cmd := range commands {
		if !permission.IsDangerousCommand(cmd.Name) {
			continue
		}
		if cmd.Name == "dd" {
			return fmt.Errorf("dd is not permitted via shell_command")
		}
		for _, raw := range permission.ExtractPaths(cmd) {
			resolved, err := permission.ResolvePath(ctx, raw, workDir)
			if err != nil || !permission.IsWithinDir(resolved, workDir) {
				return fmt.Errorf("%s targets a path outside the working tree: %s", cmd.Name, raw)
			}
		}
	}
	return nil
}
