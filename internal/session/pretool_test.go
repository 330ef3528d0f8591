package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBashSafetyHook_IgnoresNonShellTools(t *testing.T) {
	hook := bashSafetyHook{}
	err := hook.Check(context.Background(), "read_project_file", map[string]any{"path": "/etc/passwd"})
	assert.NoError(t, err)
}

func TestBashSafetyHook_AllowsSafeCommand(t *testing.T) {
	hook := bashSafetyHook{}
	err := hook.Check(context.Background(), "shell_command", map[string]any{"command": "ls -la ./src"})
	assert.NoError(t, err)
}

func TestBashSafetyHook_AllowsPathsWithinWorkingTree(t *testing.T) {
	hook := bashSafetyHook{}
	err := hook.Check(context.Background(), "shell_command", map[string]any{"command": "rm -rf ./build"})
	assert.NoError(t, err)
}

func TestBashSafetyHook_BlocksEscapingPath(t *testing.T) {
	hook := bashSafetyHook{}
	err := hook.Check(context.Background(), "shell_command", map[string]any{"command": "rm -rf /etc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the working tree")
}

func TestBashSafetyHook_BlocksDD(t *testing.T) {
	hook := bashSafetyHook{}
	err := hook.Check(context.Background(), "shell_command", map[string]any{"command": "dd if=/dev/zero of=/dev/sda"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dd is not permitted")
}

func TestRunPreToolHooks_StopsAtFirstVeto(t *testing.T) {
	p := &Processor{preToolHooks: []preToolHook{bashSafetyHook{}}}
	name, err := p.runPreToolHooks(context.Background(), "shell_command", map[string]any{"command": "rm -rf /"})
	require.Error(t, err)
	assert.Equal(t, "bash-safety", name)
}

func TestRunPreToolHooks_NoHooksPasses(t *testing.T) {
	p := &Processor{}
	name, err := p.runPreToolHooks(context.Background(), "shell_command", map[string]any{"command": "rm -rf /"})
	assert.NoError(t, err)
	assert.Empty(t, name)
}
