package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mirabackend/mira/internal/config"
	"github.com/mirabackend/mira/internal/permission"
	"github.com/mirabackend/mira/internal/provider"
	"github.com/mirabackend/mira/internal/router"
	"github.com/mirabackend/mira/internal/session"
	"github.com/mirabackend/mira/internal/storage"
	"github.com/mirabackend/mira/pkg/types"
	"github.com/spf13/cobra"
)

var (
	runModel        string
	runAgent        string
	runContinue     bool
	runSession      string
	runFormat       string
	runFiles        []string
	runTitle        string
	runPrompt       string
	runPromptFile   string
	runPromptInline string
	runDir          string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Start an interactive OpenCode session",
	Long: `Start an interactive OpenCode session with the specified message.

Examples:
  opencode run "Fix the bug in main.go"
  opencode run --model anthropic/claude-sonnet-4 "Explain this code"
  opencode run --continue  # Continue last session
  opencode run --file main.go "Review this file"`,
	RunE: runInteractive,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "Agent to use")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the last session")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().StringVar(&runFormat, "format", "default", "Output format (default|json)")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach to message")
	runCmd.Flags().StringVar(&runTitle, "title", "", "Session title")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "Custom prompt template")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "Custom prompt from file")
	runCmd.Flags().StringVar(&runPromptInline, "prompt-inline", "", "Custom prompt as inline text")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	// Determine working directory
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	// Initialize paths
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	// Load configuration
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	// Override model if specified
	if runModel != "" {
		appConfig.Model = runModel
	}

	// Build message from args
	message := strings.Join(args, " ")
	if message == "" && !runContinue && runSession == "" {
		return fmt.Errorf("message required. Usage: opencode run \"your message\"")
	}

	// Initialize storage
	store, err := storage.Open(paths.StoragePath())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	// Initialize providers
	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	// Initialize permission checker and tool router
	permChecker := permission.NewChecker()
	fileHandler := router.NewFileHandler(workDir)
	gitHandler := router.NewGitHandler(fileHandler)
	codeIntel := router.NewCodeIntelHandler(store)
	external := router.NewExternalHandler(workDir, "", permChecker)
	toolRouter := router.New(fileHandler, gitHandler, codeIntel, external)

	// Handle custom prompt
	var systemPrompt string
	if runPromptFile != "" {
		data, err := os.ReadFile(runPromptFile)
		if err != nil {
			return fmt.Errorf("failed to read prompt file: %w", err)
		}
		systemPrompt = string(data)
	} else if runPromptInline != "" {
		systemPrompt = runPromptInline
	} else if runPrompt != "" {
		// Try to read as file first, then use as inline
		if data, err := os.ReadFile(runPrompt); err == nil {
			systemPrompt = string(data)
		} else {
			systemPrompt = runPrompt
		}
	}

	// Handle file attachments - read and include in message
	var fileContent strings.Builder
	for _, file := range runFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", file, err)
		}
		fileContent.WriteString(fmt.Sprintf("\n\n--- File: %s ---\n%s", file, string(content)))
	}
	if fileContent.Len() > 0 {
		message = message + fileContent.String()
	}

	// Parse default provider and model from config
	var defaultProviderID, defaultModelID string
	if appConfig.Model != "" {
		parts := strings.SplitN(appConfig.Model, "/", 2)
		if len(parts) == 2 {
			defaultProviderID = parts[0]
			defaultModelID = parts[1]
		}
	}

	svc := session.NewServiceWithProcessor(store, providerReg, toolRouter, permChecker, nil, nil, nil, defaultProviderID, defaultModelID)

	// Resolve the session to continue, or create a new one
	var sess *types.Session
	switch {
	case runSession != "":
		sess, err = svc.Get(ctx, runSession)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", runSession, err)
		}
	case runContinue:
		sessions, err := svc.List(ctx, workDir)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(sessions) == 0 {
			return fmt.Errorf("no previous session to continue")
		}
		sess = sessions[len(sessions)-1]
	default:
		sess, err = svc.Create(ctx, workDir, runTitle)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
	}

	// Create agent configuration
	agentName := runAgent
	if agentName == "" {
		agentName = "default"
	}
	agent := session.DefaultAgent()
	agent.Name = agentName
	if systemPrompt != "" {
		agent.Prompt = systemPrompt
	}

	// Process callback
	callback := func(msg *types.Message, parts []types.Part) {
		for _, part := range parts {
			switch p := part.(type) {
			case *types.TextPart:
				fmt.Print(p.Text)
			}
		}
	}

	fmt.Printf("Starting session %s...\n", sess.ID)
	fmt.Printf("Model: %s\n", appConfig.Model)
	fmt.Printf("Message: %s\n\n", truncate(message, 100))

	if message != "" {
		userMsg := &types.Message{
			ID:        ulid.Make().String(),
			SessionID: sess.ID,
			Role:      "user",
			Time:      types.MessageTime{Created: time.Now().UnixMilli()},
		}
		if err := svc.AddMessage(ctx, sess.ID, userMsg); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		userPart := &types.TextPart{
			ID:        ulid.Make().String(),
			SessionID: sess.ID,
			MessageID: userMsg.ID,
			Type:      "text",
			Text:      message,
		}
		if err := svc.AddPart(ctx, userMsg.ID, 0, userPart); err != nil {
			return fmt.Errorf("failed to save message part: %w", err)
		}

		if err := svc.GetProcessor().Process(ctx, sess.ID, agent, callback); err != nil {
			return fmt.Errorf("processing error: %w", err)
		}
	}

	fmt.Println()
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
