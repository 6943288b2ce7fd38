package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/parley/internal/archive"
	"github.com/joescharf/parley/internal/checkpoint"
	"github.com/joescharf/parley/internal/models"
	"github.com/joescharf/parley/internal/output"
	"github.com/joescharf/parley/internal/session"
	"github.com/joescharf/parley/internal/stream"
)

var chatModel string

var chatCmd = &cobra.Command{
	Use:   "chat [dir]",
	Short: "Start an interactive assistant session",
	Long: `Start an interactive conversation in the given working directory
(default: current directory).

In-session commands:
  /new              archive the conversation and start fresh
  /model <name>     switch model (opus, sonnet, sonnet1m, default)
  /stop             cancel the in-flight generation
  /checkpoints      list code checkpoints
  /restore <hash>   restore the working tree to a checkpoint
  /archives         list archived conversations
  /load <key>       load an archived conversation
  /allow <id>       grant a pending permission request
  /always <id>      grant and remember for this tool
  /deny <id>        deny a pending permission request
  /status           show session accounting
  /quit             exit`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		return chatRun(cmd.Context(), dir)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model to use (default from config)")
	rootCmd.AddCommand(chatCmd)
}

func chatRun(ctx context.Context, dir string) error {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
	}

	model := models.Model(chatModel)
	if chatModel == "" {
		model = models.Model(viper.GetString("chat.model"))
	}
	if !models.ValidModel(model) {
		return fmt.Errorf("unknown model %q", model)
	}

	ps, err := getPolicyStore()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(ui.ErrOut, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	checkpoints := checkpoint.NewGitGateway(checkpoint.NewRunner(), nil)
	reg := session.NewRegistry(session.Deps{
		Checkpoints: checkpoints,
		Archives:    archive.NewFileGateway(viper.GetString("archive_root")),
		Policy:      ps,
		Source:      stream.NewAnthropicSource(anthropicAPIKey()),
		Logger:      logger,
	})
	checkpoints.SetResolver(reg.WorkingDir)

	c := reg.Create(session.CreateOptions{
		WorkingDir: dir,
		Model:      model,
	})

	ui.Info("session %s in %s (model %s, context %d tokens)",
		output.Cyan(c.ID()), dir, model, models.ContextLimit(model))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	printed := 0

	for {
		fmt.Fprint(ui.Out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := chatCommand(ctx, c, line, &printed)
			if err != nil {
				ui.Error("%v", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := c.SendMessage(ctx, line); err != nil {
			ui.Error("%v", err)
			continue
		}
		printed = waitAndPrint(c, printed)
	}
}

func chatCommand(ctx context.Context, c *session.Controller, line string, printed *int) (quit bool, err error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		c.StopProcess()
		return true, nil

	case "/stop":
		c.StopProcess()
		ui.Info("stopped")

	case "/new":
		if err := c.StartNewChat(ctx); err != nil {
			return false, err
		}
		*printed = 0
		ui.Success("new conversation started")

	case "/model":
		if err := c.UpdateModel(models.Model(arg)); err != nil {
			return false, err
		}
		ui.Success("model set to %s", arg)

	case "/checkpoints":
		cps, err := c.ListCheckpoints(ctx)
		if err != nil {
			return false, err
		}
		if len(cps) == 0 {
			ui.Info("no checkpoints")
			break
		}
		table := ui.Table([]string{"Hash", "When", "Message"})
		for _, cp := range cps {
			hash := cp.Hash
			if len(hash) > 8 {
				hash = hash[:8]
			}
			table.Append([]string{hash, cp.Timestamp.Local().Format(time.DateTime), cp.Message})
		}
		_ = table.Render()

	case "/restore":
		if arg == "" {
			return false, fmt.Errorf("usage: /restore <hash>")
		}
		if err := c.RestoreCheckpoint(ctx, arg); err != nil {
			return false, err
		}
		ui.Success("working tree restored to %s", arg)

	case "/archives":
		entries, err := c.ListArchives(ctx)
		if err != nil {
			return false, err
		}
		if len(entries) == 0 {
			ui.Info("no archived conversations")
			break
		}
		table := ui.Table([]string{"Key", "Saved", "Messages", "First message", ""})
		for _, e := range entries {
			marker := ""
			if e.IsCurrent {
				marker = output.Green("current")
			}
			first := e.FirstMessage
			if len(first) > 48 {
				first = first[:48] + "…"
			}
			table.Append([]string{e.Filename, archive.DisplayTimestamp(e.Filename), fmt.Sprintf("%d", e.MessageCount), first, marker})
		}
		_ = table.Render()

	case "/load":
		if arg == "" {
			return false, fmt.Errorf("usage: /load <key>")
		}
		if err := c.LoadArchivedConversation(ctx, arg); err != nil {
			return false, err
		}
		*printed = 0
		*printed = printMessages(c, *printed)

	case "/allow", "/always", "/deny":
		if arg == "" {
			return false, fmt.Errorf("usage: %s <request-id>", cmd)
		}
		allowed := cmd != "/deny"
		if err := c.RespondToPermission(ctx, arg, allowed, cmd == "/always"); err != nil {
			return false, err
		}
		*printed = waitAndPrint(c, *printed)

	case "/status":
		s := c.Snapshot()
		ui.Info("session %s  state=%s  model=%s  messages=%d  cost=%s",
			s.ID, output.SessionStateColor(s.IsProcessing), s.Model, s.MessageCount,
			output.CostString(s.TotalCost))
		ui.Info("tokens: in=%d out=%d cache-create=%d cache-read=%d (limit %d)",
			s.TokenUsage.InputTokens, s.TokenUsage.OutputTokens,
			s.TokenUsage.CacheCreationTokens, s.TokenUsage.CacheReadTokens,
			models.ContextLimit(s.Model))

	default:
		return false, fmt.Errorf("unknown command %s", cmd)
	}
	return false, nil
}

// waitAndPrint blocks until the in-flight generation finishes or pauses on a
// permission request, printing transcript entries as they appear.
func waitAndPrint(c *session.Controller, printed int) int {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		printed = printMessages(c, printed)
		if pending := c.OutstandingPermissions(); len(pending) > 0 {
			for _, req := range pending {
				ui.Warning("permission needed: %s %s  (/allow %s, /always %s, /deny %s)",
					output.Cyan(req.Tool), req.Path, req.ID, req.ID, req.ID)
			}
			return printed
		}
		if !c.IsProcessing() {
			return printMessages(c, printed)
		}
	}
	return printed
}

func printMessages(c *session.Controller, printed int) int {
	msgs := c.Messages()
	for _, m := range msgs[min(printed, len(msgs)):] {
		switch m.Type {
		case models.MessageUser:
			// Echo of local input; already on screen.
		case models.MessageAssistant:
			fmt.Fprintln(ui.Out, m.Content)
		case models.MessageThinking:
			fmt.Fprintln(ui.Out, output.Dim(m.Content))
		case models.MessageTool:
			ui.Info("tool %s: %s", output.Cyan(m.Metadata.ToolName), m.Content)
		case models.MessageToolResult:
			if m.Metadata.IsError {
				ui.Error("%s: %s", m.Metadata.ToolName, m.Content)
			} else {
				ui.VerboseLog("%s: %s", m.Metadata.ToolName, m.Content)
			}
		case models.MessageSystem:
			ui.Info("%s", m.Content)
		case models.MessageError:
			ui.Error("%s", m.Content)
		case models.MessagePermissionRequest:
			// Surfaced by waitAndPrint with response hints.
		}
	}
	return len(msgs)
}

func anthropicAPIKey() string {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return apiKey
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}
