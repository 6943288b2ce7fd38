package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joescharf/parley/internal/mcpbridge"
	"github.com/joescharf/parley/internal/permission"
	"github.com/joescharf/parley/internal/stream"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the permission-approval bridge over stdio",
	Long: `Serve the MCP approval_prompt tool on stdin/stdout for an assistant
backend to call when a tool invocation needs authorization.

Run standalone, decisions come from the durable permission rules: tools
with an "always allow" rule are granted, everything else is denied.
Manage rules with "parley policy".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := getPolicyStore()
		if err != nil {
			return err
		}

		// Logs go to stderr; stdout belongs to the MCP transport.
		logger := slog.New(slog.NewTextHandler(ui.ErrOut, &slog.HandlerOptions{
			Level: logLevel(),
		}))

		sink := &policySink{policy: ps, logger: logger}
		bridge := mcpbridge.NewServer(sink, logger)
		sink.responder = bridge

		return bridge.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// policySink answers permission events headlessly from the durable rules.
type policySink struct {
	policy    permission.PolicyStore
	responder interface {
		Respond(ctx context.Context, requestID string, allowed bool) error
	}
	logger *slog.Logger
}

func (s *policySink) Route(ev stream.Event) {
	req, ok := ev.(stream.PermissionRequested)
	if !ok {
		return
	}
	allowed, err := s.policy.IsAllowed(context.Background(), req.Tool)
	if err != nil {
		s.logger.Warn("policy lookup failed", slog.String("tool", req.Tool), slog.Any("error", err))
		allowed = false
	}
	s.logger.Info("permission decided from policy",
		slog.String("tool", req.Tool),
		slog.Bool("allowed", allowed),
	)
	if err := s.responder.Respond(context.Background(), req.RequestID, allowed); err != nil {
		s.logger.Warn("deliver decision", slog.Any("error", err))
	}
}
