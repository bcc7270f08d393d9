package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pricefinder/pricefinder/internal/bridge"
	"github.com/pricefinder/pricefinder/internal/config"
	"github.com/spf13/cobra"
)

// errAgentCall marks a failed agent call; details are already printed.
var errAgentCall = errors.New("agent call failed")

type options struct {
	agentURL string
	timeout  time.Duration
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &options{
		agentURL: "http://localhost:8000",
		timeout:  bridge.DefaultTimeout,
	}
	if cfg, err := config.Load(); err == nil {
		opts.agentURL = cfg.AgentBaseURL
		opts.timeout = cfg.RequestTimeout
	}

	root := &cobra.Command{
		Use:           "pricefinder",
		Short:         "Talk to the PriceFinder shopping agent from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Send chat messages and product searches to the PriceFinder agent API.

Quick Start:
  pricefinder health                  # Check the agent API
  pricefinder ask "아이폰 15 최저가"     # Ask the assistant
  pricefinder search "무선 이어폰"       # Search products`,
	}

	root.PersistentFlags().StringVar(&opts.agentURL, "agent-url", opts.agentURL, "Base URL of the agent API (API_BASE_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", opts.timeout, "Deadline for each agent call (API_TIMEOUT)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log agent calls to stderr")

	root.AddCommand(newHealthCmd(opts), newAskCmd(opts), newSearchCmd(opts))
	return root
}

func (o *options) client(cmd *cobra.Command) *bridge.Client {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return bridge.NewClient(o.agentURL, o.timeout, bridge.WithLogger(logger))
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the agent API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res := opts.client(cmd).HealthCheck(cmd.Context())
			out := cmd.OutOrStdout()
			if res.Failed() {
				fmt.Fprintln(out, errorStyle.Render("❌ Agent API unavailable:"), res.Error)
				return errAgentCall
			}
			fmt.Fprintln(out, successStyle.Render("✅ Agent API "+res.Status), dimStyle.Render(res.Elapsed.Round(time.Millisecond).String()))
			return nil
		},
	}
}

func newAskCmd(opts *options) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one chat message and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			res := opts.client(cmd).SendMessage(cmd.Context(), args[0], sessionID)
			return renderChat(cmd.OutOrStdout(), args[0], res)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to send (default: a fresh UUID)")
	return cmd
}

func newSearchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search products and print a price comparison",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := opts.client(cmd).SearchProducts(cmd.Context(), args[0])
			return renderSearch(cmd.OutOrStdout(), args[0], res)
		},
	}
}
