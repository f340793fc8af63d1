package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aschepis/backscratcher/review/config"
	"github.com/aschepis/backscratcher/review/llm"
	reviewlogger "github.com/aschepis/backscratcher/review/logger"
	"github.com/aschepis/backscratcher/review/review"
	"github.com/aschepis/backscratcher/review/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	cfg      *config.ServerConfig
	logger   zerolog.Logger
	registry *llm.Registry
	handler  *review.Handler
	sessions *session.Cache
}

type rootOptions struct {
	configPath string
	logFile    string
	pretty     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	root := &cobra.Command{
		Use:           "reviewllm",
		Short:         "Call review models through the provider layer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.GetServerConfigPath(), "Path to server config file")
	root.PersistentFlags().StringVar(&opts.logFile, "logfile", "", "Path to log file. If not set, logs to stderr")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "Use pretty console output (only valid when logfile is not set)")

	root.AddCommand(newModelsCmd(a), newAskCmd(a), newStreamCmd(a), newTokensCmd(a), newReviewCmd(a))
	return root
}

func (a *app) init(opts *rootOptions) error {
	// Validate that --logfile and --pretty are mutually exclusive
	if opts.logFile != "" && opts.pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	cfg, err := config.LoadServerConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logFile, pretty := opts.logFile, opts.pretty
	if logFile == "" && !pretty {
		logFile, pretty = cfg.Logging.File, cfg.Logging.Pretty
	}
	logger, err := reviewlogger.InitWithOptions(logFile, pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.registry = config.NewRegistry(cfg, logger)
	a.handler = config.NewHandler(cfg, a.registry, logger)
	a.sessions = session.NewCache(logger)
	return nil
}
