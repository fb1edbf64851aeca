package servecmder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/cmd/staffdesk/cliconfig"
	"github.com/papercomputeco/staffdesk/pkg/backend"
	"github.com/papercomputeco/staffdesk/pkg/config"
	"github.com/papercomputeco/staffdesk/relay"
)

const serveLongDesc string = `Start the chat streaming relay.

The relay accepts a whole conversation on POST /api/chat, forwards it to
the configured backend and streams the reply back as it is generated.
Changes to the relay's model and max_duration in the config file are
picked up without a restart.

Examples:
  staffdesk serve
  staffdesk serve --listen :9090 --provider ollama --backend-url http://localhost:11434
  staffdesk serve --demo --provider demo`

const serveShortDesc string = "Run the chat streaming relay"

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	listen     string
	provider   string
	backendURL string
	archive    string
	demo       bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on")
	cmd.Flags().StringVarP(&cmder.provider, "provider", "p", "", "Backend provider (openai, ollama, gemini, demo)")
	cmd.Flags().StringVarP(&cmder.backendURL, "backend-url", "u", "", "Backend base URL")
	cmd.Flags().StringVarP(&cmder.archive, "archive", "a", "", "Enable the transcript archive at this SQLite path (\":memory:\" for in-memory)")
	cmd.Flags().BoolVar(&cmder.demo, "demo", false, "Enable demo data and the demo backend")

	return cmd
}

// apply layers the flags that were set over cfg.
func (c *serveCommander) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Server.ListenAddr = c.listen
	}
	if flags.Changed("provider") {
		cfg.Backend.Provider = c.provider
	}
	if flags.Changed("backend-url") {
		cfg.Backend.URL = c.backendURL
	}
	if flags.Changed("archive") {
		cfg.Archive.Enabled = true
		cfg.Archive.Path = c.archive
	}
	if flags.Changed("demo") {
		cfg.Demo.Enabled = c.demo
	}
	return cfg.Validate()
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, path, err := cliconfig.Load(cmd)
	if err != nil {
		return err
	}
	if err := c.apply(cmd, cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cliconfig.Logger(cfg)
	defer func() { _ = logger.Sync() }()

	if cfg.Demo.Enabled {
		logger.Warn("demo mode enabled, placeholder data may be served")
	}

	be, err := backend.New(cfg.Backend, cfg.Demo, logger)
	if err != nil {
		return fmt.Errorf("could not create backend: %w", err)
	}

	archive, err := relay.OpenArchive(cfg.Archive, logger)
	if err != nil {
		be.Close()
		return fmt.Errorf("could not open transcript archive: %w", err)
	}

	r, err := relay.New(cfg, be, archive, logger)
	if err != nil {
		be.Close()
		return fmt.Errorf("could not create relay: %w", err)
	}
	defer r.Close()

	if path != "" {
		go func() {
			err := config.Watch(ctx, path, logger, func(next *config.Config) {
				if err := c.apply(cmd, next); err != nil {
					logger.Warn("ignoring config change", zap.Error(err))
					return
				}
				r.Apply(next)
			})
			if err != nil {
				logger.Warn("config reload disabled", zap.String("path", path), zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down relay")
	if err := r.Shutdown(shutdownTimeout); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
