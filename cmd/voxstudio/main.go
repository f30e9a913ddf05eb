// Command voxstudio serves the voice synthesis studio: a web UI backend that
// drives a CosyVoice engine in four modes and manages custom voice profiles.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxstudio/internal/app"
	"github.com/MrWong99/voxstudio/internal/config"
	"github.com/MrWong99/voxstudio/internal/observe"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	port       int
	modelDir   string
	logLevel   string

	level *slog.LevelVar
}

func newRootCommand() *cobra.Command {
	return newRootOptions().command()
}

func newRootOptions() *rootOptions {
	return &rootOptions{level: new(slog.LevelVar)}
}

func (o *rootOptions) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "voxstudio",
		Short:        "Speech synthesis studio backed by a CosyVoice engine",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.serve(cmd)
		},
	}
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "path to an optional YAML configuration file")
	f.IntVar(&o.port, "port", config.DefaultPort, "TCP port the server listens on")
	f.StringVar(&o.modelDir, "model_dir", config.DefaultModelDir, "local path or remote identifier of the model")
	f.StringVar(&o.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(newVoicesCommand(o), newTranscribeCommand(o))
	return cmd
}

// load reads the config file (if any) and applies the flags the user set
// explicitly on top of it.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := o.apply(cmd, cfg); err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: o.level})))
	o.level.Set(cfg.Server.LogLevel.Level())
	return cfg, nil
}

// apply overrides cfg with explicitly set flags and revalidates it.
func (o *rootOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("model_dir") {
		cfg.Model.Dir = o.modelDir
	}
	if flags.Changed("log-level") {
		cfg.Server.LogLevel = config.LogLevel(o.logLevel)
	}
	return config.Validate(cfg)
}

// serve runs the HTTP server until SIGINT or SIGTERM.
func (o *rootOptions) serve(cmd *cobra.Command) error {
	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxstudio",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	slog.Info("voxstudio starting",
		"config", o.configPath,
		"addr", cfg.Addr(),
		"model_dir", cfg.Model.Dir,
		"voices_dir", cfg.VoicesDir(),
	)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closeProviders, err := buildProviders(cfg, reg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	defer closeProviders()

	app.Version = version
	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(o.level),
		app.WithAnnounce(func(url string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voxstudio running at %s\n", url)
		}),
	)
	if err != nil {
		return err
	}

	if o.configPath != "" {
		_, err := config.Watch(ctx, o.configPath, application.Reload,
			config.WithTransform(func(c *config.Config) error { return o.apply(cmd, c) }),
		)
		if err != nil {
			_ = application.Shutdown(context.Background())
			return err
		}
	}

	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	return runErr
}
