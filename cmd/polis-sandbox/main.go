// Package main is the entry point for the polis-sandbox binary.
// It serves the sandbox guard's admin surface and offers offline tools to
// classify template paths and inspect the effective whitelist.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-sandbox/pkg/admin"
	"github.com/polisai/polis-sandbox/pkg/config"
	"github.com/polisai/polis-sandbox/pkg/domain"
	"github.com/polisai/polis-sandbox/pkg/logging"
	"github.com/polisai/polis-sandbox/pkg/sandbox"
	"github.com/polisai/polis-sandbox/pkg/telemetry"
	"github.com/polisai/polis-sandbox/pkg/whitelist"
)

const gracefulShutdownTimeout = 10 * time.Second

// cliFlags holds the persistent flags shared by every subcommand.
type cliFlags struct {
	Config   string
	Root     string
	LogLevel string
	Pretty   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-sandbox.
func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:   "polis-sandbox",
		Short: "Template sandbox guard",
		Long: `Decides whether a template must render inside the sandbox and which
capabilities a sandboxed template may use.

Templates stored under the trusted root (user-editable content) are sandboxed;
templates elsewhere render unrestricted.

Example:
  polis-sandbox serve -c sandbox.yaml
  polis-sandbox classify --root /srv/templates/storage /srv/templates/storage/user42/t.html`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.Config, "config", "c", "", "Path to configuration file (YAML)")
	pf.StringVar(&flags.Root, "root", "", "Trusted root directory (overrides configuration)")
	pf.StringVarP(&flags.LogLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flags.Pretty, "pretty", false, "Human-readable log output")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newClassifyCmd(flags),
		newWhitelistCmd(flags),
		newAuditCmd(flags),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies CLI overrides. With validate
// false the trusted root may be absent.
func loadConfig(flags *cliFlags, validate bool) (*config.Config, error) {
	cfg, err := config.Read(flags.Config)
	if err != nil {
		return nil, err
	}
	if flags.Root != "" {
		cfg.TrustedRoot = flags.Root
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}
	if flags.Pretty {
		cfg.Logging.Pretty = true
	}
	if !validate {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	return logging.NewLoggerTo(out, logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
}

func newServeCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin server and watch the configuration for changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags, true)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), flags, cfg)
		},
	}
}

func runServe(parent context.Context, flags *cliFlags, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Error("Failed to initialise tracing", "error", err)
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Tracer shutdown failed", "error", err)
		}
	}()

	metrics := admin.NewMetrics()
	guard, err := sandbox.NewGuard(ctx, cfg, sandbox.WithLogger(logger), sandbox.WithSink(metrics))
	if err != nil {
		logger.Error("Failed to build sandbox guard", "error", err)
		return err
	}
	metrics.ObserveCache(guard.CacheLen)

	reload := func(ctx context.Context, next *config.Config) error {
		if err := guard.Reload(ctx, next); err != nil {
			metrics.RecordConfigReload("failure")
			return err
		}
		metrics.RecordConfigReload("success")
		return nil
	}

	if flags.Config != "" {
		load := func(string) (*config.Config, error) { return loadConfig(flags, true) }
		watcher, err := config.NewWatcher(flags.Config, load, reload, logger)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for {
			select {
			case <-sighup:
				logger.Info("Received SIGHUP, reloading configuration")
				next, err := loadConfig(flags, true)
				if err == nil {
					err = reload(ctx, next)
				}
				if err != nil {
					logger.Error("Config reload failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	server := admin.NewServer(cfg.Admin.Address, guard, metrics, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve()
	}()

	logger.Info("Starting polis-sandbox",
		"admin_address", cfg.Admin.Address,
		"trusted_root", guard.TrustedRoot(),
		"log_level", cfg.Logging.Level)

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("Admin server error", "error", serveErr)
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown failed", "error", err)
	}
	if err := guard.Close(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}

	logger.Info("polis-sandbox stopped")
	return serveErr
}

func newClassifyCmd(flags *cliFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "classify [path...]",
		Short: "Print the sandbox decision for template paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && name == "" {
				return errors.New("at least one path or --name is required")
			}
			cfg, err := loadConfig(flags, true)
			if err != nil {
				return err
			}
			return runClassify(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), args, name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Logical template name for a path-less origin")
	return cmd
}

func runClassify(ctx context.Context, cfg *config.Config, out, logOut io.Writer, paths []string, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	guard, err := sandbox.NewGuard(ctx, cfg, sandbox.WithLogger(newLogger(cfg, logOut)))
	if err != nil {
		return err
	}
	defer func() { _ = guard.Close(ctx) }()

	origins := make([]domain.TemplateOrigin, 0, len(paths)+1)
	for _, p := range paths {
		origins = append(origins, domain.TemplateOrigin{Path: p, Name: name})
	}
	if len(paths) == 0 {
		origins = append(origins, domain.TemplateOrigin{Name: name})
	}

	enc := json.NewEncoder(out)
	for _, origin := range origins {
		if err := enc.Encode(guard.Explain(ctx, origin)); err != nil {
			return err
		}
	}
	return nil
}

func newWhitelistCmd(flags *cliFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Print the effective capability whitelist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			return writeSnapshot(cmd.OutOrStdout(), whitelist.Build(cfg.Whitelist).Snapshot(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

func writeSnapshot(out io.Writer, snap whitelist.Snapshot, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func newAuditCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report dangerous capabilities enabled by the whitelist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			return runAudit(cmd.OutOrStdout(), whitelist.Build(cfg.Whitelist))
		},
	}
}

func runAudit(out io.Writer, spec *whitelist.Spec) error {
	err := whitelist.Audit(spec)
	if err == nil {
		_, _ = fmt.Fprintln(out, "whitelist grants no dangerous capabilities")
		return nil
	}

	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			_, _ = fmt.Fprintln(out, e)
		}
	} else {
		_, _ = fmt.Fprintln(out, err)
	}
	return fmt.Errorf("%w: whitelist audit failed", domain.ErrDangerousEntry)
}
