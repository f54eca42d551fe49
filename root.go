package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/msod-stat/internal/cliauth"
	"github.com/tonimelisma/msod-stat/internal/config"
	"github.com/tonimelisma/msod-stat/internal/graph"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIContext bundles resolved config and logger. Created once in
// PersistentPreRunE and stashed on the command's context so subcommands
// never re-derive it.
type CLIContext struct {
	Cfg    config.Config
	Logger *slog.Logger
}

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Every registered command loads config via PersistentPreRunE, so
// a missing CLIContext here is always a programmer error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — PersistentPreRunE did not run")
	}

	return cc
}

// httpClientTimeout bounds every Graph API request so a hung connection
// never blocks the CLI indefinitely.
const httpClientTimeout = 30 * time.Second

// newGraphClient creates a graph.Client authenticated from the token file
// on disk, wired with the standard HTTP client, user agent, and base URL.
func newGraphClient(ts graph.TokenSource, logger *slog.Logger) *graph.Client {
	httpClient := &http.Client{Timeout: httpClientTimeout}

	return graph.NewClient(graph.DefaultBaseURL, httpClient, ts, logger, "msod-stat/"+version)
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "msod-stat",
		Short:   "Report duplicate files across your OneDrive drives",
		Long:    "msod-stat incrementally syncs OneDrive drive metadata via the delta API and reports files that are byte-for-byte duplicates.",
		Version: version,
		// Silence Cobra's default error/usage printing — handled in main().
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (HTTP requests, config resolution)")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newStatCmd())

	return cmd
}

// loadConfig resolves the effective configuration (config file, falling
// back to XDG defaults) and stores it in the command's context for use by
// subcommands.
func loadConfig(cmd *cobra.Command) error {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(cfg)
	cc := &CLIContext{Cfg: cfg, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the loaded config and
// CLI flags. Config-file log level is the baseline; --verbose, --debug, and
// --quiet override it because CLI flags always win (Cobra enforces they're
// mutually exclusive with each other).
func buildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelWarn

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// tokenSourceFor resolves the token file path (flag/config/default) and
// builds an authenticated graph.TokenSource from it.
func tokenSourceFor(ctx context.Context, cfg config.Config, logger *slog.Logger) (graph.TokenSource, string, error) {
	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		tokenPath = config.DefaultTokenPath()
	}

	ts, err := cliauth.FromTokenFile(ctx, tokenPath, logger)
	if err != nil {
		return nil, tokenPath, err
	}

	return ts, tokenPath, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
