// Package main is the entry point for the datadog-mcp server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/codemode-mcp/datadog-mcp/api"
	"github.com/codemode-mcp/datadog-mcp/internal/audit"
	"github.com/codemode-mcp/datadog-mcp/internal/auth"
	"github.com/codemode-mcp/datadog-mcp/internal/catalog"
	"github.com/codemode-mcp/datadog-mcp/internal/config"
	"github.com/codemode-mcp/datadog-mcp/internal/executor"
	"github.com/codemode-mcp/datadog-mcp/internal/gateway"
	"github.com/codemode-mcp/datadog-mcp/internal/metrics"
	"github.com/codemode-mcp/datadog-mcp/internal/policy"
	"github.com/codemode-mcp/datadog-mcp/internal/server"
	"github.com/codemode-mcp/datadog-mcp/internal/tools"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "datadog-mcp",
	Short:         "MCP server for policy-checked Datadog API access",
	Long:          "datadog-mcp serves a searchable catalog of Datadog API operations and lets agents call them, directly or from code, behind a read-mostly allowlist policy.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server (stdio or HTTP, per DATADOG_MCP_TRANSPORT)",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "datadog-mcp %s (commit: %s, built: %s)\n", version, commit, buildDate)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "datadog-mcp: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "datadog-mcp").Str("version", version).Logger()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.LogLevel)

	logger := log.With().Str("component", "main").Logger()
	logger.Info().Str("transport", cfg.Transport).Msg("starting datadog-mcp")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	registry, err := server.NewToolRegistry(api.ToolsContract)
	if err != nil {
		return fmt.Errorf("parsing MCP tool contract: %w", err)
	}
	modeGuard, err := policy.NewGuard(cfg.Mode, cfg.EnableWrite)
	if err != nil {
		return fmt.Errorf("invalid mode configuration: %w", err)
	}
	logger.Info().Str("mode", modeGuard.Mode()).Bool("write_enabled", cfg.EnableWrite).Msg("execution policy initialized")

	credOpts := auth.CredentialOptions{
		AllowCredentialsFile: cfg.AllowCredentialsFile,
		CredentialsPath:      cfg.CredentialsPath,
	}
	creds, err := auth.ResolveCredentials(credOpts)
	if err != nil {
		return fmt.Errorf("resolving Datadog credentials: %w", err)
	}
	if creds.Complete() {
		logger.Info().Str("credential_source", string(creds.Source)).Msg("resolved Datadog credentials")
	} else {
		logger.Warn().Msg("no Datadog credentials resolved from DATADOG_MCP_API_KEY/DATADOG_MCP_APP_KEY, DD_API_KEY/DD_APP_KEY, or the credentials file; API calls will fail")
	}

	m := metrics.New()
	limiter, err := gateway.ParseRateLimit(cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("invalid DATADOG_MCP_RATE_LIMIT: %w", err)
	}
	client, err := gateway.New(gateway.Config{
		BaseURL:          cfg.APIBaseURL,
		Credentials:      creds,
		Timeout:          cfg.RequestTimeout,
		MaxResponseBytes: cfg.MaxResponseBytes,
		Limiter:          limiter,
		Guard:            modeGuard,
		Metrics:          m,
		Audit:            audit.NewLogger(log.Logger),
		Logger:           log.With().Str("component", "gateway").Logger(),
		UserAgent:        "datadog-mcp/" + version,
	})
	if err != nil {
		return fmt.Errorf("creating Datadog gateway: %w", err)
	}

	sessions := gateway.NewSessions()
	m.TrackOpenExecutions(sessions.Len)
	loopback, err := gateway.StartLoopback(
		gateway.NewProxy(client, sessions, log.With().Str("component", "proxy").Logger()).Handler(),
		log.With().Str("component", "proxy").Logger(),
	)
	if err != nil {
		return fmt.Errorf("starting gateway proxy: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if closeErr := loopback.Close(shutdownCtx); closeErr != nil {
			logger.Error().Err(closeErr).Msg("gateway proxy shutdown error")
		}
	}()

	runner, err := executor.New(executor.Config{
		Interpreter: cfg.Interpreter,
		Timeout:     cfg.ExecTimeout,
		GatewayURL:  loopback.URL,
		Metrics:     m,
		Logger:      log.With().Str("component", "executor").Logger(),
	}, sessions)
	var codeRunner tools.CodeRunner
	if err != nil {
		logger.Warn().Err(err).Msg("code execution disabled")
	} else {
		codeRunner = runner
	}

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.CatalogPath).Msg("catalog unavailable; search will return no operations")
		cat = &catalog.Catalog{}
	}
	m.SetCatalogSize(cat.Len())
	logger.Info().Int("operations", cat.Len()).Str("path", cfg.CatalogPath).Msg("catalog loaded")

	toolRunner := tools.NewRunner(tools.Config{
		MaxOutputTokens: cfg.MaxOutputTokens,
		AllowWrites:     modeGuard.Mode() == policy.ModeReadWrite,
	}, cat, client, codeRunner)
	caller := server.WithMetrics(toolRunner, m)

	switch cfg.Transport {
	case config.TransportStdio:
		if runErr := server.RunStdio(ctx, os.Stdin, os.Stdout, registry, modeGuard, caller, version, logger); runErr != nil {
			return fmt.Errorf("stdio runtime stopped: %w", runErr)
		}
		logger.Info().Msg("stdio runtime stopped")
		return nil

	case config.TransportHTTP:
		tokens, tokenErr := auth.ResolveSessionTokens(credOpts, cfg.SessionScopes)
		if tokenErr != nil {
			return fmt.Errorf("resolving MCP session tokens: %w", tokenErr)
		}
		if len(tokens) == 0 {
			logger.Warn().Msg("no MCP session token configured; HTTP tool calls will be rejected")
		} else {
			logger.Info().Int("sessions", len(tokens)).Msg("MCP session tokens loaded")
		}
		ready := func() error {
			if toolRunner.CatalogSize() == 0 {
				return errors.New("catalog has no operations")
			}
			return nil
		}
		httpServer := server.NewHTTPServer(
			cfg, version, commit, buildDate,
			api.ToolsContract, registry, modeGuard,
			server.NewTokenSessionAuthenticator(tokens...),
			caller, m, ready,
			log.With().Str("component", "http").Logger(),
		)
		return serveHTTP(ctx, cancel, cfg.ListenAddr, httpServer.Router(), logger)

	default:
		return fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func serveHTTP(ctx context.Context, cancel context.CancelFunc, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // allow SSE streaming without forcing writer timeout.
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("HTTP server error")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("HTTP server shutdown: %w", shutdownErr)
	}
	logger.Info().Msg("server stopped gracefully")
	return serveErr
}
