package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ncolesummers/request-decomposition/pkg/config"
	"github.com/ncolesummers/request-decomposition/pkg/domain"
	"github.com/ncolesummers/request-decomposition/pkg/observability"
	"github.com/ncolesummers/request-decomposition/pkg/render"
	"github.com/ncolesummers/request-decomposition/pkg/session"
	"github.com/ncolesummers/request-decomposition/pkg/state"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct process exit codes
func exitCode(err error) int {
	var verr *validationError
	if errors.As(err, &verr) {
		return 5
	}
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		return 2
	case domain.KindNotFound:
		return 3
	case domain.KindInvalidState:
		return 4
	default:
		return 1
	}
}

// app carries what every command needs once configuration is loaded
type app struct {
	configPath string

	cfg       *config.Config
	logger    *observability.StructuredLogger
	telemetry *observability.Telemetry
	manager   *session.Manager
	renderers *render.Registry
}

// run loads configuration, wires the session manager and runs fn inside a
// command span. Everything is torn down before it returns.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", a.configPath, err)
	}
	a.cfg = cfg

	logger, err := observability.NewStructuredLoggerWithOptions("cli", observability.LoggerOptions{
		Level:  a.cfg.Observability.Logging.Level,
		Format: a.cfg.Observability.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	defer func() { _ = logger.Sync() }()

	if err := a.initObservability(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer a.shutdownObservability(ctx)

	store, err := state.Open(a.cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", a.cfg.Storage.Type, err)
	}

	manager, err := session.NewManager(store, a.telemetry, logger.WithComponent("session"),
		session.WithOperationTimeout(a.cfg.OperationTimeout()),
	)
	if err != nil {
		_ = store.Close()
		return err
	}
	a.manager = manager
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error(ctx, "Failed to close store", err)
		}
	}()

	a.renderers = render.NewDefaultRegistry()

	ctx, span := a.telemetry.StartSpan(ctx, "cli."+cmd.Name(),
		trace.WithAttributes(
			attribute.String("version", Version),
			attribute.String("storage.type", a.cfg.Storage.Type),
		),
	)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (a *app) initObservability() error {
	cfg := a.cfg
	telConfig := &observability.TelemetryConfig{
		ServiceName:    "request-decomposition",
		ServiceVersion: Version,
		Environment:    getEnvironment(cfg),
		OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableTracing:  cfg.Observability.Tracing.Enabled,
		EnableMetrics:  cfg.Observability.Metrics.Enabled,
	}

	telemetry, err := observability.NewTelemetry(telConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = telemetry
	return nil
}

func (a *app) shutdownObservability(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn(ctx, "Error shutting down telemetry", map[string]interface{}{"error": err.Error()})
		}
	}
}

func getEnvironment(cfg *config.Config) string {
	if cfg.IsProduction() {
		return "production"
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
