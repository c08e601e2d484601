// Package app wires configuration into a runnable load generator.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"chatload/internal/api"
	"chatload/internal/config"
	"chatload/internal/coordinator"
	"chatload/internal/database"
	"chatload/internal/logging"
	"chatload/internal/metrics"
	"chatload/internal/scenario"
	"chatload/internal/stub"
	pkgdatabase "chatload/pkg/database"
	"chatload/pkg/interfaces"
	"chatload/pkg/types"
)

// Application owns every long-lived component of a load run
type Application struct {
	config   *config.Config
	logger   logrus.FieldLogger
	client   *api.Client
	recorder *metrics.Recorder
	store    interfaces.ReportStore

	metricsServer   *http.Server
	metricsListener net.Listener
}

// NewApplication builds the components in dependency order:
// API client -> metrics -> run history store
func NewApplication(cfg *config.Config, logger logrus.FieldLogger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	// FUNCTIONAL DISCOVERY: One shared transport sized for the whole population,
	// otherwise thousands of virtual users queue behind two idle connections per host
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.Load.VirtualUsers * 2
	transport.MaxIdleConnsPerHost = cfg.Load.VirtualUsers * 2
	httpClient := &http.Client{Timeout: cfg.Target.RequestTimeout, Transport: transport}

	client, err := api.NewClient(cfg.Target.BaseURL, httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	app := &Application{
		config:   cfg,
		logger:   logger,
		client:   client,
		recorder: metrics.NewRecorder(),
	}

	if cfg.Database.Path != "" {
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.Database.Path
		dbConfig.WriteTimeout = cfg.Database.Timeout

		store, err := database.NewManager(dbConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize run history store: %w", err)
		}
		app.store = store
		logger.WithField("path", cfg.Database.Path).Debug("run history store ready")
	}

	return app, nil
}

// Scenario builds the scenario for kind ("http" or "ws")
func (app *Application) Scenario(kind string) (interfaces.Scenario, error) {
	switch kind {
	case types.ScenarioHTTP:
		return scenario.NewHTTPFlow(app.client, app.logger), nil
	case types.ScenarioRoom:
		ws := app.config.WebSocket
		return scenario.NewRoomFlow(app.client, scenario.RoomOptions{
			RoomName:         ws.RoomName,
			SessionTimeout:   ws.SessionTimeout,
			HandshakeTimeout: ws.HandshakeTimeout,
			WriteTimeout:     ws.WriteTimeout,
			UniqueUsers:      ws.UniqueUsers,
		}, app.logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, kind)
	}
}

// Run executes one load run of kind and persists its report when the store is enabled.
// The report is returned whenever the run started, even if it was cancelled.
func (app *Application) Run(ctx context.Context, kind string) (*types.Report, error) {
	sc, err := app.Scenario(kind)
	if err != nil {
		return nil, err
	}

	load := app.config.Load
	coord := coordinator.New(coordinator.Config{
		VirtualUsers: load.VirtualUsers,
		Duration:     load.Duration,
		Iterations:   load.Iterations,
		ThinkTime:    app.config.ThinkTime(kind),
	}, func(int) interfaces.Scenario { return sc }, app.logger, app.recorder)

	report, runErr := coord.Run(ctx)
	if report == nil {
		return nil, runErr
	}

	if app.store != nil {
		// TECHNICAL DISCOVERY: Persist on a fresh context so an interrupted run is still recorded
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.Database.Timeout)
		defer cancel()
		if err := app.store.SaveReport(saveCtx, report); err != nil {
			app.logger.WithError(err).WithField("run_id", report.RunID).Error("failed to persist report")
			return report, errors.Join(runErr, fmt.Errorf("failed to persist report: %w", err))
		}
	}

	return report, runErr
}

// Start serves /metrics when metrics.addr is configured
func (app *Application) Start(ctx context.Context) error {
	if app.config.Metrics.Addr == "" {
		return nil
	}

	listener, err := net.Listen("tcp", app.config.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.recorder.Handler())
	app.metricsListener = listener
	app.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := app.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.WithError(err).Error("metrics server failed")
		}
	}()

	app.logger.WithField("addr", listener.Addr().String()).Info("serving metrics")
	return nil
}

// Stop shuts down in reverse order: metrics server, then store
func (app *Application) Stop(ctx context.Context) error {
	var errs []error

	if app.metricsServer != nil {
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
		app.metricsServer, app.metricsListener = nil, nil
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Store returns the run history store
func (app *Application) Store() (interfaces.ReportStore, error) {
	if app.store == nil {
		return nil, ErrStoreDisabled
	}
	return app.store, nil
}

// Recorder exposes the metrics recorder
func (app *Application) Recorder() *metrics.Recorder {
	return app.recorder
}

// MetricsAddr returns the bound metrics address, or "" when not serving
func (app *Application) MetricsAddr() string {
	if app.metricsListener == nil {
		return ""
	}
	return app.metricsListener.Addr().String()
}

// NewStubServer builds the fake target service from the stub section
func NewStubServer(cfg *config.Config, logger logrus.FieldLogger) (*stub.Server, error) {
	stubConfig := stub.DefaultConfig()
	stubConfig.Addr = net.JoinHostPort(cfg.Stub.Host, strconv.Itoa(cfg.Stub.Port))
	stubConfig.JWTSecret = cfg.Stub.JWTSecret
	stubConfig.TokenTTL = cfg.Stub.TokenTTL
	stubConfig.MessagesPerMinute = cfg.Stub.MessagesPerMinute
	return stub.NewServer(stubConfig, logger)
}
