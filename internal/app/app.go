package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yungbote/certsig-backend/internal/data/register"
	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	httpx "github.com/yungbote/certsig-backend/internal/http"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Metrics  *observability.Metrics
	Register register.Table
	Services Services
	Server   *httpx.Server

	otelShutdown func(context.Context) error
}

func New(ctx context.Context, cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		log.Sync()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		ServiceName: cfg.OtelServiceName,
		Environment: cfg.OtelEnvironment,
		Endpoint:    cfg.OtelEndpoint,
		Headers:     cfg.OtelHeaders,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampleRatio,
	})

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	a := &App{Log: log, Cfg: cfg, Metrics: metrics, otelShutdown: otelShutdown}
	a.Clients, err = wireClients(ctx, log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Register, err = resolveRegister(log, cfg, a.Clients, metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init serial register: %w", err)
	}
	a.Services, err = wireServices(ctx, log, cfg, a.Clients, a.Register, metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Server = wireServer(log, cfg, wireHandlers(log, a.Services, a.Register), metrics)
	return a, nil
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	if st, err := a.Register.Stats(ctx); err == nil {
		a.Log.Info("Serial register ready", "backend", a.Register.Backend(), "total", st.Total, "available", st.Available)
	} else {
		a.Log.Warn("Serial register stats unavailable", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Server listening", "addr", a.Cfg.Addr())
		errCh <- a.Server.Run(a.Cfg.Addr())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.Log.Info("Shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// RegisterTool is the register-only wiring used by the operator commands.
type RegisterTool struct {
	Log     *logger.Logger
	Table   register.Table
	clients Clients
}

func NewRegisterTool(ctx context.Context, cfg Config) (*RegisterTool, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.RegisterBackend == register.BackendFile && cfg.SerialRegisterFile == "" {
		return nil, errors.New("SERIAL_REGISTER_FILE is required")
	}
	clients, err := wireClients(ctx, log, Config{
		RegisterBackend:      cfg.RegisterBackend,
		DatabaseDriver:       cfg.DatabaseDriver,
		DatabaseDSN:          cfg.DatabaseDSN,
		DatabaseMaxOpenConns: cfg.DatabaseMaxOpenConns,
		RedisAddr:            cfg.RedisAddr,
		RedisPassword:        cfg.RedisPassword,
		RedisDB:              cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	table, err := resolveRegister(log, cfg, clients, nil)
	if err != nil {
		clients.Close()
		return nil, err
	}
	return &RegisterTool{Log: log, Table: table, clients: clients}, nil
}

func (t *RegisterTool) Status(ctx context.Context) (certificate.RegisterStats, error) {
	return t.Table.Stats(ctx)
}

// Import seeds the register from the CSV file at path.
func (t *RegisterTool) Import(ctx context.Context, path string) (register.ImportResult, error) {
	f, err := openImportSource(path)
	if err != nil {
		return register.ImportResult{}, err
	}
	defer f.Close()
	res, err := register.Import(ctx, t.Table, f)
	if err != nil {
		return res, err
	}
	t.Log.Info("Register import finished",
		"backend", t.Table.Backend(),
		"read", res.Read,
		"added", res.Added,
		"skipped", res.Skipped,
		"consumed", res.Consumed,
	)
	return res, nil
}

func (t *RegisterTool) Close() {
	if t == nil {
		return
	}
	t.clients.Close()
	t.Log.Sync()
}
