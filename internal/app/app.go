package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/beacon/internal/advertiser"
	"github.com/MrSnakeDoc/beacon/internal/config"
	"github.com/MrSnakeDoc/beacon/internal/discovery"
	"github.com/MrSnakeDoc/beacon/internal/httpserver"
	"github.com/MrSnakeDoc/beacon/internal/httpserver/deps"
	"github.com/MrSnakeDoc/beacon/internal/logger"
	"github.com/MrSnakeDoc/beacon/internal/metrics"
	"github.com/MrSnakeDoc/beacon/internal/netwatch"
	"github.com/MrSnakeDoc/beacon/internal/prefs"
	"github.com/MrSnakeDoc/beacon/internal/redis"
	redisstore "github.com/MrSnakeDoc/beacon/internal/store/redis"
	"github.com/MrSnakeDoc/beacon/internal/utils"
	"github.com/MrSnakeDoc/beacon/internal/version"
)

type App struct {
	cfg            *config.Config
	logger         logger.Logger
	redisClient    *goredis.Client
	prefs          prefs.Store
	fileStore      *prefs.FileStore // nil unless the file backend is used
	monitor        *netwatch.Monitor
	networkRefresh chan struct{}
	advertiser     *advertiser.Advertiser
	recorder       *metrics.PrometheusRecorder
	controller     *discovery.Controller
	server         *httpserver.Server
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	a := &App{
		cfg:      cfg,
		logger:   loggerClient,
		recorder: metrics.NewPrometheusRecorder(nil),
	}

	if err := a.initPreferences(); err != nil {
		loggerClient.Errorf("Failed to initialize preference store: %v", err)
		os.Exit(1)
	}

	// Network watch is optional: without it the controller gates on the preference only.
	if cfg.NetworkWatch {
		var probe netwatch.Prober
		if cfg.ProbeAddr != "" {
			probe = netwatch.DialProbe(cfg.ProbeAddr, cfg.ProbeTimeout)
		}
		a.networkRefresh = make(chan struct{}, 1)
		a.monitor = netwatch.NewMonitor(
			netwatch.SystemInterfaces,
			probe,
			loggerClient.With(logger.String("component", "netwatch")),
			cfg.NetworkInterval,
			a.networkRefresh,
		)
	} else {
		loggerClient.Info("network watch disabled, discovery follows the preference only")
	}

	a.advertiser = advertiser.New(advertiser.Config{
		Instance: cfg.ServiceInstance,
		Service:  cfg.MDNSService,
		Domain:   cfg.MDNSDomain,
		Port:     portOf(cfg.ListenPort),
		TXT:      []string{"version=" + version.Version},
		Iface:    cfg.MDNSIface,
	}, loggerClient)

	return a
}

func (a *App) initPreferences() error {
	cfg := a.cfg
	switch cfg.PrefBackend {
	case config.BackendFile:
		store, err := prefs.NewFileStore(cfg.PrefFile, a.logger, cfg.PrefDebounce)
		if err != nil {
			return err
		}
		a.fileStore = store
		a.prefs = store
	case config.BackendRedis:
		// Initialize Redis early - fail fast if unavailable
		a.logger.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		client, err := redis.Connect(context.Background(), redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.logger.Info("Redis initialized successfully")
		a.redisClient = client
		a.prefs = redisstore.NewPreferenceStore(client, a.logger)
	default:
		a.prefs = prefs.NewMemoryStore(map[string]bool{cfg.PrefName: cfg.PrefDefault})
	}
	a.logger.Info("preference store ready",
		logger.String("backend", cfg.PrefBackend),
		logger.String("preference", cfg.PrefName))
	return nil
}

// seedPreference writes the configured default when the store has no value yet.
func (a *App) seedPreference(ctx context.Context) error {
	_, err := a.prefs.GetBool(ctx, a.cfg.PrefName)
	if !errors.Is(err, prefs.ErrNotFound) {
		return nil
	}
	a.logger.Info("preference not set, writing default",
		logger.String("preference", a.cfg.PrefName),
		logger.Bool("value", a.cfg.PrefDefault))
	return a.prefs.SetBool(ctx, a.cfg.PrefName, a.cfg.PrefDefault)
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Beacon v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Beacon %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.seedPreference(ctx); err != nil {
		a.logger.Warn("failed to seed preference", logger.Error(err))
	}

	// Start preference file watcher (if enabled)
	if a.fileStore != nil {
		if err := a.fileStore.Start(ctx); err != nil {
			return errors.Join(fmt.Errorf("failed to start preference watcher: %w", err), a.shutdown())
		}
		a.logger.Info("preference file watcher started",
			logger.String("file", a.fileStore.Path()))
	}

	// Start network monitor before the controller so its first scan seeds the
	// controller's startup state.
	var network discovery.NetworkSource
	if a.monitor != nil {
		if err := a.monitor.Start(ctx); err != nil {
			return errors.Join(fmt.Errorf("failed to start network monitor: %w", err), a.shutdown())
		}
		network = a.monitor
		a.logger.Info("network monitor started",
			logger.Duration("interval", a.monitor.Interval()))
	}

	controller, err := discovery.New(a.prefs, network, a.advertiser,
		discovery.WithPreferenceName(a.cfg.PrefName),
		discovery.WithReadTimeout(a.cfg.PrefTimeout),
		discovery.WithLogger(a.logger),
		discovery.WithRecorder(a.recorder),
	)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to start lifecycle controller: %w", err), a.shutdown())
	}
	a.controller = controller

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:         a.logger,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		AllowedHosts:   a.cfg.AllowedHosts,
		AllowedCIDRS:   a.cfg.AllowedCIDRS,
		TrustProxy:     a.cfg.TrustProxy,
		RateBurst:      a.cfg.RateBurst,
		RatePerMin:     a.cfg.RatePerMin,
		Controller:     controller,
		Prefs:          a.prefs,
		PrefName:       a.cfg.PrefName,
		PrefBackend:    a.cfg.PrefBackend,
		Monitor:        a.monitor,
		NetworkRefresh: a.networkRefresh,
		Advertiser:     a.advertiser,
		RedisClient:    a.redisClient,
		Metrics:        a.recorder.Handler(),
	}
	a.server = httpserver.New(a.cfg, a.logger, d)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown releases subscriptions first so no event can restart the service
// while its producers are being torn down.
func (a *App) shutdown() error {
	var errs []error

	if a.controller != nil {
		if err := a.controller.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}

	if a.monitor != nil {
		a.monitor.Stop()
	}

	if a.fileStore != nil {
		a.fileStore.Stop()
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.server.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop server: %w", err))
		}
	}

	if a.redisClient != nil {
		utils.MustClose(a.redisClient, "redis", a.logger)
	}

	if len(errs) == 0 {
		a.logger.Info("✅ Beacon stopped cleanly")
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// portOf extracts the numeric port of a listen address such as ":8080".
func portOf(listen string) int {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}
