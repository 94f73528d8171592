// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/config"
	"anova-service/internal/database"
	"anova-service/internal/discovery"
	blescanner "anova-service/internal/discovery/ble"
	relayscanner "anova-service/internal/discovery/relay"
	serialscanner "anova-service/internal/discovery/serial"
	"anova-service/internal/events"
	"anova-service/internal/metrics"
	"anova-service/internal/model"
	"anova-service/internal/notify"
	"anova-service/internal/protocol"
	"anova-service/internal/registry"
	"anova-service/internal/repository"
	"anova-service/internal/routes"
	"anova-service/internal/service"
	bletransport "anova-service/internal/transport/ble"
	relaytransport "anova-service/internal/transport/relay"
	"anova-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	bus       *events.Bus
	registry  *registry.Registry
	metrics   *metrics.Collector
	backends  protocol.Backends
	discovery *discovery.Manager
	router    *routes.Router
	forwarder *notify.Forwarder
	mqtt      notify.Publisher

	// Services
	deviceService    *service.DeviceService
	discoveryService *service.DiscoveryService

	// Repositories
	deviceRepo repository.DeviceRepository

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	app, err := NewApplication(os.Getenv("ANOVA_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "anova-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := app.initializeBackends(); err != nil {
		return nil, fmt.Errorf("failed to initialize transport backends: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeNotifier(); err != nil {
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase sets up the optional database connection and runs migrations
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, device records are kept in memory only")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.config.GetDatabaseDSN(), app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(db, app.logger, &app.config.Database)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() error {
	if app.database == nil {
		return nil
	}
	app.deviceRepo = repository.NewDeviceRepository(app.database, app.logger)

	app.logger.Info("Repositories initialized successfully")
	return nil
}

// initializeBackends opens the process-wide radio or relay handle and the
// scanners that go with it
func (app *Application) initializeBackends() error {
	cfg := app.config
	signature := discovery.Signature{
		Name:        cfg.Transport.BLE.DeviceName,
		ServiceUUID: cfg.Transport.BLE.ServiceUUID,
	}
	app.discovery = discovery.NewManager(app.logger)

	switch cfg.Transport.Mode {
	case config.ModeRelay:
		client := relaytransport.NewClient(cfg.RelayURL(), cfg.Protocol.ResponseGrace, app.logger)
		app.backends.Relay = client
		app.discovery.Register(relayscanner.NewScanner(client, signature, app.logger))

	case config.ModeDirect:
		switch cfg.Transport.Link {
		case config.LinkBLE:
			adapter, err := bletransport.NewAdapter([]string{cfg.Transport.BLE.ServiceUUID}, app.logger)
			if err != nil {
				return fmt.Errorf("failed to create bluetooth adapter: %w", err)
			}
			app.backends.Adapter = adapter
			app.discovery.Register(blescanner.NewScanner(adapter, signature, app.logger))
		case config.LinkSerial:
			app.discovery.Register(serialscanner.NewScanner(cfg.Transport.Serial.Port, signature, app.logger))
		}
	}

	app.logger.Info("Transport backends initialized",
		zap.String("mode", cfg.Transport.Mode),
		zap.String("link", cfg.Transport.Link),
		zap.Strings("scanners", app.discovery.AvailableScanners()),
	)
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.bus = events.NewBus(app.logger)
	app.metrics = metrics.NewCollector("anova")

	var store registry.Store
	if app.deviceRepo != nil {
		store = app.deviceRepo
	}
	app.registry = registry.New(registry.Config{
		HeartbeatInterval: app.config.Registry.HeartbeatInterval,
		MaxFailures:       app.config.Registry.MaxFailures,
	}, store, app.bus, app.logger)

	connector := service.ProtocolConnector(app.config, app.backends, app.metrics, app.logger)
	app.deviceService = service.NewDeviceService(app.registry, app.deviceRepo, connector, app.logger)

	app.discoveryService = service.NewDiscoveryService(
		app.discovery,
		app.deviceService,
		app.bus,
		app.config.Transport.BLE.ScanTimeout,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeNotifier connects the optional MQTT event fan-out
func (app *Application) initializeNotifier() error {
	if !app.config.MQTT.Enabled {
		return nil
	}

	publisher, err := notify.Connect(&app.config.MQTT, app.logger)
	if err != nil {
		return err
	}
	app.mqtt = publisher
	app.forwarder = notify.NewForwarder(publisher, app.config.MQTT.TopicPrefix, app.config.MQTT.QoS, app.logger)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	app.router = routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.bus,
		app.metrics,
		app.deviceService,
		app.discoveryService,
	)

	router := app.router.SetupRouter()

	app.server = &http.Server{
		Addr:        app.config.GetServerAddr(),
		Handler:     router,
		ReadTimeout: app.config.Server.ReadTimeout,
		// WriteTimeout stays unset: SSE and WebSocket streams are long lived
		IdleTimeout: app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)

	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices(ctx context.Context) {
	app.run(func() { app.bus.Start(ctx) })
	app.registry.Start(ctx)
	app.run(func() { app.router.WebSocketHandler().Run(ctx, app.bus) })
	app.run(func() { app.trackDevices(ctx) })

	if app.forwarder != nil {
		app.run(func() { app.forwarder.Run(ctx, app.bus) })
	}

	app.run(func() {
		app.deviceService.ReconnectPersisted(ctx)
		app.discoveryService.Run(ctx, app.config.Registry.DiscoveryInterval)
	})

	app.logger.Info("Background services started")
}

func (app *Application) run(fn func()) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn()
	}()
}

// trackDevices keeps the tracked device gauge in line with the registry
func (app *Application) trackDevices(ctx context.Context) {
	sub := app.bus.Subscribe(model.EventAll, 32)
	defer app.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			switch event.Type {
			case model.EventDeviceConnected, model.EventDeviceRemoved:
				app.metrics.SetDevices(len(app.deviceService.ListDevices()))
			}
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "anova-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.registry.Stop()
	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	// Close links without forgetting persisted devices
	for _, record := range app.deviceService.ListDevices() {
		if ctrl, err := app.deviceService.Controller(record.Address); err == nil {
			if err := ctrl.Disconnect(); err != nil {
				app.logger.Warn("Failed to disconnect device", zap.String("address", record.Address), zap.Error(err))
			}
		}
	}

	if app.mqtt != nil {
		app.mqtt.Close()
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start runs the server and background services until a shutdown signal
func (app *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices(ctx)

	app.waitForShutdown()

	return nil
}
