// cmd/relay/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anova-service/internal/config"
	"anova-service/internal/discovery"
	"anova-service/internal/discovery/mdns"
	"anova-service/internal/middleware"
	"anova-service/internal/model"
	"anova-service/internal/transport"
	"anova-service/internal/transport/ble"
	"anova-service/internal/transport/relay"
	"anova-service/internal/utils"
)

// Relay owns the host radio and serves it over HTTP to the main service
type Relay struct {
	config     *config.Config
	logger     *zap.Logger
	server     *http.Server
	radio      *relay.Radio
	advertiser *mdns.Advertiser
}

func main() {
	r, err := NewRelay(os.Getenv("ANOVA_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("Failed to initialize relay: %v\n", err)
		os.Exit(1)
	}

	if err := r.Start(); err != nil {
		r.logger.Fatal("Failed to start relay", zap.Error(err))
	}
}

// NewRelay wires the radio, the relay routes and the HTTP server
func NewRelay(configPath string) (*Relay, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	utils.NewServiceLogger(logger, "anova-relay").LogServiceStart(cfg.App.Version, cfg.Relay)

	adapter, err := ble.NewAdapter([]string{cfg.Transport.BLE.ServiceUUID}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bluetooth adapter: %w", err)
	}

	linkConfig := ble.LinkConfig{
		ServiceUUID:    cfg.Transport.BLE.ServiceUUID,
		CharUUID:       cfg.Transport.BLE.CharUUID,
		ScanTimeout:    cfg.Transport.BLE.ScanTimeout,
		ConnectTimeout: cfg.Transport.BLE.ConnectTimeout,
	}
	dial := func(address string) (transport.Link, error) {
		link, err := ble.NewLink(adapter, address, linkConfig, logger)
		if err != nil {
			return nil, err
		}
		return link, nil
	}

	radio := relay.NewRadio(dial, scanAll(adapter), transport.DirectConfig{
		ResponseGrace: cfg.Protocol.ResponseGrace,
		WriteAttempts: cfg.Protocol.WriteAttempts,
		WriteDelay:    100 * time.Millisecond,
	}, logger)

	signature := discovery.Signature{
		Name:        cfg.Transport.BLE.DeviceName,
		ServiceUUID: cfg.Transport.BLE.ServiceUUID,
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(utils.NewServiceLogger(logger, "relay-http")))
	relay.NewServer(radio, signature, cfg.Relay.ScanTimeout, logger).RegisterRoutes(router)

	return &Relay{
		config: cfg,
		logger: logger,
		radio:  radio,
		server: &http.Server{
			Addr:        cfg.GetRelayListenAddr(),
			Handler:     router,
			ReadTimeout: cfg.Server.ReadTimeout,
			IdleTimeout: cfg.Server.IdleTimeout,
		},
	}, nil
}

// scanAll collects every distinct advertisement seen during the scan window
func scanAll(adapter *ble.Adapter) relay.ScanFunc {
	return func(ctx context.Context, timeout time.Duration) ([]model.Advertisement, error) {
		seen := make(map[string]int)
		var found []model.Advertisement
		err := adapter.Scan(ctx, timeout, func(adv model.Advertisement) bool {
			if i, ok := seen[adv.Address]; ok {
				found[i] = adv
				return false
			}
			seen[adv.Address] = len(found)
			found = append(found, adv)
			return false
		})
		return found, err
	}
}

// Start serves until a shutdown signal
func (r *Relay) Start() error {
	if r.config.Relay.Advertise {
		advertiser, err := mdns.Advertise(r.config.Relay.InstanceName, r.config.Relay.ListenPort, map[string]string{
			"version": r.config.App.Version,
		})
		if err != nil {
			r.logger.Warn("Failed to advertise relay", zap.Error(err))
		} else {
			r.advertiser = advertiser
			r.logger.Info("Relay advertised",
				zap.String("instance", r.config.Relay.InstanceName),
				zap.String("service", mdns.ServiceType),
			)
		}
	}

	go func() {
		r.logger.Info("Starting relay server", zap.String("address", r.server.Addr))
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Fatal("Failed to start relay server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	r.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	r.shutdown()
	return nil
}

func (r *Relay) shutdown() {
	utils.NewServiceLogger(r.logger, "anova-relay").LogServiceStop("shutdown signal received")

	if r.advertiser != nil {
		r.advertiser.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.server.Shutdown(ctx); err != nil {
		r.logger.Error("Relay server shutdown error", zap.Error(err))
	}

	if err := r.radio.Close(); err != nil {
		r.logger.Warn("Failed to close appliance links", zap.Error(err))
	}

	if err := utils.CloseLogger(r.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}
