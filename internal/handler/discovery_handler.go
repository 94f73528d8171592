// internal/handler/discovery_handler.go
package handler

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anova-service/internal/service"
	"anova-service/internal/utils"
)

// ServerInfo is the address appliances are pointed at when provisioned
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DiscoveryHandler handles scanning and BLE provisioning requests
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	deviceService    *service.DeviceService
	server           ServerInfo
	timeout          time.Duration
	logger           *utils.ServiceLogger

	hostOnce sync.Once
}

// NewDiscoveryHandler creates a new discovery handler. An empty server host is
// resolved to the outbound local address on first use.
func NewDiscoveryHandler(
	discoveryService *service.DiscoveryService,
	deviceService *service.DeviceService,
	server ServerInfo,
	timeout time.Duration,
	logger *zap.Logger,
) *DiscoveryHandler {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		deviceService:    deviceService,
		server:           server,
		timeout:          timeout,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery and provisioning routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/server_info", h.GetServerInfo)
	router.GET("/discovery/scan", h.ScanDevices)

	ble := router.Group("/ble")
	{
		ble.GET("", h.GetBLEInfo)
		ble.GET("/device", h.GetBLEDevice)
		ble.POST("/connect_wifi", h.ConnectWifi)
		ble.POST("/config_wifi_server", h.ConfigWifiServer)
		ble.POST("/restore_wifi_server", h.RestoreWifiServer)
		ble.POST("/secret_key", h.NewSecretKey)
	}
}

// WifiRequest carries the network the appliance should join
type WifiRequest struct {
	SSID     string `json:"ssid" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ServerRequest overrides the server the appliance reports to
type ServerRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// BLEInfo is the appliance identity read over BLE
type BLEInfo struct {
	Address         string `json:"ble_address"`
	Name            string `json:"ble_name"`
	Version         string `json:"version"`
	IDCard          string `json:"id_card"`
	TemperatureUnit string `json:"temperature_unit"`
	SpeakerStatus   bool   `json:"speaker_status"`
}

// ScanDevices scans for appliances
// @Summary Scan for appliances
// @Tags Discovery
// @Produce json
// @Param timeout query string false "Scan timeout" default(5s)
// @Success 200 {object} utils.APIResponse{data=object{devices_found=int,devices=[]model.Advertisement}}
// @Router /discovery/scan [get]
func (h *DiscoveryHandler) ScanDevices(c *gin.Context) {
	timeout, err := time.ParseDuration(c.DefaultQuery("timeout", "5s"))
	if err != nil || timeout <= 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid timeout", err)
		return
	}

	devices := h.discoveryService.ScanDevices(c.Request.Context(), timeout)
	utils.SuccessResponse(c, http.StatusOK, "Device scan completed", gin.H{
		"devices_found": len(devices),
		"devices":       devices,
	})
}

// GetServerInfo returns the address appliances should report to
// @Summary Server info
// @Tags Provisioning
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ServerInfo}
// @Router /server_info [get]
func (h *DiscoveryHandler) GetServerInfo(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Server info", h.serverInfo())
}

// GetBLEDevice returns the first appliance advertising over BLE
// @Summary Find BLE device
// @Tags Provisioning
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Advertisement}
// @Failure 404 {object} utils.APIResponse
// @Router /ble/device [get]
func (h *DiscoveryHandler) GetBLEDevice(c *gin.Context) {
	adv, err := h.discoveryService.FindDevice(c.Request.Context())
	if err != nil {
		respondError(c, "No BLE device found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "BLE device found", gin.H{
		"address": adv.Address,
		"name":    adv.Name,
	})
}

// GetBLEInfo reads identity, firmware and settings from the appliance
// @Summary BLE device info
// @Tags Provisioning
// @Produce json
// @Success 200 {object} utils.APIResponse{data=BLEInfo}
// @Failure 404 {object} utils.APIResponse
// @Router /ble [get]
func (h *DiscoveryHandler) GetBLEInfo(c *gin.Context) {
	h.provision(c, "Failed to read BLE device info", func(ctx context.Context, ctrl service.Controller) (string, interface{}, error) {
		identity := ctrl.Identity()
		info := BLEInfo{Address: identity.Address, Name: identity.Name}

		var err error
		if info.IDCard, err = ctrl.IDCard(ctx); err != nil {
			return "", nil, err
		}
		if info.Version, err = ctrl.Version(ctx); err != nil {
			return "", nil, err
		}
		unit, err := ctrl.Unit(ctx)
		if err != nil {
			return "", nil, err
		}
		info.TemperatureUnit = string(unit)
		if info.SpeakerStatus, err = ctrl.SpeakerStatus(ctx); err != nil {
			return "", nil, err
		}

		h.deviceService.RecordReading(ctx, identity.Address, service.ReadingIDCard, info.IDCard)
		h.deviceService.RecordReading(ctx, identity.Address, service.ReadingVersion, info.Version)
		return "BLE device info", info, nil
	})
}

// ConnectWifi sends Wi-Fi credentials to the appliance
// @Summary Provision Wi-Fi
// @Tags Provisioning
// @Accept json
// @Param request body WifiRequest true "Network credentials"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /ble/connect_wifi [post]
func (h *DiscoveryHandler) ConnectWifi(c *gin.Context) {
	var req WifiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.provision(c, "Failed to send Wi-Fi credentials", func(ctx context.Context, ctrl service.Controller) (string, interface{}, error) {
		if err := ctrl.ConnectWifi(ctx, req.SSID, req.Password); err != nil {
			return "", nil, err
		}
		h.logger.Info("Wi-Fi credentials sent",
			zap.String("address", ctrl.Identity().Address),
			zap.String("ssid", req.SSID),
		)
		return "ok", nil, nil
	})
}

// ConfigWifiServer points the appliance at this server
// @Summary Configure Wi-Fi server
// @Tags Provisioning
// @Accept json
// @Param request body ServerRequest false "Server override"
// @Success 200 {object} utils.APIResponse{data=ServerInfo}
// @Router /ble/config_wifi_server [post]
func (h *DiscoveryHandler) ConfigWifiServer(c *gin.Context) {
	var req ServerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	target := h.serverInfo()
	if req.Host != "" {
		target.Host = req.Host
	}
	if req.Port != 0 {
		target.Port = req.Port
	}

	h.provision(c, "Failed to configure Wi-Fi server", func(ctx context.Context, ctrl service.Controller) (string, interface{}, error) {
		if err := ctrl.SetServerInfo(ctx, target.Host, target.Port); err != nil {
			return "", nil, err
		}
		h.logger.Info("Wi-Fi server configured",
			zap.String("address", ctrl.Identity().Address),
			zap.String("host", target.Host),
			zap.Int("port", target.Port),
		)
		return "ok", target, nil
	})
}

// RestoreWifiServer points the appliance back at the vendor cloud
// @Summary Restore Wi-Fi server
// @Tags Provisioning
// @Success 200 {object} utils.APIResponse
// @Router /ble/restore_wifi_server [post]
func (h *DiscoveryHandler) RestoreWifiServer(c *gin.Context) {
	h.provision(c, "Failed to restore Wi-Fi server", func(ctx context.Context, ctrl service.Controller) (string, interface{}, error) {
		return "ok", nil, ctrl.RestoreServerInfo(ctx)
	})
}

// NewSecretKey installs a freshly generated secret key
// @Summary Rotate secret key
// @Tags Provisioning
// @Success 200 {object} utils.APIResponse{data=object{secret_key=string}}
// @Router /ble/secret_key [post]
func (h *DiscoveryHandler) NewSecretKey(c *gin.Context) {
	h.provision(c, "Failed to set secret key", func(ctx context.Context, ctrl service.Controller) (string, interface{}, error) {
		key, err := ctrl.SetSecretKey(ctx, "")
		if err != nil {
			return "", nil, err
		}
		h.logger.Info("Secret key rotated", zap.String("address", ctrl.Identity().Address))
		return "Secret key set", gin.H{"secret_key": key}, nil
	})
}

// provision acquires the first available appliance and runs fn against it
func (h *DiscoveryHandler) provision(c *gin.Context, failure string, fn func(ctx context.Context, ctrl service.Controller) (string, interface{}, error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	ctrl, err := h.discoveryService.Acquire(ctx)
	if err != nil {
		respondError(c, "No BLE device found", err)
		return
	}

	message, data, err := fn(ctx, ctrl)
	if err != nil {
		h.logger.Warn(failure, zap.String("address", ctrl.Identity().Address), zap.Error(err))
		respondError(c, failure, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, message, data)
}

func (h *DiscoveryHandler) serverInfo() ServerInfo {
	h.hostOnce.Do(func() {
		if h.server.Host == "" {
			h.server.Host = LocalHost()
		}
	})
	return h.server
}

// LocalHost returns the address of the interface used for outbound traffic.
// No packet is sent: dialing UDP only selects a route.
func LocalHost() string {
	conn, err := net.Dial("udp4", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// ParsePort converts a configured port string, returning 0 when invalid
func ParsePort(port string) int {
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return 0
	}
	return n
}
