// internal/handler/sse_handler.go
package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anova-service/internal/events"
	"anova-service/internal/model"
	"anova-service/internal/service"
	"anova-service/internal/utils"
)

// SSEHandler streams a single device's events as server-sent events
type SSEHandler struct {
	bus           *events.Bus
	deviceService *service.DeviceService
	pingInterval  time.Duration
	logger        *utils.ServiceLogger
}

// NewSSEHandler creates a new SSE handler. A ping event is written whenever
// pingInterval passes without a device event.
func NewSSEHandler(bus *events.Bus, deviceService *service.DeviceService, pingInterval time.Duration, logger *zap.Logger) *SSEHandler {
	if pingInterval <= 0 {
		pingInterval = time.Second
	}
	return &SSEHandler{
		bus:           bus,
		deviceService: deviceService,
		pingInterval:  pingInterval,
		logger:        utils.NewServiceLogger(logger, "sse-handler"),
	}
}

// RegisterRoutes registers the SSE route on the device group
func (h *SSEHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/devices/:id/sse", h.Stream)
}

// Stream streams device events
// @Summary Device event stream
// @Description Server-sent events for one device; a ping is sent when idle
// @Tags Devices
// @Produce text/event-stream
// @Param id path string true "Device address"
// @Success 200 {object} model.DeviceEvent
// @Failure 404 {object} utils.APIResponse
// @Router /devices/{id}/sse [get]
func (h *SSEHandler) Stream(c *gin.Context) {
	address := c.Param("id")
	if _, err := h.deviceService.GetDevice(address); err != nil {
		respondError(c, "Device not found", err)
		return
	}

	sub := h.bus.Subscribe(model.EventAll, 64)
	defer h.bus.Unsubscribe(sub)

	h.logger.Info("SSE stream started", zap.String("address", address))
	defer h.logger.Info("SSE stream closed", zap.String("address", address))

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		for {
			select {
			case <-ctx.Done():
				return false
			case event, ok := <-sub.Events:
				if !ok {
					return false
				}
				if event.Address != address || event.Type == model.EventPing {
					continue
				}
				c.SSEvent(string(event.Type), event)
				ticker.Reset(h.pingInterval)
				return true
			case <-ticker.C:
				c.SSEvent(string(model.EventPing), model.NewDeviceEvent(model.EventPing, address, "sse", nil))
				return true
			}
		}
	})
}
