// internal/handler/device_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anova-service/internal/command"
	"anova-service/internal/model"
	"anova-service/internal/service"
	"anova-service/internal/utils"
)

// DeviceHandler handles appliance control requests
type DeviceHandler struct {
	deviceService *service.DeviceService
	timeout       time.Duration
	logger        *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler. timeout bounds each request's
// device exchanges, retries included.
func NewDeviceHandler(deviceService *service.DeviceService, timeout time.Duration, logger *zap.Logger) *DeviceHandler {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &DeviceHandler{
		deviceService: deviceService,
		timeout:       timeout,
		logger:        utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	{
		devices.GET("", h.ListDevices)
		devices.POST("", h.ConnectDevice)

		device := devices.Group("/:id")
		{
			device.GET("", h.GetDevice)
			device.DELETE("", h.DisconnectDevice)
			device.GET("/stats", h.GetStats)
			device.GET("/status", h.GetStatus)
			device.POST("/start", h.StartCooking)
			device.POST("/stop", h.StopCooking)
			device.GET("/temperature", h.GetTemperature)
			device.GET("/target_temperature", h.GetTargetTemperature)
			device.POST("/target_temperature", h.SetTargetTemperature)
			device.GET("/unit", h.GetUnit)
			device.POST("/unit", h.SetUnit)
			device.GET("/timer", h.GetTimer)
			device.POST("/timer", h.SetTimer)
			device.POST("/timer/start", h.StartTimer)
			device.POST("/timer/stop", h.StopTimer)
			device.POST("/alarm/clear", h.ClearAlarm)
			device.GET("/speaker_status", h.GetSpeakerStatus)
		}
	}
}

// ConnectDeviceRequest identifies an appliance to connect
type ConnectDeviceRequest struct {
	Address string `json:"address" binding:"required"`
	Name    string `json:"name"`
}

// TargetTemperatureRequest sets the cooking set point
type TargetTemperatureRequest struct {
	Temperature *float64 `json:"temperature" binding:"required"`
	Unit        string   `json:"unit"`
}

// UnitRequest sets the display unit
type UnitRequest struct {
	Unit string `json:"unit" binding:"required"`
}

// TimerRequest sets the cook timer
type TimerRequest struct {
	Minutes *int `json:"minutes" binding:"required"`
}

// ListDevices lists tracked appliances
// @Summary List devices
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.DeviceRecord}
// @Router /devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.deviceService.ListDevices()
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved successfully", gin.H{
		"devices": devices,
		"total":   len(devices),
	})
}

// ConnectDevice connects an appliance by address
// @Summary Connect device
// @Tags Devices
// @Accept json
// @Produce json
// @Param request body ConnectDeviceRequest true "Appliance identity"
// @Success 201 {object} utils.APIResponse{data=model.DeviceRecord}
// @Failure 400 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse
// @Router /devices [post]
func (h *DeviceHandler) ConnectDevice(c *gin.Context) {
	var req ConnectDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	record, err := h.deviceService.Connect(ctx, model.Identity{Address: req.Address, Name: req.Name})
	if err != nil {
		respondError(c, "Failed to connect device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Device connected", record)
}

// GetDevice returns one tracked appliance
// @Summary Get device
// @Tags Devices
// @Produce json
// @Param id path string true "Appliance address"
// @Success 200 {object} utils.APIResponse{data=model.DeviceRecord}
// @Failure 404 {object} utils.APIResponse
// @Router /devices/{id} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	record, err := h.deviceService.GetDevice(c.Param("id"))
	if err != nil {
		respondError(c, "Device not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device retrieved successfully", record)
}

// DisconnectDevice stops tracking an appliance
// @Summary Disconnect device
// @Tags Devices
// @Param id path string true "Appliance address"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Router /devices/{id} [delete]
func (h *DeviceHandler) DisconnectDevice(c *gin.Context) {
	address := c.Param("id")
	if err := h.deviceService.Disconnect(c.Request.Context(), address); err != nil {
		respondError(c, "Failed to disconnect device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device disconnected", gin.H{"address": address})
}

// GetStats returns exchange statistics of the device's transport
func (h *DeviceHandler) GetStats(c *gin.Context) {
	address := c.Param("id")
	if _, err := h.deviceService.GetDevice(address); err != nil {
		respondError(c, "Device not found", err)
		return
	}
	stats, ok := h.deviceService.Stats(address)
	if !ok {
		utils.SuccessResponse(c, http.StatusOK, "Transport keeps no statistics", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved successfully", stats)
}

// GetStatus reads the cooker state
// @Summary Get cooker status
// @Tags Devices
// @Param id path string true "Appliance address"
// @Param from_state query bool false "Return the last recorded reading"
// @Success 200 {object} utils.APIResponse{data=object{status=string}}
// @Router /devices/{id}/status [get]
func (h *DeviceHandler) GetStatus(c *gin.Context) {
	if record, wanted := h.fromState(c); wanted {
		if record != nil {
			utils.SuccessResponse(c, http.StatusOK, "Status from state", gin.H{"status": record.Metadata[service.ReadingCookerStatus]})
		}
		return
	}
	h.withController(c, "Failed to read status", func(ctx context.Context, address string, ctrl service.Controller) {
		status, err := ctrl.Status(ctx)
		if err != nil {
			respondError(c, "Failed to read status", err)
			return
		}
		h.deviceService.RecordReading(ctx, address, service.ReadingCookerStatus, string(status))
		utils.SuccessResponse(c, http.StatusOK, "Status retrieved", gin.H{"status": status})
	})
}

// StartCooking starts the circulator
// @Summary Start cooking
// @Tags Devices
// @Param id path string true "Appliance address"
// @Success 200 {object} utils.APIResponse
// @Router /devices/{id}/start [post]
func (h *DeviceHandler) StartCooking(c *gin.Context) {
	h.withController(c, "Failed to start cooking", func(ctx context.Context, address string, ctrl service.Controller) {
		if err := ctrl.StartCooking(ctx); err != nil {
			respondError(c, "Failed to start cooking", err)
			return
		}
		h.deviceService.RecordReading(ctx, address, service.ReadingCookerStatus, string(command.StatusRunning))
		h.logger.Info("Cooking started", zap.String("address", address))
		utils.SuccessResponse(c, http.StatusOK, "ok", nil)
	})
}

// StopCooking stops the circulator
// @Summary Stop cooking
// @Tags Devices
// @Param id path string true "Appliance address"
// @Success 200 {object} utils.APIResponse
// @Router /devices/{id}/stop [post]
func (h *DeviceHandler) StopCooking(c *gin.Context) {
	h.withController(c, "Failed to stop cooking", func(ctx context.Context, address string, ctrl service.Controller) {
		if err := ctrl.StopCooking(ctx); err != nil {
			respondError(c, "Failed to stop cooking", err)
			return
		}
		h.deviceService.RecordReading(ctx, address, service.ReadingCookerStatus, string(command.StatusStopped))
		h.logger.Info("Cooking stopped", zap.String("address", address))
		utils.SuccessResponse(c, http.StatusOK, "ok", nil)
	})
}

// GetTemperature reads the water temperature
// @Summary Get current temperature
// @Tags Devices
// @Param id path string true "Appliance address"
// @Param from_state query bool false "Return the last recorded reading"
// @Success 200 {object} utils.APIResponse{data=object{temperature=number}}
// @Router /devices/{id}/temperature [get]
func (h *DeviceHandler) GetTemperature(c *gin.Context) {
	if record, wanted := h.fromState(c); wanted {
		if record != nil {
			utils.SuccessResponse(c, http.StatusOK, "Temperature from state", gin.H{"temperature": record.Metadata[service.ReadingCurrentTemperature]})
		}
		return
	}
	h.withController(c, "Failed to read temperature", func(ctx context.Context, address string, ctrl service.Controller) {
		value, err := ctrl.CurrentTemperature(ctx)
		if err != nil {
			respondError(c, "Failed to read temperature", err)
			return
		}
		h.deviceService.RecordReading(ctx, address, service.ReadingCurrentTemperature, value)
		utils.SuccessResponse(c, http.StatusOK, "Temperature retrieved", gin.H{"temperature": value})
	})
}

// GetTargetTemperature reads the set point
// @Summary Get target temperature
// @Tags Devices
// @Param id path string true "Appliance address"
// @Param from_state query bool false "Return the last recorded reading"
// @Success 200 {object} utils.APIResponse{data=object{temperature=number}}
// @Router /devices/{id}/target_temperature [get]
func (h *DeviceHandler) GetTargetTemperature(c *gin.Context) {
	if record, wanted := h.fromState(c); wanted {
		if record != nil {
			utils.SuccessResponse(c, http.StatusOK, "Target temperature from state", gin.H{"temperature": record.TargetTemperature})
		}
		return
	}
	h.withController(c, "Failed to read target temperature", func(ctx context.Context, address string, ctrl service.Controller) {
		value, err := ctrl.TargetTemperature(ctx)
		if err != nil {
			respondError(c, "Failed to read target temperature", err)
			return
		}
		h.deviceService.Record(ctx, address, func(record *model.DeviceRecord) {
			record.TargetTemperature = &value
		})
		utils.SuccessResponse(c, http.StatusOK, "Target temperature retrieved", gin.H{"temperature": value})
	})
}

// SetTargetTemperature changes the set point. The unit defaults to the
// appliance's current unit.
// @Summary Set target temperature
// @Tags Devices
// @Accept json
// @Param id path string true "Appliance address"
// @Param request body TargetTemperatureRequest true "Set point"
// @Success 200 {object} utils.APIResponse{data=object{changed_to=number}}
// @Failure 400 {object} utils.APIResponse
// @Router /devices/{id}/target_temperature [post]
func (h *DeviceHandler) SetTargetTemperature(c *gin.Context) {
	var req TargetTemperatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.withController(c, "Failed to set target temperature", func(ctx context.Context, address string, ctrl service.Controller) {
		unit, err := h.resolveUnit(ctx, address, req.Unit, ctrl)
		if err != nil {
			respondError(c, "Failed to determine temperature unit", err)
			return
		}

		changed, err := ctrl.SetTargetTemperature(ctx, *req.Temperature, unit)
		if err != nil {
			respondError(c, "Failed to set target temperature", err)
			return
		}
		h.deviceService.Record(ctx, address, func(record *model.DeviceRecord) {
			record.TargetTemperature = &changed
			record.Unit = string(unit)
		})
		h.logger.Info("Target temperature set",
			zap.String("address", address),
			zap.Float64("temperature", changed),
			zap.String("unit", string(unit)),
		)
		utils.SuccessResponse(c, http.StatusOK, "Target temperature set", gin.H{"changed_to": changed})
	})
}

// GetUnit reads the display unit
// @Summary Get temperature unit
// @Tags Devices
// @Param id path string true "Appliance address"
// @Param from_state query bool false "Return the last recorded reading"
// @Success 200 {object} utils.APIResponse{data=object{unit=string}}
// @Router /devices/{id}/unit [get]
func (h *DeviceHandler) GetUnit(c *gin.Context) {
	if record, wanted := h.fromState(c); wanted {
		if record != nil {
			utils.SuccessResponse(c, http.StatusOK, "Unit from state", gin.H{"unit": record.Unit})
		}
		return
	}
	h.withController(c, "Failed to read unit", func(ctx context.Context, address string, ctrl service.Controller) {
		unit, err := ctrl.Unit(ctx)
		if err != nil {
			respondError(c, "Failed to read unit", err)
			return
		}
		h.deviceService.Record(ctx, address, func(record *model.DeviceRecord) {
			record.Unit = string(unit)
		})
		utils.SuccessResponse(c, http.StatusOK, "Unit retrieved", gin.H{"unit": unit})
	})
}

// SetUnit changes the display unit
// @Summary Set temperature unit
// @Tags Devices
// @Accept json
// @Param id path string true "Appliance address"
// @Param request body UnitRequest true "Unit (c or f)"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /devices/{id}/unit [post]
func (h *DeviceHandler) SetUnit(c *gin.Context) {
	var req UnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	unit, err := command.ParseTemperatureUnit(req.Unit)
	if err != nil {
		respondError(c, "Invalid unit", err)
		return
	}

	h.withController(c, "Failed to set unit", func(ctx context.Context, address string, ctrl service.Controller) {
		changed, err := ctrl.SetUnit(ctx, unit)
		if err != nil {
			respondError(c, "Failed to set unit", err)
			return
		}
		h.deviceService.Record(ctx, address, func(record *model.DeviceRecord) {
			record.Unit = string(changed)
		})
		utils.SuccessResponse(c, http.StatusOK, "ok", gin.H{"unit": changed})
	})
}

// GetTimer reads the cook timer
// @Summary Get timer
// @Tags Devices
// @Param id path string true "Appliance address"
// @Param from_state query bool false "Return the last recorded reading"
// @Success 200 {object} utils.APIResponse{data=object{timer=command.TimerStatus}}
// @Router /devices/{id}/timer [get]
func (h *DeviceHandler) GetTimer(c *gin.Context) {
	if record, wanted := h.fromState(c); wanted {
		if record != nil {
			utils.SuccessResponse(c, http.StatusOK, "Timer from state", gin.H{"timer": record.Metadata[service.ReadingTimer]})
		}
		return
	}
	h.withController(c, "Failed to read timer", func(ctx context.Context, address string, ctrl service.Controller) {
		timer, err := ctrl.Timer(ctx)
		if err != nil {
			respondError(c, "Failed to read timer", err)
			return
		}
		h.deviceService.Record(ctx, address, func(record *model.DeviceRecord) {
			record.Metadata = timerReading(record.Metadata, timer)
		})
		utils.SuccessResponse(c, http.StatusOK, "Timer retrieved", gin.H{"timer": timer})
	})
}

// SetTimer sets the cook timer in minutes
// @Summary Set timer
// @Tags Devices
// @Accept json
// @Param id path string true "Appliance address"
// @Param request body TimerRequest true "Minutes"
// @Success 200 {object} utils.APIResponse{data=object{minutes=int}}
// @Failure 400 {object} utils.APIResponse
// @Router /devices/{id}/timer [post]
func (h *DeviceHandler) SetTimer(c *gin.Context) {
	var req TimerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.withController(c, "Failed to set timer", func(ctx context.Context, address string, ctrl service.Controller) {
		minutes, err := ctrl.SetTimer(ctx, *req.Minutes)
		if err != nil {
			respondError(c, "Failed to set timer", err)
			return
		}
		h.deviceService.RecordReading(ctx, address, service.ReadingTimer, minutes)
		utils.SuccessResponse(c, http.StatusOK, "Timer set successfully", gin.H{"minutes": minutes})
	})
}

// StartTimer starts the cook timer
// @Summary Start timer
// @Tags Devices
// @Param id path string true "Appliance address"
// @Success 200 {object} utils.APIResponse
// @Router /devices/{id}/timer/start [post]
func (h *DeviceHandler) StartTimer(c *gin.Context) {
	h.simple(c, "Failed to start timer", func(ctx context.Context, ctrl service.Controller) error {
		return ctrl.StartTimer(ctx)
	}, service.ReadingTimerRunning, true)
}

// StopTimer stops the cook timer
// @Summary Stop timer
// @Tags Devices
// @Param id path string true "Appliance address"
// @Success 200 {object} utils.APIResponse
// @Router /devices/{id}/timer/stop [post]
func (h *DeviceHandler) StopTimer(c *gin.Context) {
	h.simple(c, "Failed to stop timer", func(ctx context.Context, ctrl service.Controller) error {
		return ctrl.StopTimer(ctx)
	}, service.ReadingTimerRunning, false)
}

// ClearAlarm silences the alarm
// @Summary Clear alarm
// @Tags Devices
// @Param id path string true "Appliance address"
// @Success 200 {object} utils.APIResponse
// @Router /devices/{id}/alarm/clear [post]
func (h *DeviceHandler) ClearAlarm(c *gin.Context) {
	h.simple(c, "Failed to clear alarm", func(ctx context.Context, ctrl service.Controller) error {
		return ctrl.ClearAlarm(ctx)
	}, "", nil)
}

// GetSpeakerStatus reads whether the speaker is enabled
// @Summary Get speaker status
// @Tags Devices
// @Param id path string true "Appliance address"
// @Param from_state query bool false "Return the last recorded reading"
// @Success 200 {object} utils.APIResponse{data=object{speaker_status=bool}}
// @Router /devices/{id}/speaker_status [get]
func (h *DeviceHandler) GetSpeakerStatus(c *gin.Context) {
	if record, wanted := h.fromState(c); wanted {
		if record != nil {
			utils.SuccessResponse(c, http.StatusOK, "Speaker status from state", gin.H{"speaker_status": record.Metadata[service.ReadingSpeaker]})
		}
		return
	}
	h.withController(c, "Failed to read speaker status", func(ctx context.Context, address string, ctrl service.Controller) {
		enabled, err := ctrl.SpeakerStatus(ctx)
		if err != nil {
			respondError(c, "Failed to read speaker status", err)
			return
		}
		h.deviceService.RecordReading(ctx, address, service.ReadingSpeaker, enabled)
		utils.SuccessResponse(c, http.StatusOK, "Speaker status retrieved", gin.H{"speaker_status": enabled})
	})
}

// simple runs an acknowledged command and optionally records a reading
func (h *DeviceHandler) simple(c *gin.Context, failure string, run func(context.Context, service.Controller) error, key string, value interface{}) {
	h.withController(c, failure, func(ctx context.Context, address string, ctrl service.Controller) {
		if err := run(ctx, ctrl); err != nil {
			respondError(c, failure, err)
			return
		}
		if key != "" {
			h.deviceService.RecordReading(ctx, address, key, value)
		}
		utils.SuccessResponse(c, http.StatusOK, "ok", nil)
	})
}

// withController resolves the path's appliance and runs fn under the request timeout
func (h *DeviceHandler) withController(c *gin.Context, failure string, fn func(ctx context.Context, address string, ctrl service.Controller)) {
	address := c.Param("id")
	ctrl, err := h.deviceService.Controller(address)
	if err != nil {
		respondError(c, failure, err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()
	fn(ctx, address, ctrl)
}

// fromState returns the recorded state when the caller asked for it with
// from_state=true. A nil record means the 404 was already written.
func (h *DeviceHandler) fromState(c *gin.Context) (*model.DeviceRecord, bool) {
	fromState, _ := strconv.ParseBool(c.Query("from_state"))
	if !fromState {
		return nil, false
	}

	record, err := h.deviceService.GetDevice(c.Param("id"))
	if err != nil {
		respondError(c, "Device not found", err)
		return nil, true
	}
	return &record, true
}

func (h *DeviceHandler) resolveUnit(ctx context.Context, address, requested string, ctrl service.Controller) (command.TemperatureUnit, error) {
	if requested != "" {
		return command.ParseTemperatureUnit(requested)
	}
	if record, err := h.deviceService.GetDevice(address); err == nil && record.Unit != "" {
		return command.ParseTemperatureUnit(record.Unit)
	}
	return ctrl.Unit(ctx)
}

func (h *DeviceHandler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func timerReading(metadata model.JSONObject, timer command.TimerStatus) model.JSONObject {
	next := make(model.JSONObject, len(metadata)+2)
	for k, v := range metadata {
		next[k] = v
	}
	next[service.ReadingTimer] = timer.Minutes
	next[service.ReadingTimerRunning] = timer.Running
	return next
}
