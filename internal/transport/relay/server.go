package relay

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anova-service/internal/discovery"
	"anova-service/internal/model"
	"anova-service/internal/transport"
)

// DefaultWriteTimeout is the reply timeout used when a request carries none
const DefaultWriteTimeout = 10 * time.Second

// Exchanger is what the relay server forwards to
type Exchanger interface {
	Scan(ctx context.Context, timeout time.Duration) ([]model.Advertisement, error)
	Exchange(ctx context.Context, address, frame string, timeout time.Duration) (string, error)
}

// Server exposes an Exchanger over the relay HTTP contract
type Server struct {
	radio       Exchanger
	signature   discovery.Signature
	scanTimeout time.Duration
	logger      *zap.Logger
}

// NewServer creates a relay server
func NewServer(radio Exchanger, signature discovery.Signature, scanTimeout time.Duration, logger *zap.Logger) *Server {
	if scanTimeout <= 0 {
		scanTimeout = 5 * time.Second
	}
	return &Server{
		radio:       radio,
		signature:   signature,
		scanTimeout: scanTimeout,
		logger:      logger.With(zap.String("component", "relay_server")),
	}
}

// RegisterRoutes registers the relay routes
func (s *Server) RegisterRoutes(router gin.IRoutes) {
	router.GET("/", s.Root)
	router.GET("/health", s.Health)
	router.GET("/scan", s.Scan)
	router.POST("/write", s.Write)
}

// Root reports that the relay is up
// @Summary Relay banner
// @Tags Relay
// @Produce json
// @Success 200 {object} object{message=string}
// @Router / [get]
func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "BLE relay running"})
}

// Health reports relay liveness
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

// Scan scans the relay's radio
// @Summary Scan for appliances
// @Description Returns advertisements matching the appliance signature, or every advertisement with all=true
// @Tags Relay
// @Produce json
// @Param timeout query number false "Scan duration in seconds"
// @Param all query bool false "Return unfiltered advertisements"
// @Success 200 {array} model.Advertisement
// @Failure 500 {object} ErrorResponse
// @Router /scan [get]
func (s *Server) Scan(c *gin.Context) {
	timeout := s.scanTimeout
	if raw := c.Query("timeout"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "timeout must be a positive number of seconds"})
			return
		}
		timeout = time.Duration(seconds * float64(time.Second))
	}

	advs, err := s.radio.Scan(c.Request.Context(), timeout)
	if err != nil {
		s.logger.Error("Scan failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
		return
	}

	if all, _ := strconv.ParseBool(c.Query("all")); !all {
		advs = s.signature.Filter(advs)
	}
	if advs == nil {
		advs = []model.Advertisement{}
	}
	c.JSON(http.StatusOK, advs)
}

// Write performs one exchange with an appliance
// @Summary Write a frame
// @Tags Relay
// @Accept json
// @Produce json
// @Param request body WriteRequest true "Frame to send"
// @Success 200 {object} WriteResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse "Empty reply"
// @Failure 504 {object} ErrorResponse "Reply timed out"
// @Router /write [post]
func (s *Server) Write(c *gin.Context) {
	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}

	timeout := DefaultWriteTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}

	startTime := time.Now()
	reply, err := s.radio.Exchange(c.Request.Context(), req.Address, req.Command, timeout)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, transport.ErrTimeout):
			status = http.StatusGatewayTimeout
		case errors.Is(err, transport.ErrEmptyResponse):
			status = http.StatusBadGateway
		}
		s.logger.Warn("Write failed",
			zap.String("address", req.Address),
			zap.String("command", req.Command),
			zap.Int("status", status),
			zap.Error(err),
		)
		c.JSON(status, ErrorResponse{Detail: err.Error()})
		return
	}

	s.logger.Debug("Write completed",
		zap.String("address", req.Address),
		zap.String("command", req.Command),
		zap.Duration("duration", time.Since(startTime)),
	)
	c.JSON(http.StatusOK, WriteResponse{Result: reply})
}
