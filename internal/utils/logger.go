// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"anova-service/internal/config"
)

// DefaultLogFile is used when file output is selected without a path
const DefaultLogFile = "./logs/anova-service.log"

// NewLogger builds the process logger from configuration
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	sink, err := newSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log sink: %w", err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// newSink resolves stdout, stderr or a rotated file
func newSink(cfg *config.LoggingConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	path := cfg.Output
	if path == "" {
		path = DefaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	}), nil
}

// DeviceLogger carries the identity of one appliance connection
type DeviceLogger struct {
	*zap.Logger
	address string
}

// NewDeviceLogger creates a device-specific logger
func NewDeviceLogger(baseLogger *zap.Logger, address, name, mode string) *DeviceLogger {
	return &DeviceLogger{
		Logger: baseLogger.With(
			zap.String("device_address", address),
			zap.String("device_name", name),
			zap.String("transport", mode),
		),
		address: address,
	}
}

// Address returns the appliance address the logger is bound to
func (dl *DeviceLogger) Address() string {
	return dl.address
}

// LogExchange logs one command exchange. Failures that will be retried are
// logged at warn, successes at debug.
func (dl *DeviceLogger) LogExchange(kind, frame string, attempt int, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("command", kind),
		zap.String("frame", frame),
		zap.Int("attempt", attempt),
		zap.Duration("duration", duration),
	}

	if err != nil {
		dl.Warn("Command exchange failed", append(fields, zap.Error(err))...)
		return
	}
	dl.Debug("Command exchange completed", fields...)
}

// LogConnection logs a connect or disconnect of the appliance link
func (dl *DeviceLogger) LogConnection(action string, success bool, err error) {
	if err != nil {
		dl.Error("Device link "+action+" failed", zap.Error(err))
		return
	}
	dl.Info("Device link "+action, zap.Bool("success", success))
}

// ServiceLogger tags log lines with the component that wrote them
type ServiceLogger struct {
	*zap.Logger
}

// NewServiceLogger creates a component logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	return &ServiceLogger{
		Logger: baseLogger.With(zap.String("service", serviceName)),
	}
}

// LogServiceStart logs process startup with the effective configuration
func (sl *ServiceLogger) LogServiceStart(version string, config interface{}) {
	sl.Info("Service starting",
		zap.String("version", version),
		zap.Any("config", config),
	)
}

// LogServiceStop logs process shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping", zap.String("reason", reason))
}

// APIRequest describes one served HTTP request
type APIRequest struct {
	Method    string
	Route     string
	Path      string
	Device    string
	RequestID string
	ClientIP  string
	Status    int
	Duration  time.Duration
}

// LogAPIRequest logs a served request. 4xx responses are warnings and 5xx
// responses are errors.
func (sl *ServiceLogger) LogAPIRequest(req APIRequest) {
	level := zapcore.InfoLevel
	switch {
	case req.Status >= 500:
		level = zapcore.ErrorLevel
	case req.Status >= 400:
		level = zapcore.WarnLevel
	}

	ce := sl.Check(level, "API request")
	if ce == nil {
		return
	}

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("route", req.Route),
		zap.String("path", req.Path),
		zap.String("request_id", req.RequestID),
		zap.String("client_ip", req.ClientIP),
		zap.Int("status_code", req.Status),
		zap.Duration("duration", req.Duration),
	}
	if req.Device != "" {
		fields = append(fields, zap.String("device_address", req.Device))
	}
	ce.Write(fields...)
}

// CloseLogger flushes buffered entries
func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}
