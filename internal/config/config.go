// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultRelayURL is the relay base used when none is configured
const DefaultRelayURL = "http://localhost:5000"

// Transport modes
const (
	ModeDirect = "direct"
	ModeRelay  = "relay"
)

// Direct link kinds
const (
	LinkBLE    = "ble"
	LinkSerial = "serial"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Transport TransportConfig `mapstructure:"transport"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Database  DatabaseConfig  `mapstructure:"database"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	App       AppConfig       `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	PublicHost   string        `mapstructure:"public_host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	SSEPing      time.Duration `mapstructure:"sse_ping"`
}

// RelayConfig configures both the relay client (BaseURL) and the relay process (Listen*)
type RelayConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ListenHost   string        `mapstructure:"listen_host"`
	ListenPort   int           `mapstructure:"listen_port"`
	ScanTimeout  time.Duration `mapstructure:"scan_timeout"`
	Advertise    bool          `mapstructure:"advertise"`
	InstanceName string        `mapstructure:"instance_name"`
}

// TransportConfig selects how the appliance is reached
type TransportConfig struct {
	Mode   string       `mapstructure:"mode"`
	Link   string       `mapstructure:"link"`
	BLE    BLEConfig    `mapstructure:"ble"`
	Serial SerialConfig `mapstructure:"serial"`
}

// BLEConfig represents Bluetooth LE configuration
type BLEConfig struct {
	ScanTimeout    time.Duration `mapstructure:"scan_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	DeviceName     string        `mapstructure:"device_name"`
	ServiceUUID    string        `mapstructure:"service_uuid"`
	CharUUID       string        `mapstructure:"characteristic_uuid"`
}

// SerialConfig represents the UART bridge configuration
type SerialConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// ProtocolConfig represents command exchange tuning
type ProtocolConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	ResponseGrace  time.Duration `mapstructure:"response_grace"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	WriteAttempts  int           `mapstructure:"write_attempts"`
}

// RegistryConfig represents device monitoring configuration
type RegistryConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxFailures       int           `mapstructure:"max_failures"`
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MigrationsPath string        `mapstructure:"migrations_path"`
}

// MQTTConfig represents the event fan-out broker
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BrokerURL   string `mapstructure:"broker_url"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from an optional file and environment variables.
// An empty path searches ./config.yaml and /etc/anova.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/anova")
	}

	v.SetEnvPrefix("ANOVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("relay.base_url", "BLE_PROXY_URL", "ANOVA_RELAY_BASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind relay env: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.sse_ping", "1s")

	// Relay defaults
	v.SetDefault("relay.base_url", DefaultRelayURL)
	v.SetDefault("relay.listen_host", "0.0.0.0")
	v.SetDefault("relay.listen_port", 5000)
	v.SetDefault("relay.scan_timeout", "5s")
	v.SetDefault("relay.advertise", false)
	v.SetDefault("relay.instance_name", "anova-relay")

	// Transport defaults
	v.SetDefault("transport.mode", ModeDirect)
	v.SetDefault("transport.link", LinkBLE)
	v.SetDefault("transport.ble.scan_timeout", "5s")
	v.SetDefault("transport.ble.connect_timeout", "20s")
	v.SetDefault("transport.ble.device_name", "Anova")
	v.SetDefault("transport.ble.service_uuid", "ffe0")
	v.SetDefault("transport.ble.characteristic_uuid", "ffe1")
	v.SetDefault("transport.serial.baud_rate", 9600)
	v.SetDefault("transport.serial.data_bits", 8)
	v.SetDefault("transport.serial.stop_bits", 1)
	v.SetDefault("transport.serial.parity", "none")

	// Protocol defaults
	v.SetDefault("protocol.command_timeout", "10s")
	v.SetDefault("protocol.response_grace", "5s")
	v.SetDefault("protocol.retry_attempts", 3)
	v.SetDefault("protocol.retry_delay", "2s")
	v.SetDefault("protocol.write_attempts", 3)

	// Registry defaults
	v.SetDefault("registry.heartbeat_interval", "30s")
	v.SetDefault("registry.max_failures", 3)
	v.SetDefault("registry.discovery_interval", "60s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "anova")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "file://migrations")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "anova-service")
	v.SetDefault("mqtt.topic_prefix", "anova")
	v.SetDefault("mqtt.qos", 0)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "anova-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	switch config.Transport.Mode {
	case ModeDirect:
		switch config.Transport.Link {
		case LinkBLE:
		case LinkSerial:
			if config.Transport.Serial.Port == "" {
				return fmt.Errorf("transport.serial.port is required for the serial link")
			}
		default:
			return fmt.Errorf("transport.link must be one of: %v", []string{LinkBLE, LinkSerial})
		}
	case ModeRelay:
		if _, err := url.ParseRequestURI(config.RelayURL()); err != nil {
			return fmt.Errorf("relay.base_url is invalid: %w", err)
		}
	default:
		return fmt.Errorf("transport.mode must be one of: %v", []string{ModeDirect, ModeRelay})
	}

	if config.Protocol.RetryAttempts < 1 {
		return fmt.Errorf("protocol.retry_attempts must be at least 1")
	}
	if config.Protocol.WriteAttempts < 1 {
		return fmt.Errorf("protocol.write_attempts must be at least 1")
	}
	if config.Registry.MaxFailures < 1 {
		return fmt.Errorf("registry.max_failures must be at least 1")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// RelayURL returns the relay base without a trailing slash
func (c *Config) RelayURL() string {
	base := strings.TrimSpace(c.Relay.BaseURL)
	if base == "" {
		base = DefaultRelayURL
	}
	return strings.TrimRight(base, "/")
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// GetRelayListenAddr returns the relay process listen address
func (c *Config) GetRelayListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Relay.ListenHost, c.Relay.ListenPort)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
