// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"vehicle-gateway/internal/protocol"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	App      AppConfig      `mapstructure:"app"`
	Modbus   ModbusConfig   `mapstructure:"modbus"`
	SlowBus  SlowBusConfig  `mapstructure:"slow_bus"`
	CAN      CANConfig      `mapstructure:"can"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Heater   HeaterConfig   `mapstructure:"heater"`
	Inverter InverterConfig `mapstructure:"inverter"`
	Battery  BatteryConfig  `mapstructure:"battery"`
	Sensor   SensorConfig   `mapstructure:"sensor"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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
	FaultLog   string `mapstructure:"fault_log"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ModbusPortConfig describes one RS-485 port of the fast bus.
type ModbusPortConfig struct {
	Name     string        `mapstructure:"name"`
	Path     string        `mapstructure:"path"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ModbusConfig configures the fast bus and its arbitration.
type ModbusConfig struct {
	Ports              []ModbusPortConfig `mapstructure:"ports"`
	MinRequestInterval time.Duration      `mapstructure:"min_request_interval"`
	Cooldown           time.Duration      `mapstructure:"cooldown"`
	CleanupInterval    time.Duration      `mapstructure:"cleanup_interval"`
}

// SlowBusConfig configures the secondary Modbus link.
type SlowBusConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Path           string        `mapstructure:"path"`
	BaudRate       int           `mapstructure:"baud_rate"`
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CANLinkConfig addresses one CAN-over-TCP gateway.
type CANLinkConfig struct {
	Address     string        `mapstructure:"address"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// CANLinksConfig lists the two links.
type CANLinksConfig struct {
	Telemetry CANLinkConfig `mapstructure:"telemetry"`
	Control   CANLinkConfig `mapstructure:"control"`
}

// CANConfig configures the CAN transport.
type CANConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	Links          CANLinksConfig `mapstructure:"links"`
	BaseDelay      time.Duration  `mapstructure:"base_delay"`
	MaxDelay       time.Duration  `mapstructure:"max_delay"`
	MaxAttempts    int            `mapstructure:"max_attempts"`
	SweepInterval  time.Duration  `mapstructure:"sweep_interval"`
	CollectTimeout time.Duration  `mapstructure:"collect_timeout"`
}

// RelayConfig configures the relay banks.
type RelayConfig struct {
	DevicesFile  string        `mapstructure:"devices_file"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// HeaterConfig configures the diesel heater.
type HeaterConfig struct {
	ResendInterval time.Duration `mapstructure:"resend_interval"`
	OnlineWindow   time.Duration `mapstructure:"online_window"`
	DefaultTarget  float64       `mapstructure:"default_target"`
}

// InverterConfig configures the AC inverter.
type InverterConfig struct {
	Port              string        `mapstructure:"port"`
	Address           uint8         `mapstructure:"address"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	CloseRepeats      int           `mapstructure:"close_repeats"`
	CloseInterval     time.Duration `mapstructure:"close_interval"`
}

// BatteryConfig sets how often each PMS message is logged.
type BatteryConfig struct {
	StatusLogInterval time.Duration `mapstructure:"status_log_interval"`
	FaultLogInterval  time.Duration `mapstructure:"fault_log_interval"`
	DeviceLogInterval time.Duration `mapstructure:"device_log_interval"`
}

// SensorConfig configures slow-bus sensor freshness.
type SensorConfig struct {
	FreshWindow time.Duration `mapstructure:"fresh_window"`
}

// Load loads configuration from file and environment variables. Extra
// search paths are tried before the defaults. A missing file is not fatal.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vehicle-gateway")

	// Environment variable support
	v.SetEnvPrefix("VEHICLE_GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
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
	v.SetDefault("server.port", "8084")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.fault_log", "./logs/bms-faults.log")

	// App defaults
	v.SetDefault("app.name", "vehicle-gateway")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Fast bus defaults
	v.SetDefault("modbus.ports", []map[string]any{
		{"name": "rs485", "path": "/dev/ttyUSB0", "baud_rate": 115200, "data_bits": 8, "stop_bits": 1, "parity": "none", "timeout": "1s"},
	})
	v.SetDefault("modbus.min_request_interval", "1ms")
	v.SetDefault("modbus.cooldown", "10s")
	v.SetDefault("modbus.cleanup_interval", "10s")

	// Slow bus defaults
	v.SetDefault("slow_bus.enabled", true)
	v.SetDefault("slow_bus.path", "/dev/ttyS1")
	v.SetDefault("slow_bus.baud_rate", 9600)
	v.SetDefault("slow_bus.interval", "5s")
	v.SetDefault("slow_bus.request_timeout", "10s")

	// CAN defaults
	v.SetDefault("can.enabled", true)
	v.SetDefault("can.links.telemetry.address", "192.168.1.10:4001")
	v.SetDefault("can.links.telemetry.dial_timeout", "5s")
	v.SetDefault("can.links.control.address", "192.168.1.10:4002")
	v.SetDefault("can.links.control.dial_timeout", "5s")
	v.SetDefault("can.base_delay", "1s")
	v.SetDefault("can.max_delay", "60s")
	v.SetDefault("can.max_attempts", 10)
	v.SetDefault("can.sweep_interval", "1s")
	v.SetDefault("can.collect_timeout", "3s")

	// Device defaults
	v.SetDefault("relay.devices_file", "./configs/devices.yaml")
	v.SetDefault("relay.poll_interval", "3s")
	v.SetDefault("relay.cache_ttl", "3s")

	v.SetDefault("heater.resend_interval", "1s")
	v.SetDefault("heater.online_window", "5s")
	v.SetDefault("heater.default_target", 60)

	v.SetDefault("inverter.port", "rs485")
	v.SetDefault("inverter.address", 0x42)
	v.SetDefault("inverter.keep_alive_interval", "1s")
	v.SetDefault("inverter.close_repeats", 3)
	v.SetDefault("inverter.close_interval", "1s")

	v.SetDefault("battery.status_log_interval", "60s")
	v.SetDefault("battery.fault_log_interval", "10m")
	v.SetDefault("battery.device_log_interval", "30s")

	v.SetDefault("sensor.fresh_window", "30s")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !slices.Contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	seen := make(map[string]bool)
	for i, p := range config.Modbus.Ports {
		if p.Name == "" || p.Path == "" {
			return fmt.Errorf("modbus.ports[%d]: name and path are required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("modbus.ports[%d]: duplicate port name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.BaudRate <= 0 {
			return fmt.Errorf("modbus.ports[%d]: baud_rate must be positive", i)
		}
	}

	if config.SlowBus.Enabled && (config.SlowBus.Path == "" || config.SlowBus.BaudRate <= 0) {
		return fmt.Errorf("slow_bus: path and baud_rate are required when enabled")
	}

	if config.CAN.Enabled {
		if config.CAN.Links.Telemetry.Address == "" || config.CAN.Links.Control.Address == "" {
			return fmt.Errorf("can.links: telemetry and control addresses are required")
		}
		if config.CAN.MaxAttempts <= 0 {
			return fmt.Errorf("can.max_attempts must be positive")
		}
	}

	if t := config.Heater.DefaultTarget; t < 0 || t > 100 {
		return fmt.Errorf("heater.default_target must be between 0 and 100")
	}

	return nil
}

// SerialConfig converts the port entry for the serial layer.
func (p ModbusPortConfig) SerialConfig() *protocol.SerialConfig {
	return &protocol.SerialConfig{
		Name:     p.Name,
		Port:     p.Path,
		BaudRate: p.BaudRate,
		DataBits: p.DataBits,
		StopBits: p.StopBits,
		Parity:   p.Parity,
		Timeout:  p.Timeout,
	}
}

// SerialConfig returns the 8-N-1 settings of the slow bus.
func (s SlowBusConfig) SerialConfig() *protocol.SerialConfig {
	return &protocol.SerialConfig{
		Name:     "slow-bus",
		Port:     s.Path,
		BaudRate: s.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
	}
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
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
