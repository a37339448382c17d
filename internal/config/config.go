// Package config loads tabrmd's static configuration: logging, metrics,
// and which transport the broker drives. Precedence, highest to lowest:
// CLI flags (bound by the caller via viper.BindPFlag before Load), then
// TABRMD_* environment variables, then a config file, then defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is tabrmd's complete static configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Server  ServerConfig  `mapstructure:"server"`
}

// LoggingConfig controls internal/logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// TransportKind selects which Transport implementation the broker drives.
type TransportKind string

const (
	// TransportSimulator dials a TCP endpoint speaking the TPM 2.0 wire
	// protocol, standing in for a real kernel/hardware TCTI.
	TransportSimulator TransportKind = "simulator"
)

// BrokerConfig configures the access broker and the transport beneath it.
type BrokerConfig struct {
	// Transport selects the Transport implementation. Only "simulator" is
	// supported; a real TCTI is out of scope.
	Transport TransportKind `mapstructure:"transport" validate:"required,oneof=simulator"`

	// SimulatorAddr is the TCP address the simulator transport dials,
	// e.g. "127.0.0.1:2321".
	SimulatorAddr string `mapstructure:"simulator_addr" validate:"required_if=Transport simulator"`

	// ReceiveTimeout bounds how long the broker waits for a response to
	// a transmitted command before failing with TryAgain/IoError.
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout" validate:"required,gt=0"`
}

// ServerConfig configures the TCP listener that stands in for the D-Bus
// surface: it frames each client connection and forwards commands to the
// broker one at a time.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// Load reads configuration from v (already populated with defaults, a
// bound config file, and environment variables by the caller) into a
// validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

var validate = validator.New()

// New builds a viper instance with tabrmd's defaults, environment
// variable binding (TABRMD_ prefix, "." replaced with "_"), and an
// optional config file. configPath == "" searches the default location
// under $XDG_CONFIG_HOME/tabrmd (or ~/.config/tabrmd).
func New(configPath string) (*viper.Viper, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix("TABRMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return v, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", "127.0.0.1:9393")

	v.SetDefault("broker.transport", string(TransportSimulator))
	v.SetDefault("broker.simulator_addr", "127.0.0.1:2321")
	v.SetDefault("broker.receive_timeout", 5*time.Second)

	v.SetDefault("server.listen_addr", "127.0.0.1:2322")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tabrmd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tabrmd")
}
