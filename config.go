package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `toml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `toml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 9600)
	BaudRate int `toml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `toml:"log_level"`
	// SimPIN is the SIM card PIN code
	SimPIN string `toml:"sim_pin"`
	// PowerPin is the GPIO name wired to the modem's PWRKEY (e.g. "GPIO17"),
	// empty when the modem is powered externally
	PowerPin string `toml:"power_pin"`
	// HTTPToken, when set, is required as "Authorization: Bearer <token>"
	HTTPToken string `toml:"http_token"`
	// RatePerMin caps the number of SMS sent per minute, 0 means unlimited
	RatePerMin int `toml:"rate_per_min"`
	// MaxRetries is how often a failed SMS is retried before it is dropped
	MaxRetries int `toml:"max_retries"`
	// MissCallAttempts is the default number of dial attempts for a miss call
	MissCallAttempts int `toml:"miss_call_attempts"`

	MQTT MQTTConfig `toml:"mqtt"`
}

// MQTTConfig configures the MQTT bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker     string `toml:"broker"`
	ClientID   string `toml:"client_id"`
	SendTopic  string `toml:"send_topic"`
	EventTopic string `toml:"event_topic"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 9600
		c.LogLevel = "info"
		c.RatePerMin = 30
		c.MaxRetries = 3
		c.MissCallAttempts = 3
		c.MQTT.ClientID = "sim800gw"
		c.MQTT.SendTopic = "sms/send"
		c.MQTT.EventTopic = "sim800/events"
		return nil
	}
}

// WithFile loads configuration from a TOML file. Keys missing from the file
// keep their current value. An empty path is a no-op.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}

		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}

		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		setInt(&c.BaudRate, os.Getenv("BAUD_RATE"))

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if pin := os.Getenv("POWER_PIN"); pin != "" {
			c.PowerPin = pin
		}

		if token := os.Getenv("HTTP_TOKEN"); token != "" {
			c.HTTPToken = token
		}

		setInt(&c.RatePerMin, os.Getenv("RATE_PER_MIN"))
		setInt(&c.MaxRetries, os.Getenv("MAX_RETRIES"))
		setInt(&c.MissCallAttempts, os.Getenv("MISS_CALL_ATTEMPTS"))

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTT.Broker = broker
		}
		if id := os.Getenv("MQTT_CLIENT_ID"); id != "" {
			c.MQTT.ClientID = id
		}
		if topic := os.Getenv("MQTT_TOPIC"); topic != "" {
			c.MQTT.SendTopic = topic
		}
		if topic := os.Getenv("MQTT_EVENT_TOPIC"); topic != "" {
			c.MQTT.EventTopic = topic
		}
		if user := os.Getenv("MQTT_USERNAME"); user != "" {
			c.MQTT.Username = user
		}
		if pass := os.Getenv("MQTT_PASSWORD"); pass != "" {
			c.MQTT.Password = pass
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				setInt(&c.BaudRate, f.Value.String())
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "power-pin":
				c.PowerPin = f.Value.String()
			case "http-token":
				c.HTTPToken = f.Value.String()
			case "rate-per-min":
				setInt(&c.RatePerMin, f.Value.String())
			case "max-retries":
				setInt(&c.MaxRetries, f.Value.String())
			case "miss-call-attempts":
				setInt(&c.MissCallAttempts, f.Value.String())
			case "mqtt-broker":
				c.MQTT.Broker = f.Value.String()
			}
		})
		return nil
	}
}

// setInt overwrites dst when s holds a valid integer.
func setInt(dst *int, s string) {
	if s == "" {
		return
	}
	if v, err := strconv.Atoi(s); err == nil {
		*dst = v
	}
}
