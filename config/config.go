package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	Camera   CameraConfig  `toml:"camera" json:"camera"`
	Scan     ScanConfig    `toml:"scan" json:"scan"`
	Lookup   LookupConfig  `toml:"lookup" json:"lookup"`
	Server   ServerConfig  `toml:"server" json:"server"`
	Timeouts TimeoutConfig `toml:"timeouts" json:"timeouts"`
	Logging  LoggingConfig `toml:"logging" json:"logging"`
}

// CameraConfig holds capture request settings
type CameraConfig struct {
	PreferredDevice string `toml:"preferred_device" json:"preferred_device" env:"SCANDCS_CAMERA_DEVICE"`
	Width           int    `toml:"width" json:"width"`
	Height          int    `toml:"height" json:"height"`
	FPS             int    `toml:"fps" json:"fps"`
	FormFactor      string `toml:"form_factor" json:"form_factor" env:"SCANDCS_FORM_FACTOR"` // auto, mobile or desktop
	IdealDeviceTier bool   `toml:"ideal_device_tier" json:"ideal_device_tier"`
}

// ScanConfig holds decode loop and gating settings
type ScanConfig struct {
	CooldownMS       int      `toml:"cooldown_ms" json:"cooldown_ms"`
	SameCodeHoldMS   int      `toml:"same_code_hold_ms" json:"same_code_hold_ms"`
	IdleTimeoutMS    int      `toml:"idle_timeout_ms" json:"idle_timeout_ms" env:"SCANDCS_IDLE_TIMEOUT_MS"`
	FailureBackoffMS int      `toml:"failure_backoff_ms" json:"failure_backoff_ms"`
	FrameIntervalMS  int      `toml:"frame_interval_ms" json:"frame_interval_ms"`
	Formats          []string `toml:"formats" json:"formats"`
}

// LookupConfig holds remote lookup endpoint settings
type LookupConfig struct {
	Endpoint   string   `toml:"endpoint" json:"endpoint" env:"SCANDCS_LOOKUP_ENDPOINT"`
	APIKey     string   `toml:"api_key" json:"-" env:"SCANDCS_LOOKUP_API_KEY"`
	TimeoutMS  int      `toml:"timeout_ms" json:"timeout_ms"`
	FieldOrder []string `toml:"field_order" json:"field_order"`
}

// ServerConfig holds local presentation bridge settings
type ServerConfig struct {
	WebPort        int      `toml:"web_port" json:"web_port" env:"SCANDCS_WEB_PORT"`
	BindIP         string   `toml:"bind_ip" json:"bind_ip"`
	Host           string   `toml:"host" json:"host" env:"SCANDCS_HOST"` // Auto-detected if empty
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	PreviewFPS     int      `toml:"preview_fps" json:"preview_fps"`
	EventBuffer    int      `toml:"event_buffer" json:"event_buffer"`
}

// TimeoutConfig holds shutdown settings
type TimeoutConfig struct {
	ShutdownTimeout     int `toml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
	HTTPShutdownTimeout int `toml:"http_shutdown_timeout_seconds" json:"http_shutdown_timeout_seconds"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Dir         string `toml:"dir" json:"dir"`
	MaxLogFiles int    `toml:"max_log_files" json:"max_log_files"`
}

// DefaultFieldOrder is the canonical display order of lookup record fields.
var DefaultFieldOrder = []string{
	"Auto ID", "Timestamp", "DC", "DC Name", "Full Name", "Gender",
	"Company/Affiliation", "Phone", "Timestamp Out", "Duration",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Width:           1280,
			Height:          720,
			FPS:             30,
			FormFactor:      "auto",
			IdealDeviceTier: true,
		},
		Scan: ScanConfig{
			CooldownMS:       800,
			SameCodeHoldMS:   1800,
			IdleTimeoutMS:    30000,
			FailureBackoffMS: 1200,
			FrameIntervalMS:  100,
			Formats:          []string{"qr", "code128", "code39", "ean13"},
		},
		Lookup: LookupConfig{
			TimeoutMS:  15000,
			FieldOrder: append([]string(nil), DefaultFieldOrder...),
		},
		Server: ServerConfig{
			WebPort:        8080,
			BindIP:         "0.0.0.0",
			AllowedOrigins: []string{"*"},
			PreviewFPS:     10,
			EventBuffer:    500,
		},
		Timeouts: TimeoutConfig{
			ShutdownTimeout:     30,
			HTTPShutdownTimeout: 5,
		},
		Logging: LoggingConfig{
			Dir:         "logs",
			MaxLogFiles: 20,
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies environment overrides
func LoadConfig(configPath string) (*Config, error) {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	config := Default()

	// Load from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		logger.Info("Config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("Config file not found, using defaults", zap.String("path", configPath))
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Server.Host == "" {
		if ip := getLocalIP(); ip != "" {
			config.Server.Host = ip
			logger.Info("Auto-detected host address", zap.String("ip", ip))
		} else {
			config.Server.Host = "localhost"
			logger.Warn("Could not detect host address, using localhost")
		}
	}

	return config, nil
}

// Validate rejects settings the scanner cannot run with
func (c *Config) Validate() error {
	switch c.Camera.FormFactor {
	case "", "auto", "mobile", "desktop":
	default:
		return fmt.Errorf("invalid camera.form_factor %q", c.Camera.FormFactor)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 || c.Camera.FPS < 0 {
		return fmt.Errorf("camera dimensions must not be negative")
	}
	if c.Scan.CooldownMS < 0 || c.Scan.SameCodeHoldMS < 0 || c.Scan.FailureBackoffMS < 0 {
		return fmt.Errorf("scan intervals must not be negative")
	}
	if c.Scan.IdleTimeoutMS <= 0 {
		return fmt.Errorf("scan.idle_timeout_ms must be positive, got %d", c.Scan.IdleTimeoutMS)
	}
	if c.Lookup.TimeoutMS <= 0 {
		return fmt.Errorf("lookup.timeout_ms must be positive, got %d", c.Lookup.TimeoutMS)
	}
	if c.Server.WebPort <= 0 || c.Server.WebPort > 65535 {
		return fmt.Errorf("server.web_port out of range: %d", c.Server.WebPort)
	}
	return nil
}

// Cooldown is the minimum spacing between any two accepted scans.
func (s ScanConfig) Cooldown() time.Duration { return ms(s.CooldownMS) }

// SameCodeHold suppresses repeats of the code that was just accepted.
func (s ScanConfig) SameCodeHold() time.Duration { return ms(s.SameCodeHoldMS) }

func (s ScanConfig) IdleTimeout() time.Duration { return ms(s.IdleTimeoutMS) }

func (s ScanConfig) FailureBackoff() time.Duration { return ms(s.FailureBackoffMS) }

func (s ScanConfig) FrameInterval() time.Duration { return ms(s.FrameIntervalMS) }

func (l LookupConfig) Timeout() time.Duration { return ms(l.TimeoutMS) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// getLocalIP attempts to determine the local IP address
func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// SaveConfig saves the current configuration to a file
func SaveConfig(config *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
