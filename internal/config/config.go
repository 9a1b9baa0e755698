package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when -config is not given.
// A missing file at this path is not an error.
const DefaultPath = "configs/picapture.yaml"

// Camera types understood by the command.
const (
	CameraRPiCam = "rpicam"
	CameraMock   = "mock"
)

// CameraConfig selects the still-capture driver.
type CameraConfig struct {
	Type    string `yaml:"type"`    // "rpicam" or "mock"
	Command string `yaml:"command"` // binary used by the rpicam driver
	LEDPin  int    `yaml:"led_pin"` // BCM pin for the busy LED. 0 = not used.
}

// StorageConfig describes the staging area and the durable target.
type StorageConfig struct {
	StagingDir string `yaml:"staging_dir"` // "" = os.TempDir()
	MountPoint string `yaml:"mount_point"`
}

// LoggingConfig controls the local JSON sink and the optional Logstash sink.
type LoggingConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	LogstashHost string `yaml:"logstash_host"` // "" = local only
	LogstashPort int    `yaml:"logstash_port"` // GELF UDP port
}

// GPIOConfig selects the GPIO backend.
type GPIOConfig struct {
	Mock bool `yaml:"mock"` // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera  CameraConfig  `yaml:"camera"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	GPIO    GPIOConfig    `yaml:"gpio"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file and returns the configuration.
// When path is DefaultPath and the file does not exist, defaults are returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Camera.Type == "" {
		c.Camera.Type = CameraRPiCam
	}
	if c.Camera.Command == "" {
		c.Camera.Command = "rpicam-still"
	}
	if c.Storage.MountPoint == "" {
		c.Storage.MountPoint = "/mnt/nas"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.LogstashPort == 0 {
		c.Logging.LogstashPort = 12201
	}
}

// Validate checks value ranges. Defaults must already be applied.
func (c *Config) Validate() error {
	switch c.Camera.Type {
	case CameraRPiCam, CameraMock:
	default:
		return fmt.Errorf("unsupported camera type: %s", c.Camera.Type)
	}
	if c.Camera.LEDPin < 0 {
		return fmt.Errorf("camera.led_pin must be >= 0, got %d", c.Camera.LEDPin)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	if c.Logging.LogstashPort < 1 || c.Logging.LogstashPort > 65535 {
		return fmt.Errorf("logging.logstash_port must be 1-65535, got %d", c.Logging.LogstashPort)
	}
	return nil
}

// StagingDir returns the directory staging files are written to.
func (c *Config) StagingDir() string {
	if c.Storage.StagingDir != "" {
		return c.Storage.StagingDir
	}
	return os.TempDir()
}

// UseMockGPIO reports whether GPIO access should be simulated.
// The mock camera never touches real hardware.
func (c *Config) UseMockGPIO() bool {
	return c.GPIO.Mock || c.Camera.Type == CameraMock
}
