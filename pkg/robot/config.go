package robot

import (
	"encoding/json"
	"os"
)

const DefaultConfigFile = "teleop.json"

// Default values used for zero fields.
const (
	DefaultBaudRate  = 115200
	DefaultSpeed     = 0.5
	DefaultTurn      = 1.0
	DefaultThreshold = 1.0
	DefaultCeiling   = 10.0
)

// Config holds the robot configuration
type Config struct {
	Base     BaseConfig     `json:"base"`
	Teleop   TeleopConfig   `json:"teleop"`
	Obstacle ObstacleConfig `json:"obstacle"`
}

// BaseConfig holds the serial link to the base controller
type BaseConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// TeleopConfig holds the keyboard teleoperation settings
type TeleopConfig struct {
	Speed float64 `json:"speed"`
	Turn  float64 `json:"turn"`
	// RepeatRate is the republish rate in Hz. Zero publishes only on key events.
	RepeatRate float64 `json:"repeat_rate"`
	// KeyTimeout is the key read timeout in seconds. Zero blocks forever.
	KeyTimeout float64 `json:"key_timeout"`
}

// ObstacleConfig holds the proximity gate settings, in meters
type ObstacleConfig struct {
	Threshold float64 `json:"threshold"`
	Ceiling   float64 `json:"ceiling"`
}

// IsConfigured returns true if a base port has been chosen
func (b *BaseConfig) IsConfigured() bool {
	return b.Port != ""
}

// WithDefaults returns a copy with zero values replaced by defaults.
// RepeatRate and KeyTimeout are left alone since zero is meaningful.
func (c Config) WithDefaults() Config {
	if c.Base.BaudRate == 0 {
		c.Base.BaudRate = DefaultBaudRate
	}
	if c.Teleop.Speed == 0 {
		c.Teleop.Speed = DefaultSpeed
	}
	if c.Teleop.Turn == 0 {
		c.Teleop.Turn = DefaultTurn
	}
	if c.Obstacle.Threshold == 0 {
		c.Obstacle.Threshold = DefaultThreshold
	}
	if c.Obstacle.Ceiling == 0 {
		c.Obstacle.Ceiling = DefaultCeiling
	}
	return c
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
