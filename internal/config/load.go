package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/worldview/internal/logger"
)

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	cfg := Default()

	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the renderer cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Render.FramesInFlight < 1 || c.Render.FramesInFlight > 3 {
		errs = append(errs, fmt.Errorf("render.frames_in_flight must be 1..3, got %d", c.Render.FramesInFlight))
	}
	if c.Render.BucketCapacity < 1 {
		errs = append(errs, fmt.Errorf("render.bucket_capacity must be positive, got %d", c.Render.BucketCapacity))
	}
	if c.Render.ShadowCascades < 0 || c.Render.ShadowCascades > 4 {
		errs = append(errs, fmt.Errorf("render.shadow_cascades must be 0..4, got %d", c.Render.ShadowCascades))
	}
	switch c.Render.Backend {
	case "gl", "soft":
	default:
		errs = append(errs, fmt.Errorf("render.backend must be gl or soft, got %q", c.Render.Backend))
	}
	if !logger.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	for name, level := range c.Logging.Components {
		if !logger.ValidLevel(level) {
			errs = append(errs, fmt.Errorf("logging.components.%s: unknown level %q", name, level))
		}
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	for i := 0; i < 3; i++ {
		if c.Scene.BoundsMin[i] > c.Scene.BoundsMax[i] {
			errs = append(errs, fmt.Errorf("scene bounds inverted on axis %d", i))
			break
		}
	}
	return errors.Join(errs...)
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./worldview.yaml",
		"./worldview.toml",
		filepath.Join(ConfigDir(), "config.yaml"),
		filepath.Join(ConfigDir(), "config.toml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Worldview")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Worldview")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "worldview")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "worldview")
	}
}

// loadFromFile loads config from a YAML or TOML file, merging with existing
// values. The format follows the extension.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg)
	}
	return yaml.Unmarshal(data, cfg)
}
