package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Graphics.Width != 1280 || cfg.Graphics.Height != 720 {
		t.Errorf("expected 1280x720, got %dx%d", cfg.Graphics.Width, cfg.Graphics.Height)
	}
	if cfg.Render.FramesInFlight != 2 {
		t.Errorf("expected 2 frames in flight, got %d", cfg.Render.FramesInFlight)
	}
	if cfg.Render.BucketCapacity != 128 {
		t.Errorf("expected bucket capacity 128, got %d", cfg.Render.BucketCapacity)
	}
	if !cfg.Render.TLASEnabled {
		t.Error("expected tlas_enabled by default")
	}
	if cfg.Render.RayQuery {
		t.Error("expected ray_query off by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	yamlContent := `
graphics:
  width: 1920
  height: 1080
  fullscreen: true

render:
  backend: soft
  frames_in_flight: 3
  bucket_capacity: 64
  tlas_enabled: false
  ray_query: true
  shadow_cascades: 4

scene:
  file: "town.yaml"
  bounds_min: [-10, -1, -10]
  bounds_max: [10, 1, 10]

logging:
  level: "debug"
  format: json
  log_file: "render.log"
  components:
    visual: warn
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Graphics.Width != 1920 || !cfg.Graphics.Fullscreen {
		t.Errorf("graphics not loaded: %+v", cfg.Graphics)
	}
	if cfg.Render.Backend != "soft" || cfg.Render.FramesInFlight != 3 || cfg.Render.BucketCapacity != 64 {
		t.Errorf("render not loaded: %+v", cfg.Render)
	}
	if cfg.Render.TLASEnabled || !cfg.Render.RayQuery {
		t.Errorf("ray tracing toggles not loaded: %+v", cfg.Render)
	}
	// Unset keys keep their defaults
	if cfg.Render.GridCells != 16 {
		t.Errorf("expected grid_cells default 16, got %d", cfg.Render.GridCells)
	}
	if cfg.Scene.File != "town.yaml" || cfg.Scene.BoundsMax != [3]float32{10, 1, 10} {
		t.Errorf("scene not loaded: %+v", cfg.Scene)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.LogFile != "render.log" || cfg.Logging.Format != "json" {
		t.Errorf("logging not loaded: %+v", cfg.Logging)
	}
	if cfg.Logging.Components["visual"] != "warn" {
		t.Errorf("logging not loaded: %+v", cfg.Logging)
	}
}

func TestLoadFromTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	tomlContent := `
[render]
backend = "soft"
bucket_capacity = 32
ray_query = true

[scene]
file = "town.yaml"
bounds_max = [10.0, 1.0, 10.0]

[viewer]
camera_smoothing = false
screenshot_dir = "shots"
`
	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Render.Backend != "soft" || cfg.Render.BucketCapacity != 32 || !cfg.Render.RayQuery {
		t.Errorf("render not loaded: %+v", cfg.Render)
	}
	if cfg.Render.FramesInFlight != 2 {
		t.Errorf("expected frames_in_flight default 2, got %d", cfg.Render.FramesInFlight)
	}
	if cfg.Scene.File != "town.yaml" || cfg.Scene.BoundsMax != [3]float32{10, 1, 10} {
		t.Errorf("scene not loaded: %+v", cfg.Scene)
	}
	if cfg.Viewer.CameraSmoothing || !cfg.Viewer.HotReload || cfg.Viewer.ScreenshotDir != "shots" {
		t.Errorf("viewer not loaded: %+v", cfg.Viewer)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("render:\n  frames_in_flight: many\n  bad syntax\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	unknown := filepath.Join(dir, "unknown.toml")
	if err := os.WriteFile(unknown, []byte("[render]\nbucket_size = 4\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"invalid yaml", invalid},
		{"unknown toml key", unknown},
		{"missing file", "/nonexistent/path/config.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := loadFromFile(Default(), tt.path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"zero frames", func(c *Config) { c.Render.FramesInFlight = 0 }, "frames_in_flight"},
		{"too many frames", func(c *Config) { c.Render.FramesInFlight = 4 }, "frames_in_flight"},
		{"zero capacity", func(c *Config) { c.Render.BucketCapacity = 0 }, "bucket_capacity"},
		{"cascades", func(c *Config) { c.Render.ShadowCascades = 9 }, "shadow_cascades"},
		{"backend", func(c *Config) { c.Render.Backend = "vulkan" }, "backend"},
		{"bounds", func(c *Config) { c.Scene.BoundsMin[1] = 1000 }, "inverted"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"component level", func(c *Config) { c.Logging.Components = map[string]string{"visual": "loud"} }, "logging.components.visual"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Fatal("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "worldview.yaml"), []byte("graphics:\n  width: 800\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if path := findConfigFile(); path == "" {
		t.Error("expected to find worldview.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*testing.T, *Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name:  "backend and scene",
			setup: func() { *flagBackend = "soft"; *flagScene = "a.yaml" },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Render.Backend != "soft" || cfg.Scene.File != "a.yaml" {
					t.Errorf("got backend %q scene %q", cfg.Render.Backend, cfg.Scene.File)
				}
			},
			teardown: func() { *flagBackend = ""; *flagScene = "" },
		},
		{
			name:  "ray tracing toggles",
			setup: func() { *flagNoTLAS = true; *flagRayQuery = true },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Render.TLASEnabled {
					t.Error("expected tlas disabled by --no-tlas")
				}
				if !cfg.Render.RayQuery {
					t.Error("expected ray query enabled by --ray-query")
				}
			},
			teardown: func() { *flagNoTLAS = false; *flagRayQuery = false },
		},
		{
			name:  "capacity",
			setup: func() { *flagCapacity = 16 },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Render.BucketCapacity != 16 {
					t.Errorf("expected capacity 16, got %d", cfg.Render.BucketCapacity)
				}
			},
			teardown: func() { *flagCapacity = 0 },
		},
		{
			name:  "fullscreen then size",
			setup: func() { *flagFullscreen = true; *flagWidth = 2560; *flagHeight = 1440 },
			verify: func(t *testing.T, cfg *Config) {
				if !cfg.Graphics.Fullscreen || cfg.Graphics.Width != 2560 || cfg.Graphics.Height != 1440 {
					t.Errorf("graphics overrides not applied: %+v", cfg.Graphics)
				}
			},
			teardown: func() { *flagFullscreen = false; *flagWidth = 0; *flagHeight = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.teardown()

			cfg := Default()
			applyFlags(cfg)
			tt.verify(t, cfg)
		})
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Render.BucketCapacity = 32
	cfg.Render.Backend = "soft"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if loaded.Render.BucketCapacity != 32 || loaded.Render.Backend != "soft" {
		t.Errorf("saved values not reloaded: %+v", loaded.Render)
	}
}

func TestSaveToTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Render.ShadowCascades = 3
	cfg.Viewer.HotReload = false
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "shadow_cascades = 3") {
		t.Errorf("expected TOML output, got:\n%s", data)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if loaded.Render.ShadowCascades != 3 || loaded.Viewer.HotReload {
		t.Errorf("saved values not reloaded: %+v %+v", loaded.Render, loaded.Viewer)
	}
}

func TestLoadPriority(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := "render:\n  bucket_capacity: 64\n  frames_in_flight: 3\n"
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	*flagConfig = configPath
	*flagCapacity = 8
	defer func() {
		*flagConfig = ""
		*flagCapacity = 0
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Render.BucketCapacity != 8 {
		t.Errorf("expected capacity 8 from flag, got %d", cfg.Render.BucketCapacity)
	}
	if cfg.Render.FramesInFlight != 3 {
		t.Errorf("expected frames_in_flight 3 from file, got %d", cfg.Render.FramesInFlight)
	}
}
