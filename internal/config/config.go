// Package config handles renderer configuration loading and management.
package config

// Config holds all settings.
type Config struct {
	Graphics GraphicsConfig `yaml:"graphics" toml:"graphics"`
	Render   RenderConfig   `yaml:"render" toml:"render"`
	Scene    SceneConfig    `yaml:"scene" toml:"scene"`
	Viewer   ViewerConfig   `yaml:"viewer" toml:"viewer"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// GraphicsConfig holds display settings.
type GraphicsConfig struct {
	Width      int  `yaml:"width" toml:"width"`
	Height     int  `yaml:"height" toml:"height"`
	Fullscreen bool `yaml:"fullscreen" toml:"fullscreen"`
	VSync      bool `yaml:"vsync" toml:"vsync"`
}

// RenderConfig holds batching, ray-tracing and pass settings.
type RenderConfig struct {
	Backend          string `yaml:"backend" toml:"backend"` // "gl" or "soft"
	FramesInFlight   int    `yaml:"frames_in_flight" toml:"frames_in_flight"`
	BucketCapacity   int    `yaml:"bucket_capacity" toml:"bucket_capacity"`
	TLASEnabled      bool   `yaml:"tlas_enabled" toml:"tlas_enabled"`
	RayQuery         bool   `yaml:"ray_query" toml:"ray_query"`
	ShadowCascades   int    `yaml:"shadow_cascades" toml:"shadow_cascades"`
	ShadowResolution int    `yaml:"shadow_resolution" toml:"shadow_resolution"`
	GridCells        int    `yaml:"grid_cells" toml:"grid_cells"` // visibility grid cells per axis
}

// SceneConfig holds world population settings.
type SceneConfig struct {
	File      string     `yaml:"file" toml:"file"` // optional population description
	BoundsMin [3]float32 `yaml:"bounds_min" toml:"bounds_min"`
	BoundsMax [3]float32 `yaml:"bounds_max" toml:"bounds_max"`
}

// ViewerConfig holds interactive viewer settings.
type ViewerConfig struct {
	CameraSmoothing bool   `yaml:"camera_smoothing" toml:"camera_smoothing"`
	HotReload       bool   `yaml:"hot_reload" toml:"hot_reload"` // rebuild when the scene file changes
	ScreenshotDir   string `yaml:"screenshot_dir" toml:"screenshot_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string            `yaml:"level" toml:"level"`
	Format     string            `yaml:"format" toml:"format"` // "console" or "json"
	LogFile    string            `yaml:"log_file" toml:"log_file"`
	Components map[string]string `yaml:"components" toml:"components"` // per-component level
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Graphics: GraphicsConfig{
			Width:      1280,
			Height:     720,
			Fullscreen: false,
			VSync:      true,
		},
		Render: RenderConfig{
			Backend:          "gl",
			FramesInFlight:   2,
			BucketCapacity:   128,
			TLASEnabled:      true,
			RayQuery:         false,
			ShadowCascades:   2,
			ShadowResolution: 2048,
			GridCells:        16,
		},
		Scene: SceneConfig{
			BoundsMin: [3]float32{-1024, -256, -1024},
			BoundsMax: [3]float32{1024, 256, 1024},
		},
		Viewer: ViewerConfig{
			CameraSmoothing: true,
			HotReload:       true,
			ScreenshotDir:   "screenshots",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "console",
			LogFile: "",
		},
	}
}
