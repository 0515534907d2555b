package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagBackend    = flag.String("backend", "", "Device backend: gl or soft")
	flagScene      = flag.String("scene", "", "Scene population file")
	flagNoTLAS     = flag.Bool("no-tlas", false, "Disable the ray-tracing TLAS")
	flagRayQuery   = flag.Bool("ray-query", false, "Enable ray queries when the device supports them")
	flagCapacity   = flag.Int("capacity", 0, "Instances per bucket")
	flagWindowed   = flag.Bool("windowed", false, "Run in windowed mode")
	flagFullscreen = flag.Bool("fullscreen", false, "Run in fullscreen mode")
	flagWidth      = flag.Int("width", 0, "Window width")
	flagHeight     = flag.Int("height", 0, "Window height")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagBackend != "" {
		cfg.Render.Backend = *flagBackend
	}
	if *flagScene != "" {
		cfg.Scene.File = *flagScene
	}
	if *flagNoTLAS {
		cfg.Render.TLASEnabled = false
	}
	if *flagRayQuery {
		cfg.Render.RayQuery = true
	}
	if *flagCapacity > 0 {
		cfg.Render.BucketCapacity = *flagCapacity
	}
	if *flagWindowed {
		cfg.Graphics.Fullscreen = false
	}
	if *flagFullscreen {
		cfg.Graphics.Fullscreen = true
	}
	if *flagWidth > 0 {
		cfg.Graphics.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Graphics.Height = *flagHeight
	}
}
