// Package stage assembles a populated, renderable world on a device from
// the configuration.
package stage

import (
	_ "embed"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/config"
	"github.com/Faultbox/worldview/internal/engine/renderer"
	"github.com/Faultbox/worldview/internal/engine/scene"
	"github.com/Faultbox/worldview/internal/engine/visual"
	"github.com/Faultbox/worldview/internal/engine/world"
	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/logger"
	"github.com/Faultbox/worldview/pkg/math"
)

//go:embed default.yaml
var defaultScene []byte

// DefaultScene returns the built-in world description.
func DefaultScene() (*scene.Description, error) {
	return scene.ParseDescription(defaultScene)
}

// LoadScene loads cfg.Scene.File, or the built-in world when it is empty.
func LoadScene(cfg *config.Config) (*scene.Description, error) {
	if cfg.Scene.File == "" {
		return DefaultScene()
	}
	return scene.LoadDescription(cfg.Scene.File)
}

// Option configures a Stage.
type Option func(*Stage)

// WithLogger sets the logger handed to every component.
func WithLogger(log *zap.Logger) Option {
	return func(s *Stage) { s.log = log }
}

// Stage owns the globals, batched objects, world and renderer drawn on one
// device.
type Stage struct {
	Desc     *scene.Description
	Globals  *scene.Globals
	Objects  *visual.VisualObjects
	World    *world.World
	Renderer *renderer.Renderer

	dev gpu.Device
	log *zap.Logger
	sun scene.Uniforms
}

// New builds a stage for desc on dev.
func New(dev gpu.Device, cfg *config.Config, desc *scene.Description, opts ...Option) (*Stage, error) {
	s := &Stage{Desc: desc, dev: dev, sun: world.SunUniforms(desc)}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("stage")
	}

	rc := cfg.Render
	globals, err := scene.NewGlobals(dev, rc.FramesInFlight, rc.TLASEnabled)
	if err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	s.Globals = globals

	bounds := math.NewAABB(
		math.V3(cfg.Scene.BoundsMin[0], cfg.Scene.BoundsMin[1], cfg.Scene.BoundsMin[2]),
		math.V3(cfg.Scene.BoundsMax[0], cfg.Scene.BoundsMax[1], cfg.Scene.BoundsMax[2]),
	)
	features := renderer.DeviceFeatures(dev, rc.RayQuery)
	s.Objects = visual.New(dev, globals, features, bounds,
		visual.WithCapacity(rc.BucketCapacity),
		visual.WithGridCells(rc.GridCells),
		visual.WithLogger(s.log.Named("visual")),
	)

	s.World, err = world.Populate(s.Objects, dev, desc, world.WithLogger(s.log.Named("world")))
	if err != nil {
		s.Release()
		return nil, fmt.Errorf("stage: %w", err)
	}

	s.Renderer = renderer.New(dev, globals, s.Objects, features, s.World.Bounds(), renderer.Config{
		Cascades: rc.ShadowCascades,
		HiZ:      true,
	}, renderer.WithLogger(s.log.Named("renderer")))

	s.log.Info("stage ready",
		zap.Int("frames_in_flight", rc.FramesInFlight),
		zap.Bool("tlas", rc.TLASEnabled),
		zap.Bool("ray_query", features.RayQuery()),
	)
	return s, nil
}

// Frame animates the world to time t, in seconds, and renders it from view.
func (s *Stage) Frame(view renderer.View, t float32) error {
	return s.Renderer.Frame(view, s.sun, func(fId uint8) error {
		s.World.Animate(t)
		return s.World.UpdateParticles(fId, t)
	})
}

// Release waits for the device and frees everything the stage created.
func (s *Stage) Release() {
	if err := s.dev.WaitIdle(); err != nil {
		s.log.Warn("wait idle before release", zap.Error(err))
	}
	if s.World != nil {
		s.World.Release()
		s.World = nil
	}
	if s.Objects != nil {
		s.Objects.Release()
		s.Objects = nil
	}
	if s.Globals != nil {
		s.Globals.Release()
		s.Globals = nil
	}
}
