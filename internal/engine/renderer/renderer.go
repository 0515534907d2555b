// Package renderer drives one frame of the world: scene uniforms, the
// VisualObjects per-frame update, culling and every pass, in order.
package renderer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/engine/scene"
	"github.com/Faultbox/worldview/internal/engine/shadow"
	"github.com/Faultbox/worldview/internal/engine/visual"
	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/logger"
	"github.com/Faultbox/worldview/pkg/math"
)

// Config holds renderer configuration.
type Config struct {
	// Cascades is the number of shadow cascades, capped at scene.MaxCascades.
	Cascades int
	// ShadowRadius is the radius covered by the first cascade.
	ShadowRadius float32
	// HiZ enables the depth pyramid pass.
	HiZ bool
}

// DefaultConfig returns the settings used when fields are zero.
func DefaultConfig() Config {
	return Config{Cascades: 2, ShadowRadius: 24, HiZ: true}
}

// View is the camera state for a frame.
type View struct {
	ViewProj math.Mat4
	Eye      math.Vec3
	// Focus centers the shadow cascades.
	Focus         math.Vec3
	Width, Height int
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Renderer) { r.log = log }
}

// Renderer records and submits frames through a gpu.Device.
type Renderer struct {
	dev      gpu.Device
	globals  *scene.Globals
	vo       *visual.VisualObjects
	features visual.Features
	log      *zap.Logger
	cfg      Config

	bounds math.AABB
	frame  uint64
	tlases int
}

// DeviceFeatures enables ray queries only when both the configuration and
// the device allow them.
func DeviceFeatures(dev gpu.Device, rayQuery bool) visual.Features {
	return visual.FixedFeatures{RayQueryEnabled: rayQuery && dev.Features().RayQuery}
}

// New creates a renderer over vo. features must be the value vo was created
// with. bounds is the shadow-casting extent of the scene.
func New(dev gpu.Device, globals *scene.Globals, vo *visual.VisualObjects, features visual.Features,
	bounds math.AABB, cfg Config, opts ...Option) *Renderer {
	def := DefaultConfig()
	if cfg.Cascades <= 0 {
		cfg.Cascades = def.Cascades
	}
	cfg.Cascades = min(cfg.Cascades, scene.MaxCascades)
	if cfg.ShadowRadius <= 0 {
		cfg.ShadowRadius = def.ShadowRadius
	}
	if features == nil {
		features = visual.FixedFeatures{}
	}

	r := &Renderer{
		dev:      dev,
		globals:  globals,
		vo:       vo,
		features: features,
		cfg:      cfg,
		bounds:   bounds,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("renderer")
	}

	// Descriptor sets bind the TLAS, so every set is rebuilt when it changes.
	vo.OnTlasChanged(func(gpu.AccelerationStructure) {
		r.tlases++
		vo.SetupUbo()
	})
	return r
}

// SetBounds updates the shadow-casting extent.
func (r *Renderer) SetBounds(bounds math.AABB) {
	r.bounds = bounds
}

// Slot returns the frame slot the next Frame call records into.
func (r *Renderer) Slot() uint8 {
	return uint8(r.frame % uint64(r.globals.FramesInFlight()))
}

// UpdateFunc writes per-frame data for slot fId. It runs once the device
// has finished with the slot's previous frame.
type UpdateFunc func(fId uint8) error

// Frame records and submits one frame. base supplies the lighting; camera,
// shadow and feature fields are filled in from view and the configuration.
// update may be nil.
func (r *Renderer) Frame(view View, base scene.Uniforms, update UpdateFunc) error {
	fId := r.Slot()
	enc, err := r.dev.BeginFrame(fId)
	if err != nil {
		return fmt.Errorf("renderer: begin frame %d: %w", fId, err)
	}
	if update != nil {
		if err := update(fId); err != nil {
			return fmt.Errorf("renderer: update frame %d: %w", fId, err)
		}
	}

	u := r.uniforms(view, base)
	r.globals.SetUniforms(u)
	if err := r.globals.Commit(fId); err != nil {
		return fmt.Errorf("renderer: %w", err)
	}
	if err := r.vo.PreFrameUpdate(fId); err != nil {
		return fmt.Errorf("renderer: %w", err)
	}
	r.vo.VisibilityPass(r.globals.Frustums())

	for layer := 0; layer < int(u.Cascades); layer++ {
		enc.BeginPass(gpu.PassShadow, layer)
		r.vo.DrawShadow(enc, fId, layer)
		enc.EndPass()
	}
	if r.cfg.HiZ {
		enc.BeginPass(gpu.PassHiZ, 0)
		r.vo.DrawHiZ(enc, fId)
		enc.EndPass()
	}
	enc.BeginPass(gpu.PassGBuffer, 0)
	r.vo.DrawGBuffer(enc, fId)
	enc.EndPass()
	enc.BeginPass(gpu.PassForward, 0)
	r.vo.Draw(enc, fId)
	enc.EndPass()

	if err := r.dev.Submit(fId, enc); err != nil {
		return fmt.Errorf("renderer: submit frame %d: %w", fId, err)
	}
	r.frame++
	return nil
}

func (r *Renderer) uniforms(view View, base scene.Uniforms) scene.Uniforms {
	u := base
	u.ViewProj = view.ViewProj
	u.CameraPos = math.Vec4{view.Eye.X, view.Eye.Y, view.Eye.Z, 1}
	u.ScreenSize = [2]float32{float32(view.Width), float32(view.Height)}

	sun := math.V3(base.SunDir[0], base.SunDir[1], base.SunDir[2])
	u.Cascades = 0
	if sun.Length() > 0 && !r.bounds.IsEmpty() {
		mats := shadow.Cascades(sun, view.Focus, r.cfg.ShadowRadius, r.bounds, r.cfg.Cascades)
		copy(u.Shadow[:], mats)
		u.Cascades = uint32(len(mats))
	}

	u.RayQuery = 0
	if r.globals.TLASEnabled && r.features.RayQuery() {
		u.RayQuery = 1
	}
	return u
}

// Stats summarizes the draw order after the last frame.
type Stats struct {
	Frames      uint64
	Buckets     int
	SolidPrefix int
	Visible     int
	Items       int
	TlasBuilds  int
}

// Stats returns counts for the last recorded frame.
func (r *Renderer) Stats() Stats {
	st := Stats{
		Frames:      r.frame,
		Buckets:     len(r.vo.Index()),
		SolidPrefix: r.vo.LastSolidBucket(),
		TlasBuilds:  r.tlases,
	}
	for _, b := range r.vo.Index() {
		bs := b.Stats()
		st.Visible += bs.Visible
		st.Items += bs.Size
	}
	return st
}

// Close waits for every submitted frame.
func (r *Renderer) Close() error {
	r.log.Info("closing renderer", zap.Uint64("frames", r.frame))
	if err := r.dev.WaitIdle(); err != nil {
		return fmt.Errorf("renderer: %w", err)
	}
	return nil
}
