// Package viewer implements the interactive window loop.
package viewer

import (
	"fmt"
	"time"

	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/config"
	"github.com/Faultbox/worldview/internal/engine/camera"
	"github.com/Faultbox/worldview/internal/engine/debug"
	"github.com/Faultbox/worldview/internal/engine/picking"
	"github.com/Faultbox/worldview/internal/engine/renderer"
	"github.com/Faultbox/worldview/internal/engine/window"
	"github.com/Faultbox/worldview/internal/gpu/gldevice"
	"github.com/Faultbox/worldview/internal/logger"
	"github.com/Faultbox/worldview/internal/stage"
)

// Viewer is the main viewer instance.
type Viewer struct {
	cfg     *config.Config
	log     *zap.Logger
	running bool
	window  *window.Window
	dev     *gldevice.Device
	stage   *stage.Stage
	camera  *camera.OrbitCamera
	start   time.Time

	shots    *debug.Screenshots
	wantShot bool
	watcher  *stage.Watcher
}

// Frames per second the camera springs are tuned for.
const smoothingFPS = 60

// New opens the window and populates the configured world.
func New(cfg *config.Config) (*Viewer, error) {
	if cfg.Render.Backend != "gl" {
		return nil, fmt.Errorf("viewer needs the gl backend, got %q", cfg.Render.Backend)
	}
	v := &Viewer{cfg: cfg, log: logger.Named("viewer")}
	v.log.Info("initializing viewer",
		zap.Int("width", cfg.Graphics.Width),
		zap.Int("height", cfg.Graphics.Height),
	)

	desc, err := stage.LoadScene(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load scene: %w", err)
	}

	// Create window (this also creates the OpenGL context)
	v.window, err = window.New(window.Config{
		Title:      "worldview",
		Width:      cfg.Graphics.Width,
		Height:     cfg.Graphics.Height,
		Fullscreen: cfg.Graphics.Fullscreen,
		VSync:      cfg.Graphics.VSync,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	// The device needs the context made current by the window.
	width, height := v.window.Size()
	v.dev, err = gldevice.New(width, height,
		gldevice.WithRayQuery(cfg.Render.RayQuery),
		gldevice.WithShadowMap(cfg.Render.ShadowResolution, max(cfg.Render.ShadowCascades, 1)),
		gldevice.WithLogger(logger.Named("gldevice")),
	)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	v.stage, err = stage.New(v.dev, cfg, desc)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to build stage: %w", err)
	}

	v.camera = camera.NewOrbitCamera(float32(width) / float32(max(height, 1)))
	v.camera.FitToBounds(v.stage.World.Bounds())
	if cfg.Viewer.CameraSmoothing {
		v.camera.Smooth(smoothingFPS)
	}
	v.shots = debug.NewScreenshots(cfg.Viewer.ScreenshotDir, "worldview")

	if cfg.Viewer.HotReload && cfg.Scene.File != "" {
		if v.watcher, err = stage.WatchFile(cfg.Scene.File, v.log); err != nil {
			v.log.Warn("scene watch disabled", zap.Error(err))
		} else {
			v.log.Info("watching scene", zap.String("file", cfg.Scene.File))
		}
	}

	v.log.Info("viewer initialized successfully")
	return v, nil
}

// Run starts the main loop.
func (v *Viewer) Run() error {
	v.running = true
	v.start = time.Now()

	lastTime := v.start
	frameCount := 0
	fpsTimer := v.start

	v.log.Info("starting render loop")

	for v.running {
		now := time.Now()
		dt := now.Sub(lastTime).Seconds()
		lastTime = now

		// 1. Process input
		events, running := v.window.PollEvents()
		if !running {
			v.running = false
			break
		}
		if err := v.handleEvents(events); err != nil {
			return err
		}
		v.handleKeys()
		v.camera.Update()
		if v.sceneChanged() {
			v.reload()
		}

		// 2. Render
		if err := v.render(float32(now.Sub(v.start).Seconds())); err != nil {
			return fmt.Errorf("render error: %w", err)
		}
		if v.wantShot {
			v.wantShot = false
			v.screenshot()
		}

		// 3. Present (swap buffers)
		v.window.SwapBuffers()

		// FPS counter
		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			st := v.stage.Renderer.Stats()
			v.log.Debug("fps",
				zap.Int("count", frameCount),
				zap.String("dt", fmt.Sprintf("%.2fms", dt*1000)),
				zap.Int("buckets", st.Buckets),
				zap.Int("visible", st.Visible),
			)
			v.window.SetTitle(fmt.Sprintf("worldview - %d fps, %d/%d visible", frameCount, st.Visible, st.Items))
			frameCount = 0
			fpsTimer = time.Now()
		}
	}
	return nil
}

func (v *Viewer) handleEvents(events []window.Event) error {
	for _, event := range events {
		switch event.Type {
		case window.EventResize:
			width, height := v.window.Size()
			if err := v.dev.Resize(width, height); err != nil {
				return fmt.Errorf("resize: %w", err)
			}
			v.camera.SetAspect(width, height)
		case window.EventDrag:
			v.camera.HandleDrag(event.DX, event.DY)
		case window.EventZoom:
			v.camera.HandleZoom(event.DY)
		case window.EventPick:
			v.pick(event.X, event.Y)
		case window.EventKeyDown:
			switch event.Key {
			case sdl.SCANCODE_F:
				v.camera.FitToBounds(v.stage.World.Bounds())
			case sdl.SCANCODE_F11:
				if err := v.window.ToggleFullscreen(); err != nil {
					v.log.Warn("fullscreen toggle failed", zap.Error(err))
				}
			case sdl.SCANCODE_F12:
				v.wantShot = true
			}
		}
	}
	return nil
}

func (v *Viewer) handleKeys() {
	var forward, right, up float32
	if window.KeyPressed(sdl.SCANCODE_W) {
		forward++
	}
	if window.KeyPressed(sdl.SCANCODE_S) {
		forward--
	}
	if window.KeyPressed(sdl.SCANCODE_D) {
		right++
	}
	if window.KeyPressed(sdl.SCANCODE_A) {
		right--
	}
	if window.KeyPressed(sdl.SCANCODE_E) {
		up++
	}
	if window.KeyPressed(sdl.SCANCODE_Q) {
		up--
	}
	if forward != 0 || right != 0 || up != 0 {
		v.camera.HandleMovement(forward, right, up)
	}
}

func (v *Viewer) render(t float32) error {
	width, height := v.window.Size()
	view := renderer.View{
		ViewProj: v.camera.ViewProj(),
		Eye:      v.camera.Position(),
		Focus:    v.camera.Center,
		Width:    width,
		Height:   height,
	}
	return v.stage.Frame(view, t)
}

func (v *Viewer) pick(x, y float32) {
	width, height := v.window.Size()
	ray := picking.ScreenToRay(picking.View{
		Eye:    v.camera.Position(),
		Target: v.camera.Center,
		FovY:   v.camera.FovY,
		Aspect: v.camera.Aspect,
	}, x, y, float32(width), float32(height))

	it, dist, ok := v.stage.World.Pick(ray)
	if !ok {
		if p, ok := ray.IntersectPlaneY(0); ok {
			v.log.Info("picked ground", zap.Float32("x", p.X), zap.Float32("z", p.Z))
		}
		return
	}
	c := it.Bounds().Center()
	mat := it.Material()
	v.log.Info("picked item",
		zap.Stringer("kind", it.Kind()),
		zap.Stringer("alpha", mat.Alpha),
		zap.Float32("distance", dist),
		zap.Float32s("center", []float32{c.X, c.Y, c.Z}),
	)
}

func (v *Viewer) screenshot() {
	pixels, width, height, err := v.dev.ReadPixels()
	if err != nil {
		v.log.Warn("screenshot failed", zap.Error(err))
		return
	}
	name, err := v.shots.SaveBottomUp(pixels, width, height)
	if err != nil {
		v.log.Warn("screenshot failed", zap.Error(err))
		return
	}
	v.log.Info("screenshot saved", zap.String("file", name))
}

func (v *Viewer) sceneChanged() bool {
	if v.watcher == nil {
		return false
	}
	select {
	case <-v.watcher.Changed():
		return true
	default:
		return false
	}
}

// reload rebuilds the world from the scene file. A scene that fails to load
// or populate leaves the current world in place.
func (v *Viewer) reload() {
	next, err := stage.Reload(v.stage, v.cfg)
	if err != nil {
		v.log.Warn("scene reload skipped", zap.Error(err))
		return
	}
	v.stage = next
	v.log.Info("scene reloaded", zap.Int("items", next.World.Stats().Items))
}

// Close releases the world, the device and the window.
func (v *Viewer) Close() {
	v.log.Info("closing viewer")

	if v.watcher != nil {
		v.watcher.Close()
	}
	if v.stage != nil {
		if err := v.stage.Renderer.Close(); err != nil {
			v.log.Warn("renderer close", zap.Error(err))
		}
		v.stage.Release()
	}
	if v.dev != nil {
		v.dev.Release()
	}
	if v.window != nil {
		v.window.Close()
	}
}
