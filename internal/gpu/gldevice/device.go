// Package gldevice implements gpu.Device on OpenGL 4.1 core.
//
// GL 4.1 has neither storage buffers nor base-instance draws, so storage
// buffers are exposed to shaders as RGBA32F texture buffers and the first
// instance of a draw is passed in the uBaseInstance uniform. Acceleration
// structures are BVHs flattened into texture buffers; shaders walk the top
// level to answer coarse shadow-ray queries.
//
// Encoders record commands; Submit replays them on the context thread and
// fences the frame slot so BeginFrame can wait for it.
package gldevice

import (
	"fmt"
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/gpu"
)

// Texture units shared by every program.
const (
	unitAlbedo    = 0
	unitInstances = 1
	unitMatrices  = 2
	unitTlasNodes = 3
	unitTlasBoxes = 4
	unitShadowMap = 5
	unitRtDesc    = 6
	unitGAlbedo   = 7
	unitGNormal   = 8
	unitGPosition = 9
)

// Uniform block binding of the scene uniforms.
const sceneBlockBinding = 0

const fenceTimeout = 100 * time.Millisecond

// Device is an OpenGL gpu.Device. All methods must be called on the thread
// that owns the GL context.
type Device struct {
	log      *zap.Logger
	features gpu.Features

	nextID uint64
	fences map[uint8]uintptr

	width, height int32
	shadowRes     int32
	cascades      int32

	programs map[gpu.PipelineDesc]*program
	resolve  *program
	reduce   *program
	vaos     [3]uint32
	emptyVAO uint32

	shadow *shadowArray
	gbuf   *gbuffer
	hiz    *hizTarget

	white *Texture
	dummy *Buffer

	state replayState
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the device logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Device) { d.log = log }
}

// WithRayQuery enables BVH shadow-ray queries in shaders. Enabled by default.
func WithRayQuery(enabled bool) Option {
	return func(d *Device) { d.features.RayQuery = enabled }
}

// WithShadowMap sets the shadow map resolution and cascade count.
func WithShadowMap(resolution, cascades int) Option {
	return func(d *Device) {
		if resolution > 0 {
			d.shadowRes = int32(resolution)
		}
		if cascades > 0 {
			d.cascades = int32(cascades)
		}
	}
}

// New initializes GL function pointers for the current context and creates
// the render targets for a width x height drawable.
func New(width, height int, opts ...Option) (*Device, error) {
	d := &Device{
		log:       zap.NewNop(),
		features:  gpu.Features{RayQuery: true},
		fences:    make(map[uint8]uintptr),
		width:     int32(max(width, 1)),
		height:    int32(max(height, 1)),
		shadowRes: 2048,
		cascades:  4,
		programs:  make(map[gpu.PipelineDesc]*program),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("gldevice: init: %w", err)
	}
	d.log.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
		zap.Bool("ray_query", d.features.RayQuery),
	)

	gl.GenVertexArrays(int32(len(d.vaos)), &d.vaos[0])
	gl.GenVertexArrays(1, &d.emptyVAO)

	var err error
	if d.shadow, err = newShadowArray(d.shadowRes, d.cascades); err != nil {
		d.Release()
		return nil, err
	}
	if d.gbuf, err = newGBuffer(d.width, d.height); err != nil {
		d.Release()
		return nil, err
	}
	if d.hiz, err = newHizTarget(d.width, d.height); err != nil {
		d.Release()
		return nil, err
	}

	white, err := d.NewTexture(1, 1, []byte{255, 255, 255, 255})
	if err != nil {
		d.Release()
		return nil, err
	}
	d.white = white.(*Texture)
	dummy, err := d.NewBuffer(gpu.UsageStorage, gpu.HeapDevice, 16)
	if err != nil {
		d.Release()
		return nil, err
	}
	d.dummy = dummy.(*Buffer)

	if d.resolve, err = newResolveProgram(d.features.RayQuery); err != nil {
		d.Release()
		return nil, err
	}
	if d.reduce, err = newReduceProgram(); err != nil {
		d.Release()
		return nil, err
	}
	return d, nil
}

func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

// Features implements gpu.Device.
func (d *Device) Features() gpu.Features {
	return d.features
}

// Resize recreates the screen-sized targets.
func (d *Device) Resize(width, height int) error {
	w, h := int32(max(width, 1)), int32(max(height, 1))
	if w == d.width && h == d.height {
		return nil
	}
	d.width, d.height = w, h
	if err := d.gbuf.resize(w, h); err != nil {
		return err
	}
	if err := d.hiz.resize(w, h); err != nil {
		return err
	}
	d.log.Debug("targets resized", zap.Int32("width", w), zap.Int32("height", h))
	return nil
}

// WaitIdle implements gpu.Device.
func (d *Device) WaitIdle() error {
	gl.Finish()
	for fId, f := range d.fences {
		gl.DeleteSync(f)
		delete(d.fences, fId)
	}
	return glError("wait idle")
}

// BeginFrame implements gpu.Device.
func (d *Device) BeginFrame(fId uint8) (gpu.Encoder, error) {
	if f, ok := d.fences[fId]; ok {
		delete(d.fences, fId)
		if err := d.waitFence(fId, f); err != nil {
			return nil, err
		}
	}
	return &Encoder{frame: fId}, nil
}

func (d *Device) waitFence(fId uint8, f uintptr) error {
	defer gl.DeleteSync(f)
	for {
		switch gl.ClientWaitSync(f, gl.SYNC_FLUSH_COMMANDS_BIT, uint64(fenceTimeout)) {
		case gl.ALREADY_SIGNALED, gl.CONDITION_SATISFIED:
			return nil
		case gl.TIMEOUT_EXPIRED:
			d.log.Warn("frame fence still pending", zap.Uint8("frame", fId), zap.Duration("waited", fenceTimeout))
		default:
			return fmt.Errorf("gldevice: wait for frame %d failed: %w", fId, glError("client wait sync"))
		}
	}
}

// Submit implements gpu.Device.
func (d *Device) Submit(fId uint8, enc gpu.Encoder) error {
	e, ok := enc.(*Encoder)
	if !ok {
		return fmt.Errorf("gldevice: foreign encoder %T", enc)
	}
	if e.open {
		return fmt.Errorf("gldevice: frame %d submitted inside pass %s", fId, e.pass)
	}
	if err := d.replay(e.commands); err != nil {
		return fmt.Errorf("gldevice: frame %d: %w", fId, err)
	}
	if old, ok := d.fences[fId]; ok {
		gl.DeleteSync(old)
	}
	d.fences[fId] = gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)
	return glError("submit")
}

// ReadPixels returns the back buffer as bottom-up RGBA8 rows. Call it
// after Submit and before the window swaps buffers.
func (d *Device) ReadPixels() (pixels []byte, width, height int, err error) {
	width, height = int(d.width), int(d.height)
	pixels = make([]byte, width*height*4)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
	gl.ReadBuffer(gl.BACK)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, d.width, d.height, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
	return pixels, width, height, glError("read pixels")
}

// Release frees device-owned targets and programs. Resources handed out by
// the device must be released by their owners first.
func (d *Device) Release() {
	if len(d.fences) > 0 {
		_ = d.WaitIdle()
	}
	for desc, p := range d.programs {
		p.release()
		delete(d.programs, desc)
	}
	if d.resolve != nil {
		d.resolve.release()
		d.resolve = nil
	}
	if d.reduce != nil {
		d.reduce.release()
		d.reduce = nil
	}
	if d.shadow != nil {
		d.shadow.release()
		d.shadow = nil
	}
	if d.gbuf != nil {
		d.gbuf.release()
		d.gbuf = nil
	}
	if d.hiz != nil {
		d.hiz.release()
		d.hiz = nil
	}
	if d.white != nil {
		d.white.Release()
		d.white = nil
	}
	if d.dummy != nil {
		d.dummy.Release()
		d.dummy = nil
	}
	if d.vaos[0] != 0 {
		gl.DeleteVertexArrays(int32(len(d.vaos)), &d.vaos[0])
		d.vaos = [3]uint32{}
	}
	if d.emptyVAO != 0 {
		gl.DeleteVertexArrays(1, &d.emptyVAO)
		d.emptyVAO = 0
	}
}

func glError(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("gldevice: %s: GL error 0x%x", op, code)
	}
	return nil
}
