package gldevice

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
)

// shadowArray is a depth texture array with one layer per cascade.
type shadowArray struct {
	fbo        uint32
	depth      uint32
	resolution int32
	layers     int32
	prevView   [4]int32
}

func newShadowArray(resolution, layers int32) (*shadowArray, error) {
	sm := &shadowArray{resolution: resolution, layers: layers}

	gl.GenTextures(1, &sm.depth)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, sm.depth)
	gl.TexImage3D(gl.TEXTURE_2D_ARRAY, 0, gl.DEPTH_COMPONENT24, resolution, resolution, layers,
		0, gl.DEPTH_COMPONENT, gl.FLOAT, nil)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	// Outside every cascade counts as lit.
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_BORDER)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_BORDER)
	borderColor := []float32{1.0, 1.0, 1.0, 1.0}
	gl.TexParameterfv(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_BORDER_COLOR, &borderColor[0])
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_COMPARE_MODE, gl.COMPARE_REF_TO_TEXTURE)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_COMPARE_FUNC, gl.LEQUAL)

	gl.GenFramebuffers(1, &sm.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, sm.fbo)
	gl.FramebufferTextureLayer(gl.FRAMEBUFFER, gl.DEPTH_ATTACHMENT, sm.depth, 0, 0)
	gl.DrawBuffer(gl.NONE)
	gl.ReadBuffer(gl.NONE)

	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		sm.release()
		return nil, fmt.Errorf("gldevice: shadow framebuffer incomplete: 0x%x", status)
	}
	return sm, nil
}

// bind selects cascade layer as the depth target and clears it.
func (sm *shadowArray) bind(layer int32) {
	gl.GetIntegerv(gl.VIEWPORT, &sm.prevView[0])
	gl.BindFramebuffer(gl.FRAMEBUFFER, sm.fbo)
	gl.FramebufferTextureLayer(gl.FRAMEBUFFER, gl.DEPTH_ATTACHMENT, sm.depth, 0, min(layer, sm.layers-1))
	gl.Viewport(0, 0, sm.resolution, sm.resolution)
	gl.Clear(gl.DEPTH_BUFFER_BIT)
	// Front-face culling reduces acne.
	gl.CullFace(gl.FRONT)
}

func (sm *shadowArray) unbind() {
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.Viewport(sm.prevView[0], sm.prevView[1], sm.prevView[2], sm.prevView[3])
	gl.CullFace(gl.BACK)
}

func (sm *shadowArray) bindTexture() {
	gl.ActiveTexture(gl.TEXTURE0 + unitShadowMap)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, sm.depth)
}

func (sm *shadowArray) release() {
	if sm.fbo != 0 {
		gl.DeleteFramebuffers(1, &sm.fbo)
		sm.fbo = 0
	}
	if sm.depth != 0 {
		gl.DeleteTextures(1, &sm.depth)
		sm.depth = 0
	}
}

// gbuffer holds albedo, normal and world position attachments plus depth.
type gbuffer struct {
	fbo                      uint32
	albedo, normal, position uint32
	depth                    uint32
	width, height            int32
}

func newGBuffer(width, height int32) (*gbuffer, error) {
	g := &gbuffer{}
	gl.GenFramebuffers(1, &g.fbo)
	gl.GenTextures(1, &g.albedo)
	gl.GenTextures(1, &g.normal)
	gl.GenTextures(1, &g.position)
	gl.GenTextures(1, &g.depth)
	if err := g.resize(width, height); err != nil {
		g.release()
		return nil, err
	}
	return g, nil
}

func (g *gbuffer) resize(width, height int32) error {
	g.width, g.height = width, height
	colorTarget(g.albedo, gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE, width, height)
	colorTarget(g.normal, gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE, width, height)
	colorTarget(g.position, gl.RGBA32F, gl.RGBA, gl.FLOAT, width, height)
	gl.BindTexture(gl.TEXTURE_2D, g.depth)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.DEPTH_COMPONENT24, width, height, 0, gl.DEPTH_COMPONENT, gl.FLOAT, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)

	gl.BindFramebuffer(gl.FRAMEBUFFER, g.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, g.albedo, 0)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT1, gl.TEXTURE_2D, g.normal, 0)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT2, gl.TEXTURE_2D, g.position, 0)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.DEPTH_ATTACHMENT, gl.TEXTURE_2D, g.depth, 0)
	attachments := []uint32{gl.COLOR_ATTACHMENT0, gl.COLOR_ATTACHMENT1, gl.COLOR_ATTACHMENT2}
	gl.DrawBuffers(int32(len(attachments)), &attachments[0])

	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		return fmt.Errorf("gldevice: G-buffer incomplete: 0x%x", status)
	}
	return nil
}

func colorTarget(tex uint32, internal int32, format, xtype uint32, width, height int32) {
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexImage2D(gl.TEXTURE_2D, 0, internal, width, height, 0, format, xtype, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
}

func (g *gbuffer) bind() {
	gl.BindFramebuffer(gl.FRAMEBUFFER, g.fbo)
	gl.Viewport(0, 0, g.width, g.height)
	gl.ClearColor(0, 0, 0, 0)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
}

func (g *gbuffer) bindTextures() {
	for unit, tex := range map[uint32]uint32{unitGAlbedo: g.albedo, unitGNormal: g.normal, unitGPosition: g.position} {
		gl.ActiveTexture(gl.TEXTURE0 + unit)
		gl.BindTexture(gl.TEXTURE_2D, tex)
	}
}

// blitDepth copies depth into the default framebuffer. Formats must match
// the window's depth buffer for the blit to succeed.
func (g *gbuffer) blitDepth(width, height int32) {
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, g.fbo)
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
	gl.BlitFramebuffer(0, 0, g.width, g.height, 0, 0, width, height, gl.DEPTH_BUFFER_BIT, gl.NEAREST)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
}

func (g *gbuffer) release() {
	if g.fbo != 0 {
		gl.DeleteFramebuffers(1, &g.fbo)
		g.fbo = 0
	}
	for _, tex := range []*uint32{&g.albedo, &g.normal, &g.position, &g.depth} {
		if *tex != 0 {
			gl.DeleteTextures(1, tex)
			*tex = 0
		}
	}
}

// hizTarget records view depth into a mipmapped R32F texture.
type hizTarget struct {
	fbo           uint32
	color, depth  uint32
	width, height int32
}

func newHizTarget(width, height int32) (*hizTarget, error) {
	h := &hizTarget{}
	gl.GenFramebuffers(1, &h.fbo)
	gl.GenTextures(1, &h.color)
	gl.GenRenderbuffers(1, &h.depth)
	if err := h.resize(width, height); err != nil {
		h.release()
		return nil, err
	}
	return h, nil
}

func (h *hizTarget) resize(width, height int32) error {
	h.width, h.height = width, height
	gl.BindTexture(gl.TEXTURE_2D, h.color)
	chain := mipChain(width, height)
	for level, size := range chain {
		gl.TexImage2D(gl.TEXTURE_2D, int32(level), gl.R32F, size[0], size[1], 0, gl.RED, gl.FLOAT, nil)
	}
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_BASE_LEVEL, 0)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAX_LEVEL, int32(len(chain)-1))
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST_MIPMAP_NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)

	gl.BindRenderbuffer(gl.RENDERBUFFER, h.depth)
	gl.RenderbufferStorage(gl.RENDERBUFFER, gl.DEPTH_COMPONENT24, width, height)

	gl.BindFramebuffer(gl.FRAMEBUFFER, h.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, h.color, 0)
	gl.FramebufferRenderbuffer(gl.FRAMEBUFFER, gl.DEPTH_ATTACHMENT, gl.RENDERBUFFER, h.depth)

	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		return fmt.Errorf("gldevice: HiZ framebuffer incomplete: 0x%x", status)
	}
	return nil
}

func (h *hizTarget) bind() {
	gl.BindFramebuffer(gl.FRAMEBUFFER, h.fbo)
	gl.Viewport(0, 0, h.width, h.height)
	gl.ClearColor(1, 1, 1, 1)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
}

// buildMips fills levels 1 and up with the farthest depth of the texels
// each one covers, so a level never reports geometry nearer than level 0.
// reduce is the program built by newReduceProgram and vao an empty vertex
// array.
func (h *hizTarget) buildMips(reduce *program, vao uint32) {
	gl.Disable(gl.DEPTH_TEST)
	gl.Disable(gl.CULL_FACE)
	gl.Disable(gl.BLEND)
	gl.UseProgram(reduce.name)
	gl.BindVertexArray(vao)
	gl.ActiveTexture(gl.TEXTURE0 + unitAlbedo)
	gl.BindTexture(gl.TEXTURE_2D, h.color)
	gl.BindFramebuffer(gl.FRAMEBUFFER, h.fbo)

	chain := mipChain(h.width, h.height)
	for level := 1; level < len(chain); level++ {
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_BASE_LEVEL, int32(level-1))
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAX_LEVEL, int32(level-1))
		gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, h.color, int32(level))
		gl.Viewport(0, 0, chain[level][0], chain[level][1])
		gl.DrawArrays(gl.TRIANGLES, 0, 3)
	}

	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_BASE_LEVEL, 0)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAX_LEVEL, int32(len(chain)-1))
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, h.color, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	gl.Enable(gl.DEPTH_TEST)
	gl.Enable(gl.CULL_FACE)
}

// mipChain returns the size of every level of a width x height pyramid,
// level 0 first, down to 1x1.
func mipChain(width, height int32) [][2]int32 {
	w, h := max(width, 1), max(height, 1)
	chain := [][2]int32{{w, h}}
	for w > 1 || h > 1 {
		w, h = max(w/2, 1), max(h/2, 1)
		chain = append(chain, [2]int32{w, h})
	}
	return chain
}

func (h *hizTarget) release() {
	if h.fbo != 0 {
		gl.DeleteFramebuffers(1, &h.fbo)
		h.fbo = 0
	}
	if h.color != 0 {
		gl.DeleteTextures(1, &h.color)
		h.color = 0
	}
	if h.depth != 0 {
		gl.DeleteRenderbuffers(1, &h.depth)
		h.depth = 0
	}
}
