// Package gpu defines the narrow GpuContext collaborator contract spec.md
// treats as an opaque host-provided binding (make-current, create/destroy
// textures, blit through a framebuffer object) and ships one concrete,
// software-backed implementation so the rest of the engine — and its
// tests — can run without a real OpenGL/Metal/Vulkan binding.
//
// A production host would instead provide a Context backed by a real GPU
// API; VideoPipeline, Filter and DisplaySurface only ever see this
// interface, never a concrete GL call, matching spec.md section 4.1's
// framing of GpuContext as a black-box collaborator.
package gpu

import (
	"errors"
	"fmt"
	"sync"
)

// TextureID is an opaque handle to a GPU-resident RGBA texture.
type TextureID uint64

// ProgramID is an opaque handle to a compiled, linked shader program.
type ProgramID uint64

// PixelTransform is the software stand-in for a fragment shader: given
// the source texture's RGBA bytes and dimensions, it fills dst with the
// transformed RGBA bytes (also width*height*4 long). Real GL-backed
// Context implementations would ignore this and run the compiled GLSL
// instead; the reference implementation in this package runs it
// directly, so filters are testable without a real shader compiler.
type PixelTransform func(srcW, srcH int, src []byte, dst []byte)

var errNotCurrent = errors.New("gpu: context is not current on this goroutine")

// Context is the collaborator contract VideoPipeline, Filter and
// DisplaySurface depend on. Exactly one goroutine may have a given
// Context current at a time; GPU resources created on one goroutine
// must be destroyed on a goroutine where the same (or a sharing)
// context is current, per spec.md section 4 invariant 4.
type Context interface {
	MakeCurrent() error
	DoneCurrent() error
	Destroy() error

	// Share returns a new Context whose texture/program namespace is
	// shared with this one — created textures are visible through
	// either handle.
	Share() Context

	CreateTexture(width, height int) (TextureID, error)
	DestroyTexture(TextureID)
	UploadTexture(id TextureID, width, height int, rgba []byte) error
	ReadTexture(id TextureID) (width, height int, rgba []byte, err error)

	CompileProgram(vertexSrc, fragmentSrc string, transform PixelTransform) (ProgramID, error)
	DestroyProgram(ProgramID)

	// Blit renders src through program into dst, which must already
	// exist and will be resized to match src if needed.
	Blit(program ProgramID, src, dst TextureID) error

	// Flush blocks until all prior GPU work submitted on this context
	// (or a context it shares resources with) is visible to any
	// consumer of the affected textures.
	Flush()
}

// softwareNamespace is the resource table shared by a root context and
// every context created via Share.
type softwareNamespace struct {
	mu        sync.Mutex
	nextTex   uint64
	nextProg  uint64
	textures  map[TextureID]*texture
	programs  map[ProgramID]PixelTransform
}

type texture struct {
	width, height int
	rgba          []byte
}

func newNamespace() *softwareNamespace {
	return &softwareNamespace{
		textures: make(map[TextureID]*texture),
		programs: make(map[ProgramID]PixelTransform),
	}
}

// SoftwareContext is a CPU-backed reference Context: textures are plain
// []byte RGBA buffers, "shaders" are Go functions, and MakeCurrent
// enforces the single-owning-goroutine discipline via a simple current
// flag guarded by a mutex (a real binding would make an actual OS/GPU
// API call here).
type SoftwareContext struct {
	ns *softwareNamespace

	mu      sync.Mutex
	current bool
}

// NewSoftwareContext returns a fresh root context with its own resource
// namespace.
func NewSoftwareContext() *SoftwareContext {
	return &SoftwareContext{ns: newNamespace()}
}

func (c *SoftwareContext) MakeCurrent() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = true
	return nil
}

func (c *SoftwareContext) DoneCurrent() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = false
	return nil
}

func (c *SoftwareContext) Destroy() error {
	return c.DoneCurrent()
}

func (c *SoftwareContext) Share() Context {
	return &SoftwareContext{ns: c.ns}
}

func (c *SoftwareContext) CreateTexture(width, height int) (TextureID, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("gpu: invalid texture size %dx%d", width, height)
	}
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	c.ns.nextTex++
	id := TextureID(c.ns.nextTex)
	c.ns.textures[id] = &texture{width: width, height: height, rgba: make([]byte, width*height*4)}
	return id, nil
}

func (c *SoftwareContext) DestroyTexture(id TextureID) {
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	delete(c.ns.textures, id)
}

func (c *SoftwareContext) UploadTexture(id TextureID, width, height int, rgba []byte) error {
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	t, ok := c.ns.textures[id]
	if !ok {
		return fmt.Errorf("gpu: unknown texture %d", id)
	}
	if len(rgba) < width*height*4 {
		return fmt.Errorf("gpu: short pixel buffer for %dx%d upload", width, height)
	}
	t.width, t.height = width, height
	if cap(t.rgba) < len(rgba) {
		t.rgba = make([]byte, width*height*4)
	} else {
		t.rgba = t.rgba[:width*height*4]
	}
	copy(t.rgba, rgba[:width*height*4])
	return nil
}

func (c *SoftwareContext) ReadTexture(id TextureID) (int, int, []byte, error) {
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	t, ok := c.ns.textures[id]
	if !ok {
		return 0, 0, nil, fmt.Errorf("gpu: unknown texture %d", id)
	}
	out := make([]byte, len(t.rgba))
	copy(out, t.rgba)
	return t.width, t.height, out, nil
}

func (c *SoftwareContext) CompileProgram(vertexSrc, fragmentSrc string, transform PixelTransform) (ProgramID, error) {
	if transform == nil {
		return 0, errors.New("gpu: software context requires a non-nil transform")
	}
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	c.ns.nextProg++
	id := ProgramID(c.ns.nextProg)
	c.ns.programs[id] = transform
	return id, nil
}

func (c *SoftwareContext) DestroyProgram(id ProgramID) {
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	delete(c.ns.programs, id)
}

func (c *SoftwareContext) Blit(program ProgramID, src, dst TextureID) error {
	c.ns.mu.Lock()
	transform, ok := c.ns.programs[program]
	srcTex, srcOK := c.ns.textures[src]
	_, dstOK := c.ns.textures[dst]
	c.ns.mu.Unlock()

	if !ok {
		return fmt.Errorf("gpu: unknown program %d", program)
	}
	if !srcOK {
		return fmt.Errorf("gpu: unknown source texture %d", src)
	}
	if !dstOK {
		return fmt.Errorf("gpu: unknown destination texture %d", dst)
	}

	out := make([]byte, srcTex.width*srcTex.height*4)
	transform(srcTex.width, srcTex.height, srcTex.rgba, out)

	return c.UploadTexture(dst, srcTex.width, srcTex.height, out)
}

// TextureCount returns the number of live textures in this context's
// namespace. It exists so callers (tests, mainly) can check that a
// shutdown or a drop path destroyed every texture it created, per
// spec.md's "no GPU resource leaked" testable property.
func (c *SoftwareContext) TextureCount() int {
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	return len(c.ns.textures)
}

func (c *SoftwareContext) Flush() {
	// Software textures are updated synchronously inside Blit/Upload;
	// nothing to fence.
}
