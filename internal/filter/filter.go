// Package filter implements the programmable shader-backed video
// transforms (spec.md section 4.9) and the ordered FilterChain that
// ping-pongs frames through them (spec.md section 4.8 step 4, section
// 4.3's FilterChain data model).
package filter

import (
	"fmt"
	"sync"

	"github.com/axyzstra/avplayer/internal/gpu"
	"github.com/axyzstra/avplayer/internal/model"
)

// Kind identifies a filter's shader effect.
type Kind int

const (
	KindFlipVertical Kind = iota
	KindGray
	KindInvert
	KindSticker
)

func (k Kind) String() string {
	switch k {
	case KindFlipVertical:
		return "flip_vertical"
	case KindGray:
		return "gray"
	case KindInvert:
		return "invert"
	case KindSticker:
		return "sticker"
	default:
		return "unknown"
	}
}

// shaderSource carries the (decorative, for a real GL backend) vertex
// and fragment shader text for a kind, plus the software PixelTransform
// a SoftwareContext actually runs.
type shaderSource struct {
	vertex, fragment string
	transform        gpu.PixelTransform
}

func sourceFor(k Kind, params *Filter) shaderSource {
	switch k {
	case KindFlipVertical:
		return shaderSource{vertexQuad, fragFlipVertical, flipVerticalTransform}
	case KindGray:
		return shaderSource{vertexQuad, fragGray, grayTransform}
	case KindInvert:
		return shaderSource{vertexQuad, fragInvert, invertTransform}
	case KindSticker:
		return shaderSource{vertexQuad, fragSticker, stickerTransform(params)}
	default:
		return shaderSource{vertexQuad, fragIdentity, identityTransform}
	}
}

const vertexQuad = `
attribute vec2 aPos;
varying vec2 vUV;
void main() { vUV = aPos * 0.5 + 0.5; gl_Position = vec4(aPos, 0.0, 1.0); }
`
const fragIdentity = `void main() { gl_FragColor = texture2D(uTexture, vUV); }`
const fragFlipVertical = `void main() { gl_FragColor = texture2D(uTexture, vec2(vUV.x, 1.0 - vUV.y)); }`
const fragGray = `void main() { vec4 c = texture2D(uTexture, vUV); float l = dot(c.rgb, vec3(0.299, 0.587, 0.114)); gl_FragColor = vec4(vec3(l), c.a); }`
const fragInvert = `void main() { vec4 c = texture2D(uTexture, vUV); gl_FragColor = vec4(1.0 - c.rgb, c.a); }`
const fragSticker = `void main() { gl_FragColor = mix(texture2D(uTexture, vUV), uStickerColor, uStickerMask(vUV)); }`

// Filter is a shader-backed transform: a parameter bag plus a lazily
// compiled GPU program. The program and its buffers are created, and
// may only be destroyed, on the goroutine that owns the shared GPU
// context (spec.md section 4.3 Filter invariant).
type Filter struct {
	kind Kind

	mu        sync.Mutex
	compiled  bool
	program   gpu.ProgramID
	vertexSrc string
	fragSrc   string

	floats  map[string]float64
	ints    map[string]int
	strings map[string]string
}

// New constructs a filter of the given kind. Shader compilation (and
// therefore GPU work) is deferred until the first Render call, per
// spec.md section 4.3.
func New(kind Kind) *Filter {
	return &Filter{
		kind:    kind,
		floats:  make(map[string]float64),
		ints:    make(map[string]int),
		strings: make(map[string]string),
	}
}

// Type returns the filter's kind.
func (f *Filter) Type() Kind { return f.kind }

func (f *Filter) SetFloat(name string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.floats[name] = v
}

func (f *Filter) GetFloat(name string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.floats[name]
}

func (f *Filter) SetInt(name string, v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ints[name] = v
}

func (f *Filter) GetInt(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ints[name]
}

func (f *Filter) SetString(name, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[name] = v
}

func (f *Filter) GetString(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.strings[name]
}

// preRender lazily compiles the shader program on ctx, caching it for
// subsequent renders. Must be called with ctx current on the calling
// goroutine.
func (f *Filter) preRender(ctx gpu.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.compiled {
		return nil
	}
	src := sourceFor(f.kind, f)
	prog, err := ctx.CompileProgram(src.vertex, src.fragment, src.transform)
	if err != nil {
		return fmt.Errorf("filter %s: compile: %w", f.kind, err)
	}
	f.program = prog
	f.vertexSrc = src.vertex
	f.fragSrc = src.fragment
	f.compiled = true
	return nil
}

// Render applies the filter to frame's current texture, writing the
// result into out. It returns false on setup failure (GpuCompileFailed
// in spec.md's error taxonomy), in which case the caller should forward
// the input unchanged rather than treat it as fatal.
func (f *Filter) Render(ctx gpu.Context, frame *model.VideoFrame, out gpu.TextureID) bool {
	if err := f.preRender(ctx); err != nil {
		return false
	}

	f.mu.Lock()
	prog := f.program
	f.mu.Unlock()

	src := gpu.TextureID(frame.Texture)
	if err := ctx.Blit(prog, src, out); err != nil {
		return false
	}
	return true
}

// destroy releases the filter's compiled program. Must run on the
// goroutine where ctx is current.
func (f *Filter) destroy(ctx gpu.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.compiled {
		ctx.DestroyProgram(f.program)
		f.compiled = false
	}
}
