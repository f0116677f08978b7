package filter

import (
	"fmt"
	"sync"

	"github.com/axyzstra/avplayer/internal/gpu"
	"github.com/axyzstra/avplayer/internal/model"
)

// Chain holds the ordered, user-visible filter list plus the single
// scratch texture every stage ping-pongs against (spec.md section 4.3's
// FilterChain, section 4.8 step 4). It also owns the internal
// flip-vertical pass every frame goes through before the user filters
// run, since decoded RGBA arrives top-down while uploaded textures are
// addressed bottom-up (spec.md section 4.8 step 2).
//
// The methods that take a gpu.Context run on the goroutine that owns the
// VideoPipeline's gpu.Context; AddFilter, RemoveFilter and Filters may be
// called from any goroutine and guard the filter lists with mu.
type Chain struct {
	mu      sync.Mutex
	filters []*Filter
	removed []*Filter

	preFlip *Filter

	scratch     gpu.TextureID
	scratchW    int
	scratchH    int
	haveScratch bool

	readback     gpu.TextureID
	readbackW    int
	readbackH    int
	haveReadback bool
}

// NewChain returns an empty chain with its internal pre-flip filter
// ready to compile on first use.
func NewChain() *Chain {
	return &Chain{preFlip: New(KindFlipVertical)}
}

// AddFilter appends a filter of kind if one is not already present and
// returns it; if one is already present it is returned unchanged. This
// makes repeated AddFilter(kind) calls idempotent, per spec.md's
// FilterChain invariant.
func (c *Chain) AddFilter(kind Kind) *Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.filters {
		if f.Type() == kind {
			return f
		}
	}
	f := New(kind)
	c.filters = append(c.filters, f)
	return f
}

// RemoveFilter detaches the first filter of kind from the active list.
// Its GPU program is not destroyed here; it is queued for destruction
// on the next DestroyPending call, since that must run with the owning
// context current.
func (c *Chain) RemoveFilter(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.filters {
		if f.Type() == kind {
			c.filters = append(c.filters[:i:i], c.filters[i+1:]...)
			c.removed = append(c.removed, f)
			return
		}
	}
}

// Filters returns a snapshot of the active filter list, in render order.
func (c *Chain) Filters() []*Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Filter, len(c.filters))
	copy(out, c.filters)
	return out
}

// DestroyPending releases the GPU programs of every filter removed since
// the last call. Must run with ctx current.
func (c *Chain) DestroyPending(ctx gpu.Context) {
	c.mu.Lock()
	pending := c.removed
	c.removed = nil
	c.mu.Unlock()

	for _, f := range pending {
		f.destroy(ctx)
	}
}

// Close releases the chain's scratch texture and the internal pre-flip
// filter's program. Must run with ctx current.
func (c *Chain) Close(ctx gpu.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveScratch {
		ctx.DestroyTexture(c.scratch)
		c.haveScratch = false
	}
	if c.haveReadback {
		ctx.DestroyTexture(c.readback)
		c.haveReadback = false
	}
	c.preFlip.destroy(ctx)
	for _, f := range c.filters {
		f.destroy(ctx)
	}
	for _, f := range c.removed {
		f.destroy(ctx)
	}
	c.removed = nil
}

func (c *Chain) ensureScratch(ctx gpu.Context, w, h int) (gpu.TextureID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveScratch && c.scratchW == w && c.scratchH == h {
		return c.scratch, nil
	}
	if c.haveScratch {
		ctx.DestroyTexture(c.scratch)
		c.haveScratch = false
	}
	tex, err := ctx.CreateTexture(w, h)
	if err != nil {
		return 0, fmt.Errorf("filter chain: allocate scratch: %w", err)
	}
	c.scratch, c.scratchW, c.scratchH = tex, w, h
	c.haveScratch = true
	return tex, nil
}

func (c *Chain) setScratch(id gpu.TextureID) {
	c.mu.Lock()
	c.scratch = id
	c.mu.Unlock()
}

func (c *Chain) ensureReadback(ctx gpu.Context, w, h int) (gpu.TextureID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveReadback && c.readbackW == w && c.readbackH == h {
		return c.readback, nil
	}
	if c.haveReadback {
		ctx.DestroyTexture(c.readback)
		c.haveReadback = false
	}
	tex, err := ctx.CreateTexture(w, h)
	if err != nil {
		return 0, fmt.Errorf("filter chain: allocate readback texture: %w", err)
	}
	c.readback, c.readbackW, c.readbackH = tex, w, h
	c.haveReadback = true
	return tex, nil
}

// runStages ping-pongs frame's texture through filters in order: each
// filter reads frame's current texture and writes into the chain's
// scratch texture; on success the two textures trade places before the
// next filter runs. Whatever happens, the caller ends up with frame's
// texture holding the combined result and the chain's scratch texture
// holding whatever is left over, regardless of how many filters
// actually rendered successfully — the filter count's parity never
// matters outside this function. It returns the number of filters that
// rendered successfully.
func (c *Chain) runStages(ctx gpu.Context, frame *model.VideoFrame, filters []*Filter) (int, error) {
	scratch, err := c.ensureScratch(ctx, frame.Width, frame.Height)
	if err != nil {
		return 0, err
	}

	src := gpu.TextureID(frame.Texture)
	count := 0
	for _, f := range filters {
		frame.Texture = uint64(src)
		if f.Render(ctx, frame, scratch) {
			src, scratch = scratch, src
			count++
		}
	}
	frame.Texture = uint64(src)
	c.setScratch(scratch)
	return count, nil
}

// PreFlip runs the internal flip-vertical pass on frame. It must run
// before RenderAll on every frame a VideoPipeline uploads.
func (c *Chain) PreFlip(ctx gpu.Context, frame *model.VideoFrame) error {
	_, err := c.runStages(ctx, frame, []*Filter{c.preFlip})
	return err
}

// RenderAll runs every active user filter over frame in order. With no
// active filters it is a no-op: frame's texture is left exactly as it
// was handed in.
func (c *Chain) RenderAll(ctx gpu.Context, frame *model.VideoFrame) error {
	filters := c.Filters()
	if len(filters) == 0 {
		return nil
	}
	_, err := c.runStages(ctx, frame, filters)
	return err
}

// ReadPresented reads frame's currently rendered texture back to CPU
// memory as top-down RGBA bytes, suitable for a consumer (a recorder)
// that only ever sees pixels, not textures. PreFlip leaves frame's
// texture addressed bottom-up for display, so this re-runs the
// self-inverse flip-vertical pass into an owned scratch texture before
// reading back, leaving frame's own texture untouched (spec.md section
// 4.11's VideoEncoder readback step).
func (c *Chain) ReadPresented(ctx gpu.Context, frame *model.VideoFrame) ([]byte, error) {
	tex, err := c.ensureReadback(ctx, frame.Width, frame.Height)
	if err != nil {
		return nil, err
	}
	if !c.preFlip.Render(ctx, frame, tex) {
		return nil, fmt.Errorf("filter chain: read-back flip failed")
	}
	_, _, rgba, err := ctx.ReadTexture(tex)
	if err != nil {
		return nil, fmt.Errorf("filter chain: read texture: %w", err)
	}
	return rgba, nil
}
