// Package display implements the DisplaySurface contract: it holds the
// latest rendered frame for a windowing layer to paint, computing a
// viewport rectangle from the surface size and a fit mode (spec.md
// section 4.10), grounded in the teacher's letterbox/pillarbox math for
// aspect-preserving presentation.
package display

import (
	"sync"

	"github.com/axyzstra/avplayer/internal/core"
	"github.com/axyzstra/avplayer/internal/gpu"
	"github.com/axyzstra/avplayer/internal/model"
)

// FitMode selects how a source frame maps onto a surface of a possibly
// different aspect ratio.
type FitMode int

const (
	// ScaleToFill stretches the frame to exactly fill the surface,
	// distorting aspect ratio if they differ.
	ScaleToFill FitMode = iota
	// ScaleAspectFit letterboxes/pillarboxes so the whole frame is
	// visible without distortion.
	ScaleAspectFit
	// ScaleAspectFill crops so the surface is fully covered without
	// distortion.
	ScaleAspectFill
)

// Viewport is the destination rectangle a render pass should draw into,
// within a surface of the size passed to ComputeViewport.
type Viewport struct {
	X, Y          int
	Width, Height int
}

// ComputeViewport maps a srcW x srcH frame onto a surfaceW x surfaceH
// surface under mode.
func ComputeViewport(srcW, srcH, surfaceW, surfaceH int, mode FitMode) Viewport {
	if srcW <= 0 || srcH <= 0 || surfaceW <= 0 || surfaceH <= 0 {
		return Viewport{}
	}

	if mode == ScaleToFill {
		return Viewport{0, 0, surfaceW, surfaceH}
	}

	sx := float64(surfaceW) / float64(srcW)
	sy := float64(surfaceH) / float64(srcH)

	s := sx
	switch mode {
	case ScaleAspectFit:
		if sy < s {
			s = sy
		}
	case ScaleAspectFill:
		if sy > s {
			s = sy
		}
	}

	outW := int(float64(srcW)*s + 0.5)
	outH := int(float64(srcH)*s + 0.5)
	offX := (surfaceW - outW) / 2
	offY := (surfaceH - outH) / 2
	return Viewport{X: offX, Y: offY, Width: outW, Height: outH}
}

// ClearColor is a surface-clear color, channels in [0,255].
type ClearColor struct {
	R, G, B byte
}

// Surface is one attached DisplaySurface: it stores the latest frame
// thread-safely and exposes a render entry point a windowing layer
// calls on its own paint cycle. GPU cleanup (replacing or dropping a
// textured frame) is dispatched through the SerialTaskQueue supplied
// via SetTaskPool, never run on the caller's own goroutine.
type Surface struct {
	ctx  gpu.Context
	pool *core.SerialTaskQueue

	mu      sync.Mutex
	frame   *model.VideoFrame
	fitMode FitMode
}

// NewSurface constructs a surface against ctx, a GPU context sharing
// resources with the VideoPipeline's.
func NewSurface(ctx gpu.Context) *Surface {
	return &Surface{ctx: ctx, fitMode: ScaleAspectFit}
}

// SetTaskPool wires the GPU serial queue cleanup goes through (spec.md
// section 4.10's set_task_pool).
func (s *Surface) SetTaskPool(pool *core.SerialTaskQueue) {
	s.mu.Lock()
	s.pool = pool
	s.mu.Unlock()
}

// Render replaces the surface's latest frame with f, remembering mode
// for the next paint. The previously held frame, if any, has its GPU
// texture destroyed on the task pool rather than here.
func (s *Surface) Render(f *model.VideoFrame, mode FitMode) {
	s.mu.Lock()
	prev := s.frame
	s.frame = f
	s.fitMode = mode
	pool := s.pool
	ctx := s.ctx
	s.mu.Unlock()

	if prev == nil {
		return
	}
	dispatchDestroy(pool, ctx, prev)
}

// Paint is invoked by the windowing layer once per frame with the
// surface's current pixel size and the color to clear behind any
// letterbox/pillarbox bars. It returns the frame and viewport that
// should be drawn, or ok=false if nothing has been rendered yet.
func (s *Surface) Paint(surfaceW, surfaceH int, clear ClearColor) (frame *model.VideoFrame, vp Viewport, ok bool) {
	s.mu.Lock()
	f := s.frame
	mode := s.fitMode
	s.mu.Unlock()

	if f == nil {
		return nil, Viewport{}, false
	}
	vp = ComputeViewport(f.Width, f.Height, surfaceW, surfaceH, mode)
	_ = clear // clearing is a windowing-layer GL call, not modeled here
	return f, vp, true
}

// Clear submits destruction of the held frame's GPU texture to the task
// pool and blocks, via a SyncLatch, until that cleanup has actually
// run.
func (s *Surface) Clear() {
	s.mu.Lock()
	f := s.frame
	s.frame = nil
	pool := s.pool
	ctx := s.ctx
	s.mu.Unlock()

	if f == nil {
		return
	}

	latch := core.NewSyncLatch()
	submitDestroy(pool, ctx, f, latch)
	latch.Wait(-1)
}

func dispatchDestroy(pool *core.SerialTaskQueue, ctx gpu.Context, f *model.VideoFrame) {
	if pool == nil {
		f.Drop()
		return
	}
	pool.Submit(func() {
		if f.Texture != 0 {
			ctx.DestroyTexture(gpu.TextureID(f.Texture))
		}
		f.Drop()
	})
}

func submitDestroy(pool *core.SerialTaskQueue, ctx gpu.Context, f *model.VideoFrame, latch *core.SyncLatch) {
	if pool == nil {
		if f.Texture != 0 {
			ctx.DestroyTexture(gpu.TextureID(f.Texture))
		}
		f.Drop()
		latch.Notify()
		return
	}
	pool.Submit(func() {
		if f.Texture != 0 {
			ctx.DestroyTexture(gpu.TextureID(f.Texture))
		}
		f.Drop()
		latch.Notify()
	})
}
