package display

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axyzstra/avplayer/internal/core"
	"github.com/axyzstra/avplayer/internal/gpu"
	"github.com/axyzstra/avplayer/internal/model"
)

func TestComputeViewportScaleToFill(t *testing.T) {
	vp := ComputeViewport(100, 50, 200, 200, ScaleToFill)
	assert.Equal(t, Viewport{0, 0, 200, 200}, vp)
}

func TestComputeViewportAspectFitLetterboxes(t *testing.T) {
	// 2:1 source into a 1:1 surface: width-limited, bars top/bottom.
	vp := ComputeViewport(200, 100, 100, 100, ScaleAspectFit)
	assert.Equal(t, 100, vp.Width)
	assert.Equal(t, 50, vp.Height)
	assert.Equal(t, 0, vp.X)
	assert.Equal(t, 25, vp.Y)
}

func TestComputeViewportAspectFillCrops(t *testing.T) {
	vp := ComputeViewport(200, 100, 100, 100, ScaleAspectFill)
	assert.Equal(t, 100, vp.Height)
	assert.Equal(t, 200, vp.Width)
	assert.Equal(t, -50, vp.X)
	assert.Equal(t, 0, vp.Y)
}

func TestSurfaceRenderThenPaint(t *testing.T) {
	ctx := gpu.NewSoftwareContext()
	s := NewSurface(ctx)

	f := model.NewVideoFrame(16, 9, nil, 0, model.Rational{Num: 1, Den: 1}, 0, nil)
	s.Render(f, ScaleAspectFit)

	got, vp, ok := s.Paint(160, 90, ClearColor{})
	require.True(t, ok)
	assert.Same(t, f, got)
	assert.Equal(t, 160, vp.Width)
	assert.Equal(t, 90, vp.Height)
}

func TestSurfacePaintBeforeAnyRenderIsNotOK(t *testing.T) {
	s := NewSurface(gpu.NewSoftwareContext())
	_, _, ok := s.Paint(100, 100, ClearColor{})
	assert.False(t, ok)
}

func TestSurfaceRenderDestroysPreviousFrameOnTaskPool(t *testing.T) {
	ctx := gpu.NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())
	s := NewSurface(ctx)
	pool := core.NewSerialTaskQueue()
	s.SetTaskPool(pool)

	tex, err := ctx.CreateTexture(2, 2)
	require.NoError(t, err)

	dropped := make(chan struct{}, 1)
	f1 := model.NewVideoFrame(2, 2, nil, 0, model.Rational{Num: 1, Den: 1}, 0, func() { dropped <- struct{}{} })
	f1.Texture = uint64(tex)
	s.Render(f1, ScaleAspectFit)

	f2 := model.NewVideoFrame(2, 2, nil, 0, model.Rational{Num: 1, Den: 1}, 0, nil)
	s.Render(f2, ScaleAspectFit)

	select {
	case <-dropped:
	case <-time.After(time.Second):
		require.Fail(t, "expected previous frame to be dropped via the task pool")
	}

	_, _, _, err = ctx.ReadTexture(tex)
	assert.Error(t, err, "previous frame's texture should have been destroyed")

	pool.Stop()
}

func TestSurfaceClearBlocksUntilDestroyed(t *testing.T) {
	ctx := gpu.NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())
	s := NewSurface(ctx)
	pool := core.NewSerialTaskQueue()
	s.SetTaskPool(pool)

	tex, err := ctx.CreateTexture(1, 1)
	require.NoError(t, err)
	f := model.NewVideoFrame(1, 1, nil, 0, model.Rational{Num: 1, Den: 1}, 0, nil)
	f.Texture = uint64(tex)
	s.Render(f, ScaleAspectFit)

	s.Clear()

	_, _, _, err = ctx.ReadTexture(tex)
	assert.Error(t, err)

	pool.Stop()
}
