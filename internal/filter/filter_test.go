package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axyzstra/avplayer/internal/gpu"
	"github.com/axyzstra/avplayer/internal/model"
)

func newUploadedFrame(t *testing.T, ctx gpu.Context, w, h int, pixels []byte) *model.VideoFrame {
	t.Helper()
	tex, err := ctx.CreateTexture(w, h)
	require.NoError(t, err)
	require.NoError(t, ctx.UploadTexture(tex, w, h, pixels))

	frame := model.NewVideoFrame(w, h, nil, 0, model.Rational{Num: 1, Den: 1}, 0, nil)
	frame.Texture = uint64(tex)
	return frame
}

func readFrame(t *testing.T, ctx gpu.Context, frame *model.VideoFrame) []byte {
	t.Helper()
	_, _, got, err := ctx.ReadTexture(gpu.TextureID(frame.Texture))
	require.NoError(t, err)
	return got
}

func TestFilterChainEmptyIsIdentity(t *testing.T) {
	ctx := gpu.NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())

	pixels := []byte{1, 2, 3, 255, 4, 5, 6, 255}
	frame := newUploadedFrame(t, ctx, 2, 1, pixels)

	chain := NewChain()
	require.NoError(t, chain.RenderAll(ctx, frame))

	assert.Equal(t, pixels, readFrame(t, ctx, frame))
}

func TestFilterChainSingleFilterInverts(t *testing.T) {
	ctx := gpu.NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())

	frame := newUploadedFrame(t, ctx, 1, 1, []byte{10, 20, 30, 255})

	chain := NewChain()
	chain.AddFilter(KindInvert)
	require.NoError(t, chain.RenderAll(ctx, frame))

	assert.Equal(t, []byte{245, 235, 225, 255}, readFrame(t, ctx, frame))
}

func TestFilterChainPingPongParity(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4} {
		ctx := gpu.NewSoftwareContext()
		require.NoError(t, ctx.MakeCurrent())

		frame := newUploadedFrame(t, ctx, 1, 1, []byte{10, 20, 30, 255})

		// A chain of n invert filters is its own inverse in pairs: an
		// odd count is equivalent to one inversion, an even count to
		// none. This exercises ping-pong parity (testable property 7)
		// without depending on how many scratch-texture swaps happened
		// internally.
		chain := NewChain()
		for i := 0; i < n; i++ {
			chain.filters = append(chain.filters, New(KindInvert))
		}

		require.NoError(t, chain.RenderAll(ctx, frame))
		got := readFrame(t, ctx, frame)

		if n%2 == 1 {
			assert.Equal(t, []byte{245, 235, 225, 255}, got, "n=%d", n)
		} else {
			assert.Equal(t, []byte{10, 20, 30, 255}, got, "n=%d", n)
		}
	}
}

func TestFilterChainAddFilterIsIdempotentPerKind(t *testing.T) {
	chain := NewChain()
	a := chain.AddFilter(KindGray)
	b := chain.AddFilter(KindGray)
	assert.Same(t, a, b)
	assert.Len(t, chain.Filters(), 1)
}

func TestFilterChainRemoveQueuesForDestruction(t *testing.T) {
	ctx := gpu.NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())

	chain := NewChain()
	f := chain.AddFilter(KindGray)

	frame := newUploadedFrame(t, ctx, 1, 1, []byte{1, 2, 3, 4})
	require.NoError(t, chain.RenderAll(ctx, frame))
	require.True(t, f.compiled)

	chain.RemoveFilter(KindGray)
	assert.Empty(t, chain.Filters())

	chain.DestroyPending(ctx)
	assert.False(t, f.compiled)
}

func TestPreFlipReversesRowOrder(t *testing.T) {
	ctx := gpu.NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())

	// 1x2 image: top row red, bottom row blue.
	pixels := []byte{255, 0, 0, 255, 0, 0, 255, 255}
	frame := newUploadedFrame(t, ctx, 1, 2, pixels)

	chain := NewChain()
	require.NoError(t, chain.PreFlip(ctx, frame))

	assert.Equal(t, []byte{0, 0, 255, 255, 255, 0, 0, 255}, readFrame(t, ctx, frame))
}

func TestReadPresentedUndoesPreFlipAndLeavesTextureAlone(t *testing.T) {
	ctx := gpu.NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())

	// 1x2 image: top row red, bottom row blue.
	pixels := []byte{255, 0, 0, 255, 0, 0, 255, 255}
	frame := newUploadedFrame(t, ctx, 1, 2, pixels)

	chain := NewChain()
	require.NoError(t, chain.PreFlip(ctx, frame))
	chain.AddFilter(KindInvert)
	require.NoError(t, chain.RenderAll(ctx, frame))

	flippedInverted := readFrame(t, ctx, frame)
	require.NotEqual(t, pixels, flippedInverted, "PreFlip+invert must have changed the texture")

	presented, err := chain.ReadPresented(ctx, frame)
	require.NoError(t, err)

	// Un-flipping the result of PreFlip+invert should match inverting
	// the original top-down pixels directly: the inversion survives,
	// the flip cancels out.
	want := []byte{0, 255, 255, 255, 255, 255, 0, 255}
	assert.Equal(t, want, presented)

	// ReadPresented must not have disturbed the frame's own texture.
	assert.Equal(t, flippedInverted, readFrame(t, ctx, frame))
}

func TestStickerFilterPassthroughWithoutPath(t *testing.T) {
	ctx := gpu.NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())

	pixels := []byte{1, 2, 3, 255, 4, 5, 6, 255, 7, 8, 9, 255, 10, 11, 12, 255}
	frame := newUploadedFrame(t, ctx, 2, 2, pixels)

	chain := NewChain()
	chain.AddFilter(KindSticker)
	require.NoError(t, chain.RenderAll(ctx, frame))

	assert.Equal(t, pixels, readFrame(t, ctx, frame))
}

func TestFilterParameterBag(t *testing.T) {
	f := New(KindSticker)
	f.SetFloat("opacity", 0.5)
	f.SetInt("width", 64)
	f.SetString("StickerPath", "/tmp/sticker.png")

	assert.Equal(t, 0.5, f.GetFloat("opacity"))
	assert.Equal(t, 64, f.GetInt("width"))
	assert.Equal(t, "/tmp/sticker.png", f.GetString("StickerPath"))
}
