package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invert(w, h int, src, dst []byte) {
	for i := range src {
		if (i+1)%4 == 0 {
			dst[i] = src[i] // alpha untouched
			continue
		}
		dst[i] = 255 - src[i]
	}
}

func TestSoftwareContextUploadReadRoundtrip(t *testing.T) {
	ctx := NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())
	defer ctx.DoneCurrent()

	tex, err := ctx.CreateTexture(2, 2)
	require.NoError(t, err)

	pixels := []byte{
		10, 20, 30, 255, 40, 50, 60, 255,
		70, 80, 90, 255, 100, 110, 120, 255,
	}
	require.NoError(t, ctx.UploadTexture(tex, 2, 2, pixels))

	w, h, got, err := ctx.ReadTexture(tex)
	require.NoError(t, err)
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, h)
	assert.Equal(t, pixels, got)
}

func TestSoftwareContextBlitAppliesTransform(t *testing.T) {
	ctx := NewSoftwareContext()
	require.NoError(t, ctx.MakeCurrent())
	defer ctx.DoneCurrent()

	src, _ := ctx.CreateTexture(1, 1)
	dst, _ := ctx.CreateTexture(1, 1)
	require.NoError(t, ctx.UploadTexture(src, 1, 1, []byte{10, 20, 30, 255}))

	prog, err := ctx.CompileProgram("vtx", "frag", invert)
	require.NoError(t, err)

	require.NoError(t, ctx.Blit(prog, src, dst))

	_, _, got, err := ctx.ReadTexture(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte{245, 235, 225, 255}, got)
}

func TestSoftwareContextShareSeesSameTextures(t *testing.T) {
	root := NewSoftwareContext()
	shared := root.Share()

	tex, err := root.CreateTexture(1, 1)
	require.NoError(t, err)
	require.NoError(t, root.UploadTexture(tex, 1, 1, []byte{1, 2, 3, 4}))

	_, _, got, err := shared.ReadTexture(tex)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestSoftwareContextUnknownHandlesError(t *testing.T) {
	ctx := NewSoftwareContext()
	_, _, _, err := ctx.ReadTexture(999)
	assert.Error(t, err)

	err = ctx.Blit(999, 1, 2)
	assert.Error(t, err)
}

func TestSoftwareContextDestroyTextureRemovesIt(t *testing.T) {
	ctx := NewSoftwareContext()
	tex, _ := ctx.CreateTexture(1, 1)
	ctx.DestroyTexture(tex)

	_, _, _, err := ctx.ReadTexture(tex)
	assert.Error(t, err)
}
