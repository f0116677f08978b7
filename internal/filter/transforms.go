package filter

import "github.com/axyzstra/avplayer/internal/gpu"

// identityTransform copies src to dst unchanged.
func identityTransform(w, h int, src, dst []byte) {
	copy(dst, src)
}

// flipVerticalTransform reverses row order, leaving each row's bytes
// untouched. This is also the internal pre-processing step VideoPipeline
// applies to every uploaded frame before the user-facing filter chain
// runs (spec.md section 4.8 step 2).
func flipVerticalTransform(w, h int, src, dst []byte) {
	stride := w * 4
	for row := 0; row < h; row++ {
		srcOff := row * stride
		dstOff := (h - 1 - row) * stride
		copy(dst[dstOff:dstOff+stride], src[srcOff:srcOff+stride])
	}
}

// grayTransform desaturates using Rec. 601 luma weights, preserving
// alpha.
func grayTransform(w, h int, src, dst []byte) {
	for i := 0; i+3 < len(src); i += 4 {
		r, g, b := float64(src[i]), float64(src[i+1]), float64(src[i+2])
		l := byte(0.299*r + 0.587*g + 0.114*b)
		dst[i], dst[i+1], dst[i+2] = l, l, l
		dst[i+3] = src[i+3]
	}
}

// invertTransform negates each color channel, preserving alpha.
func invertTransform(w, h int, src, dst []byte) {
	for i := 0; i+3 < len(src); i += 4 {
		dst[i] = 255 - src[i]
		dst[i+1] = 255 - src[i+1]
		dst[i+2] = 255 - src[i+2]
		dst[i+3] = src[i+3]
	}
}

// stickerTransform builds the software stand-in for the sticker filter.
// Real sticker/face-anchored overlays require an image decoder and a
// face-landmark model (StickerPath / ModelPath); neither is in scope
// here, so the filter instead paints a solid placeholder block (RGBA
// 220,0,220,200, written over the source pixels, not blended) into the
// frame's top-left corner sized by the "width"/"height" int params (a
// quarter of the frame when unset), when StickerPath has been set. With no path configured it behaves as an
// identity pass so adding an un-configured sticker filter to a chain is
// harmless.
func stickerTransform(f *Filter) gpu.PixelTransform {
	return func(w, h int, src, dst []byte) {
		copy(dst, src)

		f.mu.Lock()
		path := f.strings["StickerPath"]
		sw := f.ints["width"]
		sh := f.ints["height"]
		f.mu.Unlock()

		if path == "" {
			return
		}
		if sw <= 0 {
			sw = w / 4
		}
		if sh <= 0 {
			sh = h / 4
		}
		if sw > w {
			sw = w
		}
		if sh > h {
			sh = h
		}

		const r, g, b, a = 220, 0, 220, 200
		for row := 0; row < sh; row++ {
			for col := 0; col < sw; col++ {
				off := (row*w + col) * 4
				dst[off] = r
				dst[off+1] = g
				dst[off+2] = b
				dst[off+3] = a
			}
		}
	}
}
