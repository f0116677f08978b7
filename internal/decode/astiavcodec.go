package decode

import (
	"errors"
	"fmt"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/axyzstra/avplayer/internal/demux"
	"github.com/axyzstra/avplayer/internal/model"
)

// targetSampleRate and targetChannels define the project's PCM output
// format; AudioCodec resamples every stream to this shape regardless of
// its source layout.
const (
	targetSampleRate = 48000
	targetChannels   = 2
)

// AstiavAudioCodec decodes to the project's target interleaved S16
// format via a software resampler, the same shape as the teacher's
// oto-facing decode loop.
type AstiavAudioCodec struct {
	mu sync.Mutex

	ctx      *astiav.CodecContext
	pkt      *astiav.Packet
	frame    *astiav.Frame
	resample *astiav.SoftwareResampleContext
	outFrame *astiav.Frame

	srcTimeBase model.Rational
	ptsAcc      int64
}

func NewAstiavAudioCodec() *AstiavAudioCodec {
	return &AstiavAudioCodec{pkt: astiav.AllocPacket(), frame: astiav.AllocFrame()}
}

func (c *AstiavAudioCodec) Configure(desc demux.StreamDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeCodecLocked()

	dec := astiav.FindDecoder(astiav.CodecID(0))
	if desc.CodecName != "" {
		dec = astiav.FindDecoderByName(desc.CodecName)
	}
	if dec == nil {
		return fmt.Errorf("astiav audio codec: no decoder for %q", desc.CodecName)
	}

	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return errors.New("astiav audio codec: alloc context failed")
	}
	if err := ctx.Open(dec, nil); err != nil {
		ctx.Free()
		return fmt.Errorf("astiav audio codec: open: %w", err)
	}

	c.ctx = ctx
	c.srcTimeBase = desc.TimeBase
	c.ptsAcc = 0
	return nil
}

func (c *AstiavAudioCodec) Send(payload []byte, pts int64) ([]*model.AudioSamples, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil, errors.New("astiav audio codec: not configured")
	}

	c.pkt.Unref()
	if err := c.pkt.FromData(payload); err != nil {
		return nil, fmt.Errorf("astiav audio codec: pkt from data: %w", err)
	}
	c.pkt.SetPts(pts)

	if err := c.ctx.SendPacket(c.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("astiav audio codec: send packet: %w", err)
	}

	var out []*model.AudioSamples
	for {
		if err := c.ctx.ReceiveFrame(c.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return out, fmt.Errorf("astiav audio codec: receive frame: %w", err)
		}
		s, err := c.resampleLocked(c.frame)
		c.frame.Unref()
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *AstiavAudioCodec) resampleLocked(f *astiav.Frame) (*model.AudioSamples, error) {
	if c.resample == nil {
		rs := astiav.AllocSoftwareResampleContext()
		c.resample = rs
		c.outFrame = astiav.AllocFrame()
	}

	c.outFrame.Unref()
	c.outFrame.SetSampleFormat(astiav.SampleFormatS16)
	c.outFrame.SetSampleRate(targetSampleRate)
	c.outFrame.SetChannelLayout(astiav.ChannelLayoutStereo)
	c.outFrame.SetNumSamples(f.NumSamples())
	if err := c.outFrame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("astiav audio codec: alloc resample buffer: %w", err)
	}
	if err := c.resample.ConvertFrame(f, c.outFrame); err != nil {
		return nil, fmt.Errorf("astiav audio codec: resample: %w", err)
	}

	data := c.outFrame.Data().Bytes(0)
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}

	nSamplesPerChannel := len(samples) / targetChannels
	pts := c.ptsAcc
	c.ptsAcc += int64(nSamplesPerChannel)

	return model.NewAudioSamples(targetChannels, targetSampleRate, samples, pts, model.Rational{Num: 1, Den: targetSampleRate}, 0, nil), nil
}

func (c *AstiavAudioCodec) Flush() []*model.AudioSamples {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil
	}
	c.ctx.SendPacket(nil) // signal EOF to the decoder
	var out []*model.AudioSamples
	for {
		if err := c.ctx.ReceiveFrame(c.frame); err != nil {
			break
		}
		s, err := c.resampleLocked(c.frame)
		c.frame.Unref()
		if err == nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *AstiavAudioCodec) closeCodecLocked() {
	if c.resample != nil {
		c.resample.Free()
		c.resample = nil
	}
	if c.outFrame != nil {
		c.outFrame.Free()
		c.outFrame = nil
	}
	if c.ctx != nil {
		c.ctx.Free()
		c.ctx = nil
	}
}

func (c *AstiavAudioCodec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCodecLocked()
	if c.pkt != nil {
		c.pkt.Free()
		c.pkt = nil
	}
	if c.frame != nil {
		c.frame.Free()
		c.frame = nil
	}
}

// AstiavVideoCodec decodes and converts to RGBA via swscale, the same
// "always scale to a fixed pixel format" discipline the teacher's
// bgraScaler uses (BGRA there; RGBA here to match VideoFrame's
// documented layout).
type AstiavVideoCodec struct {
	mu sync.Mutex

	ctx   *astiav.CodecContext
	pkt   *astiav.Packet
	frame *astiav.Frame

	scaler *astiav.SoftwareScaleContext
	rgba   *astiav.Frame

	srcTimeBase model.Rational
	width       int
	height      int
}

func NewAstiavVideoCodec() *AstiavVideoCodec {
	return &AstiavVideoCodec{pkt: astiav.AllocPacket(), frame: astiav.AllocFrame()}
}

func (c *AstiavVideoCodec) Configure(desc demux.StreamDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeCodecLocked()

	dec := astiav.FindDecoderByName(desc.CodecName)
	if dec == nil {
		return fmt.Errorf("astiav video codec: no decoder for %q", desc.CodecName)
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return errors.New("astiav video codec: alloc context failed")
	}
	if err := ctx.Open(dec, nil); err != nil {
		ctx.Free()
		return fmt.Errorf("astiav video codec: open: %w", err)
	}

	c.ctx = ctx
	c.srcTimeBase = desc.TimeBase
	c.width, c.height = desc.Width, desc.Height
	return nil
}

func (c *AstiavVideoCodec) Send(payload []byte, pts int64) ([]*model.VideoFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil, errors.New("astiav video codec: not configured")
	}

	c.pkt.Unref()
	if err := c.pkt.FromData(payload); err != nil {
		return nil, fmt.Errorf("astiav video codec: pkt from data: %w", err)
	}
	c.pkt.SetPts(pts)

	if err := c.ctx.SendPacket(c.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("astiav video codec: send packet: %w", err)
	}

	var out []*model.VideoFrame
	for {
		if err := c.ctx.ReceiveFrame(c.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return out, fmt.Errorf("astiav video codec: receive frame: %w", err)
		}
		vf, err := c.convertLocked(c.frame)
		c.frame.Unref()
		if err != nil {
			return out, err
		}
		out = append(out, vf)
	}
	return out, nil
}

func (c *AstiavVideoCodec) convertLocked(f *astiav.Frame) (*model.VideoFrame, error) {
	w, h := f.Width(), f.Height()
	if c.scaler == nil || c.rgba == nil {
		if c.scaler != nil {
			c.scaler.Free()
		}
		if c.rgba != nil {
			c.rgba.Free()
		}
		ssc, err := astiav.CreateSoftwareScaleContext(w, h, f.PixelFormat(), w, h, astiav.PixelFormatRgba, astiav.NewSoftwareScaleContextFlags())
		if err != nil {
			return nil, fmt.Errorf("astiav video codec: create scaler: %w", err)
		}
		c.scaler = ssc
		c.rgba = astiav.AllocFrame()
	}

	c.rgba.Unref()
	c.rgba.SetWidth(w)
	c.rgba.SetHeight(h)
	c.rgba.SetPixelFormat(astiav.PixelFormatRgba)
	if err := c.rgba.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("astiav video codec: alloc rgba buffer: %w", err)
	}
	if err := c.scaler.ScaleFrame(f, c.rgba); err != nil {
		return nil, fmt.Errorf("astiav video codec: scale: %w", err)
	}

	data := c.rgba.Data().Bytes(0)
	pixels := make([]byte, w*h*4)
	copy(pixels, data)

	pts := f.Pts()
	return model.NewVideoFrame(w, h, pixels, pts, c.srcTimeBase, 0, nil), nil
}

func (c *AstiavVideoCodec) Flush() []*model.VideoFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil
	}
	c.ctx.SendPacket(nil)
	var out []*model.VideoFrame
	for {
		if err := c.ctx.ReceiveFrame(c.frame); err != nil {
			break
		}
		vf, err := c.convertLocked(c.frame)
		c.frame.Unref()
		if err == nil {
			out = append(out, vf)
		}
	}
	return out
}

func (c *AstiavVideoCodec) closeCodecLocked() {
	if c.scaler != nil {
		c.scaler.Free()
		c.scaler = nil
	}
	if c.rgba != nil {
		c.rgba.Free()
		c.rgba = nil
	}
	if c.ctx != nil {
		c.ctx.Free()
		c.ctx = nil
	}
}

func (c *AstiavVideoCodec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCodecLocked()
	if c.pkt != nil {
		c.pkt.Free()
		c.pkt = nil
	}
	if c.frame != nil {
		c.frame.Free()
		c.frame = nil
	}
}
