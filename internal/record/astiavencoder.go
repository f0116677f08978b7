package record

import (
	"errors"
	"fmt"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/axyzstra/avplayer/internal/model"
)

// AstiavAACEncoder encodes interleaved S16 PCM to AAC, following the
// teacher's AAC setup in startRecorder: FindEncoder, channel layout and
// sample rate taken from the source, StrictStdComplianceExperimental to
// unblock builds that otherwise refuse to open the AAC encoder.
type AstiavAACEncoder struct {
	mu sync.Mutex

	ctx      *astiav.CodecContext
	resample *astiav.SoftwareResampleContext
	inFrame  *astiav.Frame
	outFrame *astiav.Frame
	pkt      *astiav.Packet

	ptsAcc int64
}

func NewAstiavAACEncoder() *AstiavAACEncoder {
	return &AstiavAACEncoder{pkt: astiav.AllocPacket()}
}

func targetChannelsFor(samples *model.AudioSamples) int {
	if samples.Channels <= 0 {
		return 1
	}
	return samples.Channels
}

func (e *AstiavAACEncoder) Configure(sampleRate, channels int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	enc := astiav.FindEncoder(astiav.CodecIDAac)
	if enc == nil {
		return errors.New("astiav aac encoder: encoder not found")
	}
	ctx := astiav.AllocCodecContext(enc)
	if ctx == nil {
		return errors.New("astiav aac encoder: alloc context failed")
	}

	layout := astiav.ChannelLayoutStereo
	if channels == 1 {
		layout = astiav.ChannelLayoutMono
	}
	ctx.SetChannelLayout(layout)
	ctx.SetSampleRate(sampleRate)
	if sfs := enc.SampleFormats(); len(sfs) > 0 {
		ctx.SetSampleFormat(sfs[0])
	}
	ctx.SetTimeBase(astiav.NewRational(1, sampleRate))
	ctx.SetBitRate(64000)
	ctx.SetStrictStdCompliance(astiav.StrictStdComplianceExperimental)

	if err := ctx.Open(enc, nil); err != nil {
		ctx.Free()
		return fmt.Errorf("astiav aac encoder: open: %w", err)
	}

	e.ctx = ctx
	e.inFrame = astiav.AllocFrame()
	e.inFrame.SetSampleFormat(astiav.SampleFormatS16)
	e.inFrame.SetSampleRate(sampleRate)
	e.inFrame.SetChannelLayout(astiav.ChannelLayoutStereo)

	e.outFrame = astiav.AllocFrame()
	e.outFrame.SetSampleFormat(ctx.SampleFormat())
	e.outFrame.SetSampleRate(sampleRate)
	e.outFrame.SetChannelLayout(layout)

	e.resample = astiav.AllocSoftwareResampleContext()
	e.ptsAcc = 0
	return nil
}

func (e *AstiavAACEncoder) Send(samples *model.AudioSamples) ([]*model.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil, errors.New("astiav aac encoder: not configured")
	}

	numSamplesPerChannel := len(samples.Data) / targetChannelsFor(samples)

	e.inFrame.Unref()
	e.inFrame.SetNumSamples(numSamplesPerChannel)
	if err := e.inFrame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("astiav aac encoder: alloc input buffer: %w", err)
	}
	data := e.inFrame.Data().Bytes(0)
	for i, s := range samples.Data {
		if 2*i+1 >= len(data) {
			break
		}
		data[2*i] = byte(s)
		data[2*i+1] = byte(s >> 8)
	}

	e.outFrame.Unref()
	e.outFrame.SetNumSamples(numSamplesPerChannel)
	if err := e.outFrame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("astiav aac encoder: alloc output buffer: %w", err)
	}
	if err := e.resample.ConvertFrame(e.inFrame, e.outFrame); err != nil {
		return nil, fmt.Errorf("astiav aac encoder: resample: %w", err)
	}
	e.outFrame.SetPts(e.ptsAcc)
	e.ptsAcc += int64(e.outFrame.NumSamples())

	return e.receiveLocked(e.outFrame)
}

func (e *AstiavAACEncoder) receiveLocked(f *astiav.Frame) ([]*model.Packet, error) {
	if err := e.ctx.SendFrame(f); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("astiav aac encoder: send frame: %w", err)
	}
	var out []*model.Packet
	for {
		e.pkt.Unref()
		if err := e.ctx.ReceivePacket(e.pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return out, fmt.Errorf("astiav aac encoder: receive packet: %w", err)
		}
		payload := append([]byte(nil), e.pkt.Data()...)
		tb := e.ctx.TimeBase()
		out = append(out, model.NewPacket(model.StreamAudio, payload, e.pkt.Pts(), model.Rational{Num: tb.Num(), Den: tb.Den()}, 0, nil))
	}
	return out, nil
}

func (e *AstiavAACEncoder) Flush() []*model.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil
	}
	pkts, _ := e.receiveLocked(nil)
	return pkts
}

func (e *AstiavAACEncoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resample != nil {
		e.resample.Free()
		e.resample = nil
	}
	if e.inFrame != nil {
		e.inFrame.Free()
		e.inFrame = nil
	}
	if e.outFrame != nil {
		e.outFrame.Free()
		e.outFrame = nil
	}
	if e.ctx != nil {
		e.ctx.Free()
		e.ctx = nil
	}
	if e.pkt != nil {
		e.pkt.Free()
		e.pkt = nil
	}
}

// AstiavH264Encoder encodes RGBA frames to H.264. Because this
// project's recorder captures frames after the filter chain (unlike
// the teacher's stream-copy recorder), every frame must go through a
// real encoder rather than a codec-parameter copy.
type AstiavH264Encoder struct {
	mu sync.Mutex

	ctx    *astiav.CodecContext
	scaler *astiav.SoftwareScaleContext
	yuv    *astiav.Frame
	pkt    *astiav.Packet

	width, height int
	frameIdx      int64
}

func NewAstiavH264Encoder() *AstiavH264Encoder {
	return &AstiavH264Encoder{pkt: astiav.AllocPacket()}
}

func (e *AstiavH264Encoder) Configure(width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	enc := astiav.FindEncoderByName("libx264")
	if enc == nil {
		return errors.New("astiav h264 encoder: encoder not found")
	}
	ctx := astiav.AllocCodecContext(enc)
	if ctx == nil {
		return errors.New("astiav h264 encoder: alloc context failed")
	}
	ctx.SetWidth(width)
	ctx.SetHeight(height)
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetTimeBase(astiav.NewRational(1, 90000))

	if err := ctx.Open(enc, nil); err != nil {
		ctx.Free()
		return fmt.Errorf("astiav h264 encoder: open: %w", err)
	}

	e.ctx = ctx
	e.width, e.height = width, height
	e.frameIdx = 0

	ssc, err := astiav.CreateSoftwareScaleContext(width, height, astiav.PixelFormatRgba, width, height, astiav.PixelFormatYuv420P, astiav.NewSoftwareScaleContextFlags())
	if err != nil {
		return fmt.Errorf("astiav h264 encoder: create scaler: %w", err)
	}
	e.scaler = ssc
	e.yuv = astiav.AllocFrame()
	e.yuv.SetWidth(width)
	e.yuv.SetHeight(height)
	e.yuv.SetPixelFormat(astiav.PixelFormatYuv420P)
	return nil
}

func (e *AstiavH264Encoder) Send(frame *model.VideoFrame) ([]*model.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil, errors.New("astiav h264 encoder: not configured")
	}

	rgba := astiav.AllocFrame()
	defer rgba.Free()
	rgba.SetWidth(frame.Width)
	rgba.SetHeight(frame.Height)
	rgba.SetPixelFormat(astiav.PixelFormatRgba)
	if err := rgba.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("astiav h264 encoder: alloc rgba buffer: %w", err)
	}
	copy(rgba.Data().Bytes(0), frame.Pixels)

	e.yuv.Unref()
	if err := e.yuv.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("astiav h264 encoder: alloc yuv buffer: %w", err)
	}
	if err := e.scaler.ScaleFrame(rgba, e.yuv); err != nil {
		return nil, fmt.Errorf("astiav h264 encoder: scale: %w", err)
	}
	e.yuv.SetPts(e.frameIdx)
	e.frameIdx++

	return e.receiveLocked(e.yuv)
}

func (e *AstiavH264Encoder) receiveLocked(f *astiav.Frame) ([]*model.Packet, error) {
	if err := e.ctx.SendFrame(f); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("astiav h264 encoder: send frame: %w", err)
	}
	var out []*model.Packet
	for {
		e.pkt.Unref()
		if err := e.ctx.ReceivePacket(e.pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return out, fmt.Errorf("astiav h264 encoder: receive packet: %w", err)
		}
		payload := append([]byte(nil), e.pkt.Data()...)
		flags := model.Flags(0)
		if e.pkt.Flags().Has(astiav.PacketFlagKey) {
			flags |= model.FlagKeyFrame
		}
		out = append(out, model.NewPacket(model.StreamVideo, payload, e.pkt.Pts(), model.Rational{Num: 1, Den: 90000}, flags, nil))
	}
	return out, nil
}

func (e *AstiavH264Encoder) Flush() []*model.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil
	}
	pkts, _ := e.receiveLocked(nil)
	return pkts
}

func (e *AstiavH264Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scaler != nil {
		e.scaler.Free()
		e.scaler = nil
	}
	if e.yuv != nil {
		e.yuv.Free()
		e.yuv = nil
	}
	if e.ctx != nil {
		e.ctx.Free()
		e.ctx = nil
	}
	if e.pkt != nil {
		e.pkt.Free()
		e.pkt = nil
	}
}
