// Package model holds the data units that flow through the pipeline:
// encoded Packets leaving the demuxer, and decoded AudioSamples /
// VideoFrame units leaving the decoders.
package model

import "sync"

// StreamKind distinguishes the audio and video elementary streams.
type StreamKind int

const (
	StreamAudio StreamKind = iota
	StreamVideo
)

func (k StreamKind) String() string {
	if k == StreamAudio {
		return "audio"
	}
	return "video"
}

// Flags is a bitset carried by every unit travelling through the graph.
type Flags uint8

const (
	// FlagKeyFrame marks a packet that can be decoded without
	// reference to any preceding packet.
	FlagKeyFrame Flags = 1 << iota
	// FlagFlush is an in-band control signal: every queue it
	// traverses is cleared, in order, before any later unit is
	// delivered.
	FlagFlush
	// FlagEndOfStream marks the last unit of a stream until the next
	// successful open or seek.
	FlagEndOfStream
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Rational is a num/den time base, interpreted against a PTS to yield
// seconds.
type Rational struct {
	Num int
	Den int
}

// Seconds converts a presentation timestamp expressed in this time base
// to seconds.
func (r Rational) Seconds(pts int64) float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(pts) * float64(r.Num) / float64(r.Den)
}

// releaser fires a release hook exactly once, however many times Fire
// is called and regardless of which goroutine calls it. A nil hook (the
// gate has already gone away during shutdown) makes Fire a no-op.
type releaser struct {
	once sync.Once
	hook func()
}

func (r *releaser) Fire() {
	if r == nil || r.hook == nil {
		return
	}
	r.once.Do(r.hook)
}

func newReleaser(hook func()) *releaser {
	if hook == nil {
		return nil
	}
	return &releaser{hook: hook}
}

// Packet is an opaque encoded unit for one elementary stream, owned
// singly by whichever stage currently holds it.
type Packet struct {
	Kind      StreamKind
	Payload   []byte
	PTS       int64
	DTS       int64
	TimeBase  Rational
	Flags     Flags
	StreamIdx int

	release *releaser
}

// NewPacket constructs a packet carrying a release hook that fires
// exactly once when Drop is called.
func NewPacket(kind StreamKind, payload []byte, pts int64, tb Rational, flags Flags, onRelease func()) *Packet {
	return &Packet{Kind: kind, Payload: payload, PTS: pts, TimeBase: tb, Flags: flags, release: newReleaser(onRelease)}
}

// TimestampSeconds returns PTS converted through TimeBase.
func (p *Packet) TimestampSeconds() float64 { return p.TimeBase.Seconds(p.PTS) }

// Drop releases the packet's upstream credit, exactly once.
func (p *Packet) Drop() {
	if p == nil {
		return
	}
	p.release.Fire()
}

// AttachRelease binds a credit-release hook to a packet that was built
// without one (the common case: a ContainerReader adapter builds the
// packet, the stage holding the credit gate attaches the hook before
// handing it to a listener).
func (p *Packet) AttachRelease(onRelease func()) {
	p.release = newReleaser(onRelease)
}

// AudioSamples is decoded, interleaved signed-16 PCM.
type AudioSamples struct {
	Channels   int
	SampleRate int
	Data       []int16 // interleaved
	ReadOffset int      // advances as a sink consumes, in samples-per-channel
	PTS        int64
	TimeBase   Rational
	Flags      Flags

	release *releaser
}

// NewAudioSamples constructs a decoded PCM unit.
func NewAudioSamples(channels, rate int, data []int16, pts int64, tb Rational, flags Flags, onRelease func()) *AudioSamples {
	return &AudioSamples{Channels: channels, SampleRate: rate, Data: data, PTS: pts, TimeBase: tb, Flags: flags, release: newReleaser(onRelease)}
}

// TimestampSeconds returns PTS converted through TimeBase.
func (a *AudioSamples) TimestampSeconds() float64 { return a.TimeBase.Seconds(a.PTS) }

// Remaining returns the samples-per-channel not yet consumed.
func (a *AudioSamples) Remaining() int {
	if a.Channels == 0 {
		return 0
	}
	total := len(a.Data) / a.Channels
	if a.ReadOffset >= total {
		return 0
	}
	return total - a.ReadOffset
}

// Drop releases the unit's upstream credit, exactly once.
func (a *AudioSamples) Drop() {
	if a == nil {
		return
	}
	a.release.Fire()
}

// AttachRelease binds a credit-release hook, see Packet.AttachRelease.
func (a *AudioSamples) AttachRelease(onRelease func()) {
	a.release = newReleaser(onRelease)
}

// VideoFrame is a decoded raster: an RGBA pixel buffer plus, once
// uploaded, a GPU texture handle. Once Texture is non-zero it owns a
// GPU resource that must be released on the GPU thread before the
// frame is discarded.
type VideoFrame struct {
	Width, Height int
	Pixels        []byte // tightly packed RGBA, width*height*4 bytes
	Texture        uint64 // opaque handle, 0 means "not yet uploaded"
	PTS            int64
	TimeBase       Rational
	Flags          Flags

	release *releaser
}

// NewVideoFrame constructs a decoded RGBA frame.
func NewVideoFrame(w, h int, pixels []byte, pts int64, tb Rational, flags Flags, onRelease func()) *VideoFrame {
	return &VideoFrame{Width: w, Height: h, Pixels: pixels, PTS: pts, TimeBase: tb, Flags: flags, release: newReleaser(onRelease)}
}

// TimestampSeconds returns PTS converted through TimeBase.
func (v *VideoFrame) TimestampSeconds() float64 { return v.TimeBase.Seconds(v.PTS) }

// Drop releases the unit's upstream credit, exactly once.
func (v *VideoFrame) Drop() {
	if v == nil {
		return
	}
	v.release.Fire()
}

// AttachRelease binds a credit-release hook, see Packet.AttachRelease.
func (v *VideoFrame) AttachRelease(onRelease func()) {
	v.release = newReleaser(onRelease)
}
