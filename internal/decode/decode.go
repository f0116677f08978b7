// Package decode implements the audio and video decoder stages: each
// consumes encoded Packets from its own queue and emits decoded units
// gated by a credit counter against its downstream consumer.
package decode

import (
	"log"
	"sync"
	"time"

	"github.com/axyzstra/avplayer/internal/core"
	"github.com/axyzstra/avplayer/internal/demux"
	"github.com/axyzstra/avplayer/internal/model"
)

const wakeInterval = 100 * time.Millisecond

// AudioCodec is the seam to the concrete audio codec + resampler. The
// production adapter wraps astiav; tests inject a fake.
type AudioCodec interface {
	// Configure (re)builds decoder state for a newly described stream.
	Configure(desc demux.StreamDescriptor) error
	// Send feeds one encoded packet. Decode drains zero or more
	// AudioSamples in presentation order; the codec owns resampling to
	// the project's interleaved S16 target format.
	Send(payload []byte, pts int64) ([]*model.AudioSamples, error)
	Flush() []*model.AudioSamples
	Close()
}

// VideoCodec is the seam to the concrete video codec + pixel-format
// converter.
type VideoCodec interface {
	Configure(desc demux.StreamDescriptor) error
	// Send feeds one encoded packet and drains zero or more VideoFrames
	// with RGBA pixel data.
	Send(payload []byte, pts int64) ([]*model.VideoFrame, error)
	Flush() []*model.VideoFrame
	Close()
}

// AudioListener receives decoded audio output.
type AudioListener interface {
	OnAudioSamples(*model.AudioSamples)
}

// VideoListener receives decoded video output.
type VideoListener interface {
	OnVideoFrame(*model.VideoFrame)
}

type queueItem struct {
	packet *model.Packet
}

// base holds the structure shared by AudioDecoder and VideoDecoder: a
// packet queue, a worker goroutine, a latch and a credit gate toward
// the downstream consumer.
type base struct {
	mu    sync.Mutex
	queue []queueItem

	latch *core.SyncLatch
	gate  *core.CreditGate

	pausedMu sync.Mutex
	paused   bool

	fatalMu sync.Mutex
	fatal   bool

	stop chan struct{}
	done chan struct{}
}

func newBase(credits int) base {
	latch := core.NewSyncLatch()
	return base{
		latch: latch,
		gate:  core.NewCreditGate(credits, latch),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (b *base) enqueue(pkt *model.Packet) {
	b.mu.Lock()
	if pkt.Flags.Has(model.FlagFlush) {
		for _, item := range b.queue {
			item.packet.Drop()
		}
		b.queue = b.queue[:0]
	}
	b.queue = append(b.queue, queueItem{packet: pkt})
	b.mu.Unlock()
	b.latch.Notify()
}

func (b *base) popHead() (*model.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	pkt := b.queue[0].packet
	b.queue = b.queue[1:]
	return pkt, true
}

func (b *base) setPaused(v bool) {
	b.pausedMu.Lock()
	b.paused = v
	b.pausedMu.Unlock()
}

func (b *base) isPaused() bool {
	b.pausedMu.Lock()
	defer b.pausedMu.Unlock()
	return b.paused
}

func (b *base) setFatal(v bool) {
	b.fatalMu.Lock()
	b.fatal = v
	b.fatalMu.Unlock()
}

func (b *base) isFatal() bool {
	b.fatalMu.Lock()
	defer b.fatalMu.Unlock()
	return b.fatal
}

func (b *base) Start() {
	b.setPaused(false)
	b.latch.Notify()
}

func (b *base) Pause() {
	b.setPaused(true)
	b.latch.Notify()
}

func (b *base) stopAndJoin() {
	select {
	case <-b.stop:
		return
	default:
	}
	close(b.stop)
	b.latch.Notify()
	<-b.done
	b.mu.Lock()
	for _, item := range b.queue {
		item.packet.Drop()
	}
	b.queue = nil
	b.mu.Unlock()
}

// Credits exposes the decoder's credit gate so upstream release hooks
// can be wired to it.
func (b *base) Credits() *core.CreditGate { return b.gate }

// AudioDecoder decodes audio packets into AudioSamples.
type AudioDecoder struct {
	base
	codec AudioCodec

	listenerMu sync.Mutex
	listener   AudioListener
}

// NewAudioDecoder constructs a decoder around codec with credits of
// downstream backpressure capacity.
func NewAudioDecoder(codec AudioCodec, credits int) *AudioDecoder {
	d := &AudioDecoder{base: newBase(credits), codec: codec}
	go d.loop()
	return d
}

func (d *AudioDecoder) SetListener(l AudioListener) {
	d.listenerMu.Lock()
	d.listener = l
	d.listenerMu.Unlock()
}

// SetStream (re)configures the codec for a newly opened stream and
// clears any pending packets.
func (d *AudioDecoder) SetStream(desc demux.StreamDescriptor) {
	d.mu.Lock()
	for _, item := range d.queue {
		item.packet.Drop()
	}
	d.queue = nil
	d.mu.Unlock()

	if err := d.codec.Configure(desc); err != nil {
		log.Printf("decode: audio configure: %v", err)
		d.setFatal(true)
		return
	}
	d.setFatal(false)
}

// Decode enqueues a packet for decoding.
func (d *AudioDecoder) Decode(pkt *model.Packet) { d.enqueue(pkt) }

func (d *AudioDecoder) Stop() { d.stopAndJoin() }

func (d *AudioDecoder) loop() {
	defer close(d.done)
	for {
		d.latch.Wait(wakeInterval)
		select {
		case <-d.stop:
			return
		default:
		}
		d.tick()
	}
}

func (d *AudioDecoder) tick() {
	head, ok := d.popHead()
	if !ok {
		return
	}

	if head.Flags.Has(model.FlagFlush) {
		d.forwardFlush()
		head.Drop()
		return
	}

	if d.isPaused() || d.isFatal() || !d.gate.Available() {
		// put it back: not consumed this wake.
		d.mu.Lock()
		d.queue = append([]queueItem{{packet: head}}, d.queue...)
		d.mu.Unlock()
		return
	}

	if head.Flags.Has(model.FlagEndOfStream) {
		for _, s := range d.codec.Flush() {
			d.emit(s)
		}
		d.emit(model.NewAudioSamples(0, 0, nil, head.PTS, head.TimeBase, model.FlagEndOfStream, nil))
		head.Drop()
		return
	}

	samples, err := d.codec.Send(head.Payload, head.PTS)
	if err != nil {
		log.Printf("decode: audio send: %v", err)
		head.Drop()
		return
	}
	for _, s := range samples {
		d.emit(s)
	}
	head.Drop()
}

func (d *AudioDecoder) forwardFlush() {
	d.emit(model.NewAudioSamples(0, 0, nil, 0, model.Rational{}, model.FlagFlush, nil))
}

func (d *AudioDecoder) emit(s *model.AudioSamples) {
	d.gate.Acquire()
	s.AttachRelease(d.gate.ReleaseFunc())
	d.listenerMu.Lock()
	l := d.listener
	d.listenerMu.Unlock()
	if l != nil {
		l.OnAudioSamples(s)
	} else {
		s.Drop()
	}
}

// VideoDecoder decodes video packets into VideoFrames.
type VideoDecoder struct {
	base
	codec VideoCodec

	listenerMu sync.Mutex
	listener   VideoListener
}

// NewVideoDecoder constructs a decoder around codec.
func NewVideoDecoder(codec VideoCodec, credits int) *VideoDecoder {
	d := &VideoDecoder{base: newBase(credits), codec: codec}
	go d.loop()
	return d
}

func (d *VideoDecoder) SetListener(l VideoListener) {
	d.listenerMu.Lock()
	d.listener = l
	d.listenerMu.Unlock()
}

func (d *VideoDecoder) SetStream(desc demux.StreamDescriptor) {
	d.mu.Lock()
	for _, item := range d.queue {
		item.packet.Drop()
	}
	d.queue = nil
	d.mu.Unlock()

	if err := d.codec.Configure(desc); err != nil {
		log.Printf("decode: video configure: %v", err)
		d.setFatal(true)
		return
	}
	d.setFatal(false)
}

func (d *VideoDecoder) Decode(pkt *model.Packet) { d.enqueue(pkt) }

func (d *VideoDecoder) Stop() { d.stopAndJoin() }

func (d *VideoDecoder) loop() {
	defer close(d.done)
	for {
		d.latch.Wait(wakeInterval)
		select {
		case <-d.stop:
			return
		default:
		}
		d.tick()
	}
}

func (d *VideoDecoder) tick() {
	head, ok := d.popHead()
	if !ok {
		return
	}

	if head.Flags.Has(model.FlagFlush) {
		d.emit(model.NewVideoFrame(0, 0, nil, 0, model.Rational{}, model.FlagFlush, nil))
		head.Drop()
		return
	}

	if d.isPaused() || d.isFatal() || !d.gate.Available() {
		d.mu.Lock()
		d.queue = append([]queueItem{{packet: head}}, d.queue...)
		d.mu.Unlock()
		return
	}

	if head.Flags.Has(model.FlagEndOfStream) {
		for _, f := range d.codec.Flush() {
			d.emit(f)
		}
		d.emit(model.NewVideoFrame(0, 0, nil, head.PTS, head.TimeBase, model.FlagEndOfStream, nil))
		head.Drop()
		return
	}

	frames, err := d.codec.Send(head.Payload, head.PTS)
	if err != nil {
		log.Printf("decode: video send: %v", err)
		head.Drop()
		return
	}
	for _, f := range frames {
		d.emit(f)
	}
	head.Drop()
}

func (d *VideoDecoder) emit(f *model.VideoFrame) {
	d.gate.Acquire()
	f.AttachRelease(d.gate.ReleaseFunc())
	d.listenerMu.Lock()
	l := d.listener
	d.listenerMu.Unlock()
	if l != nil {
		l.OnVideoFrame(f)
	} else {
		f.Drop()
	}
}
