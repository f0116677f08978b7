// Package demux implements the container-reading stage: it owns the
// format context, scans the elementary streams on open, and emits
// encoded Packets to its listener under per-stream backpressure.
package demux

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/axyzstra/avplayer/internal/core"
	"github.com/axyzstra/avplayer/internal/model"
)

// State is the Demuxer's public lifecycle state.
type State int

const (
	StateInitial State = iota
	StateOpen
	StateRunning
	StatePaused
	StateSeeking
	StateStopped
)

// StreamDescriptor describes one elementary stream discovered on Open.
type StreamDescriptor struct {
	Kind      model.StreamKind
	Index     int
	TimeBase  model.Rational
	Channels  int // audio only
	SampleRate int // audio only
	Width     int // video only
	Height    int // video only
	CodecName string
}

// ContainerReader is the seam between Demuxer's state machine and the
// concrete container/codec library. The production adapter wraps
// astiav; tests inject a fake.
type ContainerReader interface {
	Open(path string) ([]StreamDescriptor, error)
	ReadPacket() (*model.Packet, error) // io.EOF at end of file
	SeekTo(seconds float64) error
	Duration() time.Duration
	Close() error
}

// Listener receives stream descriptors and packets as the Demuxer
// discovers and reads them.
type Listener interface {
	OnAudioStream(StreamDescriptor)
	OnVideoStream(StreamDescriptor)
	OnAudioPacket(*model.Packet)
	OnVideoPacket(*model.Packet)
}

const wakeInterval = 100 * time.Millisecond

// Demuxer reads one container on a dedicated goroutine, gated by a
// CreditGate per stream.
type Demuxer struct {
	reader ContainerReader

	latch *core.SyncLatch

	stateMu sync.Mutex
	state   State

	listenerMu sync.Mutex
	listener   Listener

	audioGate *core.CreditGate
	videoGate *core.CreditGate

	seekMu      sync.Mutex
	seekPending bool
	seekTarget  float64

	duration time.Duration

	stop chan struct{}
	done chan struct{}
}

// New constructs a Demuxer around reader. credits bounds in-flight
// packets per stream; a value <= 0 falls back to core.DefaultCredits.
func New(reader ContainerReader, credits int) *Demuxer {
	latch := core.NewSyncLatch()
	d := &Demuxer{
		reader:    reader,
		latch:     latch,
		state:     StateInitial,
		audioGate: core.NewCreditGate(credits, latch),
		videoGate: core.NewCreditGate(credits, latch),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	return d
}

func (d *Demuxer) SetListener(l Listener) {
	d.listenerMu.Lock()
	d.listener = l
	d.listenerMu.Unlock()
}

func (d *Demuxer) State() State {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

func (d *Demuxer) setState(s State) {
	d.stateMu.Lock()
	d.state = s
	d.stateMu.Unlock()
}

// Open opens the container, scans streams and notifies the listener
// once per stream, then starts the worker goroutine paused.
func (d *Demuxer) Open(path string) bool {
	descs, err := d.reader.Open(path)
	if err != nil {
		log.Printf("demux: open %q: %v", path, err)
		return false
	}
	d.duration = d.reader.Duration()

	d.listenerMu.Lock()
	l := d.listener
	d.listenerMu.Unlock()

	for _, desc := range descs {
		if l == nil {
			continue
		}
		switch desc.Kind {
		case model.StreamAudio:
			l.OnAudioStream(desc)
		case model.StreamVideo:
			l.OnVideoStream(desc)
		}
	}

	d.setState(StatePaused)
	go d.loop()
	return true
}

func (d *Demuxer) Start() {
	d.setState(StateRunning)
	d.latch.Notify()
}

func (d *Demuxer) Pause() {
	d.setState(StatePaused)
	d.latch.Notify()
}

// SeekTo schedules a seek to progress*duration. progress is clamped to
// [0,1].
func (d *Demuxer) SeekTo(progress float64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	d.seekMu.Lock()
	d.seekPending = true
	d.seekTarget = progress
	d.seekMu.Unlock()
	d.latch.Notify()
}

// Stop halts the worker and joins it.
func (d *Demuxer) Stop() {
	select {
	case <-d.stop:
		return // already stopped
	default:
	}
	close(d.stop)
	d.latch.Notify()
	<-d.done
	d.setState(StateStopped)
	d.reader.Close()
}

func (d *Demuxer) loop() {
	defer close(d.done)
	for {
		d.latch.Wait(wakeInterval)

		select {
		case <-d.stop:
			return
		default:
		}

		if d.takeSeek() {
			continue
		}

		if d.State() != StateRunning {
			continue
		}

		if !d.audioGate.Available() && !d.videoGate.Available() {
			continue
		}

		if err := d.readOne(); err != nil {
			if errors.Is(err, io.EOF) {
				d.handleEOF()
			} else {
				log.Printf("demux: read: %v", err)
			}
		}
	}
}

func (d *Demuxer) takeSeek() bool {
	d.seekMu.Lock()
	pending := d.seekPending
	target := d.seekTarget
	d.seekPending = false
	d.seekMu.Unlock()

	if !pending {
		return false
	}

	d.setState(StateSeeking)
	seconds := target * d.duration.Seconds()
	if err := d.reader.SeekTo(seconds); err != nil {
		log.Printf("demux: seek to %.3fs: %v", seconds, err)
	}

	d.emitFlush(model.StreamAudio)
	d.emitFlush(model.StreamVideo)

	d.setState(StateRunning)
	return true
}

func (d *Demuxer) emitFlush(kind model.StreamKind) {
	pkt := model.NewPacket(kind, nil, 0, model.Rational{}, model.FlagFlush, nil)
	d.deliver(pkt)
}

func (d *Demuxer) readOne() error {
	pkt, err := d.reader.ReadPacket()
	if err != nil {
		return err
	}
	gate := d.gateFor(pkt.Kind)
	gate.Acquire()
	pkt.AttachRelease(gate.ReleaseFunc())
	d.deliver(pkt)
	return nil
}

func (d *Demuxer) gateFor(kind model.StreamKind) *core.CreditGate {
	if kind == model.StreamAudio {
		return d.audioGate
	}
	return d.videoGate
}

func (d *Demuxer) deliver(pkt *model.Packet) {
	d.listenerMu.Lock()
	l := d.listener
	d.listenerMu.Unlock()
	if l == nil {
		return
	}
	if pkt.Kind == model.StreamAudio {
		l.OnAudioPacket(pkt)
	} else {
		l.OnVideoPacket(pkt)
	}
}

func (d *Demuxer) handleEOF() {
	d.setState(StatePaused)
	d.deliver(model.NewPacket(model.StreamAudio, nil, 0, model.Rational{}, model.FlagEndOfStream, nil))
	d.deliver(model.NewPacket(model.StreamVideo, nil, 0, model.Rational{}, model.FlagEndOfStream, nil))
}

// Duration returns the container's total duration, known after Open.
func (d *Demuxer) Duration() time.Duration { return d.duration }

// AudioCredits exposes the audio stream's credit gate so the downstream
// decoder's release hooks can release back into it.
func (d *Demuxer) AudioCredits() *core.CreditGate { return d.audioGate }

// VideoCredits exposes the video stream's credit gate.
func (d *Demuxer) VideoCredits() *core.CreditGate { return d.videoGate }
