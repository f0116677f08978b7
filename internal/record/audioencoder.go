package record

import (
	"sync"

	"github.com/axyzstra/avplayer/internal/core"
	"github.com/axyzstra/avplayer/internal/model"
)

// AudioCodec is the seam to the concrete encoder library; production
// code encodes AAC via astiav, grounded in the teacher's startRecorder
// AAC setup (FindEncoder, SetBitRate, SetStrictStdCompliance).
type AudioCodec interface {
	Configure(sampleRate, channels int) error
	Send(samples *model.AudioSamples) ([]*model.Packet, error)
	Flush() []*model.Packet
	Close()
}

// AudioEncoder re-encodes presented audio samples on its own goroutine
// and forwards the resulting packets to a Muxer, mirroring the
// decode.AudioDecoder queue/latch shape.
type AudioEncoder struct {
	codec AudioCodec
	mux   *Muxer

	mu       sync.Mutex
	queue    []*model.AudioSamples
	finished bool

	latch *core.SyncLatch
	stop  chan struct{}
	done  chan struct{}
}

// NewAudioEncoder starts an encoder goroutine feeding mux.
func NewAudioEncoder(codec AudioCodec, mux *Muxer) *AudioEncoder {
	e := &AudioEncoder{codec: codec, mux: mux, latch: core.NewSyncLatch(), stop: make(chan struct{}), done: make(chan struct{})}
	go e.loop()
	return e
}

// Submit enqueues a presented audio unit for re-encoding. The caller
// retains ownership; AudioEncoder does not release the pipeline's
// credit, since it observes the stream rather than consuming it.
func (e *AudioEncoder) Submit(a *model.AudioSamples) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	if a.Flags.Has(model.FlagEndOfStream) {
		e.finished = true
	}
	cp := *a
	e.queue = append(e.queue, &cp)
	e.mu.Unlock()
	e.latch.Notify()
}

// Stop drains the queue, flushes the codec and waits for the goroutine
// to exit.
func (e *AudioEncoder) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.latch.Notify()
	<-e.done
}

func (e *AudioEncoder) loop() {
	defer close(e.done)
	for {
		e.latch.Wait(wakeInterval)
		for e.tick() {
		}
		select {
		case <-e.stop:
			e.drainRemaining()
			for _, p := range e.codec.Flush() {
				e.mux.PushAudio(p)
			}
			e.mux.FinishAudio()
			return
		default:
		}
	}
}

func (e *AudioEncoder) tick() bool {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return false
	}
	a := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	if a.Flags.Has(model.FlagEndOfStream) {
		return false
	}
	pkts, err := e.codec.Send(a)
	if err != nil {
		return true
	}
	for _, p := range pkts {
		e.mux.PushAudio(p)
	}
	return true
}

func (e *AudioEncoder) drainRemaining() {
	for e.tick() {
	}
}
