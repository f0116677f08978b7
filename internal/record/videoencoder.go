package record

import (
	"sync"

	"github.com/axyzstra/avplayer/internal/core"
	"github.com/axyzstra/avplayer/internal/model"
)

// VideoCodec is the seam to the concrete encoder library. Production
// code re-encodes H.264 via astiav: unlike the teacher's stream-copy
// recorder, this project records frames after the filter chain has run
// on them, so the original compressed stream is no longer available to
// copy verbatim.
type VideoCodec interface {
	Configure(width, height int) error
	Send(frame *model.VideoFrame) ([]*model.Packet, error)
	Flush() []*model.Packet
	Close()
}

// VideoEncoder re-encodes presented (post-filter) video frames on its
// own goroutine and forwards packets to a Muxer.
type VideoEncoder struct {
	codec VideoCodec
	mux   *Muxer

	mu       sync.Mutex
	queue    []*model.VideoFrame
	finished bool

	latch *core.SyncLatch
	stop  chan struct{}
	done  chan struct{}
}

// NewVideoEncoder starts an encoder goroutine feeding mux.
func NewVideoEncoder(codec VideoCodec, mux *Muxer) *VideoEncoder {
	e := &VideoEncoder{codec: codec, mux: mux, latch: core.NewSyncLatch(), stop: make(chan struct{}), done: make(chan struct{})}
	go e.loop()
	return e
}

// Submit enqueues a presented video frame. VideoEncoder copies the
// pixels it needs rather than taking ownership, since the frame may
// still be on the GPU-texture path elsewhere.
func (e *VideoEncoder) Submit(f *model.VideoFrame) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	if f.Flags.Has(model.FlagEndOfStream) {
		e.finished = true
	}
	cp := *f
	if f.Pixels != nil {
		cp.Pixels = append([]byte(nil), f.Pixels...)
	}
	e.queue = append(e.queue, &cp)
	e.mu.Unlock()
	e.latch.Notify()
}

// Stop drains the queue, flushes the codec and waits for exit.
func (e *VideoEncoder) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.latch.Notify()
	<-e.done
}

func (e *VideoEncoder) loop() {
	defer close(e.done)
	for {
		e.latch.Wait(wakeInterval)
		for e.tick() {
		}
		select {
		case <-e.stop:
			e.drainRemaining()
			for _, p := range e.codec.Flush() {
				e.mux.PushVideo(p)
			}
			e.mux.FinishVideo()
			return
		default:
		}
	}
}

func (e *VideoEncoder) tick() bool {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return false
	}
	f := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	if f.Flags.Has(model.FlagEndOfStream) {
		return false
	}
	pkts, err := e.codec.Send(f)
	if err != nil {
		return true
	}
	for _, p := range pkts {
		e.mux.PushVideo(p)
	}
	return true
}

func (e *VideoEncoder) drainRemaining() {
	for e.tick() {
	}
}
