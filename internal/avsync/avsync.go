// Package avsync implements the audio-master Synchronizer: it holds
// decoded audio and video queues, forwards audio unconditionally, and
// forwards video only once the audio clock has caught up to within the
// sync threshold.
package avsync

import (
	"sync"
	"time"

	"github.com/axyzstra/avplayer/internal/core"
	"github.com/axyzstra/avplayer/internal/model"
)

// Threshold is the maximum tolerated audio/video presentation gap.
const Threshold = 50 * time.Millisecond

const wakeInterval = 100 * time.Millisecond

// Listener receives the Synchronizer's decisions.
type Listener interface {
	AudioSamples(*model.AudioSamples)
	VideoFrame(*model.VideoFrame)
	AudioFinished()
	VideoFinished()
}

// Synchronizer holds one queue per stream behind a single lock and
// drains them under the audio-master policy described in avsync.go's
// package doc.
type Synchronizer struct {
	mu sync.Mutex

	audioQueue []*model.AudioSamples
	videoQueue []*model.VideoFrame

	audioTS       time.Duration
	audioFinished bool
	videoFinished bool

	latch *core.SyncLatch

	listenerMu sync.Mutex
	listener   Listener

	stop chan struct{}
	done chan struct{}
}

// New constructs a Synchronizer and starts its worker goroutine.
func New() *Synchronizer {
	s := &Synchronizer{
		latch: core.NewSyncLatch(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Synchronizer) SetListener(l Listener) {
	s.listenerMu.Lock()
	s.listener = l
	s.listenerMu.Unlock()
}

// PushAudio enqueues a decoded audio unit (or a FLUSH/EOS marker).
func (s *Synchronizer) PushAudio(a *model.AudioSamples) {
	s.mu.Lock()
	s.audioQueue = append(s.audioQueue, a)
	s.mu.Unlock()
	s.latch.Notify()
}

// PushVideo enqueues a decoded video unit (or a FLUSH/EOS marker).
func (s *Synchronizer) PushVideo(v *model.VideoFrame) {
	s.mu.Lock()
	s.videoQueue = append(s.videoQueue, v)
	s.mu.Unlock()
	s.latch.Notify()
}

// Reset clears both queues without notifying finished, used by a
// seek: the façade issues FLUSH on both upstream decoders instead,
// which will arrive and clear state through the normal drain path, but
// Reset lets a seek short-circuit queued-but-stale units immediately.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	for _, a := range s.audioQueue {
		a.Drop()
	}
	for _, v := range s.videoQueue {
		v.Drop()
	}
	s.audioQueue = nil
	s.videoQueue = nil
	s.audioTS = 0
	s.audioFinished = false
	s.videoFinished = false
	s.mu.Unlock()
}

func (s *Synchronizer) Stop() {
	select {
	case <-s.stop:
		return
	default:
	}
	close(s.stop)
	s.latch.Notify()
	<-s.done
}

func (s *Synchronizer) loop() {
	defer close(s.done)
	for {
		s.latch.Wait(wakeInterval)
		select {
		case <-s.stop:
			s.drainAll()
			return
		default:
		}
		s.tick()
	}
}

func (s *Synchronizer) drainAll() {
	s.mu.Lock()
	for _, a := range s.audioQueue {
		a.Drop()
	}
	for _, v := range s.videoQueue {
		v.Drop()
	}
	s.audioQueue = nil
	s.videoQueue = nil
	s.mu.Unlock()
}

// tick drains both queues under s.mu, collecting the listener calls the
// drain decided on rather than making them, then releases the lock
// before actually notifying. Queues must never be held across a
// callback: a listener that turns around and calls PushAudio/PushVideo
// would otherwise deadlock on this non-recursive mutex.
func (s *Synchronizer) tick() {
	s.mu.Lock()
	pending := s.drainAudioLocked()
	pending = append(pending, s.drainVideoLocked()...)
	s.mu.Unlock()

	for _, notify := range pending {
		notify()
	}
}

func (s *Synchronizer) drainAudioLocked() []func() {
	var pending []func()
	for len(s.audioQueue) > 0 {
		u := s.audioQueue[0]
		switch {
		case u.Flags.Has(model.FlagEndOfStream):
			s.audioQueue = s.audioQueue[1:]
			s.audioFinished = true
			pending = append(pending, s.notifyAudioFinished)
			u.Drop()
		case u.Flags.Has(model.FlagFlush):
			s.clearBothLocked()
			return pending
		default:
			s.audioQueue = s.audioQueue[1:]
			s.audioTS = time.Duration(u.TimestampSeconds() * float64(time.Second))
			pending = append(pending, func() { s.notifyAudioSamples(u) })
		}
	}
	return pending
}

func (s *Synchronizer) drainVideoLocked() []func() {
	var pending []func()
	for len(s.videoQueue) > 0 {
		v := s.videoQueue[0]
		switch {
		case v.Flags.Has(model.FlagEndOfStream):
			s.videoQueue = s.videoQueue[1:]
			s.videoFinished = true
			pending = append(pending, s.notifyVideoFinished)
			v.Drop()
		case v.Flags.Has(model.FlagFlush):
			s.clearBothLocked()
			return pending
		default:
			videoTS := time.Duration(v.TimestampSeconds() * float64(time.Second))
			delta := s.audioTS - videoTS
			switch {
			case delta > Threshold:
				// Too late. The original design forwards it anyway
				// rather than truly dropping it (spec.md's recorded
				// open question); keep that behavior here.
				s.videoQueue = s.videoQueue[1:]
				pending = append(pending, func() { s.notifyVideoFrame(v) })
			case delta < -Threshold:
				// Too early: hold, wait for audio to catch up.
				return pending
			default:
				s.videoQueue = s.videoQueue[1:]
				pending = append(pending, func() { s.notifyVideoFrame(v) })
				return pending
			}
		}
	}
	return pending
}

func (s *Synchronizer) clearBothLocked() {
	for _, a := range s.audioQueue {
		a.Drop()
	}
	for _, v := range s.videoQueue {
		v.Drop()
	}
	s.audioQueue = nil
	s.videoQueue = nil
}

func (s *Synchronizer) currentListener() Listener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.listener
}

func (s *Synchronizer) notifyAudioSamples(a *model.AudioSamples) {
	if l := s.currentListener(); l != nil {
		l.AudioSamples(a)
	} else {
		a.Drop()
	}
}

func (s *Synchronizer) notifyVideoFrame(v *model.VideoFrame) {
	if l := s.currentListener(); l != nil {
		l.VideoFrame(v)
	} else {
		v.Drop()
	}
}

func (s *Synchronizer) notifyAudioFinished() {
	if l := s.currentListener(); l != nil {
		l.AudioFinished()
	}
}

func (s *Synchronizer) notifyVideoFinished() {
	if l := s.currentListener(); l != nil {
		l.VideoFinished()
	}
}
