// Package record implements the recording chain: AudioEncoder and
// VideoEncoder each re-encode a presented stream on their own
// goroutine, and Muxer interleaves their packets into one output
// container (spec.md section 4.11).
package record

import (
	"fmt"
	"sync"
	"time"

	"github.com/axyzstra/avplayer/internal/core"
	"github.com/axyzstra/avplayer/internal/model"
)

const wakeInterval = 100 * time.Millisecond

// ContainerWriter is the seam to the concrete muxing library; the
// production adapter wraps astiav, grounded in the teacher's recorder
// setup in video.go (AllocOutputFormatContext, NewStream, WriteHeader,
// WriteInterleavedFrame).
type ContainerWriter interface {
	AddAudioStream(sampleRate, channels int, codecName string) (streamIdx int, timeBase model.Rational, err error)
	AddVideoStream(width, height int, codecName string) (streamIdx int, timeBase model.Rational, err error)
	WriteHeader() error
	WritePacket(streamIdx int, payload []byte, pts, dts int64) error
	WriteTrailer() error
	Close() error
}

type muxQueue struct {
	mu       sync.Mutex
	items    []*model.Packet
	finished bool
}

func (q *muxQueue) push(p *model.Packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

func (q *muxQueue) peek() (*model.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

func (q *muxQueue) pop() *model.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.items[0]
	q.items = q.items[1:]
	return p
}

func (q *muxQueue) setFinished() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
}

func (q *muxQueue) isFinished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished
}

func (q *muxQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Muxer interleaves audio and video packets into one output container.
// A packet is written only when both queues are non-empty, picking
// whichever head has the smaller presentation time; once one stream
// finishes, the other drains unconditionally (spec.md section 4.11).
type Muxer struct {
	writer ContainerWriter

	audioIdx, videoIdx     int
	audioTB, videoTB       model.Rational
	haveAudio, haveVideo   bool

	audio muxQueue
	video muxQueue

	latch *core.SyncLatch
	stop  chan struct{}
	done  chan struct{}

	headerOnce sync.Once
	headerErr  error
}

// NewMuxer constructs a Muxer and starts its writer goroutine.
func NewMuxer(writer ContainerWriter) *Muxer {
	m := &Muxer{writer: writer, latch: core.NewSyncLatch(), stop: make(chan struct{}), done: make(chan struct{})}
	go m.loop()
	return m
}

// ConfigureAudio adds the AAC output stream.
func (m *Muxer) ConfigureAudio(sampleRate, channels int, codecName string) error {
	idx, tb, err := m.writer.AddAudioStream(sampleRate, channels, codecName)
	if err != nil {
		return fmt.Errorf("muxer: configure audio: %w", err)
	}
	m.audioIdx, m.audioTB, m.haveAudio = idx, tb, true
	return nil
}

// ConfigureVideo adds the video output stream.
func (m *Muxer) ConfigureVideo(width, height int, codecName string) error {
	idx, tb, err := m.writer.AddVideoStream(width, height, codecName)
	if err != nil {
		return fmt.Errorf("muxer: configure video: %w", err)
	}
	m.videoIdx, m.videoTB, m.haveVideo = idx, tb, true
	return nil
}

// WriteHeader must be called once, after every configured stream has
// been added and before any packet is pushed.
func (m *Muxer) WriteHeader() error {
	m.headerOnce.Do(func() { m.headerErr = m.writer.WriteHeader() })
	return m.headerErr
}

// PushAudio enqueues an encoded audio packet.
func (m *Muxer) PushAudio(p *model.Packet) {
	m.audio.push(p)
	m.latch.Notify()
}

// PushVideo enqueues an encoded video packet.
func (m *Muxer) PushVideo(p *model.Packet) {
	m.video.push(p)
	m.latch.Notify()
}

// FinishAudio marks the audio stream complete; remaining video packets
// drain unconditionally from then on.
func (m *Muxer) FinishAudio() {
	m.audio.setFinished()
	m.latch.Notify()
}

// FinishVideo marks the video stream complete.
func (m *Muxer) FinishVideo() {
	m.video.setFinished()
	m.latch.Notify()
}

// Close stops the writer goroutine, writes whatever queued packets the
// interleaving rule still allows (a queue whose peer stream has not
// been finished keeps its packets unwritten) and writes the trailer.
func (m *Muxer) Close() error {
	select {
	case <-m.stop:
		return nil
	default:
	}
	close(m.stop)
	m.latch.Notify()
	<-m.done
	if err := m.writer.WriteTrailer(); err != nil {
		m.writer.Close()
		return fmt.Errorf("muxer: write trailer: %w", err)
	}
	return m.writer.Close()
}

func (m *Muxer) loop() {
	defer close(m.done)
	for {
		m.latch.Wait(wakeInterval)
		m.drainAvailable()
		select {
		case <-m.stop:
			m.drainAvailable()
			return
		default:
		}
	}
}

func (m *Muxer) drainAvailable() {
	for {
		av, aok := m.audio.peek()
		vv, vok := m.video.peek()

		switch {
		case aok && vok:
			if av.TimestampSeconds() <= vv.TimestampSeconds() {
				m.writeOne(m.audioIdx, m.audio.pop())
			} else {
				m.writeOne(m.videoIdx, m.video.pop())
			}
		case aok && m.video.isFinished():
			m.writeOne(m.audioIdx, m.audio.pop())
		case vok && m.audio.isFinished():
			m.writeOne(m.videoIdx, m.video.pop())
		default:
			return
		}
	}
}

func (m *Muxer) writeOne(streamIdx int, p *model.Packet) {
	if err := m.writer.WritePacket(streamIdx, p.Payload, p.PTS, p.DTS); err != nil {
		// MuxerWriteFailed: recording is terminated by the caller via
		// Close; playback is unaffected since this goroutine is not on
		// the playback path.
		p.Drop()
		return
	}
	p.Drop()
}
