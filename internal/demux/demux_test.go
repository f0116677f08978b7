package demux

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axyzstra/avplayer/internal/model"
)

// fakeReader replays a fixed packet sequence and records seeks.
type fakeReader struct {
	mu       sync.Mutex
	packets  []*model.Packet
	pos      int
	seeks    []float64
	duration time.Duration
}

func (f *fakeReader) Open(path string) ([]StreamDescriptor, error) {
	return []StreamDescriptor{
		{Kind: model.StreamAudio, Index: 0, TimeBase: model.Rational{Num: 1, Den: 48000}, Channels: 2, SampleRate: 48000},
		{Kind: model.StreamVideo, Index: 1, TimeBase: model.Rational{Num: 1, Den: 30}, Width: 640, Height: 480},
	}, nil
}

func (f *fakeReader) Duration() time.Duration { return f.duration }

func (f *fakeReader) ReadPacket() (*model.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.packets) {
		return nil, io.EOF
	}
	p := f.packets[f.pos]
	f.pos++
	return p, nil
}

func (f *fakeReader) SeekTo(seconds float64) error {
	f.mu.Lock()
	f.seeks = append(f.seeks, seconds)
	f.mu.Unlock()
	return nil
}

func (f *fakeReader) Close() error { return nil }

// fakeListener records everything delivered, in order.
type fakeListener struct {
	mu            sync.Mutex
	audioStreams  []StreamDescriptor
	videoStreams  []StreamDescriptor
	audioPackets  []*model.Packet
	videoPackets  []*model.Packet
}

func (l *fakeListener) OnAudioStream(d StreamDescriptor) {
	l.mu.Lock()
	l.audioStreams = append(l.audioStreams, d)
	l.mu.Unlock()
}

func (l *fakeListener) OnVideoStream(d StreamDescriptor) {
	l.mu.Lock()
	l.videoStreams = append(l.videoStreams, d)
	l.mu.Unlock()
}

func (l *fakeListener) OnAudioPacket(p *model.Packet) {
	l.mu.Lock()
	l.audioPackets = append(l.audioPackets, p)
	l.mu.Unlock()
}

func (l *fakeListener) OnVideoPacket(p *model.Packet) {
	l.mu.Lock()
	l.videoPackets = append(l.videoPackets, p)
	l.mu.Unlock()
}

func (l *fakeListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.audioPackets), len(l.videoPackets)
}

func newPacket(kind model.StreamKind, pts int64, flags model.Flags) *model.Packet {
	return model.NewPacket(kind, []byte{0x01}, pts, model.Rational{Num: 1, Den: 1}, flags, nil)
}

func TestDemuxerOpenNotifiesStreamsOnce(t *testing.T) {
	reader := &fakeReader{}
	d := New(reader, 3)
	l := &fakeListener{}
	d.SetListener(l)

	require.True(t, d.Open("fake.mp4"))
	require.Len(t, l.audioStreams, 1)
	require.Len(t, l.videoStreams, 1)

	d.Stop()
}

func TestDemuxerEmitsPacketsInOrderWhenRunning(t *testing.T) {
	reader := &fakeReader{packets: []*model.Packet{
		newPacket(model.StreamAudio, 0, 0),
		newPacket(model.StreamVideo, 0, model.FlagKeyFrame),
		newPacket(model.StreamAudio, 1, 0),
	}}
	d := New(reader, 3)
	l := &fakeListener{}
	d.SetListener(l)

	require.True(t, d.Open("fake.mp4"))
	d.Start()

	require.Eventually(t, func() bool {
		a, v := l.counts()
		return a == 2 && v == 1
	}, time.Second, 5*time.Millisecond)

	d.Stop()

	assert.Equal(t, int64(0), l.audioPackets[0].PTS)
	assert.Equal(t, int64(1), l.audioPackets[1].PTS)
}

func TestDemuxerEOFPausesAndEmitsEndOfStream(t *testing.T) {
	reader := &fakeReader{packets: []*model.Packet{
		newPacket(model.StreamAudio, 0, 0),
	}}
	d := New(reader, 3)
	l := &fakeListener{}
	d.SetListener(l)

	require.True(t, d.Open("fake.mp4"))
	d.Start()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.audioPackets) > 0 && l.audioPackets[len(l.audioPackets)-1].Flags.Has(model.FlagEndOfStream)
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StatePaused, d.State())
	d.Stop()
}

func TestDemuxerSeekEmitsFlushOnBothStreams(t *testing.T) {
	reader := &fakeReader{duration: 10 * time.Second}
	d := New(reader, 3)
	l := &fakeListener{}
	d.SetListener(l)

	require.True(t, d.Open("fake.mp4"))
	d.Start()
	d.SeekTo(0.5)

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.audioPackets) > 0 && len(l.videoPackets) > 0
	}, time.Second, 5*time.Millisecond)

	l.mu.Lock()
	lastAudio := l.audioPackets[len(l.audioPackets)-1]
	lastVideo := l.videoPackets[len(l.videoPackets)-1]
	l.mu.Unlock()
	assert.True(t, lastAudio.Flags.Has(model.FlagFlush))
	assert.True(t, lastVideo.Flags.Has(model.FlagFlush))

	reader.mu.Lock()
	seeks := append([]float64{}, reader.seeks...)
	reader.mu.Unlock()
	require.Len(t, seeks, 1)
	assert.InDelta(t, 5.0, seeks[0], 1e-9)

	d.Stop()
}

func TestDemuxerCreditGateBoundsInFlightPackets(t *testing.T) {
	// Both streams exhaust their credit at the same rate, so production
	// should stall once both gates hit zero, with nothing ever dropped.
	packets := make([]*model.Packet, 0, 20)
	for i := 0; i < 10; i++ {
		packets = append(packets, newPacket(model.StreamAudio, int64(i), 0))
		packets = append(packets, newPacket(model.StreamVideo, int64(i), 0))
	}
	reader := &fakeReader{packets: packets}
	d := New(reader, 2)
	l := &fakeListener{}
	d.SetListener(l)

	require.True(t, d.Open("fake.mp4"))
	d.Start()

	require.Eventually(t, func() bool {
		a, v := l.counts()
		return a == 2 && v == 2
	}, time.Second, 5*time.Millisecond)

	// Give the worker a few more wakes; counts must not grow further
	// since nothing released a credit.
	time.Sleep(3 * wakeInterval)
	a, v := l.counts()
	assert.Equal(t, 2, a)
	assert.Equal(t, 2, v)
	assert.Equal(t, 0, d.AudioCredits().Snapshot())
	assert.Equal(t, 0, d.VideoCredits().Snapshot())

	d.Stop()
}
