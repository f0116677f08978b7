package decode

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axyzstra/avplayer/internal/demux"
	"github.com/axyzstra/avplayer/internal/model"
)

type fakeVideoCodec struct {
	mu          sync.Mutex
	flushCalled int
}

func (f *fakeVideoCodec) Configure(demux.StreamDescriptor) error { return nil }

func (f *fakeVideoCodec) Send(payload []byte, pts int64) ([]*model.VideoFrame, error) {
	return []*model.VideoFrame{
		model.NewVideoFrame(2, 2, make([]byte, 16), pts, model.Rational{Num: 1, Den: 30}, 0, nil),
	}, nil
}

func (f *fakeVideoCodec) Flush() []*model.VideoFrame {
	f.mu.Lock()
	f.flushCalled++
	f.mu.Unlock()
	return nil
}

func (f *fakeVideoCodec) Close() {}

type collectingVideoListener struct {
	mu     sync.Mutex
	frames []*model.VideoFrame
}

func (c *collectingVideoListener) OnVideoFrame(v *model.VideoFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, v)
	c.mu.Unlock()
}

func (c *collectingVideoListener) snapshot() []*model.VideoFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.VideoFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestVideoDecoderEmitsInOrder(t *testing.T) {
	codec := &fakeVideoCodec{}
	d := NewVideoDecoder(codec, 8)
	l := &collectingVideoListener{}
	d.SetListener(l)
	d.SetStream(demux.StreamDescriptor{})
	d.Start()

	d.Decode(pkt(model.StreamVideo, 0, 0))
	d.Decode(pkt(model.StreamVideo, 1, 0))

	require.Eventually(t, func() bool { return len(l.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	got := l.snapshot()
	assert.Equal(t, int64(0), got[0].PTS)
	assert.Equal(t, int64(1), got[1].PTS)

	d.Stop()
}

func TestVideoDecoderCreditGateBoundsOutput(t *testing.T) {
	codec := &fakeVideoCodec{}
	d := NewVideoDecoder(codec, 2)
	l := &collectingVideoListener{}
	d.SetListener(l)
	d.SetStream(demux.StreamDescriptor{})
	d.Start()

	for i := 0; i < 10; i++ {
		d.Decode(pkt(model.StreamVideo, int64(i), 0))
	}

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, len(l.snapshot()), 2)
	assert.Equal(t, 0, d.Credits().Snapshot())

	d.Stop()
}
