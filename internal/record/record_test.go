package record

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axyzstra/avplayer/internal/model"
)

type recordedPacket struct {
	streamIdx int
	pts, dts  int64
}

type fakeWriter struct {
	mu         sync.Mutex
	packets    []recordedPacket
	header     bool
	trailer    bool
	closed     bool
	audioIdx   int
	videoIdx   int
}

func (w *fakeWriter) AddAudioStream(sampleRate, channels int, codecName string) (int, model.Rational, error) {
	return w.audioIdx, model.Rational{Num: 1, Den: sampleRate}, nil
}

func (w *fakeWriter) AddVideoStream(width, height int, codecName string) (int, model.Rational, error) {
	w.videoIdx = 1
	return w.videoIdx, model.Rational{Num: 1, Den: 90000}, nil
}

func (w *fakeWriter) WriteHeader() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.header = true
	return nil
}

func (w *fakeWriter) WritePacket(streamIdx int, payload []byte, pts, dts int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packets = append(w.packets, recordedPacket{streamIdx, pts, dts})
	return nil
}

func (w *fakeWriter) WriteTrailer() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trailer = true
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) snapshot() []recordedPacket {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]recordedPacket(nil), w.packets...)
}

func pkt(kind model.StreamKind, ptsSeconds float64) *model.Packet {
	return model.NewPacket(kind, []byte{1}, int64(ptsSeconds*1000), model.Rational{Num: 1, Den: 1000}, 0, nil)
}

func TestMuxerInterleavesBySmallerTimestamp(t *testing.T) {
	w := &fakeWriter{}
	m := NewMuxer(w)
	require.NoError(t, m.ConfigureAudio(48000, 2, "aac"))
	require.NoError(t, m.ConfigureVideo(640, 480, "h264"))
	require.NoError(t, m.WriteHeader())

	m.PushVideo(pkt(model.StreamVideo, 0.10))
	m.PushAudio(pkt(model.StreamAudio, 0.05))
	m.PushAudio(pkt(model.StreamAudio, 0.20))

	m.FinishAudio()
	m.FinishVideo()
	require.NoError(t, m.Close())

	got := w.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].streamIdx) // audio @0.05 first
	assert.Equal(t, 1, got[1].streamIdx) // video @0.10 next
	assert.Equal(t, 0, got[2].streamIdx) // audio @0.20 last
	assert.True(t, w.trailer)
	assert.True(t, w.closed)
}

func TestMuxerDrainsRemainingStreamAfterOtherFinishes(t *testing.T) {
	w := &fakeWriter{}
	m := NewMuxer(w)
	require.NoError(t, m.ConfigureAudio(48000, 2, "aac"))
	require.NoError(t, m.ConfigureVideo(640, 480, "h264"))
	require.NoError(t, m.WriteHeader())

	m.FinishAudio() // audio track has nothing more to contribute
	m.PushVideo(pkt(model.StreamVideo, 1.0))
	m.PushVideo(pkt(model.StreamVideo, 2.0))
	m.FinishVideo()

	require.NoError(t, m.Close())
	got := w.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].streamIdx)
	assert.Equal(t, 1, got[1].streamIdx)
}

type fakeAudioCodec struct {
	mu        sync.Mutex
	sentCount int
	flushed   bool
}

func (c *fakeAudioCodec) Configure(sampleRate, channels int) error { return nil }

func (c *fakeAudioCodec) Send(samples *model.AudioSamples) ([]*model.Packet, error) {
	c.mu.Lock()
	c.sentCount++
	c.mu.Unlock()
	return []*model.Packet{pkt(model.StreamAudio, samples.TimestampSeconds())}, nil
}

func (c *fakeAudioCodec) Flush() []*model.Packet {
	c.mu.Lock()
	c.flushed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeAudioCodec) Close() {}

func TestAudioEncoderForwardsEncodedPacketsToMuxer(t *testing.T) {
	w := &fakeWriter{}
	m := NewMuxer(w)
	require.NoError(t, m.ConfigureAudio(48000, 2, "aac"))
	require.NoError(t, m.ConfigureVideo(640, 480, "h264"))
	require.NoError(t, m.WriteHeader())
	m.FinishVideo()

	codec := &fakeAudioCodec{}
	enc := NewAudioEncoder(codec, m)

	enc.Submit(model.NewAudioSamples(2, 48000, []int16{1, 2}, 0, model.Rational{Num: 1, Den: 48000}, 0, nil))
	enc.Submit(model.NewAudioSamples(2, 48000, nil, 0, model.Rational{}, model.FlagEndOfStream, nil))

	enc.Stop()
	require.NoError(t, m.Close())

	assert.Equal(t, 1, codec.sentCount)
	assert.True(t, codec.flushed)
	assert.Len(t, w.snapshot(), 1)
}

func TestFileWriterRoundTripsAudioAndVideo(t *testing.T) {
	w := &fakeWriter{}
	audioCodec := &fakeAudioCodec{}
	videoCodec := &fakeVideoCodecForWriterTest{}

	fw, err := NewFileWriter(w, audioCodec, videoCodec, Options{
		SampleRate: 48000, Channels: 2, AudioCodecName: "aac",
		Width: 640, Height: 480, VideoCodecName: "h264",
	})
	require.NoError(t, err)

	fw.SubmitAudio(model.NewAudioSamples(2, 48000, []int16{1, 2}, 0, model.Rational{Num: 1, Den: 48000}, 0, nil))
	fw.SubmitVideo(model.NewVideoFrame(2, 2, make([]byte, 16), 0, model.Rational{Num: 1, Den: 90000}, 0, nil))
	fw.SubmitAudio(model.NewAudioSamples(2, 48000, nil, 0, model.Rational{}, model.FlagEndOfStream, nil))
	fw.SubmitVideo(model.NewVideoFrame(0, 0, nil, 0, model.Rational{}, model.FlagEndOfStream, nil))

	require.NoError(t, fw.Stop())

	got := w.snapshot()
	assert.Len(t, got, 2)
	assert.True(t, w.trailer)
}

type fakeVideoCodecForWriterTest struct {
	mu  sync.Mutex
	hit int
}

func (c *fakeVideoCodecForWriterTest) Configure(width, height int) error { return nil }

func (c *fakeVideoCodecForWriterTest) Send(f *model.VideoFrame) ([]*model.Packet, error) {
	c.mu.Lock()
	c.hit++
	c.mu.Unlock()
	return []*model.Packet{pkt(model.StreamVideo, f.TimestampSeconds())}, nil
}

func (c *fakeVideoCodecForWriterTest) Flush() []*model.Packet { return nil }
func (c *fakeVideoCodecForWriterTest) Close()                 {}
