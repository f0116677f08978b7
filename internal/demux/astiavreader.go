package demux

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	astiav "github.com/asticode/go-astiav"

	"github.com/axyzstra/avplayer/internal/model"
)

// AstiavReader is the production ContainerReader, backed by FFmpeg
// through go-astiav. One mutex protects the format context, matching
// the teacher's decode loop in its shape (alloc, open, find stream
// info, read-frame loop).
type AstiavReader struct {
	mu sync.Mutex

	fc *astiav.FormatContext
	pkt *astiav.Packet

	audioIdx int
	videoIdx int
	audioTB  model.Rational
	videoTB  model.Rational

	duration time.Duration
}

// NewAstiavReader returns an unopened reader.
func NewAstiavReader() *AstiavReader {
	return &AstiavReader{audioIdx: -1, videoIdx: -1}
}

func (r *AstiavReader) Open(path string) ([]StreamDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("astiavreader: alloc format context failed")
	}
	if err := fc.OpenInput(path, nil, nil); err != nil {
		fc.Free()
		return nil, fmt.Errorf("astiavreader: open input %q: %w", path, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		return nil, fmt.Errorf("astiavreader: find stream info: %w", err)
	}

	r.fc = fc
	r.pkt = astiav.AllocPacket()

	var descs []StreamDescriptor
	for _, s := range fc.Streams() {
		par := s.CodecParameters()
		tb := s.TimeBase()
		rational := model.Rational{Num: tb.Num(), Den: tb.Den()}

		switch par.MediaType() {
		case astiav.MediaTypeAudio:
			r.audioIdx = s.Index()
			r.audioTB = rational
			descs = append(descs, StreamDescriptor{
				Kind:       model.StreamAudio,
				Index:      s.Index(),
				TimeBase:   rational,
				Channels:   par.ChannelLayout().Channels(),
				SampleRate: par.SampleRate(),
				CodecName:  par.CodecID().String(),
			})
		case astiav.MediaTypeVideo:
			r.videoIdx = s.Index()
			r.videoTB = rational
			descs = append(descs, StreamDescriptor{
				Kind:      model.StreamVideo,
				Index:     s.Index(),
				TimeBase:  rational,
				Width:     par.Width(),
				Height:    par.Height(),
				CodecName: par.CodecID().String(),
			})
		}
	}

	if d := fc.Duration(); d > 0 {
		// AVFormatContext.Duration is expressed in AV_TIME_BASE units
		// (microseconds), regardless of any stream's own time base.
		r.duration = time.Duration(d) * time.Microsecond
	}

	return descs, nil
}

func (r *AstiavReader) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

func (r *AstiavReader) ReadPacket() (*model.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fc == nil {
		return nil, errors.New("astiavreader: not open")
	}

read:
	if err := r.fc.ReadFrame(r.pkt); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("astiavreader: read frame: %w", err)
	}
	defer r.pkt.Unref()

	var kind model.StreamKind
	var tb model.Rational
	switch r.pkt.StreamIndex() {
	case r.audioIdx:
		kind = model.StreamAudio
		tb = r.audioTB
	case r.videoIdx:
		kind = model.StreamVideo
		tb = r.videoTB
	default:
		// Stream we did not select (e.g. a second audio track); skip by
		// reading the next one instead of surfacing it.
		r.pkt.Unref()
		goto read
	}

	payload := make([]byte, len(r.pkt.Data()))
	copy(payload, r.pkt.Data())

	var flags model.Flags
	if r.pkt.Flags().Has(astiav.PacketFlagKey) {
		flags |= model.FlagKeyFrame
	}

	pkt := model.NewPacket(kind, payload, r.pkt.Pts(), tb, flags, nil)
	pkt.DTS = r.pkt.Dts()
	pkt.StreamIdx = r.pkt.StreamIndex()
	return pkt, nil
}

func (r *AstiavReader) SeekTo(seconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fc == nil {
		return errors.New("astiavreader: not open")
	}
	ts := int64(seconds * 1e6) // AV_TIME_BASE units
	return r.fc.SeekFrame(-1, ts, astiav.NewSeekFlags(astiav.SeekFlagBackward))
}

func (r *AstiavReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pkt != nil {
		r.pkt.Free()
		r.pkt = nil
	}
	if r.fc != nil {
		r.fc.CloseInput()
		r.fc.Free()
		r.fc = nil
	}
	return nil
}
