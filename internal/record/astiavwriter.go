package record

import (
	"errors"
	"fmt"

	astiav "github.com/asticode/go-astiav"

	"github.com/axyzstra/avplayer/internal/model"
)

// AstiavWriter is the production ContainerWriter: an MP4 output built
// via astiav, following the same AllocOutputFormatContext / NewStream /
// WriteHeader sequence as the teacher's startRecorder.
type AstiavWriter struct {
	oc *astiav.FormatContext
	pb *astiav.IOContext
	pk *astiav.Packet

	audioStream *astiav.Stream
	videoStream *astiav.Stream
}

// NewAstiavWriter allocates the output format context and opens the
// file for writing; it does not write the header until every stream has
// been added.
func NewAstiavWriter(path string) (*AstiavWriter, error) {
	oc, err := astiav.AllocOutputFormatContext(nil, "mp4", path)
	if err != nil || oc == nil {
		return nil, fmt.Errorf("astiav writer: alloc output format context: %w", err)
	}
	ioFlags := astiav.NewIOContextFlags(astiav.IOContextFlagWrite)
	pb, err := astiav.OpenIOContext(path, ioFlags, nil, nil)
	if err != nil {
		oc.Free()
		return nil, fmt.Errorf("astiav writer: open io context: %w", err)
	}
	oc.SetPb(pb)
	return &AstiavWriter{oc: oc, pb: pb, pk: astiav.AllocPacket()}, nil
}

// AddAudioStream declares the AAC output stream.
func (w *AstiavWriter) AddAudioStream(sampleRate, channels int, codecName string) (int, model.Rational, error) {
	enc := astiav.FindEncoderByName(codecName)
	if enc == nil {
		return 0, model.Rational{}, fmt.Errorf("astiav writer: no encoder named %q", codecName)
	}
	s := w.oc.NewStream(enc)
	if s == nil {
		return 0, model.Rational{}, errors.New("astiav writer: new audio stream failed")
	}
	tb := astiav.NewRational(1, sampleRate)
	s.SetTimeBase(tb)
	w.audioStream = s
	return s.Index(), model.Rational{Num: tb.Num(), Den: tb.Den()}, nil
}

// AddVideoStream declares the H.264 output stream.
func (w *AstiavWriter) AddVideoStream(width, height int, codecName string) (int, model.Rational, error) {
	enc := astiav.FindEncoderByName(codecName)
	if enc == nil {
		return 0, model.Rational{}, fmt.Errorf("astiav writer: no encoder named %q", codecName)
	}
	s := w.oc.NewStream(enc)
	if s == nil {
		return 0, model.Rational{}, errors.New("astiav writer: new video stream failed")
	}
	tb := astiav.NewRational(1, 90000)
	s.SetTimeBase(tb)
	w.videoStream = s
	return s.Index(), model.Rational{Num: tb.Num(), Den: tb.Den()}, nil
}

// WriteHeader finalizes the stream table and writes the container
// header, mirroring the teacher's oc.WriteHeader(nil) call.
func (w *AstiavWriter) WriteHeader() error {
	if err := w.oc.WriteHeader(nil); err != nil {
		return fmt.Errorf("astiav writer: write header: %w", err)
	}
	return nil
}

// WritePacket writes one interleaved packet to streamIdx.
func (w *AstiavWriter) WritePacket(streamIdx int, payload []byte, pts, dts int64) error {
	w.pk.Unref()
	if err := w.pk.FromData(payload); err != nil {
		return fmt.Errorf("astiav writer: packet from data: %w", err)
	}
	w.pk.SetStreamIndex(streamIdx)
	w.pk.SetPts(pts)
	w.pk.SetDts(dts)
	if err := w.oc.WriteInterleavedFrame(w.pk); err != nil {
		return fmt.Errorf("astiav writer: write interleaved frame: %w", err)
	}
	return nil
}

// WriteTrailer finalizes the container, as the teacher's closeRecorder
// does on stop.
func (w *AstiavWriter) WriteTrailer() error {
	if err := w.oc.WriteTrailer(); err != nil {
		return fmt.Errorf("astiav writer: write trailer: %w", err)
	}
	return nil
}

// Close releases the IO context and format context.
func (w *AstiavWriter) Close() error {
	if w.pk != nil {
		w.pk.Free()
		w.pk = nil
	}
	if w.pb != nil {
		w.pb.Close()
		w.pb.Free()
		w.pb = nil
	}
	if w.oc != nil {
		w.oc.Free()
		w.oc = nil
	}
	return nil
}
