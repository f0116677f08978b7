package record

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/axyzstra/avplayer/internal/model"
)

// FileWriter is the recording façade the player wires presented audio
// and video into: one AudioEncoder and one VideoEncoder feeding a
// shared Muxer, mirroring the teacher's single recorder-per-window
// lifecycle (startRecorder / closeRecorder) generalized to any
// ContainerWriter.
type FileWriter struct {
	sessionID uuid.UUID
	mux       *Muxer
	audio     *AudioEncoder
	video     *VideoEncoder
}

// Options configures the output streams.
type Options struct {
	SampleRate      int
	Channels        int
	AudioCodecName  string
	Width, Height   int
	VideoCodecName  string
}

// NewFileWriter opens writer, declares its streams, writes the header
// and starts the encoder goroutines. The returned FileWriter owns
// writer and closes it on Stop.
func NewFileWriter(writer ContainerWriter, audioCodec AudioCodec, videoCodec VideoCodec, opts Options) (*FileWriter, error) {
	mux := NewMuxer(writer)

	if err := mux.ConfigureAudio(opts.SampleRate, opts.Channels, opts.AudioCodecName); err != nil {
		mux.Close()
		return nil, err
	}
	if err := mux.ConfigureVideo(opts.Width, opts.Height, opts.VideoCodecName); err != nil {
		mux.Close()
		return nil, err
	}
	if err := audioCodec.Configure(opts.SampleRate, opts.Channels); err != nil {
		mux.Close()
		return nil, fmt.Errorf("record: configure audio codec: %w", err)
	}
	if err := videoCodec.Configure(opts.Width, opts.Height); err != nil {
		mux.Close()
		return nil, fmt.Errorf("record: configure video codec: %w", err)
	}
	if err := mux.WriteHeader(); err != nil {
		mux.Close()
		return nil, err
	}

	return &FileWriter{
		sessionID: uuid.New(),
		mux:       mux,
		audio:     NewAudioEncoder(audioCodec, mux),
		video:     NewVideoEncoder(videoCodec, mux),
	}, nil
}

// SessionID identifies this recording run. Callers can log it alongside
// the output path to correlate a recording with player-side events,
// since the same output path could in principle be reused across runs.
func (w *FileWriter) SessionID() uuid.UUID { return w.sessionID }

// SubmitAudio feeds one presented audio unit into the recording.
func (w *FileWriter) SubmitAudio(a *model.AudioSamples) { w.audio.Submit(a) }

// SubmitVideo feeds one presented (post-filter) video frame into the
// recording.
func (w *FileWriter) SubmitVideo(f *model.VideoFrame) { w.video.Submit(f) }

// Stop flushes both encoders, drains the muxer and finalizes the
// container. It blocks until the file is fully written.
func (w *FileWriter) Stop() error {
	w.audio.Stop()
	w.video.Stop()
	return w.mux.Close()
}
