// Package avplayer is the Player façade: it holds one instance of
// every pipeline stage, wires their listener interfaces together, and
// exposes the small synchronous surface a UI or CLI drives (spec.md
// section 4.12).
package avplayer

import (
	"log"
	"sync"
	"time"

	"github.com/axyzstra/avplayer/internal/audiopipeline"
	"github.com/axyzstra/avplayer/internal/audiosink"
	"github.com/axyzstra/avplayer/internal/avsync"
	"github.com/axyzstra/avplayer/internal/config"
	"github.com/axyzstra/avplayer/internal/core"
	"github.com/axyzstra/avplayer/internal/decode"
	"github.com/axyzstra/avplayer/internal/demux"
	"github.com/axyzstra/avplayer/internal/display"
	"github.com/axyzstra/avplayer/internal/filter"
	"github.com/axyzstra/avplayer/internal/gpu"
	"github.com/axyzstra/avplayer/internal/model"
	"github.com/axyzstra/avplayer/internal/record"
	"github.com/axyzstra/avplayer/internal/videopipeline"
)

// State is the façade's public lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StatePlaying
	StatePaused
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateRecording:
		return "recording"
	default:
		return "closed"
	}
}

// PlaybackListener receives playback lifecycle notifications, the same
// four callbacks spec.md section 6 names.
type PlaybackListener interface {
	PlaybackStarted()
	PlaybackPaused()
	PlaybackTimeChanged(currentSeconds, durationSeconds float64)
	PlaybackEOF()
}

// Player wires one Demuxer, two Decoders, one Synchronizer, both
// pipelines, any number of attached display surfaces and an optional
// recording FileWriter into the graph spec.md section 3 describes.
type Player struct {
	cfg config.Config

	gpuRoot  gpu.Context
	taskPool *core.SerialTaskQueue
	sink     audiosink.Sink

	demuxer       *demux.Demuxer
	audioDecoder  *decode.AudioDecoder
	videoDecoder  *decode.VideoDecoder
	synchronizer  *avsync.Synchronizer
	audioPipeline *audiopipeline.Pipeline
	videoPipeline *videopipeline.Pipeline

	stateMu  sync.Mutex
	state    State
	duration time.Duration

	streamMu    sync.Mutex
	videoWidth  int
	videoHeight int

	finishedMu    sync.Mutex
	audioFinished bool
	videoFinished bool

	surfacesMu sync.Mutex
	surfaces   map[*display.Surface]struct{}

	listenerMu sync.Mutex
	listener   PlaybackListener

	recordingMu sync.Mutex
	recording   *record.FileWriter
}

// ReaderFactory builds the Player's ContainerReader; New calls it once.
// Production code passes a func returning a fresh demux.AstiavReader.
type ReaderFactory func() demux.ContainerReader

// AudioCodecFactory and VideoCodecFactory build the decode-side codecs;
// New calls each of them once.
type AudioCodecFactory func() decode.AudioCodec
type VideoCodecFactory func() decode.VideoCodec

// New constructs a Player around the given configuration, GPU root
// context and audio sink. readerFactory/audioCodecFactory/videoCodecFactory
// let tests inject fakes; production wiring passes the astiav-backed
// constructors.
func New(cfg config.Config, gpuRoot gpu.Context, sink audiosink.Sink, readerFactory ReaderFactory, audioCodecFactory AudioCodecFactory, videoCodecFactory VideoCodecFactory) *Player {
	p := &Player{
		cfg:           cfg,
		gpuRoot:       gpuRoot,
		taskPool:      core.NewSerialTaskQueue(),
		sink:          sink,
		synchronizer:  avsync.New(),
		audioPipeline: audiopipeline.New(),
		videoPipeline: videopipeline.New(gpuRoot),
		surfaces:      make(map[*display.Surface]struct{}),
		state:         StateClosed,
	}

	p.demuxer = demux.New(readerFactory(), cfg.AudioCredits)
	p.audioDecoder = decode.NewAudioDecoder(audioCodecFactory(), cfg.AudioCredits)
	p.videoDecoder = decode.NewVideoDecoder(videoCodecFactory(), cfg.VideoCredits)

	p.demuxer.SetListener(demuxBridge{p})
	p.audioDecoder.SetListener(audioDecodeBridge{p})
	p.videoDecoder.SetListener(videoDecodeBridge{p})
	p.synchronizer.SetListener(syncBridge{p})
	p.audioPipeline.SetListener(audioPipeBridge{p})
	p.videoPipeline.SetListener(videoPipeBridge{p})

	return p
}

// SetPlaybackListener attaches the UI/CLI listener. A nil listener
// detaches it.
func (p *Player) SetPlaybackListener(l PlaybackListener) {
	p.listenerMu.Lock()
	p.listener = l
	p.listenerMu.Unlock()
}

func (p *Player) currentListener() PlaybackListener {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	return p.listener
}

func (p *Player) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

// State returns the façade's current lifecycle state.
func (p *Player) State() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

// IsPlaying reports whether playback is actively running, with or
// without a recording in progress.
func (p *Player) IsPlaying() bool {
	s := p.State()
	return s == StatePlaying || s == StateRecording
}

// IsRecording reports whether a recording is in progress. Recording
// and playback state are independent: IsPlaying and IsRecording can
// both be true.
func (p *Player) IsRecording() bool {
	p.recordingMu.Lock()
	defer p.recordingMu.Unlock()
	return p.recording != nil
}

// Open opens path and scans its streams. Open and StartRecording are the
// only operations that report success as a boolean; everything else is
// fire-and-forget
// (spec.md section 7).
func (p *Player) Open(path string) bool {
	p.finishedMu.Lock()
	p.audioFinished, p.videoFinished = false, false
	p.finishedMu.Unlock()

	if !p.demuxer.Open(path) {
		p.setState(StateClosed)
		return false
	}
	p.duration = p.demuxer.Duration()
	p.setState(StateOpen)
	return true
}

// Play starts every stage that has a start/pause switch and reports
// PlaybackStarted.
func (p *Player) Play() {
	p.demuxer.Start()
	p.audioDecoder.Start()
	p.videoDecoder.Start()
	p.setState(StatePlaying)
	if l := p.currentListener(); l != nil {
		l.PlaybackStarted()
	}
}

// Pause pauses every stage and reports PlaybackPaused.
func (p *Player) Pause() {
	p.demuxer.Pause()
	p.audioDecoder.Pause()
	p.videoDecoder.Pause()
	p.setState(StatePaused)
	if l := p.currentListener(); l != nil {
		l.PlaybackPaused()
	}
}

// SeekTo pauses the demuxer, asks it to seek to progress*duration and
// resets the synchronizer's queues, matching spec.md section 4.12.
func (p *Player) SeekTo(progress float64) {
	p.demuxer.Pause()
	p.demuxer.SeekTo(progress)
	p.synchronizer.Reset()
}

// AttachDisplayView registers s to receive rendered frames and binds it
// to the shared GPU task pool.
func (p *Player) AttachDisplayView(s *display.Surface) {
	s.SetTaskPool(p.taskPool)
	p.surfacesMu.Lock()
	p.surfaces[s] = struct{}{}
	p.surfacesMu.Unlock()
}

// DetachDisplayView stops s from receiving further frames and clears
// whatever it was holding.
func (p *Player) DetachDisplayView(s *display.Surface) {
	p.surfacesMu.Lock()
	delete(p.surfaces, s)
	p.surfacesMu.Unlock()
	s.Clear()
}

// AddVideoFilter delegates to the VideoPipeline's filter chain.
func (p *Player) AddVideoFilter(kind filter.Kind) *filter.Filter {
	return p.videoPipeline.AddFilter(kind)
}

// RemoveVideoFilter delegates to the VideoPipeline's filter chain.
func (p *Player) RemoveVideoFilter(kind filter.Kind) {
	p.videoPipeline.RemoveFilter(kind)
}

// StartRecording opens path for writing and taps the audio and video
// pipeline outputs into it. flags is reserved for future container
// options and currently ignored.
func (p *Player) StartRecording(path string, flags int) bool {
	p.recordingMu.Lock()
	defer p.recordingMu.Unlock()
	if p.recording != nil {
		return false
	}

	writer, err := record.NewAstiavWriter(path)
	if err != nil {
		log.Printf("avplayer: start recording %q: %v", path, err)
		return false
	}

	p.streamMu.Lock()
	width, height := p.videoWidth, p.videoHeight
	p.streamMu.Unlock()

	fw, err := record.NewFileWriter(writer, record.NewAstiavAACEncoder(), record.NewAstiavH264Encoder(), record.Options{
		SampleRate:     p.cfg.AudioSampleRate,
		Channels:       p.cfg.AudioChannels,
		AudioCodecName: p.cfg.AudioCodecName,
		Width:          width,
		Height:         height,
		VideoCodecName: p.cfg.VideoCodecName,
	})
	if err != nil {
		log.Printf("avplayer: start recording %q: %v", path, err)
		writer.Close()
		return false
	}

	p.recording = fw
	if p.State() == StatePlaying {
		p.setState(StateRecording)
	}
	log.Printf("avplayer: recording session %s writing %q", fw.SessionID(), path)
	return true
}

// StopRecording finalizes and closes the current recording, if any.
func (p *Player) StopRecording() {
	p.recordingMu.Lock()
	fw := p.recording
	p.recording = nil
	p.recordingMu.Unlock()
	if fw == nil {
		return
	}
	if err := fw.Stop(); err != nil {
		log.Printf("avplayer: stop recording: %v", err)
	}
	if p.State() == StateRecording {
		p.setState(StatePlaying)
	}
}

// Close stops every stage and releases GPU/task-pool resources. The
// façade cannot be reused after Close.
func (p *Player) Close() {
	p.StopRecording()
	p.demuxer.Stop()
	p.audioDecoder.Stop()
	p.videoDecoder.Stop()
	p.synchronizer.Stop()
	p.videoPipeline.Stop()
	p.sink.Stop()

	p.surfacesMu.Lock()
	surfaces := make([]*display.Surface, 0, len(p.surfaces))
	for s := range p.surfaces {
		surfaces = append(surfaces, s)
	}
	p.surfacesMu.Unlock()
	for _, s := range surfaces {
		s.Clear()
	}

	p.taskPool.Stop()
	p.setState(StateClosed)
}

// destroyFrame releases f's GPU texture, if it holds one, on the shared
// task pool before dropping it. Used wherever a rendered frame reaches
// the end of the pipeline without a display surface to take ownership
// of it (spec.md section 4 invariant 4, section 4.10's task-pool
// cleanup rule).
func (p *Player) destroyFrame(f *model.VideoFrame) {
	p.taskPool.Submit(func() {
		if f.Texture != 0 {
			p.gpuRoot.DestroyTexture(gpu.TextureID(f.Texture))
		}
		f.Drop()
	})
}

func (p *Player) markAudioFinished() (bothFinished bool) {
	p.finishedMu.Lock()
	p.audioFinished = true
	bothFinished = p.audioFinished && p.videoFinished
	p.finishedMu.Unlock()
	return
}

func (p *Player) markVideoFinished() (bothFinished bool) {
	p.finishedMu.Lock()
	p.videoFinished = true
	bothFinished = p.audioFinished && p.videoFinished
	p.finishedMu.Unlock()
	return
}

func (p *Player) reportTime(currentSeconds float64) {
	if l := p.currentListener(); l != nil {
		l.PlaybackTimeChanged(currentSeconds, p.duration.Seconds())
	}
}

func (p *Player) reportEOF() {
	p.setState(StatePaused)
	if l := p.currentListener(); l != nil {
		l.PlaybackEOF()
	}
}

func (p *Player) activeRecording() *record.FileWriter {
	p.recordingMu.Lock()
	defer p.recordingMu.Unlock()
	return p.recording
}

func (p *Player) fitMode() display.FitMode {
	switch p.cfg.DefaultFitMode {
	case config.FitScaleToFill:
		return display.ScaleToFill
	case config.FitScaleAspectFl:
		return display.ScaleAspectFill
	default:
		return display.ScaleAspectFit
	}
}
