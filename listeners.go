package avplayer

import (
	"github.com/axyzstra/avplayer/internal/demux"
	"github.com/axyzstra/avplayer/internal/display"
	"github.com/axyzstra/avplayer/internal/model"
)

// Several pipeline stages declare listener interfaces with the same
// method name for different edges of the graph (decode.AudioListener
// and audiopipeline.Listener both have OnAudioSamples, for instance).
// A single Player method can't satisfy both without losing track of
// which edge called it, so each edge gets its own small bridge type
// instead of Player implementing every interface directly.

type demuxBridge struct{ p *Player }

func (b demuxBridge) OnAudioStream(desc demux.StreamDescriptor) {
	b.p.audioDecoder.SetStream(desc)
}

func (b demuxBridge) OnVideoStream(desc demux.StreamDescriptor) {
	b.p.streamMu.Lock()
	b.p.videoWidth, b.p.videoHeight = desc.Width, desc.Height
	b.p.streamMu.Unlock()
	b.p.videoDecoder.SetStream(desc)
}

func (b demuxBridge) OnAudioPacket(pkt *model.Packet) { b.p.audioDecoder.Decode(pkt) }
func (b demuxBridge) OnVideoPacket(pkt *model.Packet) { b.p.videoDecoder.Decode(pkt) }

type audioDecodeBridge struct{ p *Player }

func (b audioDecodeBridge) OnAudioSamples(a *model.AudioSamples) { b.p.synchronizer.PushAudio(a) }

type videoDecodeBridge struct{ p *Player }

func (b videoDecodeBridge) OnVideoFrame(f *model.VideoFrame) { b.p.synchronizer.PushVideo(f) }

type syncBridge struct{ p *Player }

func (b syncBridge) AudioSamples(a *model.AudioSamples) { b.p.audioPipeline.Push(a) }
func (b syncBridge) VideoFrame(v *model.VideoFrame)     { b.p.videoPipeline.Submit(v) }
func (b syncBridge) AudioFinished()                     { b.p.audioPipeline.Finished() }
func (b syncBridge) VideoFinished() {
	b.p.videoPipeline.Submit(model.NewVideoFrame(0, 0, nil, 0, model.Rational{}, model.FlagEndOfStream, nil))
}

type audioPipeBridge struct{ p *Player }

func (b audioPipeBridge) OnAudioSamples(a *model.AudioSamples) {
	b.p.sink.Push(a.Data)
	if rec := b.p.activeRecording(); rec != nil {
		rec.SubmitAudio(a)
	}
	b.p.reportTime(a.TimestampSeconds())
	a.Drop()
}

func (b audioPipeBridge) OnFinished() {
	if b.p.markAudioFinished() {
		b.p.reportEOF()
	}
}

type videoPipeBridge struct{ p *Player }

func (b videoPipeBridge) OnVideoFrame(f *model.VideoFrame) {
	if rec := b.p.activeRecording(); rec != nil {
		rec.SubmitVideo(f)
	}

	// One attached surface takes ownership of the frame (and with it,
	// the responsibility to eventually drop it). With several surfaces
	// attached, it is whichever the map iteration yields first, which is
	// not attach order and can differ from frame to frame; frames are
	// not fanned out to the other surfaces.
	b.p.surfacesMu.Lock()
	var primary *display.Surface
	for s := range b.p.surfaces {
		primary = s
		break
	}
	b.p.surfacesMu.Unlock()

	if primary == nil {
		b.p.destroyFrame(f)
		return
	}
	primary.Render(f, b.p.fitMode())
}

func (b videoPipeBridge) OnFinished() {
	if b.p.markVideoFinished() {
		b.p.reportEOF()
	}
}
