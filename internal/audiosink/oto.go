package audiosink

import (
	"fmt"

	oto "github.com/hajimehoshi/oto/v2"
)

// OtoSink plays a RingSink's backlog through the platform's audio
// output via oto/v2, following the same NewContext-once,
// NewPlayer-per-stream shape as the teacher's audio.go / video.go.
type OtoSink struct {
	*RingSink
	ctx    *oto.Context
	player oto.Player
}

// NewOtoSink creates an oto context for sampleRate/channels and starts
// a player pulling from a fresh RingSink.
func NewOtoSink(sampleRate, channels, bufferedBytes int) (*OtoSink, error) {
	ctx, ready, err := oto.NewContext(sampleRate, channels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, fmt.Errorf("audiosink: new oto context: %w", err)
	}
	<-ready

	ring := NewRingSink(bufferedBytes)
	player := ctx.NewPlayer(ring)
	player.Play()

	return &OtoSink{RingSink: ring, ctx: ctx, player: player}, nil
}

// Stop clears the backlog and pauses playback.
func (s *OtoSink) Stop() {
	s.RingSink.Stop()
	s.player.Pause()
}

// Close releases the player. The oto.Context itself is process-wide and
// is never closed mid-run, matching the teacher's "keep the first
// created context" policy.
func (s *OtoSink) Close() error {
	return s.player.Close()
}
