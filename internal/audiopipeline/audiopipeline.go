// Package audiopipeline implements the transparent PCM relay stage: a
// stable seam between the Synchronizer and the audio sink / recording
// tap, today a pass-through but the natural place to hang a future
// effect chain.
package audiopipeline

import (
	"sync"

	"github.com/axyzstra/avplayer/internal/model"
)

// Listener receives the pipeline's (currently unmodified) output.
type Listener interface {
	OnAudioSamples(*model.AudioSamples)
	OnFinished()
}

// Pipeline forwards every AudioSamples unit it receives to one
// listener. The listener pointer is held under a plain mutex; Go's
// copy-then-unlock idiom (read the pointer, release the lock, then
// call out) lets the listener re-enter the pipeline's setter methods
// without deadlocking, standing in for the source's recursive mutex.
type Pipeline struct {
	mu       sync.Mutex
	listener Listener
}

// New returns an empty pipeline.
func New() *Pipeline { return &Pipeline{} }

func (p *Pipeline) SetListener(l Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

func (p *Pipeline) current() Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener
}

// Push hands samples to the listener, or drops them if none is
// attached.
func (p *Pipeline) Push(a *model.AudioSamples) {
	if l := p.current(); l != nil {
		l.OnAudioSamples(a)
	} else {
		a.Drop()
	}
}

// Finished forwards stream completion.
func (p *Pipeline) Finished() {
	if l := p.current(); l != nil {
		l.OnFinished()
	}
}
