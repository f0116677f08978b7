// Package videopipeline implements the GPU-heavy stage: it owns a
// dedicated goroutine with a GPU context current, uploads decoded
// frames as textures, runs the internal pre-flip pass and the user
// filter chain, then emits the result (spec.md section 4.8).
package videopipeline

import (
	"log"
	"sync"
	"time"

	"github.com/axyzstra/avplayer/internal/filter"
	"github.com/axyzstra/avplayer/internal/gpu"
	"github.com/axyzstra/avplayer/internal/model"
)

const wakeInterval = 100 * time.Millisecond

// Listener receives rendered frames and stream completion.
type Listener interface {
	OnVideoFrame(*model.VideoFrame)
	OnFinished()
}

// Pipeline is the VideoPipeline component: one goroutine, one GPU
// context, one filter chain.
type Pipeline struct {
	ctx   gpu.Context
	chain *filter.Chain

	queueMu sync.Mutex
	queue   []*model.VideoFrame

	listenerMu sync.Mutex
	listener   Listener

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// New constructs a Pipeline against root, a GPU context the caller
// owns; the Pipeline makes its own shared context (root.Share())
// current on its dedicated goroutine so produced textures stay visible
// to whatever context the display surface uses.
func New(root gpu.Context) *Pipeline {
	p := &Pipeline{
		ctx:    root.Share(),
		chain:  filter.NewChain(),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Pipeline) SetListener(l Listener) {
	p.listenerMu.Lock()
	p.listener = l
	p.listenerMu.Unlock()
}

// AddFilter is idempotent per kind; construction is deferred to the
// first render on the pipeline's own goroutine.
func (p *Pipeline) AddFilter(kind filter.Kind) *filter.Filter {
	return p.chain.AddFilter(kind)
}

// RemoveFilter moves the filter into a pending-destruction list;
// DestroyPending runs on the pipeline goroutine on the next frame.
func (p *Pipeline) RemoveFilter(kind filter.Kind) {
	p.chain.RemoveFilter(kind)
}

// Submit enqueues a decoded frame for rendering.
func (p *Pipeline) Submit(f *model.VideoFrame) {
	p.queueMu.Lock()
	p.queue = append(p.queue, f)
	p.queueMu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Stop halts the goroutine, discarding any pending frames and
// releasing GPU resources on the pipeline's own goroutine before it
// exits, per spec.md's GPU thread pinning rule.
func (p *Pipeline) Stop() {
	select {
	case <-p.stop:
		return
	default:
	}
	close(p.stop)
	select {
	case p.notify <- struct{}{}:
	default:
	}
	<-p.done
}

func (p *Pipeline) loop() {
	defer close(p.done)

	if err := p.ctx.MakeCurrent(); err != nil {
		log.Printf("videopipeline: make current: %v", err)
		return
	}
	defer p.ctx.DoneCurrent()

	ticker := time.NewTicker(wakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.drain()
			p.chain.Close(p.ctx)
			return
		case <-p.notify:
		case <-ticker.C:
		}
		p.drainQueue()
	}
}

func (p *Pipeline) popHead() (*model.VideoFrame, bool) {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	f := p.queue[0]
	p.queue = p.queue[1:]
	return f, true
}

func (p *Pipeline) drainQueue() {
	for {
		f, ok := p.popHead()
		if !ok {
			return
		}
		p.renderOne(f)
	}
}

func (p *Pipeline) drain() {
	p.queueMu.Lock()
	for _, f := range p.queue {
		f.Drop()
	}
	p.queue = nil
	p.queueMu.Unlock()
}

func (p *Pipeline) renderOne(f *model.VideoFrame) {
	if f.Flags.Has(model.FlagFlush) {
		f.Drop()
		return
	}
	if f.Flags.Has(model.FlagEndOfStream) {
		p.emitFinished()
		f.Drop()
		return
	}

	if err := p.upload(f); err != nil {
		log.Printf("videopipeline: upload: %v", err)
		f.Drop()
		return
	}

	if err := p.chain.PreFlip(p.ctx, f); err != nil {
		log.Printf("videopipeline: pre-flip: %v", err)
	}

	p.chain.DestroyPending(p.ctx)

	if err := p.chain.RenderAll(p.ctx, f); err != nil {
		log.Printf("videopipeline: render chain: %v", err)
	}

	if rgba, err := p.chain.ReadPresented(p.ctx, f); err != nil {
		log.Printf("videopipeline: read back presented frame: %v", err)
	} else {
		f.Pixels = rgba
	}

	p.ctx.Flush()

	p.emit(f)
}

func (p *Pipeline) upload(f *model.VideoFrame) error {
	tex, err := p.ctx.CreateTexture(f.Width, f.Height)
	if err != nil {
		return err
	}
	if err := p.ctx.UploadTexture(tex, f.Width, f.Height, f.Pixels); err != nil {
		p.ctx.DestroyTexture(tex)
		return err
	}
	f.Texture = uint64(tex)
	return nil
}

func (p *Pipeline) emit(f *model.VideoFrame) {
	p.listenerMu.Lock()
	l := p.listener
	p.listenerMu.Unlock()
	if l != nil {
		l.OnVideoFrame(f)
	} else {
		f.Drop()
	}
}

func (p *Pipeline) emitFinished() {
	p.listenerMu.Lock()
	l := p.listener
	p.listenerMu.Unlock()
	if l != nil {
		l.OnFinished()
	}
}
