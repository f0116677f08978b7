// Command avplayer-demo drives the Player façade from a terminal: open
// a file, play it to an audio sink, optionally record it, and log
// progress until end of file or Ctrl-C.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/axyzstra/avplayer"
	"github.com/axyzstra/avplayer/internal/audiosink"
	"github.com/axyzstra/avplayer/internal/config"
	"github.com/axyzstra/avplayer/internal/decode"
	"github.com/axyzstra/avplayer/internal/demux"
	"github.com/axyzstra/avplayer/internal/gpu"
)

var (
	input       = flag.String("input", "", "media file to open and play")
	configPath  = flag.String("config", "avplayer.yml", "settings file to load")
	recordTo    = flag.String("record", "", "if set, also record the played output to this MP4 path")
	debugFrames = flag.Bool("debugframes", false, "log every reported playback time")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *input == "" {
		log.Fatal("avplayer-demo: -input is required")
	}

	store, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("avplayer-demo: load config %q: %v", *configPath, err)
	}
	cfg := store.Get()

	sink, err := audiosink.NewOtoSink(cfg.AudioSampleRate, cfg.AudioChannels, cfg.AudioBufferBytes)
	if err != nil {
		log.Fatalf("avplayer-demo: audio init: %v", err)
	}

	p := avplayer.New(
		cfg,
		gpu.NewSoftwareContext(),
		sink,
		func() demux.ContainerReader { return demux.NewAstiavReader() },
		func() decode.AudioCodec { return decode.NewAstiavAudioCodec() },
		func() decode.VideoCodec { return decode.NewAstiavVideoCodec() },
	)
	p.SetPlaybackListener(&logListener{debug: *debugFrames})

	if !p.Open(*input) {
		log.Fatalf("avplayer-demo: failed to open %q", *input)
	}
	log.Printf("avplayer-demo: opened %q", filepath.Clean(*input))

	if *recordTo != "" {
		if !p.StartRecording(*recordTo, 0) {
			log.Printf("avplayer-demo: recording to %q failed to start", *recordTo)
		} else {
			log.Printf("avplayer-demo: recording to %q", *recordTo)
		}
	}

	p.Play()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	eof := make(chan struct{}, 1)
	p.SetPlaybackListener(&logListener{debug: *debugFrames, eof: eof})

	select {
	case <-sigs:
		log.Printf("avplayer-demo: interrupted, shutting down")
	case <-eof:
		log.Printf("avplayer-demo: playback reached end of file")
	case <-time.After(6 * time.Hour):
		log.Printf("avplayer-demo: giving up after 6h, shutting down")
	}

	p.Close()
}

type logListener struct {
	debug bool
	eof   chan struct{}
}

func (l *logListener) PlaybackStarted() { log.Printf("avplayer-demo: playback started") }
func (l *logListener) PlaybackPaused()  { log.Printf("avplayer-demo: playback paused") }

func (l *logListener) PlaybackTimeChanged(currentSeconds, durationSeconds float64) {
	if l.debug {
		log.Printf("avplayer-demo: t=%.3fs / %.3fs", currentSeconds, durationSeconds)
	}
}

func (l *logListener) PlaybackEOF() {
	log.Printf("avplayer-demo: end of file")
	if l.eof != nil {
		select {
		case l.eof <- struct{}{}:
		default:
		}
	}
}
