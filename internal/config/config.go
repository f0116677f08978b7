// Package config loads and saves the player's YAML settings file,
// following the teacher's load/save shape in config.go: plain struct
// tags, atomic tmp-then-rename writes, a mutex guarding the in-memory
// copy. Unlike the teacher, this is a reusable Store rather than a
// package-level global, since the player is a library, not a single
// GUI process.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/axyzstra/avplayer/internal/avsync"
)

// FitMode names the display fit policy in config terms; it is
// translated to display.FitMode at wiring time to avoid a config ->
// display import.
type FitMode string

const (
	FitScaleToFill   FitMode = "scale_to_fill"
	FitScaleAspect   FitMode = "scale_aspect_fit"
	FitScaleAspectFl FitMode = "scale_aspect_fill"
)

// Config is the player's persisted settings.
type Config struct {
	AudioCredits      int     `yaml:"audio_credits,omitempty"`
	VideoCredits      int     `yaml:"video_credits,omitempty"`
	SyncThresholdMs   int     `yaml:"sync_threshold_ms,omitempty"`
	AudioSampleRate   int     `yaml:"audio_sample_rate,omitempty"`
	AudioChannels     int     `yaml:"audio_channels,omitempty"`
	AudioBufferBytes  int     `yaml:"audio_buffer_bytes,omitempty"`
	RecordingDir      string  `yaml:"recording_dir,omitempty"`
	AudioCodecName    string  `yaml:"audio_codec_name,omitempty"`
	VideoCodecName    string  `yaml:"video_codec_name,omitempty"`
	DefaultFitMode    FitMode `yaml:"default_fit_mode,omitempty"`
}

// Default returns the settings the player starts with when no config
// file exists yet.
func Default() Config {
	return Config{
		AudioCredits:     8,
		VideoCredits:     8,
		SyncThresholdMs:  int(avsync.Threshold.Milliseconds()),
		AudioSampleRate:  48000,
		AudioChannels:    2,
		AudioBufferBytes: 1 << 16,
		RecordingDir:     "",
		AudioCodecName:   "aac",
		VideoCodecName:   "libx264",
		DefaultFitMode:   FitScaleAspect,
	}
}

// Store guards a Config loaded from, and saved back to, one file path.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  Config
}

// Load reads path, falling back to Default() if the file does not
// exist yet (a fresh install has no settings file).
func Load(path string) (*Store, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{path: path, cfg: cfg}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &Store{path: path, cfg: cfg}, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Update applies fn to a copy of the current settings, stores the
// result and persists it to disk.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	cfg := s.cfg
	fn(&cfg)
	s.cfg = cfg
	path := s.path
	s.mu.Unlock()
	return save(path, cfg)
}

// Save persists the current settings, same atomic tmp-then-rename
// sequence the teacher uses for settings.yml.
func (s *Store) Save() error {
	s.mu.Lock()
	cfg, path := s.cfg, s.path
	s.mu.Unlock()
	return save(path, cfg)
}

func save(path string, cfg Config) error {
	if path == "" {
		return nil
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", tmp, err)
	}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(&cfg); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
