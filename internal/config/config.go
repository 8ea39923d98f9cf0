// Package config holds the daemon's settings, read from vox.yaml.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Home is where relative model and catalog paths are resolved.
	Home       string     `yaml:"home"`
	LogLevel   string     `yaml:"log_level"`
	Audio      Audio      `yaml:"audio"`
	Recognizer Recognizer `yaml:"recognizer"`
	Segment    Segment    `yaml:"segment"`
	Intent     Intent     `yaml:"intent"`
	TTS        TTS        `yaml:"tts"`
	Pipeline   Pipeline   `yaml:"pipeline"`
	Hub        Hub        `yaml:"hub"`
	Ask        Ask        `yaml:"ask"`
	Control    Control    `yaml:"control"`
}

type Audio struct {
	SampleRate     int  `yaml:"sample_rate"`
	FrameMs        int  `yaml:"frame_ms"`
	Queue          int  `yaml:"queue"`
	PlaybackRate   int  `yaml:"playback_rate"`
	PlaybackBuffer int  `yaml:"playback_buffer"`
	Duck           bool `yaml:"duck"`
	DuckVolume     int  `yaml:"duck_volume"`
}

type Recognizer struct {
	// Engine is "vosk" or "whisper".
	Engine    string        `yaml:"engine"`
	Model     string        `yaml:"model"`
	Language  string        `yaml:"language"`
	Threads   int           `yaml:"threads"`
	SpeechRMS float64       `yaml:"speech_rms"`
	Hangover  time.Duration `yaml:"hangover"`
}

type Segment struct {
	// Policy is "strict" or "wake".
	Policy        string        `yaml:"policy"`
	Wake          []string      `yaml:"wake"`
	RequireWake   bool          `yaml:"require_wake"`
	MinConfidence float64       `yaml:"min_confidence"`
	MaxSilence    time.Duration `yaml:"max_silence"`
	MinUtterance  time.Duration `yaml:"min_utterance"`
	MaxUtterance  time.Duration `yaml:"max_utterance"`
	WakeWindow    time.Duration `yaml:"wake_window"`
	Fillers       []string      `yaml:"fillers"`
}

type Intent struct {
	Catalog string `yaml:"catalog"`
	// Embedder is "onnx" or "ollama".
	Embedder    string        `yaml:"embedder"`
	Model       string        `yaml:"model"`
	OnnxLibrary string        `yaml:"onnx_library"`
	OllamaURL   string        `yaml:"ollama_url"`
	Timeout     time.Duration `yaml:"timeout"`
	Threshold   float64       `yaml:"threshold"`
	Epsilon     float64       `yaml:"epsilon"`
	TopK        int           `yaml:"top_k"`
}

type TTS struct {
	Voice string `yaml:"voice"`
	// Rate in words per minute.
	Rate   int           `yaml:"rate"`
	Tail   time.Duration `yaml:"tail"`
	Earcon string        `yaml:"earcon"`
}

type Pipeline struct {
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
}

type Hub struct {
	Url     string        `yaml:"url"`
	Shard   string        `yaml:"shard"`
	Timeout time.Duration `yaml:"timeout"`
}

type Ask struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Proxy   string `yaml:"proxy"`
}

type Control struct {
	Socket string `yaml:"socket"`
}

func Default() *Config {
	home := os.Getenv("VOX_HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(h, ".config", "vox")
		}
	}

	return &Config{
		Home:     home,
		LogLevel: "info",
		Audio: Audio{
			SampleRate:     16000,
			FrameMs:        30,
			Queue:          64,
			PlaybackRate:   22050,
			PlaybackBuffer: 1024,
			DuckVolume:     20,
		},
		Recognizer: Recognizer{
			Engine:    "vosk",
			Model:     "vosk-model-small-en-us-0.15",
			Language:  "en",
			SpeechRMS: 0.015,
			Hangover:  600 * time.Millisecond,
		},
		Segment: Segment{
			Policy:        "strict",
			Wake:          []string{"hey vox", "vox"},
			MinConfidence: 0.3,
			MaxSilence:    1200 * time.Millisecond,
			MinUtterance:  250 * time.Millisecond,
			MaxUtterance:  20 * time.Second,
			WakeWindow:    8 * time.Second,
		},
		Intent: Intent{
			Catalog:   "intents.yaml",
			Embedder:  "onnx",
			Model:     "intents",
			OllamaURL: "http://localhost:11434",
			Timeout:   10 * time.Second,
			Threshold: 0.5,
			Epsilon:   1e-4,
			TopK:      16,
		},
		TTS: TTS{
			Voice: "en-us",
			Tail:  300 * time.Millisecond,
		},
		Pipeline: Pipeline{ResolveTimeout: 10 * time.Second},
		Hub:      Hub{Shard: "VOX", Timeout: 3 * time.Second},
		Control:  Control{Socket: "/tmp/vox.sock"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		bad("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel)
	}

	if cfg.Audio.SampleRate <= 0 {
		bad("audio.sample_rate must be positive")
	}
	if cfg.Audio.FrameMs < 10 || cfg.Audio.FrameMs > 100 {
		bad("audio.frame_ms must be within 10..100, got %d", cfg.Audio.FrameMs)
	}
	if cfg.Audio.Queue <= 0 {
		bad("audio.queue must be positive")
	}
	if cfg.Audio.DuckVolume < 0 || cfg.Audio.DuckVolume > 100 {
		bad("audio.duck_volume must be a percentage")
	}

	switch cfg.Recognizer.Engine {
	case "vosk":
	case "whisper":
		if cfg.Audio.SampleRate != 16000 {
			bad("recognizer whisper needs audio.sample_rate 16000")
		}
	default:
		bad("recognizer.engine %q is invalid; valid values: vosk, whisper", cfg.Recognizer.Engine)
	}
	if cfg.Recognizer.Model == "" {
		bad("recognizer.model is required")
	}

	switch cfg.Segment.Policy {
	case "strict", "wake":
	default:
		bad("segment.policy %q is invalid; valid values: strict, wake", cfg.Segment.Policy)
	}
	if cfg.Segment.Policy == "wake" && len(cfg.Segment.Wake) == 0 {
		bad("segment.policy wake needs at least one wake phrase")
	}
	if cfg.Segment.RequireWake && len(cfg.Segment.Wake) == 0 {
		bad("segment.require_wake needs at least one wake phrase")
	}
	if cfg.Segment.MinConfidence < 0 || cfg.Segment.MinConfidence > 1 {
		bad("segment.min_confidence must be within [0, 1]")
	}
	if cfg.Segment.MaxSilence <= 0 {
		bad("segment.max_silence must be positive")
	}
	if cfg.Segment.MaxUtterance <= cfg.Segment.MinUtterance {
		bad("segment.max_utterance must exceed segment.min_utterance")
	}

	if cfg.Intent.Catalog == "" {
		bad("intent.catalog is required")
	}
	switch cfg.Intent.Embedder {
	case "onnx":
		if cfg.Intent.Model == "" {
			bad("intent.model is required for the onnx embedder")
		}
	case "ollama":
		if cfg.Intent.Model == "" || cfg.Intent.OllamaURL == "" {
			bad("intent.model and intent.ollama_url are required for the ollama embedder")
		}
	default:
		bad("intent.embedder %q is invalid; valid values: onnx, ollama", cfg.Intent.Embedder)
	}
	if cfg.Intent.Threshold <= 0 || cfg.Intent.Threshold > 1 {
		bad("intent.threshold must be within (0, 1]")
	}
	if cfg.Intent.Epsilon < 0 {
		bad("intent.epsilon must not be negative")
	}

	if cfg.Pipeline.ResolveTimeout <= 0 {
		bad("pipeline.resolve_timeout must be positive")
	}
	if cfg.Hub.Url != "" && cfg.Hub.Shard == "" {
		bad("hub.shard is required when hub.url is set")
	}
	if cfg.Control.Socket == "" {
		bad("control.socket is required")
	}

	return errors.Join(errs...)
}

// Path resolves p against Home, expanding a leading "~/".
func (c *Config) Path(p string) string {
	if p == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if h, err := os.UserHomeDir(); err == nil {
			return filepath.Join(h, rest)
		}
	}
	if filepath.IsAbs(p) || c.Home == "" {
		return p
	}
	return filepath.Join(c.Home, p)
}
