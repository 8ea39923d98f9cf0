// Package tts turns phrases into sound on the output device.
package tts

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"sync"
	"time"
)

// Engine renders text to mono S16 samples.
type Engine interface {
	Synthesize(ctx context.Context, text string) ([]int16, int, error)
}

// Player plays samples until done or ctx is cancelled. It must not return
// before the output has stopped.
type Player interface {
	Play(ctx context.Context, samples []int16, rate int) error
}

// Ducker lowers other audio while the assistant talks.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

type Config struct {
	// Tail keeps Speaking true after playback so the room echo is not
	// transcribed.
	Tail   time.Duration
	Ducker Ducker
}

type Synthesizer struct {
	engine Engine
	player Player
	cfg    Config
	now    func() time.Time

	playMu sync.Mutex

	mu      sync.Mutex
	active  int
	quietAt time.Time
}

func NewSynthesizer(engine Engine, player Player, cfg Config) *Synthesizer {
	return &Synthesizer{engine: engine, player: player, cfg: cfg, now: time.Now}
}

// Speaking reports whether output is playing or has just finished.
func (s *Synthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active > 0 || s.now().Before(s.quietAt)
}

// Speak synthesizes phrase and plays it. A cancelled ctx stops playback and
// returns ctx.Err().
func (s *Synthesizer) Speak(ctx context.Context, phrase string) error {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil
	}

	samples, rate, err := s.engine.Synthesize(ctx, phrase)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	log.Debug("Speaking", "phrase", phrase, "samples", len(samples), "rate", rate)
	return s.Play(ctx, samples, rate)
}

// Play plays already rendered samples, such as an earcon.
func (s *Synthesizer) Play(ctx context.Context, samples []int16, rate int) error {
	if len(samples) == 0 {
		return nil
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.begin()
	var err error
	defer func() { s.end(err) }()

	if s.cfg.Ducker != nil {
		if err := s.cfg.Ducker.Duck(ctx); err != nil {
			log.Warn("Duck failed", "err", err)
		}
		defer func() {
			// restore even when ctx is already cancelled
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.cfg.Ducker.Restore(rctx); err != nil {
				log.Warn("Restore volume failed", "err", err)
			}
		}()
	}

	err = s.player.Play(ctx, samples, rate)
	if cancelled(err) {
		log.Debug("Playback cancelled")
	}
	return err
}

func (s *Synthesizer) begin() {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
}

// end starts the tail, unless playback was cut off: then nothing is left
// echoing and listening resumes at once.
func (s *Synthesizer) end(err error) {
	s.mu.Lock()
	s.active--
	if cancelled(err) {
		s.quietAt = s.now()
	} else {
		s.quietAt = s.now().Add(s.cfg.Tail)
	}
	s.mu.Unlock()
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
