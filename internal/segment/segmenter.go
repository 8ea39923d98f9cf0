// Package segment turns the recognizer's per-frame output into utterances.
package segment

import (
	"fmt"
	log "log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrZloHex/vox/pkg/stt"
)

type State int

const (
	Silent State = iota
	SpeechDetected
	Finalizing
)

func (s State) String() string {
	switch s {
	case Silent:
		return "silent"
	case SpeechDetected:
		return "speech"
	case Finalizing:
		return "finalizing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Policy decides what happens to recognizer output while the assistant is
// speaking.
type Policy int

const (
	// PolicyStrict ignores everything heard during playback.
	PolicyStrict Policy = iota
	// PolicyWake ignores everything except a wake phrase, which interrupts.
	PolicyWake
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "strict":
		return PolicyStrict, nil
	case "wake":
		return PolicyWake, nil
	}
	return 0, fmt.Errorf("unknown barge-in policy %q", s)
}

type EventKind int

const (
	EventNone EventKind = iota
	EventSpeechStarted
	EventUtterance
	EventDiscarded
	EventWake
	// EventWakeTimeout follows a bare wake phrase when nothing was said
	// within the wake window.
	EventWakeTimeout
)

func (k EventKind) String() string {
	return [...]string{"none", "speech", "utterance", "discarded", "wake", "wake timeout"}[k]
}

// Event is the result of one Observe call.
type Event struct {
	Kind      EventKind
	Utterance *Utterance
	Reason    string
	// Reset asks the caller to flush the recognizer.
	Reset bool
}

// Utterance is a finalized stretch of speech. It is never modified after
// creation.
type Utterance struct {
	ID         string
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
	// Wake is set when a wake phrase was stripped from Text.
	Wake bool
}

func (u *Utterance) Duration() time.Duration { return u.End - u.Start }

// Playback reports whether the assistant is currently producing sound.
type Playback interface {
	Speaking() bool
}

var DefaultFillers = []string{"the", "a", "an", "uh", "um", "hmm", "huh", "ah", "oh", "er", "mm"}

type Config struct {
	ConfidenceFloor float64
	MaxSilence      time.Duration
	MinUtterance    time.Duration
	MaxUtterance    time.Duration
	Policy          Policy
	// RequireWake drops utterances that neither start with a wake phrase nor
	// follow a bare wake phrase within WakeWindow.
	RequireWake bool
	WakeWindow  time.Duration
	Fillers     []string
}

func DefaultConfig() Config {
	return Config{
		ConfidenceFloor: 0.3,
		MaxSilence:      1200 * time.Millisecond,
		MinUtterance:    250 * time.Millisecond,
		MaxUtterance:    20 * time.Second,
		Policy:          PolicyStrict,
		WakeWindow:      8 * time.Second,
		Fillers:         DefaultFillers,
	}
}

// Segmenter is driven by a single goroutine, once per frame.
type Segmenter struct {
	cfg      Config
	playback Playback
	wake     *WakeMatcher
	fillers  map[string]bool

	state       State
	start       time.Duration
	lastChange  time.Duration
	lastText    string
	conf        float64
	wasSpeaking bool
	armedUntil  time.Duration
}

func New(cfg Config, playback Playback, wake *WakeMatcher) *Segmenter {
	def := DefaultConfig()
	if cfg.MaxSilence <= 0 {
		cfg.MaxSilence = def.MaxSilence
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = def.MaxUtterance
	}
	if cfg.WakeWindow <= 0 {
		cfg.WakeWindow = def.WakeWindow
	}
	if cfg.Fillers == nil {
		cfg.Fillers = def.Fillers
	}

	s := &Segmenter{
		cfg:      cfg,
		playback: playback,
		wake:     wake,
		fillers:  make(map[string]bool, len(cfg.Fillers)),
	}
	for _, f := range cfg.Fillers {
		s.fillers[strings.ToLower(f)] = true
	}
	return s
}

func (s *Segmenter) State() State { return s.state }

// Abort drops the open segment without emitting anything.
func (s *Segmenter) Abort() {
	if s.state != Silent {
		log.Debug("Segment aborted", "text", s.lastText)
	}
	s.clear()
}

func (s *Segmenter) clear() {
	s.state = Silent
	s.lastText = ""
	s.conf = 0
	s.start = 0
	s.lastChange = 0
}

// Observe consumes the recognizer output for the frame ending at at. p is
// nil when the frame produced no new transcript.
func (s *Segmenter) Observe(p *stt.Partial, at time.Duration) Event {
	if s.playback != nil && s.playback.Speaking() {
		return s.observeSpeaking(p)
	}
	if s.wasSpeaking {
		// whatever the recognizer holds now was heard over our own voice
		s.wasSpeaking = false
		s.clear()
		return Event{Reset: true}
	}

	if p != nil {
		text := strings.TrimSpace(p.Text)

		switch s.state {
		case Silent:
			if !s.meaningful(text) || p.Confidence < s.cfg.ConfidenceFloor {
				return s.expire(at)
			}
			s.state = SpeechDetected
			s.start = max(0, at-p.Span)
			s.lastChange = at
			s.lastText = text
			s.conf = p.Confidence
			if p.IsFinal {
				// an engine final with no span was endpointed by the engine
				// itself; its length is unknown, not short
				return s.finalize(text, at, true, p.Span > 0)
			}
			return Event{Kind: EventSpeechStarted}

		case SpeechDetected:
			if text != "" && text != s.lastText {
				s.lastText = text
				s.lastChange = at
				s.conf = p.Confidence
			}
			if p.IsFinal {
				if text != "" {
					s.conf = p.Confidence
				}
				return s.finalize(text, at, true, true)
			}
		}
	}

	if s.state == SpeechDetected {
		if at-s.lastChange >= s.cfg.MaxSilence {
			return s.finalize("", at, false, true)
		}
		if at-s.start >= s.cfg.MaxUtterance {
			return s.finalize("", at, false, true)
		}
	}

	return s.expire(at)
}

// expire closes the wake window once it passes with no speech under way.
func (s *Segmenter) expire(at time.Duration) Event {
	if s.state != Silent || s.armedUntil == 0 || at <= s.armedUntil {
		return Event{}
	}
	s.armedUntil = 0
	log.Debug("Wake window expired")
	return Event{Kind: EventWakeTimeout}
}

func (s *Segmenter) observeSpeaking(p *stt.Partial) Event {
	s.wasSpeaking = true
	if s.state != Silent {
		log.Debug("Segment dropped during playback", "text", s.lastText)
		s.clear()
	}

	if s.cfg.Policy != PolicyWake || p == nil {
		return Event{}
	}
	if ok, _ := s.wake.MatchAnywhere(p.Text); ok {
		return Event{Kind: EventWake, Reset: true}
	}
	return Event{}
}

// finalize closes the open segment. finalText falls back to the last partial.
// engineFinal means the recognizer already cleared its own state. checkLength
// is false when the segment's start is unknown.
func (s *Segmenter) finalize(finalText string, at time.Duration, engineFinal, checkLength bool) Event {
	s.state = Finalizing

	text := finalText
	if text == "" {
		text = s.lastText
	}
	start, conf := s.start, s.conf
	s.clear()

	ev := Event{Reset: !engineFinal}

	if checkLength && at-start < s.cfg.MinUtterance {
		ev.Kind = EventDiscarded
		ev.Reason = "too short"
		return ev
	}

	wake, rest := s.wake.Match(text)
	if wake {
		text = rest
	}

	// speech that began inside the window counts even if it ends after
	armed := s.armedUntil > 0 && start <= s.armedUntil
	if wake && text == "" {
		s.armedUntil = at + s.cfg.WakeWindow
		ev.Kind = EventWake
		return ev
	}
	if s.cfg.RequireWake {
		if !wake && !armed {
			ev.Kind = EventDiscarded
			ev.Reason = "no wake phrase"
			return ev
		}
	}
	s.armedUntil = 0

	ev.Kind = EventUtterance
	ev.Utterance = &Utterance{
		ID:         uuid.NewString(),
		Text:       text,
		Start:      start,
		End:        at,
		Confidence: conf,
		Wake:       wake,
	}
	return ev
}

// meaningful reports whether text has at least one word outside the filler
// set.
func (s *Segmenter) meaningful(text string) bool {
	return slices.ContainsFunc(strings.Fields(strings.ToLower(text)), func(w string) bool {
		w = strings.Trim(w, wakeTrim)
		return w != "" && !s.fillers[w]
	})
}
