package action

import (
	"context"
	"time"
)

// Built-in action names.
const (
	Greeting      = "greeting"
	ClockTime     = "clock.time"
	ClockDay      = "clock.day"
	ClockDate     = "clock.date"
	WeatherReport = "weather.report"
	SpeechStop    = "speech.stop"
)

// Builtins are the handlers that need no configuration.
type Builtins struct {
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	// Weather is the canned weather answer.
	Weather string
}

func (b Builtins) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

// Handler returns the built-in called name.
func (b Builtins) Handler(name string) (Handler, bool) {
	switch name {
	case Greeting:
		return phrase("Hello! How can I help you today?"), true
	case ClockTime:
		return b.clock("time", "3:04 PM"), true
	case ClockDay:
		return b.clock("day", "Monday"), true
	case ClockDate:
		return b.clock("date", "January 2, 2006"), true
	case WeatherReport:
		w := b.Weather
		if w == "" {
			w = "I'm sorry, but I can't fetch the weather yet."
		}
		return phrase(w), true
	case SpeechStop:
		// nothing to say; the wake that led here already cut playback
		return phrase(""), true
	}
	return nil, false
}

// Register adds every built-in plus the two fallbacks to reg.
func (b Builtins) Register(reg *Registry, phrases Phrases) error {
	for _, name := range []string{Greeting, ClockTime, ClockDay, ClockDate, WeatherReport, SpeechStop} {
		h, _ := b.Handler(name)
		if err := reg.Register(name, h); err != nil {
			return err
		}
	}
	if err := reg.Register(NotUnderstood, phrase(phrases.NotUnderstood)); err != nil {
		return err
	}
	return reg.Register(NotActionable, phrase(phrases.NotActionable))
}

func (b Builtins) clock(key, layout string) Handler {
	return HandlerFunc(func(context.Context, Request) (Result, error) {
		v := b.now().Format(layout)
		return Result{Phrase: "It's " + v + ".", Data: map[string]any{key: v}}, nil
	})
}

func phrase(s string) Handler {
	return HandlerFunc(func(context.Context, Request) (Result, error) {
		return Result{Phrase: s}, nil
	})
}
