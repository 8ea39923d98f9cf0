// Package action maps resolved intents to side effects and the phrase the
// assistant answers with.
package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/MrZloHex/vox/internal/intent"
)

var ErrUnknownAction = errors.New("unknown action")

// Fixed actions the dispatcher falls back to.
const (
	NotUnderstood = "system.not_understood"
	NotActionable = "system.not_actionable"
)

// Request is what a handler gets to act on.
type Request struct {
	Intent string
	Action string
	Text   string
	Slots  map[string]string
	Score  float64
}

// Result carries the handler's own phrase and any values for the response
// template.
type Result struct {
	Phrase string
	Data   map[string]any
}

type Handler interface {
	Handle(ctx context.Context, req Request) (Result, error)
}

type HandlerFunc func(ctx context.Context, req Request) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

// Action is a named handler plus how to phrase its outcome.
type Action struct {
	Name        string
	Handler     Handler
	Response    *template.Template
	ErrorPhrase string
	Timeout     time.Duration
}

type Option func(*Action) error

// WithResponse sets a text/template rendered with .Slots, .Data, .Phrase,
// .Text and .Intent.
func WithResponse(tmpl string) Option {
	return func(a *Action) error {
		if tmpl == "" {
			return nil
		}
		t, err := template.New(a.Name).Option("missingkey=zero").Parse(tmpl)
		if err != nil {
			return fmt.Errorf("action %s: response template: %w", a.Name, err)
		}
		a.Response = t
		return nil
	}
}

// WithErrorPhrase replaces the generic apology when the handler fails.
func WithErrorPhrase(phrase string) Option {
	return func(a *Action) error {
		a.ErrorPhrase = phrase
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(a *Action) error {
		a.Timeout = d
		return nil
	}
}

// Registry holds actions in registration order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Action
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Action)}
}

// Register adds or replaces the action called name. A replaced action keeps
// its original position.
func (r *Registry) Register(name string, h Handler, opts ...Option) error {
	if name == "" || h == nil {
		return fmt.Errorf("register %q: name and handler are required", name)
	}

	a := &Action{Name: name, Handler: h}
	for _, o := range opts {
		if err := o(a); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		r.order = append(r.order, name)
	}
	r.byName[name] = a
	return nil
}

func (r *Registry) Lookup(name string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Phrases the dispatcher and the pipeline say on their own.
type Phrases struct {
	NotUnderstood string
	NotActionable string
	Apology       string
	ResolveFailed string
	Busy          string
	// TooSlow follows a wake phrase that nothing was said after.
	TooSlow string
}

func DefaultPhrases() Phrases {
	return Phrases{
		NotUnderstood: "Sorry, I didn't understand that.",
		NotActionable: "Sorry, I can't do that yet.",
		Apology:       "Sorry, something went wrong.",
		ResolveFailed: "There was a problem with the intent recognizer. Please try again.",
		Busy:          "Hold on, I'm still working on that.",
		TooSlow:       "You took too long to speak, sorry. Please try again.",
	}
}

// Response is the dispatcher's answer. An empty Phrase means nothing is
// spoken.
type Response struct {
	Phrase string
	Action string
	// Fallback is set when the phrase did not come from the matched action.
	Fallback bool
	Err      error
}

type Dispatcher struct {
	reg     *Registry
	phrases Phrases
}

func NewDispatcher(reg *Registry, phrases Phrases) *Dispatcher {
	return &Dispatcher{reg: reg, phrases: phrases}
}

func (d *Dispatcher) Phrases() Phrases { return d.phrases }

func (d *Dispatcher) Registry() *Registry { return d.reg }

// Dispatch runs the action bound to m. It never panics and always yields a
// response: NoMatch goes to the not-understood action, unknown actions to
// the not-actionable one, and handler failures become an apology.
func (d *Dispatcher) Dispatch(ctx context.Context, m intent.Match) Response {
	req := Request{
		Intent: m.Intent,
		Action: m.Action,
		Text:   m.Text,
		Slots:  m.Slots,
		Score:  m.Score,
	}
	if req.Slots == nil {
		req.Slots = map[string]string{}
	}

	name, fallback := m.Action, false
	if !m.OK {
		name, fallback = NotUnderstood, true
	}

	a, ok := d.reg.Lookup(name)
	if !ok {
		switch name {
		case NotUnderstood:
			return Response{Phrase: d.phrases.NotUnderstood, Action: NotUnderstood, Fallback: true}
		case NotActionable:
			return Response{Phrase: d.phrases.NotActionable, Action: NotActionable, Fallback: true}
		}
		log.Warn("Intent has no action", "intent", m.Intent, "action", name)
		resp := d.Dispatch(ctx, intent.Match{OK: true, Intent: m.Intent, Action: NotActionable, Text: m.Text})
		resp.Fallback = true
		return resp
	}

	res, err := d.invoke(ctx, a, req)
	if err != nil {
		return d.failed(a, fmt.Errorf("%s: %w", a.Name, err))
	}

	phrase := res.Phrase
	if a.Response != nil {
		phrase, err = render(a.Response, req, res)
		if err != nil {
			return d.failed(a, err)
		}
	}

	return Response{Phrase: phrase, Action: a.Name, Fallback: fallback}
}

func (d *Dispatcher) failed(a *Action, err error) Response {
	log.Error("Action failed", "action", a.Name, "err", err)
	phrase := a.ErrorPhrase
	if phrase == "" {
		phrase = d.phrases.Apology
	}
	return Response{Phrase: phrase, Action: a.Name, Fallback: true, Err: err}
}

func (d *Dispatcher) invoke(ctx context.Context, a *Action, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	return a.Handler.Handle(ctx, req)
}

func render(t *template.Template, req Request, res Result) (string, error) {
	if res.Data == nil {
		res.Data = map[string]any{}
	}
	data := map[string]any{
		"Slots":  req.Slots,
		"Data":   res.Data,
		"Phrase": res.Phrase,
		"Text":   req.Text,
		"Intent": req.Intent,
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render response: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
