package action

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrZloHex/vox/internal/intent"
)

func newDispatcher(t *testing.T) (*Dispatcher, *Registry) {
	t.Helper()
	reg := NewRegistry()
	b := Builtins{Now: func() time.Time { return time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC) }}
	if err := b.Register(reg, DefaultPhrases()); err != nil {
		t.Fatalf("Register builtins: %v", err)
	}
	return NewDispatcher(reg, DefaultPhrases()), reg
}

func TestDispatchLightScenario(t *testing.T) {
	d, reg := newDispatcher(t)

	var got Request
	err := reg.Register("lights.on", HandlerFunc(func(_ context.Context, req Request) (Result, error) {
		got = req
		return Result{}, nil
	}), WithResponse("Turning on the light."))
	if err != nil {
		t.Fatal(err)
	}

	resp := d.Dispatch(context.Background(), intent.Match{
		OK: true, Intent: "turn_on_light", Action: "lights.on",
		Text: "please turn on the light", Score: 0.89,
	})
	if resp.Phrase != "Turning on the light." || resp.Fallback || resp.Err != nil {
		t.Fatalf("response = %+v", resp)
	}
	if got.Action != "lights.on" || got.Text != "please turn on the light" || got.Slots == nil {
		t.Fatalf("handler request = %+v", got)
	}
}

func TestDispatchNoMatch(t *testing.T) {
	d, _ := newDispatcher(t)
	resp := d.Dispatch(context.Background(), intent.Match{Text: "what's the weather in Narnia"})
	if resp.Phrase != "Sorry, I didn't understand that." || resp.Action != NotUnderstood || !resp.Fallback {
		t.Fatalf("response = %+v", resp)
	}
}

func TestDispatchNoMatchWithoutFallbackRegistered(t *testing.T) {
	d := NewDispatcher(NewRegistry(), DefaultPhrases())
	resp := d.Dispatch(context.Background(), intent.Match{})
	if resp.Phrase != DefaultPhrases().NotUnderstood {
		t.Fatalf("response = %+v", resp)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	d, _ := newDispatcher(t)
	resp := d.Dispatch(context.Background(), intent.Match{OK: true, Intent: "fly", Action: "plane.takeoff"})
	if resp.Action != NotActionable || resp.Phrase != DefaultPhrases().NotActionable || !resp.Fallback {
		t.Fatalf("response = %+v", resp)
	}
}

func TestDispatchHandlerFailure(t *testing.T) {
	d, reg := newDispatcher(t)
	reg.Register("broken", HandlerFunc(func(context.Context, Request) (Result, error) {
		return Result{}, errors.New("relay stuck")
	}))
	reg.Register("broken.custom", HandlerFunc(func(context.Context, Request) (Result, error) {
		return Result{}, errors.New("relay stuck")
	}), WithErrorPhrase("The lamp is not answering."))

	resp := d.Dispatch(context.Background(), intent.Match{OK: true, Action: "broken"})
	if resp.Phrase != DefaultPhrases().Apology || resp.Err == nil || !resp.Fallback {
		t.Fatalf("response = %+v", resp)
	}

	resp = d.Dispatch(context.Background(), intent.Match{OK: true, Action: "broken.custom"})
	if resp.Phrase != "The lamp is not answering." {
		t.Fatalf("response = %+v", resp)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	d, reg := newDispatcher(t)
	reg.Register("panics", HandlerFunc(func(context.Context, Request) (Result, error) {
		var m map[string]int
		m["x"] = 1
		return Result{}, nil
	}))

	resp := d.Dispatch(context.Background(), intent.Match{OK: true, Action: "panics"})
	if resp.Phrase != DefaultPhrases().Apology || resp.Err == nil || !strings.Contains(resp.Err.Error(), "panic") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestDispatchTimeout(t *testing.T) {
	d, reg := newDispatcher(t)
	reg.Register("slow", HandlerFunc(func(ctx context.Context, _ Request) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}), WithTimeout(20*time.Millisecond))

	resp := d.Dispatch(context.Background(), intent.Match{OK: true, Action: "slow"})
	if !errors.Is(resp.Err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", resp.Err)
	}
}

func TestResponseTemplate(t *testing.T) {
	d, reg := newDispatcher(t)
	reg.Register("lights.room", HandlerFunc(func(context.Context, Request) (Result, error) {
		return Result{Data: map[string]any{"level": 80}}, nil
	}), WithResponse("Turning on the {{.Slots.room}} light at {{.Data.level}} percent."))

	resp := d.Dispatch(context.Background(), intent.Match{
		OK: true, Action: "lights.room", Slots: map[string]string{"room": "kitchen"},
	})
	if resp.Phrase != "Turning on the kitchen light at 80 percent." {
		t.Fatalf("phrase = %q", resp.Phrase)
	}

	// missing slot renders empty
	resp = d.Dispatch(context.Background(), intent.Match{OK: true, Action: "lights.room"})
	if resp.Phrase != "Turning on the  light at 80 percent." {
		t.Fatalf("phrase = %q", resp.Phrase)
	}
}

func TestBadTemplateRejected(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("x", phrase("hi"), WithResponse("{{.Slots.room")); err == nil {
		t.Fatal("expected template error")
	}
	if _, ok := reg.Lookup("x"); ok {
		t.Fatal("action with a bad template was registered")
	}
}

func TestRegistryOrderAndReplace(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", phrase("1"))
	reg.Register("a", phrase("2"))
	reg.Register("b", phrase("3"))

	names := reg.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Fatalf("Names = %v", names)
	}
	a, _ := reg.Lookup("b")
	res, _ := a.Handler.Handle(context.Background(), Request{})
	if res.Phrase != "3" {
		t.Fatalf("replaced handler says %q", res.Phrase)
	}
}

func TestBuiltins(t *testing.T) {
	d, _ := newDispatcher(t)
	tests := []struct {
		action string
		want   string
	}{
		{ClockTime, "It's 2:07 PM."},
		{ClockDay, "It's Tuesday."},
		{ClockDate, "It's March 5, 2024."},
		{Greeting, "Hello! How can I help you today?"},
		{WeatherReport, "I'm sorry, but I can't fetch the weather yet."},
		{SpeechStop, ""},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), intent.Match{OK: true, Action: tt.action})
			if resp.Phrase != tt.want {
				t.Errorf("phrase = %q, want %q", resp.Phrase, tt.want)
			}
		})
	}
}
