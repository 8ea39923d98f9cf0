package action

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/sony/gobreaker"

	"github.com/MrZloHex/vox/pkg/protocol"
)

// Requester sends one hub request and returns its reply.
type Requester interface {
	Request(ctx context.Context, fields []string) (*protocol.Message, error)
}

// NewHubBreaker trips after repeated hub failures so an unplugged hub costs
// one fast apology instead of a timeout per utterance.
func NewHubBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// Hub sends [TO, VERB, NOUN, ARGS...] to the device hub. Fields are
// templates over .Slots and must render to protocol tokens.
type Hub struct {
	ptcl    Requester
	fields  []*template.Template
	breaker *gobreaker.CircuitBreaker
}

func NewHub(ptcl Requester, fields []string, breaker *gobreaker.CircuitBreaker) (*Hub, error) {
	if len(fields) < 3 {
		return nil, fmt.Errorf("hub: need at least TO, VERB and NOUN")
	}
	h := &Hub{ptcl: ptcl, breaker: breaker}
	for i, f := range fields {
		t, err := template.New(fmt.Sprintf("field%d", i)).Option("missingkey=zero").Parse(f)
		if err != nil {
			return nil, fmt.Errorf("hub: field %d: %w", i, err)
		}
		h.fields = append(h.fields, t)
	}
	return h, nil
}

func (h *Hub) Handle(ctx context.Context, req Request) (Result, error) {
	data := map[string]any{"Slots": req.Slots, "Text": req.Text}

	fields := make([]string, len(h.fields))
	for i, t := range h.fields {
		var b strings.Builder
		if err := t.Execute(&b, data); err != nil {
			return Result{}, fmt.Errorf("hub: render field %d: %w", i, err)
		}
		f := strings.ToUpper(strings.TrimSpace(b.String()))
		if !protocol.IsToken(f) {
			return Result{}, fmt.Errorf("hub: field %d %q is not a valid token", i, f)
		}
		fields[i] = f
	}

	send := func() (*protocol.Message, error) {
		reply, err := h.ptcl.Request(ctx, fields)
		if err != nil {
			return nil, err
		}
		if reply.IsError() {
			return reply, fmt.Errorf("hub replied %s", reply)
		}
		return reply, nil
	}

	var (
		reply *protocol.Message
		err   error
	)
	if h.breaker != nil {
		var v any
		v, err = h.breaker.Execute(func() (any, error) { return send() })
		reply, _ = v.(*protocol.Message)
	} else {
		reply, err = send()
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		return Result{}, fmt.Errorf("hub unavailable: %w", err)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{Data: map[string]any{
		"reply": reply.Verb,
		"noun":  reply.Noun,
		"args":  strings.Join(reply.Args, " "),
		"from":  reply.From,
	}}, nil
}
