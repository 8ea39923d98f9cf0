package action

import (
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/sony/gobreaker"

	"github.com/MrZloHex/vox/internal/intent"
)

// Deps are the collaborators catalog actions may need. A nil Hub or Ask
// disables that kind of action.
type Deps struct {
	Builtins Builtins
	Hub      Requester
	Breaker  *gobreaker.CircuitBreaker
	Ask      *openai.Client
	AskModel string
}

// Configure registers every catalog action on reg. Actions that cannot be
// built are skipped and reported as warnings.
func Configure(reg *Registry, specs []intent.ActionSpec, deps Deps) []string {
	var warnings []string
	for _, spec := range specs {
		h, err := build(spec, deps)
		if err == nil {
			err = reg.Register(spec.Name, h,
				WithResponse(spec.Response),
				WithErrorPhrase(spec.Error),
				WithTimeout(spec.Timeout),
			)
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("action %q: %v", spec.Name, err))
		}
	}
	return warnings
}

func build(spec intent.ActionSpec, deps Deps) (Handler, error) {
	switch {
	case spec.Builtin != "":
		h, ok := deps.Builtins.Handler(spec.Builtin)
		if !ok {
			return nil, fmt.Errorf("%w: builtin %q", ErrUnknownAction, spec.Builtin)
		}
		return h, nil

	case len(spec.Exec) > 0:
		return NewExec(spec.Exec)

	case len(spec.Hub) > 0:
		if deps.Hub == nil {
			return nil, fmt.Errorf("hub actions need a hub url")
		}
		return NewHub(deps.Hub, spec.Hub, deps.Breaker)

	case spec.Ask != "":
		if deps.Ask == nil {
			return nil, fmt.Errorf("ask actions need an API key")
		}
		prompt := spec.Ask
		if prompt == "default" {
			prompt = ""
		}
		return NewAsk(*deps.Ask, deps.AskModel, prompt), nil
	}

	return phrase(spec.Response), nil
}

// Unbound lists intents whose action is not registered.
func Unbound(reg *Registry, c *intent.Catalog) []string {
	var out []string
	for _, it := range c.Intents {
		if _, ok := reg.Lookup(it.Action); !ok {
			out = append(out, fmt.Sprintf("intent %q: action %q is not registered", it.Name, it.Action))
		}
	}
	return out
}
