package intent

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrZloHex/vox/pkg/util"
)

// ErrEmptyCatalog is returned when no intent survived validation.
var ErrEmptyCatalog = errors.New("intent catalog is empty")

// Catalog is the parsed intents file. Intents keep file order; that order is
// the tie-break order of the resolver.
type Catalog struct {
	Intents []IntentSpec
	Actions []ActionSpec
	// Warnings lists entries that were rejected or look suspicious.
	Warnings []string
}

type IntentSpec struct {
	Name      string
	Action    string
	Exemplars []ExemplarSpec
}

type ExemplarSpec struct {
	Phrase  string `yaml:"phrase"`
	Pattern string `yaml:"pattern"`
}

// UnmarshalYAML accepts either a bare phrase or a phrase/pattern mapping.
func (e *ExemplarSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.Phrase = n.Value
		return nil
	}
	type plain ExemplarSpec
	return n.Decode((*plain)(e))
}

// ActionSpec declares what an intent does. At most one of Builtin, Exec, Hub
// and Ask is set; with none of them the action only speaks Response.
type ActionSpec struct {
	Name     string        `yaml:"-"`
	Response string        `yaml:"response"`
	Error    string        `yaml:"error"`
	Builtin  string        `yaml:"builtin"`
	Exec     []string      `yaml:"exec"`
	Hub      []string      `yaml:"hub"`
	Ask      string        `yaml:"ask"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (a ActionSpec) kinds() int {
	n := 0
	for _, set := range []bool{a.Builtin != "", len(a.Exec) > 0, len(a.Hub) > 0, a.Ask != ""} {
		if set {
			n++
		}
	}
	return n
}

type rawCatalog struct {
	Intents yaml.Node `yaml:"intents"`
	Actions yaml.Node `yaml:"actions"`
}

type rawIntent struct {
	Action    string         `yaml:"action"`
	Exemplars []ExemplarSpec `yaml:"exemplars"`
}

func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := ParseCatalog(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog reads a catalog. Malformed intents, exemplars and actions are
// dropped with a warning; only an unreadable document or a catalog without a
// single usable intent is an error.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var raw rawCatalog
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{}
	c.parseActions(&raw.Actions)
	c.parseIntents(&raw.Intents)

	if len(c.Intents) == 0 {
		return c, ErrEmptyCatalog
	}
	return c, nil
}

func (c *Catalog) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Catalog) parseIntents(n *yaml.Node) {
	if n.Kind == 0 {
		return
	}
	if n.Kind != yaml.MappingNode {
		c.warnf("line %d: intents must be a mapping", n.Line)
		return
	}

	seen := make(map[string]bool)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		name := strings.TrimSpace(key.Value)

		if name == "" {
			c.warnf("line %d: intent without a name", key.Line)
			continue
		}
		if seen[name] {
			c.warnf("intent %q: duplicate definition on line %d ignored", name, key.Line)
			continue
		}

		var ri rawIntent
		if err := val.Decode(&ri); err != nil {
			c.warnf("intent %q: %v", name, err)
			continue
		}
		if strings.TrimSpace(ri.Action) == "" {
			c.warnf("intent %q: missing action", name)
			continue
		}

		spec := IntentSpec{Name: name, Action: strings.TrimSpace(ri.Action)}
		for j, ex := range ri.Exemplars {
			ex.Phrase = strings.TrimSpace(ex.Phrase)
			if ex.Phrase == "" {
				c.warnf("intent %q: exemplar %d is empty", name, j)
				continue
			}
			if ex.Pattern != "" {
				if _, err := compilePattern(ex.Pattern); err != nil {
					c.warnf("intent %q: exemplar %q: bad pattern: %v", name, ex.Phrase, err)
					continue
				}
			}
			spec.Exemplars = append(spec.Exemplars, ex)
		}
		if len(spec.Exemplars) == 0 {
			c.warnf("intent %q: no usable exemplars", name)
			continue
		}

		seen[name] = true
		c.Intents = append(c.Intents, spec)
	}
}

func (c *Catalog) parseActions(n *yaml.Node) {
	if n.Kind == 0 {
		return
	}
	if n.Kind != yaml.MappingNode {
		c.warnf("line %d: actions must be a mapping", n.Line)
		return
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]

		var a ActionSpec
		if err := val.Decode(&a); err != nil {
			c.warnf("action %q: %v", key.Value, err)
			continue
		}
		a.Name = strings.TrimSpace(key.Value)
		if a.kinds() > 1 {
			c.warnf("action %q: only one of builtin, exec, hub, ask may be set", a.Name)
			continue
		}
		if a.kinds() == 0 && a.Response == "" {
			c.warnf("action %q: nothing to do and nothing to say", a.Name)
			continue
		}
		if len(a.Hub) > 0 && len(a.Hub) < 3 {
			c.warnf("action %q: hub needs at least [TO, VERB, NOUN]", a.Name)
			continue
		}
		c.Actions = append(c.Actions, a)
	}
}

// Action returns the declared action with the given name.
func (c *Catalog) Action(name string) (ActionSpec, bool) {
	for _, a := range c.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionSpec{}, false
}

// Diff names intents that were added, removed or changed between c and next.
func (c *Catalog) Diff(next *Catalog) (added, removed, changed []string) {
	old := make(map[string]IntentSpec, len(c.Intents))
	for _, it := range c.Intents {
		old[it.Name] = it
	}

	for _, it := range next.Intents {
		prev, ok := old[it.Name]
		if !ok {
			added = append(added, it.Name)
			continue
		}
		delete(old, it.Name)

		same := prev.Action == it.Action && util.EqualSlices(prev.Exemplars, it.Exemplars,
			func(x, y ExemplarSpec) bool { return x == y }, false)
		if !same {
			changed = append(changed, it.Name)
		}
	}

	for _, it := range c.Intents {
		if _, gone := old[it.Name]; gone {
			removed = append(removed, it.Name)
		}
	}
	return added, removed, changed
}

// flagGroup matches a leading flag group such as (?i) or (?-i), but not a
// named or non-capturing group.
var flagGroup = regexp.MustCompile(`^\(\?-?[imsU]+(-[imsU]+)?\)`)

// compilePattern makes slot patterns case-insensitive unless they set their
// own flags.
func compilePattern(p string) (*regexp.Regexp, error) {
	if !flagGroup.MatchString(p) {
		p = "(?i)" + p
	}
	return regexp.Compile(p)
}
