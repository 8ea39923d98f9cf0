package intent

import "regexp"

// SlotExtractor pulls named parameters out of an accepted utterance. ok is
// false when the text does not fit.
type SlotExtractor interface {
	Extract(text string) (slots map[string]string, ok bool)
}

// RegexpSlots extracts the named groups of a case-insensitive pattern.
type RegexpSlots struct {
	re *regexp.Regexp
}

func NewRegexpSlots(pattern string) (*RegexpSlots, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexpSlots{re: re}, nil
}

func (r *RegexpSlots) Extract(text string) (map[string]string, bool) {
	m := r.re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}

	slots := make(map[string]string)
	for i, name := range r.re.SubexpNames() {
		if name != "" && m[i] != "" {
			slots[name] = m[i]
		}
	}
	return slots, true
}

func (r *RegexpSlots) String() string { return r.re.String() }
