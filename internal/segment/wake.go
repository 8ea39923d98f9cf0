package segment

import (
	"strings"
)

const wakeTrim = " ,.!?;:-\"'`~"

// WakeMatcher finds a wake phrase in a transcript, ignoring case and
// punctuation.
type WakeMatcher struct {
	phrases [][]string
	// Window is how many leading words the phrase may be preceded by, to
	// tolerate recognizer noise like "uh hey vox".
	Window int
}

func NewWakeMatcher(phrases []string, window int) *WakeMatcher {
	w := &WakeMatcher{Window: window}
	for _, p := range phrases {
		if words := tokens(p); len(words) > 0 {
			w.phrases = append(w.phrases, words)
		}
	}
	return w
}

func (w *WakeMatcher) Empty() bool { return w == nil || len(w.phrases) == 0 }

// Match reports whether text starts with a wake phrase (within Window
// words) and returns the words after it.
func (w *WakeMatcher) Match(text string) (bool, string) {
	if w == nil {
		return false, ""
	}
	return w.find(text, w.Window)
}

// MatchAnywhere is Match without the position limit.
func (w *WakeMatcher) MatchAnywhere(text string) (bool, string) {
	return w.find(text, -1)
}

func (w *WakeMatcher) find(text string, window int) (bool, string) {
	if w.Empty() {
		return false, ""
	}

	raw := strings.Fields(text)
	words := make([]string, len(raw))
	for i, r := range raw {
		words[i] = normalize(r)
	}

	for _, phrase := range w.phrases {
		last := len(words) - len(phrase)
		if window >= 0 {
			last = min(last, window)
		}
		for i := 0; i <= last; i++ {
			if !hasPrefix(words[i:], phrase) {
				continue
			}
			rest := strings.Join(raw[i+len(phrase):], " ")
			return true, strings.Trim(rest, wakeTrim)
		}
	}
	return false, ""
}

func hasPrefix(words, phrase []string) bool {
	for j, p := range phrase {
		if words[j] != p {
			return false
		}
	}
	return true
}

func tokens(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if n := normalize(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalize(tok string) string {
	return strings.Trim(strings.ToLower(tok), wakeTrim)
}
