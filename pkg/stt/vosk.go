package stt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/MrZloHex/vox/pkg/pcm"
)

// Vosk is a streaming Kaldi recognizer.
type Vosk struct {
	model *vosk.VoskModel
	rec   *vosk.VoskRecognizer
	rate  int
	last  string
}

// NewVosk loads the model directory once. The recognizer accepts frames at
// sampleRate only.
func NewVosk(modelDir string, sampleRate int) (*Vosk, error) {
	vosk.SetLogLevel(-1)

	model, err := vosk.NewModel(modelDir)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %s: %w", modelDir, err)
	}

	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("new vosk recognizer: %w", err)
	}
	rec.SetWords(1)

	return &Vosk{model: model, rec: rec, rate: sampleRate}, nil
}

func (v *Vosk) Feed(f pcm.Frame) (*Partial, error) {
	if f.SampleRate != v.rate {
		return nil, fmt.Errorf("%w: frame rate %d, recognizer rate %d", ErrDecode, f.SampleRate, v.rate)
	}

	switch v.rec.AcceptWaveform(f.Bytes()) {
	case 1:
		p, err := parseFinal(v.rec.Result())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		v.last = ""
		return &p, nil
	case 0:
		text, err := parsePartial(v.rec.PartialResult())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if text == v.last {
			return nil, nil
		}
		v.last = text
		return &Partial{Text: text, Confidence: 1}, nil
	default:
		return nil, fmt.Errorf("%w: vosk rejected waveform", ErrDecode)
	}
}

func (v *Vosk) Reset() {
	v.rec.Reset()
	v.last = ""
}

func (v *Vosk) Close() error {
	if v.rec != nil {
		v.rec.Free()
		v.rec = nil
	}
	if v.model != nil {
		v.model.Free()
		v.model = nil
	}
	return nil
}

type voskWord struct {
	Conf  float64 `json:"conf"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

type voskResult struct {
	Text    string     `json:"text"`
	Partial string     `json:"partial"`
	Result  []voskWord `json:"result"`
}

// parseFinal turns a vosk Result() document into a final Partial with the
// mean word confidence. Span runs from the first word's start to the last
// word's end.
func parseFinal(doc string) (Partial, error) {
	var r voskResult
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return Partial{}, fmt.Errorf("parse vosk result: %w", err)
	}

	p := Partial{
		Text:       strings.TrimSpace(r.Text),
		Confidence: 1,
		IsFinal:    true,
	}
	if len(r.Result) > 0 {
		var sum float64
		for _, w := range r.Result {
			sum += w.Conf
		}
		p.Confidence = sum / float64(len(r.Result))

		first, last := r.Result[0], r.Result[len(r.Result)-1]
		if last.End > first.Start {
			p.Span = time.Duration((last.End - first.Start) * float64(time.Second))
		}
	}
	return p, nil
}

func parsePartial(doc string) (string, error) {
	var r voskResult
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return "", fmt.Errorf("parse vosk partial: %w", err)
	}
	return strings.TrimSpace(r.Partial), nil
}
