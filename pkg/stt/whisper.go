package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrZloHex/vox/pkg/pcm"
)

type Options struct {
	Language        string        // e.g. "auto", "en", "ru"
	TranslateToEn   bool          // if true, translate non-EN -> EN
	Threads         int           // <=0 => NumCPU()
	InitialPrompt   string        // optional system/prefix prompt
	MaxTokens       uint          // 0 = no limit
	MaxSegmentChars uint          // 0 = default
	BeamSize        int           // 0 = default (greedy); >0 enables beam search
	AudioCtx        uint          // encoder audio ctx size; 0 = default
	SplitOnWord     bool          // split on word boundaries
	EntropyThold    float32       // 0 = default
	TokenSumThold   float32       // 0 = default
	Temperature     float32       // 0 = default
	TemperatureStep float32       // 0 = default
	Duration        time.Duration // max duration (optional)
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
	// Confidence is the mean token probability over all segments.
	Confidence float64
}

type Transcriber struct {
	model whisper.Model
}

func NewTranscriber(modelPath string) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Transcriber{model: m}, nil
}

func (t *Transcriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// TranscribePCM runs one batch inference. pcm16k must be mono 16 kHz float32
// in [-1, 1].
func (t *Transcriber) TranscribePCM(ctx context.Context, pcm16k []float32, opt Options) (Result, error) {
	if t.model == nil {
		return Result{}, errors.New("nil model")
	}
	if len(pcm16k) == 0 {
		return Result{}, errors.New("no audio samples provided")
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}
	if err := configure(wctx, opt); err != nil {
		return Result{}, err
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var (
		res    Result
		texts  []string
		probs  float64
		tokens int
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}

		text := strings.TrimSpace(s.Text)
		res.Segments = append(res.Segments, Segment{
			Text:     text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		if text != "" {
			texts = append(texts, text)
		}
		for _, tok := range s.Tokens {
			probs += float64(tok.P)
			tokens++
		}
	}

	res.Text = strings.Join(texts, " ")
	res.Confidence = 1
	if tokens > 0 {
		res.Confidence = probs / float64(tokens)
	}
	res.Language = wctx.DetectedLanguage()
	if res.Language == "" {
		res.Language = wctx.Language()
	}

	return res, nil
}

func configure(wctx whisper.Context, opt Options) error {
	if opt.Language == "" {
		opt.Language = "auto"
	}
	if err := wctx.SetLanguage(opt.Language); err != nil {
		return fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(opt.TranslateToEn)

	if opt.Duration > 0 {
		wctx.SetDuration(opt.Duration)
	}

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.SplitOnWord {
		wctx.SetSplitOnWord(true)
	}
	if opt.MaxTokens > 0 {
		wctx.SetMaxTokensPerSegment(opt.MaxTokens)
	}
	if opt.MaxSegmentChars > 0 {
		wctx.SetMaxSegmentLength(opt.MaxSegmentChars)
	}
	if opt.AudioCtx > 0 {
		wctx.SetAudioCtx(opt.AudioCtx)
	}
	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.EntropyThold != 0 {
		wctx.SetEntropyThold(opt.EntropyThold)
	}
	if opt.TokenSumThold != 0 {
		wctx.SetTokenSumThreshold(opt.TokenSumThold)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}
	if opt.Temperature != 0 {
		wctx.SetTemperature(opt.Temperature)
	}
	if opt.TemperatureStep != 0 {
		wctx.SetTemperatureFallback(opt.TemperatureStep)
	}
	return nil
}

// Endpointing defaults for the whisper backend.
const (
	DefaultSpeechRMS = 0.015
	DefaultHangover  = 600 * time.Millisecond
	DefaultMaxBuffer = 15 * time.Second
	preRollFrames    = 5
	// maxBacklog bounds utterances waiting for inference.
	maxBacklog = 4
)

// ErrBacklog is returned when inference has fallen too far behind. The
// utterance that did not fit is lost.
var ErrBacklog = fmt.Errorf("%w: transcription backlog full", ErrDecode)

type WhisperConfig struct {
	Options   Options
	SpeechRMS float64       // frame RMS in [0,1] above which a frame counts as speech
	Hangover  time.Duration // trailing silence that ends an utterance
	MaxBuffer time.Duration
}

type job struct {
	audio []float32
	span  time.Duration
	gen   uint64
}

type inference struct {
	p   *Partial
	err error
	gen uint64
}

// Whisper adapts the batch transcriber to the streaming Recognizer contract.
// Speech frames are buffered by an energy endpointer; once trailing silence
// is seen the buffer goes to a background worker, and its transcript comes
// back as the final of a later Feed. Feed itself never waits for inference.
type Whisper struct {
	cfg   WhisperConfig
	infer func(ctx context.Context, samples []float32) (Result, error)
	close func() error

	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	jobs    chan job
	results chan inference
	done    chan struct{}
	// inflight counts jobs whose result has not been taken yet.
	inflight int
	// gen is bumped by Reset; older results are dropped.
	gen uint64

	preRoll  [][]float32
	buf      []float32
	speech   bool
	silence  time.Duration
	buffered time.Duration
}

func NewWhisper(modelPath string, cfg WhisperConfig) (*Whisper, error) {
	tr, err := NewTranscriber(modelPath)
	if err != nil {
		return nil, err
	}
	w := newWhisper(cfg, func(ctx context.Context, samples []float32) (Result, error) {
		return tr.TranscribePCM(ctx, samples, cfg.Options)
	})
	w.close = tr.Close
	return w, nil
}

func newWhisper(cfg WhisperConfig, infer func(context.Context, []float32) (Result, error)) *Whisper {
	if cfg.SpeechRMS <= 0 {
		cfg.SpeechRMS = DefaultSpeechRMS
	}
	if cfg.Hangover <= 0 {
		cfg.Hangover = DefaultHangover
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = DefaultMaxBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Whisper{
		cfg:     cfg,
		infer:   infer,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(chan job, maxBacklog),
		results: make(chan inference, maxBacklog),
		done:    make(chan struct{}),
	}
}

// Feed endpoints f and returns the oldest finished transcript, if any.
func (w *Whisper) Feed(f pcm.Frame) (*Partial, error) {
	if f.SampleRate != 16000 {
		return nil, fmt.Errorf("%w: whisper needs 16 kHz, got %d", ErrDecode, f.SampleRate)
	}
	if err := w.endpoint(f); err != nil {
		return nil, err
	}
	return w.poll()
}

func (w *Whisper) endpoint(f pcm.Frame) error {
	samples := f.Float32()
	loud := pcm.RMS(f.Samples) >= w.cfg.SpeechRMS

	if !w.speech {
		if !loud {
			w.preRoll = append(w.preRoll, samples)
			if len(w.preRoll) > preRollFrames {
				w.preRoll = w.preRoll[1:]
			}
			return nil
		}
		w.speech = true
		for _, p := range w.preRoll {
			w.buf = append(w.buf, p...)
			w.buffered += f.Duration()
		}
		w.preRoll = nil
	}

	w.buf = append(w.buf, samples...)
	w.buffered += f.Duration()
	if loud {
		w.silence = 0
	} else {
		w.silence += f.Duration()
	}

	if w.silence < w.cfg.Hangover && w.buffered < w.cfg.MaxBuffer {
		return nil
	}
	return w.submit()
}

// submit hands the buffered utterance to the worker.
func (w *Whisper) submit() error {
	j := job{audio: w.buf, span: w.buffered, gen: w.gen}
	w.clear()

	if w.inflight >= maxBacklog {
		return ErrBacklog
	}
	w.once.Do(func() { go w.work() })
	w.inflight++
	w.jobs <- j
	return nil
}

func (w *Whisper) work() {
	defer close(w.done)
	for j := range w.jobs {
		out := inference{gen: j.gen}
		res, err := w.infer(w.ctx, j.audio)
		if err != nil {
			out.err = fmt.Errorf("%w: %v", ErrDecode, err)
		} else {
			out.p = &Partial{
				Text:       res.Text,
				Confidence: res.Confidence,
				IsFinal:    true,
				Span:       j.span,
			}
		}
		w.results <- out
	}
}

// poll never blocks.
func (w *Whisper) poll() (*Partial, error) {
	for w.inflight > 0 {
		select {
		case r := <-w.results:
			if w.current(r) {
				return r.p, r.err
			}
		default:
			return nil, nil
		}
	}
	return nil, nil
}

// current accounts for a taken result and reports whether it survived the
// last Reset.
func (w *Whisper) current(r inference) bool {
	w.inflight--
	return r.gen == w.gen
}

// Flush transcribes whatever is buffered and waits for the oldest pending
// transcript. It returns nil once nothing is pending. Call it at the end of
// the input, repeatedly until it returns nil.
func (w *Whisper) Flush(ctx context.Context) (*Partial, error) {
	if w.speech && len(w.buf) > 0 {
		if err := w.submit(); err != nil {
			return nil, err
		}
	}
	for w.inflight > 0 {
		select {
		case r := <-w.results:
			if w.current(r) {
				return r.p, r.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, nil
}

// Reset drops the buffered audio and any transcript still being computed.
func (w *Whisper) Reset() {
	w.clear()
	w.gen++
}

func (w *Whisper) clear() {
	w.preRoll = nil
	w.buf = nil
	w.speech = false
	w.silence = 0
	w.buffered = 0
}

// Close cancels inference in progress and waits for the worker before the
// model is freed.
func (w *Whisper) Close() error {
	w.cancel()
	w.once.Do(func() { close(w.done) })
	close(w.jobs)
	<-w.done
	if w.close == nil {
		return nil
	}
	return w.close()
}
