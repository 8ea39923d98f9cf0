// Package pipeline runs the listen, resolve, act and speak loop.
//
// Three goroutines cooperate under one errgroup: the audio source fills a
// drop-oldest frame queue, the recognition loop owns the recognizer and the
// segmenter, and the control loop owns the state machine. The control loop
// runs at most one cycle worker at a time, so only one utterance is ever
// being resolved, acted on or spoken. One utterance that finalizes meanwhile
// is held and answered next.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrZloHex/vox/internal/action"
	"github.com/MrZloHex/vox/internal/audio"
	"github.com/MrZloHex/vox/internal/intent"
	"github.com/MrZloHex/vox/internal/observe"
	"github.com/MrZloHex/vox/internal/segment"
	"github.com/MrZloHex/vox/pkg/stt"
)

type Resolver interface {
	Resolve(ctx context.Context, text string) (intent.Match, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, m intent.Match) action.Response
	Phrases() action.Phrases
}

// Speaker is the synthesizer as seen by the pipeline.
type Speaker interface {
	Speak(ctx context.Context, phrase string) error
	Play(ctx context.Context, samples []int16, rate int) error
	Speaking() bool
}

type Config struct {
	// ResolveTimeout bounds resolution plus dispatch of one utterance.
	ResolveTimeout time.Duration
	// Earcon is played on a wake that interrupts nothing.
	Earcon     []int16
	EarconRate int
	// OnState observes every state change.
	OnState func(State)
}

type Deps struct {
	Source     audio.Source
	Queue      *audio.FrameQueue
	Recognizer stt.Recognizer
	Segmenter  *segment.Segmenter
	Resolver   Resolver
	Dispatcher Dispatcher
	Speaker    Speaker
	Metrics    *observe.Metrics
}

type eventKind int

const (
	evSpeech eventKind = iota
	evUtterance
	evDiscarded
	evFault
	evWake
	evWakeTimeout
)

type event struct {
	kind eventKind
	utt  *segment.Utterance
	err  error
}

type cmdKind int

const (
	cmdWake cmdKind = iota
	cmdSay
)

type command struct {
	kind   cmdKind
	phrase string
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
	// speaking is set once the worker starts producing sound.
	speaking atomic.Bool
}

type Coordinator struct {
	cfg     Config
	src     audio.Source
	queue   *audio.FrameQueue
	rec     stt.Recognizer
	seg     *segment.Segmenter
	disp    Dispatcher
	speaker Speaker
	metrics *observe.Metrics

	resolverMu sync.RWMutex
	resolver   Resolver

	// resolving is held while a resolution runs, including one that
	// outlived its timeout.
	resolving chan struct{}

	state atomic.Int32

	events chan event
	cmds   chan command

	group  *errgroup.Group
	worker *worker
	// pending is the utterance that finalized while a cycle was running.
	pending *segment.Utterance
}

var ErrBusy = errors.New("pipeline busy")

func New(d Deps, cfg Config) *Coordinator {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 10 * time.Second
	}
	if d.Metrics == nil {
		d.Metrics = observe.Noop()
	}
	if d.Queue == nil {
		d.Queue = audio.NewFrameQueue(64)
	}

	return &Coordinator{
		cfg:       cfg,
		src:       d.Source,
		queue:     d.Queue,
		rec:       d.Recognizer,
		seg:       d.Segmenter,
		disp:      d.Dispatcher,
		speaker:   d.Speaker,
		metrics:   d.Metrics,
		resolver:  d.Resolver,
		resolving: make(chan struct{}, 1),
		events:    make(chan event, 16),
		cmds:      make(chan command, 4),
	}
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	log.Debug("State", "state", s.String())
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

// Reload swaps the resolver. A cycle already resolving keeps the old one.
func (c *Coordinator) Reload(r Resolver) {
	c.resolverMu.Lock()
	c.resolver = r
	c.resolverMu.Unlock()
	log.Info("Resolver reloaded")
}

func (c *Coordinator) currentResolver() Resolver {
	c.resolverMu.RLock()
	defer c.resolverMu.RUnlock()
	return c.resolver
}

// Wake injects a wake event, as if the wake phrase had been heard.
func (c *Coordinator) Wake() error {
	return c.command(command{kind: cmdWake})
}

// Say speaks phrase unless a cycle is already running.
func (c *Coordinator) Say(phrase string) error {
	return c.command(command{kind: cmdSay, phrase: phrase})
}

func (c *Coordinator) command(cmd command) error {
	select {
	case c.cmds <- cmd:
		return nil
	default:
		return ErrBusy
	}
}

// Run blocks until ctx is cancelled, the source fails, or a finite source is
// exhausted and its last cycle has finished.
func (c *Coordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	c.group = g

	c.setState(Listening)
	log.Info("Listening")

	g.Go(func() error {
		defer c.queue.Close()
		if err := c.src.Run(gctx, c.queue); err != nil && gctx.Err() == nil {
			return fmt.Errorf("audio source: %w", err)
		}
		return nil
	})
	g.Go(func() error { return c.recognize(gctx) })
	g.Go(func() error { return c.control(gctx) })

	err := g.Wait()
	c.setState(Idle)
	if dropped := c.queue.Dropped(); dropped > 0 {
		log.Warn("Frames dropped", "count", dropped)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// recognize owns the recognizer and the segmenter.
func (c *Coordinator) recognize(ctx context.Context) error {
	defer close(c.events)

	var at time.Duration
	for {
		f, ok := c.queue.Pop(ctx)
		if !ok {
			c.drain(ctx, at)
			return nil
		}
		at = f.End()

		p, err := c.rec.Feed(f)
		if err != nil {
			c.fault(ctx, err, f.Timestamp)
			continue
		}
		c.observe(p, at)
	}
}

// drain collects transcripts a background recognizer still owes once the
// input has ended.
func (c *Coordinator) drain(ctx context.Context, at time.Duration) {
	fl, ok := c.rec.(stt.Flusher)
	if !ok {
		return
	}
	for ctx.Err() == nil {
		p, err := fl.Flush(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fault(ctx, err, at)
			continue
		}
		if p == nil {
			return
		}
		c.observe(p, at)
	}
}

func (c *Coordinator) fault(ctx context.Context, err error, at time.Duration) {
	c.metrics.RecognitionFaults.Add(ctx, 1)
	log.Warn("Recognizer fault", "err", err, "at", at)
	c.rec.Reset()
	c.seg.Abort()
	c.emit(event{kind: evFault, err: &Fault{Kind: RecognitionFault, Err: err}})
}

func (c *Coordinator) observe(p *stt.Partial, at time.Duration) {
	ev := c.seg.Observe(p, at)
	if ev.Reset {
		c.rec.Reset()
	}

	switch ev.Kind {
	case segment.EventSpeechStarted:
		c.emit(event{kind: evSpeech})
	case segment.EventUtterance:
		u := ev.Utterance
		log.Info("Heard", "text", u.Text, "id", u.ID, "conf", u.Confidence, "duration", u.Duration())
		c.emit(event{kind: evUtterance, utt: u})
	case segment.EventDiscarded:
		log.Debug("Segment discarded", "reason", ev.Reason)
		c.emit(event{kind: evDiscarded})
	case segment.EventWake:
		c.emit(event{kind: evWake})
	case segment.EventWakeTimeout:
		c.emit(event{kind: evWakeTimeout})
	}
}

// emit never blocks the recognition loop.
func (c *Coordinator) emit(ev event) {
	select {
	case c.events <- ev:
	default:
		log.Warn("Pipeline event dropped", "kind", int(ev.kind))
	}
}

func (c *Coordinator) control(ctx context.Context) error {
	events := c.events
	for {
		var done chan struct{}
		if c.worker != nil {
			done = c.worker.done
		}

		select {
		case <-ctx.Done():
			c.stopWorker()
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				if c.worker == nil {
					return nil
				}
				continue
			}
			c.handleEvent(ctx, ev)

		case cmd := <-c.cmds:
			c.handleCommand(ctx, cmd)

		case <-done:
			c.worker = nil
			if u := c.pending; u != nil {
				c.pending = nil
				log.Info("Answering held utterance", "text", u.Text, "id", u.ID)
				c.startWorker(ctx, func(wctx context.Context, w *worker) { c.cycle(wctx, w, u) })
				continue
			}
			c.setState(Listening)
			if events == nil {
				return nil
			}
		}
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case evSpeech:
		if c.worker == nil {
			c.setState(AwaitingFinal)
		}

	case evDiscarded:
		c.metrics.Discarded.Add(ctx, 1)
		if c.worker == nil {
			c.setState(Listening)
		}

	case evFault:
		// the open segment is gone; nothing is said about it
		if c.worker == nil {
			c.setState(Listening)
		}

	case evWake:
		c.wake(ctx)

	case evWakeTimeout:
		if c.worker != nil {
			return
		}
		phrase := c.disp.Phrases().TooSlow
		c.startWorker(ctx, func(wctx context.Context, w *worker) { c.speak(wctx, w, phrase) })

	case evUtterance:
		c.metrics.Utterances.Add(ctx, 1)
		if c.worker != nil {
			// held until the current cycle ends; a newer one replaces it
			if c.pending != nil {
				log.Warn("Busy, utterance dropped", "text", c.pending.Text, "id", c.pending.ID)
			}
			log.Info("Busy, utterance held", "text", ev.utt.Text, "state", c.State().String())
			c.pending = ev.utt
			return
		}
		u := ev.utt
		c.startWorker(ctx, func(wctx context.Context, w *worker) { c.cycle(wctx, w, u) })
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdWake:
		c.wake(ctx)
	case cmdSay:
		if c.worker != nil {
			log.Warn("Busy, phrase dropped", "phrase", cmd.phrase)
			return
		}
		c.startWorker(ctx, func(wctx context.Context, w *worker) { c.speak(wctx, w, cmd.phrase) })
	}
}

// wake interrupts speech, or acknowledges with the earcon when idle.
func (c *Coordinator) wake(ctx context.Context) {
	c.metrics.Wakes.Add(ctx, 1)

	if c.worker != nil {
		if !c.worker.speaking.Load() {
			log.Debug("Wake ignored while resolving")
			return
		}
		log.Info("Wake, stopping speech")
		c.pending = nil
		c.stopWorker()
		c.setState(Listening)
		return
	}

	log.Info("Wake")
	if len(c.cfg.Earcon) == 0 {
		return
	}
	c.startWorker(ctx, func(wctx context.Context, w *worker) {
		w.speaking.Store(true)
		c.setState(Speaking)
		if err := c.speaker.Play(wctx, c.cfg.Earcon, c.cfg.EarconRate); err != nil && wctx.Err() == nil {
			log.Warn("Earcon failed", "err", err)
		}
	})
}

func (c *Coordinator) startWorker(ctx context.Context, fn func(context.Context, *worker)) {
	wctx, cancel := context.WithCancel(ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	c.worker = w

	c.group.Go(func() error {
		defer close(w.done)
		defer cancel()
		fn(wctx, w)
		return nil
	})
}

// stopWorker cancels the running worker and waits for it, so the output
// device is released before anything else plays.
func (c *Coordinator) stopWorker() {
	if c.worker == nil {
		return
	}
	c.worker.cancel()
	<-c.worker.done
	c.worker = nil
}

func (c *Coordinator) cycle(ctx context.Context, w *worker, u *segment.Utterance) {
	phrase := c.answer(ctx, u)
	if ctx.Err() != nil {
		return
	}
	c.speak(ctx, w, phrase)
}

func (c *Coordinator) speak(ctx context.Context, w *worker, phrase string) {
	if phrase == "" {
		return
	}

	w.speaking.Store(true)
	c.setState(Speaking)

	start := time.Now()
	err := c.speaker.Speak(ctx, phrase)
	c.metrics.SpeakDuration.Record(context.Background(), time.Since(start).Seconds())
	if err != nil && ctx.Err() == nil {
		log.Error("Speak failed", "phrase", phrase, "err", err)
	}
}

// answer resolves and dispatches u within ResolveTimeout and returns what to
// say. Every failure yields a phrase; only cancellation yields silence.
func (c *Coordinator) answer(ctx context.Context, u *segment.Utterance) string {
	phrases := c.disp.Phrases()

	select {
	case c.resolving <- struct{}{}:
	default:
		log.Warn("Resolver still busy", "text", u.Text)
		return phrases.Busy
	}

	c.setState(Resolving)

	tctx, cancel := context.WithTimeout(ctx, c.cfg.ResolveTimeout)
	defer cancel()

	// the resolution may outlive this worker after a timeout; it keeps the
	// resolving slot until it returns
	out := make(chan action.Response, 1)
	c.group.Go(func() error {
		resp := c.resolveAndDispatch(tctx, u)
		// free the slot before the answer is seen, so the next cycle finds it
		<-c.resolving
		out <- resp
		return nil
	})

	select {
	case resp := <-out:
		return resp.Phrase
	case <-tctx.Done():
		if ctx.Err() != nil {
			return ""
		}
		c.metrics.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "timeout")))
		log.Error("Resolution timed out", "text", u.Text, "timeout", c.cfg.ResolveTimeout)
		return phrases.Apology
	}
}

func (c *Coordinator) resolveAndDispatch(ctx context.Context, u *segment.Utterance) (resp action.Response) {
	phrases := c.disp.Phrases()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Cycle panicked", "text", u.Text, "panic", r)
			resp = action.Response{Phrase: phrases.Apology, Fallback: true, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	start := time.Now()
	m, err := c.currentResolver().Resolve(ctx, u.Text)
	c.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return action.Response{Err: ctx.Err()}
		}
		c.metrics.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "resolve")))
		log.Error("Resolve failed", "text", u.Text, "err", err)
		return action.Response{Phrase: phrases.ResolveFailed, Fallback: true, Err: err}
	}

	if m.OK {
		c.metrics.Matches.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", m.Intent)))
		log.Info("Intent", "intent", m.Intent, "action", m.Action, "score", m.Score, "slots", m.Slots)
	} else {
		c.metrics.NoMatches.Add(ctx, 1)
		log.Info("No intent", "text", u.Text, "score", m.Score)
	}

	if ctx.Err() != nil {
		return action.Response{Err: ctx.Err()}
	}
	c.setState(Acting)

	start = time.Now()
	resp = c.disp.Dispatch(ctx, m)
	c.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("action", resp.Action)))
	if resp.Err != nil {
		c.metrics.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "action")))
	}
	return resp
}
