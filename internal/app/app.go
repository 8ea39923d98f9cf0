// Package app assembles the assistant from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/errgroup"

	"github.com/MrZloHex/vox/internal/action"
	"github.com/MrZloHex/vox/internal/audio"
	"github.com/MrZloHex/vox/internal/config"
	"github.com/MrZloHex/vox/internal/intent"
	"github.com/MrZloHex/vox/internal/ipc"
	"github.com/MrZloHex/vox/internal/notify"
	"github.com/MrZloHex/vox/internal/observe"
	"github.com/MrZloHex/vox/internal/pipeline"
	"github.com/MrZloHex/vox/internal/proxy"
	"github.com/MrZloHex/vox/internal/segment"
	"github.com/MrZloHex/vox/internal/tts"
	"github.com/MrZloHex/vox/pkg/embed"
	"github.com/MrZloHex/vox/pkg/protocol"
	"github.com/MrZloHex/vox/pkg/stt"
)

// Options override the audio ends, mainly for file replay.
type Options struct {
	// Source replaces the microphone.
	Source audio.Source
	// Player replaces the speaker.
	Player tts.Player
	// Engine replaces espeak-ng.
	Engine tts.Engine
	// Embedder replaces the configured embedder.
	Embedder embed.Embedder
	// Recognizer replaces the configured recognizer.
	Recognizer stt.Recognizer
	// APIKey enables ask actions.
	APIKey string
}

type App struct {
	cfg     *config.Config
	metrics *observe.Metrics
	coord   *pipeline.Coordinator
	hub     *protocol.Protocol

	embedder embed.Embedder
	registry *action.Registry
	deps     action.Deps

	catMu   sync.Mutex
	catalog *intent.Catalog

	closers []func() error
}

// Build loads models, opens devices and wires the pipeline. Every error it
// returns is a startup failure.
func Build(ctx context.Context, cfg *config.Config, opt Options) (*App, error) {
	a := &App{cfg: cfg}
	if err := a.build(ctx, opt); err != nil {
		a.Close()
		return nil, pipeline.Fatal(err)
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opt Options) (err error) {
	cfg := a.cfg

	if a.metrics, err = observe.New(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.metrics.Shutdown(context.Background()) })

	a.embedder = opt.Embedder
	if a.embedder == nil {
		if a.embedder, err = a.newEmbedder(); err != nil {
			return err
		}
	}

	cat, err := intent.LoadCatalog(cfg.Path(cfg.Intent.Catalog))
	if err != nil {
		return err
	}
	logWarnings("Catalog", cat.Warnings)
	a.catalog = cat

	if err = a.buildDeps(opt); err != nil {
		return err
	}

	a.registry = action.NewRegistry()
	if err = a.deps.Builtins.Register(a.registry, action.DefaultPhrases()); err != nil {
		return err
	}
	logWarnings("Action", action.Configure(a.registry, cat.Actions, a.deps))
	logWarnings("Intent", action.Unbound(a.registry, cat))

	resolver, err := a.buildResolver(ctx, cat)
	if err != nil {
		return err
	}

	rec := opt.Recognizer
	if rec == nil {
		if rec, err = a.newRecognizer(); err != nil {
			return err
		}
	}
	a.closers = append(a.closers, rec.Close)

	queue := audio.NewFrameQueue(cfg.Audio.Queue)
	src := opt.Source
	if src == nil {
		if src, err = a.openRecorder(); err != nil {
			return err
		}
	}

	speaker, err := a.newSynthesizer(opt)
	if err != nil {
		return err
	}

	seg, err := a.newSegmenter(speaker)
	if err != nil {
		return err
	}

	pcfg := pipeline.Config{ResolveTimeout: cfg.Pipeline.ResolveTimeout}
	pcfg.Earcon, pcfg.EarconRate = a.loadEarcon()

	a.coord = pipeline.New(pipeline.Deps{
		Source:     src,
		Queue:      queue,
		Recognizer: rec,
		Segmenter:  seg,
		Resolver:   resolver,
		Dispatcher: action.NewDispatcher(a.registry, action.DefaultPhrases()),
		Speaker:    speaker,
		Metrics:    a.metrics,
	}, pcfg)

	return nil
}

func (a *App) Coordinator() *pipeline.Coordinator { return a.coord }

func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Run runs the pipeline, the hub link and the control socket until ctx is
// done or the pipeline stops.
func (a *App) Run(ctx context.Context, socket string) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	var srv *ipc.Server
	if socket != "" {
		var err error
		if srv, err = ipc.Listen(socket, a.Control); err != nil {
			return pipeline.Fatal(err)
		}
		log.Info("Control socket", "path", srv.Path())
		g.Go(func() error { return srv.Serve(runCtx) })
	}

	if a.hub != nil {
		g.Go(func() error { return a.hub.Run(runCtx) })
	}

	g.Go(func() error {
		// a finite source ends the whole app
		defer stop()
		return a.coord.Run(runCtx)
	})

	return g.Wait()
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Reload rereads the catalog, rebinds its actions and swaps the resolver.
// On failure the running resolver stays in place.
func (a *App) Reload(ctx context.Context) error {
	cat, err := intent.LoadCatalog(a.cfg.Path(a.cfg.Intent.Catalog))
	if err != nil {
		return err
	}
	logWarnings("Catalog", cat.Warnings)

	resolver, err := a.buildResolver(ctx, cat)
	if err != nil {
		return err
	}

	a.catMu.Lock()
	added, removed, changed := a.catalog.Diff(cat)
	a.catalog = cat
	a.catMu.Unlock()

	logWarnings("Action", action.Configure(a.registry, cat.Actions, a.deps))
	logWarnings("Intent", action.Unbound(a.registry, cat))
	a.coord.Reload(resolver)

	log.Info("Catalog reloaded", "intents", len(cat.Intents), "added", added, "removed", removed, "changed", changed)
	return nil
}

// Control answers one control socket request.
func (a *App) Control(ctx context.Context, msg ipc.ControlMessage) ipc.ControlReply {
	ok := func(data map[string]any) ipc.ControlReply {
		return ipc.ControlReply{OK: true, State: a.coord.State().String(), Data: data}
	}

	switch msg.Cmd {
	case ipc.CmdWake, ipc.CmdTrigger:
		if err := a.coord.Wake(); err != nil {
			return ipc.Fail(err)
		}
		return ok(nil)

	case ipc.CmdStatus:
		a.catMu.Lock()
		intents := len(a.catalog.Intents)
		a.catMu.Unlock()
		return ok(map[string]any{
			"intents":  intents,
			"actions":  a.registry.Names(),
			"embedder": a.embedder.ModelID(),
			"hub":      a.hub != nil && a.hub.Connected(),
		})

	case ipc.CmdReload:
		rctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := a.Reload(rctx); err != nil {
			log.Error("Reload failed", "err", err)
			return ipc.Fail(err)
		}
		return ok(nil)

	case ipc.CmdStats:
		snap, err := a.metrics.Snapshot(ctx)
		if err != nil {
			return ipc.Fail(err)
		}
		data := make(map[string]any, len(snap))
		for k, v := range snap {
			data[k] = v
		}
		return ok(data)

	case ipc.CmdSay:
		phrase := strings.TrimSpace(strings.Join(msg.Args, " "))
		if phrase == "" {
			return ipc.Fail(errors.New("say: nothing to say"))
		}
		if err := a.coord.Say(phrase); err != nil {
			return ipc.Fail(err)
		}
		return ok(nil)
	}

	return ipc.Fail(fmt.Errorf("%w: %q", ipc.ErrUnknownCommand, msg.Cmd))
}

func (a *App) newEmbedder() (embed.Embedder, error) {
	ic := a.cfg.Intent
	switch ic.Embedder {
	case "ollama":
		e, err := embed.NewOllama(ic.OllamaURL, ic.Model, ic.Timeout)
		if err != nil {
			return nil, fmt.Errorf("ollama embedder: %w", err)
		}
		return e, nil
	default:
		e, err := embed.NewONNX(a.cfg.Path(ic.Model), embed.ONNXOptions{LibraryPath: ic.OnnxLibrary})
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: %w", err)
		}
		a.closers = append(a.closers, e.Close)
		return e, nil
	}
}

func (a *App) newRecognizer() (stt.Recognizer, error) {
	rc := a.cfg.Recognizer
	model := a.cfg.Path(rc.Model)
	switch rc.Engine {
	case "whisper":
		return stt.NewWhisper(model, stt.WhisperConfig{
			Options:   stt.Options{Language: rc.Language, Threads: rc.Threads},
			SpeechRMS: rc.SpeechRMS,
			Hangover:  rc.Hangover,
		})
	default:
		return stt.NewVosk(model, a.cfg.Audio.SampleRate)
	}
}

func (a *App) buildResolver(ctx context.Context, cat *intent.Catalog) (*intent.Resolver, error) {
	start := time.Now()
	r, err := intent.Build(ctx, cat, a.embedder, intent.Options{
		Threshold: a.cfg.Intent.Threshold,
		Epsilon:   a.cfg.Intent.Epsilon,
		TopK:      a.cfg.Intent.TopK,
	})
	if err != nil {
		return nil, err
	}
	log.Info("Intents indexed", "intents", len(cat.Intents), "exemplars", len(r.Exemplars()),
		"model", a.embedder.ModelID(), "took", time.Since(start))
	return r, nil
}

func (a *App) buildDeps(opt Options) error {
	a.deps.Builtins = action.Builtins{}

	if url := a.cfg.Hub.Url; url != "" {
		a.hub = protocol.NewProtocol(protocol.PtclConfig{
			Shard:   a.cfg.Hub.Shard,
			Url:     url,
			Timeout: a.cfg.Hub.Timeout,
			EmitOut: func(m *protocol.Message) {
				log.Info("Hub message", "msg", m.String())
			},
		})
		a.deps.Hub = a.hub
		a.deps.Breaker = action.NewHubBreaker("hub")
	}

	if opt.APIKey != "" {
		httpClient, err := proxy.NewClient(a.cfg.Ask.Proxy, 0)
		if err != nil {
			return fmt.Errorf("proxy %s: %w", a.cfg.Ask.Proxy, err)
		}
		opts := []option.RequestOption{
			option.WithAPIKey(opt.APIKey),
			option.WithHTTPClient(httpClient),
		}
		if a.cfg.Ask.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(a.cfg.Ask.BaseURL))
		}
		client := openai.NewClient(opts...)
		a.deps.Ask = &client
		a.deps.AskModel = a.cfg.Ask.Model
	}
	return nil
}

func (a *App) openRecorder() (audio.Source, error) {
	if err := audio.Init(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { audio.Terminate(); return nil })

	rec, err := audio.OpenRecorder(a.cfg.Audio.SampleRate, a.cfg.Audio.FrameMs)
	if err != nil {
		return nil, err
	}
	rec.OnFault = func(err error) {
		a.metrics.AudioFaults.Add(context.Background(), 1)
		log.Debug("Capture fault", "err", err)
	}
	rec.OnDrop = func() {
		a.metrics.FramesDropped.Add(context.Background(), 1)
	}
	a.closers = append(a.closers, rec.Close)
	return rec, nil
}

func (a *App) newSynthesizer(opt Options) (*tts.Synthesizer, error) {
	engine := opt.Engine
	if engine == nil {
		engine = tts.NewEspeak(a.cfg.TTS.Voice, a.cfg.TTS.Rate)
	}

	player := opt.Player
	if player == nil {
		if opt.Source != nil {
			// replaying a file without a device still needs portaudio for output
			if err := audio.Init(); err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func() error { audio.Terminate(); return nil })
		}
		p, err := audio.OpenPlayer(a.cfg.Audio.PlaybackRate, a.cfg.Audio.PlaybackBuffer)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		player = p
	}

	var cfg tts.Config
	cfg.Tail = a.cfg.TTS.Tail
	if a.cfg.Audio.Duck {
		cfg.Ducker = audio.NewDucker([]string{"vox"}, a.cfg.Audio.DuckVolume, 0, 0)
	}
	return tts.NewSynthesizer(engine, player, cfg), nil
}

func (a *App) newSegmenter(speaker segment.Playback) (*segment.Segmenter, error) {
	sc := a.cfg.Segment
	policy, err := segment.ParsePolicy(sc.Policy)
	if err != nil {
		return nil, err
	}
	return segment.New(segment.Config{
		ConfidenceFloor: sc.MinConfidence,
		MaxSilence:      sc.MaxSilence,
		MinUtterance:    sc.MinUtterance,
		MaxUtterance:    sc.MaxUtterance,
		Policy:          policy,
		RequireWake:     sc.RequireWake,
		WakeWindow:      sc.WakeWindow,
		Fillers:         sc.Fillers,
	}, speaker, segment.NewWakeMatcher(sc.Wake, 2)), nil
}

// loadEarcon falls back to a short tone when no file is configured or it
// cannot be read.
func (a *App) loadEarcon() ([]int16, int) {
	rate := a.cfg.Audio.PlaybackRate
	if path := a.cfg.TTS.Earcon; path != "" {
		samples, err := notify.LoadEarcon(a.cfg.Path(path), rate)
		if err == nil {
			return samples, rate
		}
		log.Warn("Earcon unavailable, using a tone", "err", err)
	}
	return notify.Tone(rate, 880, 0.12), rate
}

func logWarnings(what string, warnings []string) {
	for _, w := range warnings {
		log.Warn(what+" warning", "reason", w)
	}
}

// Discard is a Player that drops audio, for replay without output.
var Discard tts.Player = discard{}

type discard struct{}

func (discard) Play(ctx context.Context, samples []int16, rate int) error {
	return ctx.Err()
}
