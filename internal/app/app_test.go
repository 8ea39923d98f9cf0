package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrZloHex/vox/internal/audio"
	"github.com/MrZloHex/vox/internal/config"
	"github.com/MrZloHex/vox/internal/ipc"
	"github.com/MrZloHex/vox/internal/pipeline"
	"github.com/MrZloHex/vox/pkg/embed/mock"
	"github.com/MrZloHex/vox/pkg/pcm"
	"github.com/MrZloHex/vox/pkg/stt"
)

const catalog = `
intents:
  turn_on_light:
    action: lights.on
    exemplars:
      - turn on the light
actions:
  lights.on:
    response: "Turning on the light."
`

const catalogV2 = `
intents:
  turn_on_light:
    action: lights.on
    exemplars:
      - turn on the light
  greet:
    action: greeting
    exemplars:
      - hello there
actions:
  lights.on:
    response: "Turning on the light."
`

// silence pushes n frames and closes the queue.
type silence struct{ frames int }

func (s silence) Run(ctx context.Context, q *audio.FrameQueue) error {
	defer q.Close()
	return audio.PushSamples(ctx, q, make([]int16, s.frames*480), 16000, 30, false, 0)
}

// forever never produces a frame.
type forever struct{}

func (forever) Run(ctx context.Context, q *audio.FrameQueue) error {
	<-ctx.Done()
	return ctx.Err()
}

type oneShot struct {
	mu   sync.Mutex
	n    int
	text string
}

func (r *oneShot) Feed(pcm.Frame) (*stt.Partial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	switch r.n {
	case 3:
		return &stt.Partial{Text: "please", Confidence: 1}, nil
	case 13:
		return &stt.Partial{Text: r.text, Confidence: 1, IsFinal: true}, nil
	}
	return nil, nil
}

func (r *oneShot) Reset()       {}
func (r *oneShot) Close() error { return nil }

type recordingEngine struct {
	mu    sync.Mutex
	texts []string
}

func (e *recordingEngine) Synthesize(_ context.Context, text string) ([]int16, int, error) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	return make([]int16, 160), 16000, nil
}

func (e *recordingEngine) said() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "intents.yaml"), []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Home = dir
	cfg.TTS.Tail = 0
	return cfg
}

func build(t *testing.T, cfg *config.Config, opt Options) (*App, *recordingEngine) {
	t.Helper()
	engine := &recordingEngine{}
	if opt.Engine == nil {
		opt.Engine = engine
	}
	opt.Player = Discard
	opt.Embedder = mock.New()
	if opt.Recognizer == nil {
		opt.Recognizer = &oneShot{}
	}
	a, err := Build(context.Background(), cfg, opt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, engine
}

func TestReplayLightScenario(t *testing.T) {
	a, engine := build(t, testConfig(t), Options{
		Source:     silence{frames: 40},
		Recognizer: &oneShot{text: "please turn on the light"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	said := engine.said()
	if len(said) != 1 || said[0] != "Turning on the light." {
		t.Fatalf("said %v", said)
	}
	snap, err := a.Metrics().Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap["vox.segment.utterances"] != 1 {
		t.Fatalf("snapshot = %v", snap)
	}
}

func TestControl(t *testing.T) {
	cfg := testConfig(t)
	a, engine := build(t, cfg, Options{Source: forever{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, "") }()
	defer func() {
		cancel()
		<-done
	}()

	reply := a.Control(ctx, ipc.ControlMessage{Cmd: ipc.CmdStatus})
	if !reply.OK || reply.Data["intents"] != 1 {
		t.Fatalf("status = %+v", reply)
	}

	reply = a.Control(ctx, ipc.ControlMessage{Cmd: ipc.CmdSay, Args: []string{"hello", "world"}})
	if !reply.OK {
		t.Fatalf("say = %+v", reply)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(engine.said()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("say never spoke")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := engine.said()[0]; got != "hello world" {
		t.Fatalf("said %q", got)
	}

	if err := os.WriteFile(filepath.Join(cfg.Home, "intents.yaml"), []byte(catalogV2), 0o644); err != nil {
		t.Fatal(err)
	}
	if reply = a.Control(ctx, ipc.ControlMessage{Cmd: ipc.CmdReload}); !reply.OK {
		t.Fatalf("reload = %+v", reply)
	}
	if reply = a.Control(ctx, ipc.ControlMessage{Cmd: ipc.CmdStatus}); reply.Data["intents"] != 2 {
		t.Fatalf("status after reload = %+v", reply)
	}

	if reply = a.Control(ctx, ipc.ControlMessage{Cmd: ipc.CmdStats}); !reply.OK {
		t.Fatalf("stats = %+v", reply)
	}

	reply = a.Control(ctx, ipc.ControlMessage{Cmd: "dance"})
	if reply.OK || reply.Error == "" {
		t.Fatalf("unknown command = %+v", reply)
	}
}

func TestReloadKeepsResolverOnError(t *testing.T) {
	cfg := testConfig(t)
	a, _ := build(t, cfg, Options{Source: forever{}})

	if err := os.WriteFile(filepath.Join(cfg.Home, "intents.yaml"), []byte("intents: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.Reload(context.Background()); err == nil {
		t.Fatal("empty catalog accepted")
	}
	if n := len(a.catalog.Intents); n != 1 {
		t.Fatalf("catalog replaced: %d intents", n)
	}
}

func TestBuildMissingCatalogIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Intent.Catalog = "missing.yaml"

	_, err := Build(context.Background(), cfg, Options{
		Source:     forever{},
		Player:     Discard,
		Engine:     &recordingEngine{},
		Embedder:   mock.New(),
		Recognizer: &oneShot{},
	})
	var f *pipeline.Fault
	if !errors.As(err, &f) || f.Kind != pipeline.FatalStartupFailure {
		t.Fatalf("err = %v", err)
	}
}
