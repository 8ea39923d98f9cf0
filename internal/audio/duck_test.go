package audio

import (
	"context"
	"strings"
	"sync"
	"testing"
)

const sinkInputsFixture = `Sink Input #42
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #43
	Volume: front-left: 32768 /  50% / -18.06 dB
	Properties:
		application.name = "vox"
Sink Input #oops
	Volume: mono: 100%
`

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(sinkInputsFixture)
	want := []sinkInput{
		{ID: 42, Volume: 100, AppName: "Firefox"},
		{ID: 43, Volume: 50, AppName: "vox"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d inputs, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("input %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseSinkInputsEmpty(t *testing.T) {
	if got := parseSinkInputs(""); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

type fakePactl struct {
	mu   sync.Mutex
	list string
	sets []string
}

func (f *fakePactl) run(_ context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if args[0] == "list" {
		return []byte(f.list), nil
	}
	f.sets = append(f.sets, strings.Join(args[1:], " "))
	return nil, nil
}

func TestDuckerSkipsSelfAndRestores(t *testing.T) {
	fp := &fakePactl{list: sinkInputsFixture}
	d := NewDucker([]string{"vox"}, 10, 0.3, 0)
	d.run = fp.run

	ctx := context.Background()
	if err := d.Duck(ctx); err != nil {
		t.Fatalf("Duck: %v", err)
	}
	if len(fp.sets) != 1 || fp.sets[0] != "42 30%" {
		t.Fatalf("duck sets = %v, want [42 30%%]", fp.sets)
	}

	// second Duck is a no-op
	if err := d.Duck(ctx); err != nil {
		t.Fatalf("Duck: %v", err)
	}
	if len(fp.sets) != 1 {
		t.Fatalf("repeated Duck changed volumes: %v", fp.sets)
	}

	fp.list = strings.Replace(sinkInputsFixture, "100%", "30%", 1)
	if err := d.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if last := fp.sets[len(fp.sets)-1]; last != "42 100%" {
		t.Fatalf("restore set %q, want 42 100%%", last)
	}
}
