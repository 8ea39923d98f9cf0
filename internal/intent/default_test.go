package intent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrZloHex/vox/pkg/embed/mock"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := ParseDefaultCatalog()
	if err != nil {
		t.Fatalf("ParseDefaultCatalog: %v", err)
	}
	if len(c.Warnings) != 0 {
		t.Fatalf("warnings: %v", c.Warnings)
	}

	want := map[string]string{
		"greeting": "greeting",
		"weather":  "weather.report",
		"time":     "clock.time",
		"day":      "clock.day",
		"date":     "clock.date",
		"stop":     "speech.stop",
	}
	if len(c.Intents) != len(want) {
		t.Fatalf("got %d intents", len(c.Intents))
	}
	for _, in := range c.Intents {
		if want[in.Name] != in.Action {
			t.Errorf("intent %s -> %s, want %s", in.Name, in.Action, want[in.Name])
		}
	}

	r, err := Build(context.Background(), c, mock.New(), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m, err := r.Resolve(context.Background(), "what's today's date")
	if err != nil {
		t.Fatal(err)
	}
	if !m.OK || m.Intent != "date" {
		t.Fatalf("match = %+v", m)
	}
}

func TestInstallDefaultCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vox", "intents.yaml")

	wrote, err := InstallDefaultCatalog(path)
	if err != nil || !wrote {
		t.Fatalf("first install = %v, %v", wrote, err)
	}
	if _, err := LoadCatalog(path); err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	if err := os.WriteFile(path, []byte(lightCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	wrote, err = InstallDefaultCatalog(path)
	if err != nil || wrote {
		t.Fatalf("second install = %v, %v", wrote, err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != lightCatalog {
		t.Fatal("existing catalog overwritten")
	}
}
