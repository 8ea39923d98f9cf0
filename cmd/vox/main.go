// Command vox replays an audio file through the assistant, as if it had been
// spoken into the microphone.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	log "log/slog"

	"github.com/MrZloHex/vox/internal/app"
	"github.com/MrZloHex/vox/internal/audio"
	vcli "github.com/MrZloHex/vox/internal/cli"
	"github.com/MrZloHex/vox/internal/config"
	"github.com/MrZloHex/vox/internal/tts"
)

func main() {
	configFile := cli.StringP("config", "c", "vox.yaml", "Config file")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	input := cli.StringP("file", "f", "", "Audio file to replay (wav, mp3, ogg)")
	out := cli.StringP("out", "o", "", "Write replies as wav files to this directory instead of playing them")
	fast := cli.Bool("fast", false, "Feed frames as fast as they are recognized")
	intents := cli.StringP("intents", "i", "", "Intent catalog (overrides config)")
	cli.Parse()

	godotenv.Load(*envFile)
	vcli.SetupLog(*logLevel)

	if *input == "" {
		vcli.Fatal("No input file, use -f")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		vcli.Fatal("Failed to load config", "path", *configFile, "err", err)
	}
	if *intents != "" {
		cfg.Intent.Catalog = *intents
	}

	opt := app.Options{
		Source: &audio.FileSource{
			Path:            *input,
			FrameMs:         cfg.Audio.FrameMs,
			Realtime:        !*fast,
			TrailingSilence: cfg.Segment.MaxSilence + time.Second,
		},
		APIKey: os.Getenv("OPENAI_API_KEY"),
	}
	if *out != "" {
		if err := os.MkdirAll(*out, 0o755); err != nil {
			vcli.Fatal("Failed to create output dir", "dir", *out, "err", err)
		}
		opt.Player = &tts.WAVPlayer{Dir: *out}
	}

	// replayed audio is always 16 kHz mono
	cfg.Audio.SampleRate = 16000

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.Build(ctx, cfg, opt)
	if err != nil {
		vcli.Fatal("Failed to boot", "err", err)
	}
	defer a.Close()

	log.Info("Replaying", "file", *input)
	if err := a.Run(ctx, ""); err != nil {
		a.Close()
		vcli.Fatal("Replay failed", "err", err)
	}

	snap, err := a.Metrics().Snapshot(context.Background())
	if err == nil {
		for k, v := range snap {
			log.Info("Stat", "name", k, "value", v)
		}
	}
}
