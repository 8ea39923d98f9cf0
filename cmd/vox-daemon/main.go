package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	log "log/slog"

	"github.com/MrZloHex/vox/internal/app"
	vcli "github.com/MrZloHex/vox/internal/cli"
	"github.com/MrZloHex/vox/internal/config"
	"github.com/MrZloHex/vox/internal/intent"
)

func main() {
	configFile := cli.StringP("config", "c", "", "Config file (default $VOX_HOME/vox.yaml)")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides config)")
	socket := cli.StringP("socket", "s", "", "Control socket path (overrides config)")
	intents := cli.StringP("intents", "i", "", "Intent catalog (overrides config)")
	cli.Parse()

	// .env may set VOX_HOME, so it goes before the config
	godotenv.Load(*envFile)

	vcli.SetupLog(*logLevel)

	path := *configFile
	if path == "" {
		path = filepath.Join(config.Default().Home, "vox.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		vcli.Fatal("Failed to load config", "path", path, "err", err)
	}
	if *logLevel == "" {
		vcli.SetupLog(cfg.LogLevel)
	}
	if *socket != "" {
		cfg.Control.Socket = *socket
	}
	if *intents != "" {
		cfg.Intent.Catalog = *intents
	}

	catalog := cfg.Path(cfg.Intent.Catalog)
	if wrote, err := intent.InstallDefaultCatalog(catalog); err != nil {
		log.Warn("Failed to install default catalog", "path", catalog, "err", err)
	} else if wrote {
		log.Info("Installed default catalog", "path", catalog)
	}

	log.Info("Booting up", "home", cfg.Home, "recognizer", cfg.Recognizer.Engine, "embedder", cfg.Intent.Embedder)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Debug("OPENAI_API_KEY not set, ask actions disabled")
	}

	a, err := app.Build(ctx, cfg, app.Options{APIKey: apiKey})
	if err != nil {
		vcli.Fatal("Failed to boot", "err", err)
	}
	defer a.Close()

	log.Info("Boot up - successful")

	if err := a.Run(ctx, cfg.Control.Socket); err != nil {
		a.Close()
		vcli.Fatal("Pipeline stopped", "err", err)
	}
	log.Info("Shutting down")
}
