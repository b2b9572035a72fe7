package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"storyboard/api/internal/config"
	"storyboard/api/internal/plugin"
	"storyboard/api/internal/store"
)

// storyboard-cron runs a single plugin once and exits. Cron-managed plugin
// entries invoke this binary with --plugin <name>.
func main() {
	pluginName := pflag.String("plugin", "", "name of the plugin to run")
	pflag.Parse()

	if *pluginName == "" {
		log.Print("storyboard-cron: --plugin is required")
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("storyboard-cron: config: %v", err)
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("storyboard-cron: database connection failed: %v", err)
	}
	defer db.Close()
	dataStore := store.NewPostgresStore(db)

	state, err := plugin.NewState(cfg.WorkingDir)
	if err != nil {
		log.Fatalf("storyboard-cron: plugin state: %v", err)
	}

	registry := plugin.NewRegistry()
	if err := registry.Register(plugin.NewEmailSender(&cfg, dataStore, state)); err != nil {
		log.Fatalf("storyboard-cron: register email plugin: %v", err)
	}

	p, ok := registry.Get(*pluginName)
	if !ok {
		log.Fatalf("storyboard-cron: unknown plugin %q", *pluginName)
	}
	if !p.Enabled() {
		log.Printf("storyboard-cron: plugin %q is disabled, nothing to do", *pluginName)
		return
	}

	started := time.Now().UTC()
	if err := p.Run(ctx); err != nil {
		log.Fatalf("storyboard-cron: plugin %q failed: %v", *pluginName, err)
	}
	if err := state.MarkRun(p.Name(), started); err != nil {
		log.Fatalf("storyboard-cron: record last run for %q: %v", *pluginName, err)
	}
}
