package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/famlinks/kinship/internal/catalog"
	"github.com/famlinks/kinship/internal/config"
	"github.com/famlinks/kinship/internal/core/bridge"
	"github.com/famlinks/kinship/internal/core/cluster"
	"github.com/famlinks/kinship/internal/core/dedupe"
	"github.com/famlinks/kinship/internal/core/kinship"
	"github.com/famlinks/kinship/internal/core/traverse"
	"github.com/famlinks/kinship/internal/driver"
	"github.com/famlinks/kinship/internal/model"
	"github.com/famlinks/kinship/internal/server"
	"github.com/famlinks/kinship/internal/store"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using environment as is")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("failed to load configuration", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	cat, err := catalog.Default()
	if err != nil {
		log.Error("failed to load relationship catalog", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var d driver.Driver
	switch cfg.Storage.Backend {
	case "bolt":
		bd, err := driver.NewBoltDriver(cfg.Storage.URI, cfg.Storage.User, cfg.Storage.Password)
		if err != nil {
			log.Error("failed to connect to graph database", "uri", cfg.Storage.URI, "error", err)
			os.Exit(1)
		}
		if err := bd.EnsureIndexes(ctx); err != nil {
			log.Warn("failed to ensure indexes", "error", err)
		}
		d = bd
	default:
		d = driver.NewMemoryDriver()
	}
	defer d.Close(ctx)

	trav := traverse.New(d, cfg.Graph.MaxDepth, cfg.Graph.MaxPaths)
	st := store.New(d, cat, trav, log)
	st.OnEvent(func(ev model.Event) {
		log.Info("event", "type", ev.Type, "persons", ev.PersonIDs, "edge", ev.EdgeID)
	})

	classifier := kinship.NewClassifier(d, trav, cat, cfg.Graph.MaxAlternatePaths)
	resolver := kinship.NewResolver(cat)
	detector := dedupe.NewDetector(d, cfg.Dedupe, log)
	reviewer := dedupe.NewReviewer(d, st, log)
	bridges := bridge.NewMatcher(d, st, trav, cfg.Bridge, log)
	clusters := cluster.New(d)

	srv := server.NewServer(st, classifier, resolver, detector, reviewer, bridges, clusters, log)
	r := srv.SetupRouter()

	log.Info("starting server", "port", cfg.Server.Port, "backend", cfg.Storage.Backend)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
