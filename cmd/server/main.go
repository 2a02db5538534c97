// Package main is the entry point for the dashboard server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/omics-dash/server/internal/api"
	"github.com/omics-dash/server/internal/cache"
	"github.com/omics-dash/server/internal/cluster"
	"github.com/omics-dash/server/internal/config"
	"github.com/omics-dash/server/internal/data/tsv"
	"github.com/omics-dash/server/internal/engine"
	"github.com/omics-dash/server/internal/palette"
	"github.com/omics-dash/server/internal/render"
	"github.com/omics-dash/server/internal/service"
	"github.com/omics-dash/server/internal/sessionstore"
)

func main() {
	// A missing .env is fine; real environment variables still apply.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[Server] .env not loaded: %v", err)
	}

	defaultConfig := "config/server.yaml"
	if v := os.Getenv("DASH_CONFIG"); v != "" {
		defaultConfig = v
	}
	configPath := flag.String("config", defaultConfig, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting dashboard server on port %d", cfg.Server.Port)

	// Cache manager shared by the table store and every session
	cacheManager, err := cache.NewManager(cache.Config{
		RawCacheSizeMB: cfg.Cache.TableSizeMB,
		RawTTL:         time.Duration(cfg.Cache.TableTTLMinutes) * time.Minute,
		ParsedEntries:  cfg.Cache.ParsedTables,
		FeatureEntries: cfg.Cache.Features,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	var src tsv.Source
	switch cfg.Data.Source {
	case "http":
		src = tsv.NewHTTPSource(cfg.Data.BaseURL)
		log.Printf("Reading tables from %s", cfg.Data.BaseURL)
	default:
		src = tsv.FileSource{Root: cfg.Data.Root}
		log.Printf("Reading tables from %s", cfg.Data.Root)
	}
	store := tsv.NewStore(src, cacheManager)

	// Dataset registry
	kingdomIDs := cfg.Data.KingdomIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultKingdom, kingdomIDs, cfg.Server.Title)
	log.Printf("Registering %d kingdom(s), default: %s", len(kingdomIDs), cfg.Data.DefaultKingdom)
	for _, id := range kingdomIDs {
		kc := cfg.Data.Kingdoms[id]
		registry.Register(id, engine.Kingdom{
			Ranks:           kc.Ranks,
			Projections:     kc.Projections,
			Contrasts:       kc.Contrasts,
			DefaultVariable: kc.DefaultVariable,
			ConditionField:  kc.ConditionField,
			ConditionOrder:  kc.ConditionOrder,
		})
		log.Printf("  [%s] ranks=%v projections=%v contrasts=%d", id, kc.Ranks, kc.Projections, len(kc.Contrasts))
	}

	h := cfg.Heatmap
	engineCfg := engine.Config{
		Kingdoms: registry.Kingdoms(),
		Palette: palette.Options{
			MissingColor:   cfg.Palette.MissingColor,
			MaleColor:      cfg.Palette.MaleColor,
			FemaleColor:    cfg.Palette.FemaleColor,
			Colormap:       cfg.Palette.Colormap,
			DiscreteFields: cfg.Palette.DiscreteFields,
		},
		Layout: cluster.LayoutConfig{
			RowHeight:       h.RowHeight,
			ColumnWidth:     h.ColumnWidth,
			DendrogramSize:  h.DendrogramSize,
			SizeLegendWidth: h.SizeLegendWidth,
			MarginTop:       h.MarginTop,
			MarginBottom:    h.MarginBottom,
			MarginLeft:      h.MarginLeft,
			MarginRight:     h.MarginRight,
			MaxHeight:       h.MaxHeight,
			MaxWidth:        h.MaxWidth,
			MinLabelPixels:  h.MinLabelPixels,
		},
		MaxHeatmapFeatures: h.MaxFeatures,
		Features:           cacheManager,
	}

	// Saved sessions (SQLite persistence)
	sessionStore, err := sessionstore.NewStore(cfg.Sessions.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to initialize session store: %v", err)
	}
	sessions := api.NewSessionManager(api.SessionManagerConfig{
		Engine:        engineCfg,
		Fetcher:       store,
		Store:         sessionStore,
		RetentionDays: cfg.Sessions.RetentionDays,
	})
	log.Printf("Session manager: retention_days=%d, sqlite=%s", cfg.Sessions.RetentionDays, cfg.Sessions.SQLitePath)
	sessions.Start()
	defer sessions.Stop()

	renderer := render.NewRenderer(render.Config{
		ViewSize:        cfg.Render.ViewSize,
		PointRadius:     cfg.Render.PointRadius,
		ViewColormap:    cfg.Palette.Colormap,
		HeatmapColormap: h.DefaultColormap,
		MissingColor:    cfg.Palette.MissingColor,
	})

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:           registry,
		Sessions:           sessions,
		Tables:             service.NewTableService(store),
		Renderer:           renderer,
		Cache:              store.Cache(),
		MaxBoxplotFeatures: cfg.Boxplot.MaxFeatures,
		CORSOrigins:        cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[Server] listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] forced to shutdown: %v", err)
	}

	log.Println("[Server] stopped")
}
