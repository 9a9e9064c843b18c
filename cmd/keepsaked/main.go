package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/keepsake-ai/keepsake/internal/cache"
	"github.com/keepsake-ai/keepsake/internal/config"
	"github.com/keepsake-ai/keepsake/internal/engine"
	"github.com/keepsake-ai/keepsake/internal/llm"
	"github.com/keepsake-ai/keepsake/internal/session"
	"github.com/keepsake-ai/keepsake/internal/storage"
	"github.com/keepsake-ai/keepsake/internal/storage/memory"
	"github.com/keepsake-ai/keepsake/internal/storage/postgres"
	"github.com/keepsake-ai/keepsake/internal/storage/sqlite"
	"github.com/keepsake-ai/keepsake/internal/storage/tiered"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

func main() {
	strategy := flag.String("strategy", "latest", "Conflict strategy: latest, keep_both, merge")
	principal := flag.String("principal", "default", "Principal the console session belongs to")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cold, err := openColdStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	store := tiered.New(memory.NewFactStore(), cold, cfg.Tiering.HotFactLimit)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := llm.NewGuardedClient(llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: cfg.LLM.OllamaURL,
		Model:   cfg.LLM.OllamaModel,
	}), llm.GuardConfig{
		MaxFailures:       uint32(cfg.LLM.MaxFailures),
		OpenTimeout:       cfg.LLM.OpenTimeout,
		CallTimeout:       cfg.LLM.CallTimeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})

	resolver := engine.NewConflictResolver(types.ConflictStrategy(*strategy))
	pipeline, err := engine.NewExtractionPipeline(store, resolver, llm.NewProposer(client), engine.PipelineConfig{
		QueueSize:       cfg.Pipeline.QueueSize,
		MinConfidence:   cfg.Pipeline.MinConfidence,
		LookbackLimit:   cfg.Pipeline.LookbackLimit,
		ShutdownTimeout: cfg.Pipeline.ShutdownTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	queryCache := cache.New(cache.Config{
		TTL:                 cfg.Cache.TTL,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		MaxSize:             cfg.Cache.MaxSize,
	})
	pipeline.SetOnFactsChanged(queryCache.Invalidate)

	decay := engine.NewDecayEngine(engine.DecayConfig{
		EphemeralTTLHours:      float64(cfg.Decay.EphemeralTTLHours),
		ShortTTLHours:          float64(cfg.Decay.ShortTTLHours),
		LongTTLHours:           float64(cfg.Decay.LongTTLHours),
		ConfidenceThreshold:    cfg.Decay.ConfidenceThreshold,
		ReinforcementThreshold: cfg.Decay.ReinforcementThreshold,
	})
	consolidator := engine.NewConsolidator(store, engine.ConsolidationConfig{
		ShortTermHours:          float64(cfg.Consolidation.ShortTermHours),
		WorkingHours:            float64(cfg.Consolidation.WorkingHours),
		WorkingAccessThreshold:  cfg.Consolidation.WorkingAccessThreshold,
		LongTermAccessThreshold: cfg.Consolidation.LongTermAccessThreshold,
	})
	maintainer := engine.NewMaintainer(store, decay, consolidator)
	maintainer.SetOnFactsChanged(queryCache.Invalidate)
	go maintainer.Run(ctx, cfg.Consolidation.SweepInterval)

	if err := pipeline.Start(ctx); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}
	log.Printf("Keepsake running (engine=%s model=%s strategy=%s)",
		cfg.Storage.StorageEngine, client.GetModel(), *strategy)

	sessions := session.NewManager(store)
	recaller := engine.NewRecaller(store, decay, queryCache)
	go runConsole(ctx, *principal, sessions, pipeline, recaller)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	if err := sessions.End(ctx, *principal); err != nil {
		log.Printf("Error ending session: %v", err)
	}

	if err := pipeline.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down pipeline: %v", err)
	}

	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// runConsole reads lines from stdin. A line starting with "?" is a recall
// query; anything else is recorded as an exchange and queued for extraction.
func runConsole(ctx context.Context, principal string, sessions *session.Manager, pipeline *engine.ExtractionPipeline, recaller *engine.Recaller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "?") {
			query := strings.TrimSpace(strings.TrimPrefix(line, "?"))
			facts, err := recaller.Recall(ctx, principal, query, engine.RecallOptions{})
			if err != nil {
				log.Printf("ERROR: recall failed: %v", err)
				continue
			}
			for _, f := range facts {
				fmt.Printf("%s %s %s (confidence %.2f, stage %s)\n",
					f.Subject, f.Predicate, f.Object, f.Confidence, f.MemoryStage)
			}
			continue
		}

		exch, err := sessions.Record(ctx, principal, line, "")
		if err != nil {
			log.Printf("ERROR: failed to record exchange: %v", err)
			continue
		}
		if !pipeline.Enqueue(principal, exch) {
			log.Printf("WARNING: exchange dropped, pipeline unavailable")
		}
	}
}

// openColdStore builds the cold tier from config. SQLite is the default;
// postgres requires KEEPSAKE_POSTGRES_DSN.
func openColdStore(cfg *config.Config) (storage.FactStore, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.NewFactStore(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, err
		}
		return sqlite.NewFactStore(cfg.Storage.DataPath + "/keepsake.db")
	}
}
