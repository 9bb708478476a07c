package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dolakin/tax-bills-assistant/internal/bootstrap"
	"github.com/dolakin/tax-bills-assistant/internal/config"
	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/chunking"
	"github.com/dolakin/tax-bills-assistant/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("ingest", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	paths, err := listPDFs(cfg.DocsDir)
	if err != nil {
		log.Fatalf("list documents: %v", err)
	}
	if len(paths) == 0 {
		log.Fatalf("no PDF documents found in %s", cfg.DocsDir)
	}

	var fragments []domain.Fragment
	for _, path := range paths {
		pages, err := app.Extractor.ExtractPages(ctx, path)
		if err != nil {
			log.Fatalf("extract %s: %v", path, err)
		}

		chunkPages := make([]chunking.Page, len(pages))
		for i, p := range pages {
			chunkPages[i] = chunking.Page{Num: p.Num, Text: p.Text}
		}

		docFragments := app.Chunker.ChunkDocument(filepath.Base(path), chunkPages)
		slog.Info("document_chunked", "source", filepath.Base(path), "pages", len(pages), "fragments", len(docFragments))
		fragments = append(fragments, docFragments...)
	}

	stats, err := app.Ingestor.Upsert(ctx, fragments)
	if err != nil {
		log.Fatalf("upsert fragments: %v", err)
	}
	slog.Info("ingest_complete",
		"total", stats.TotalInput,
		"added", stats.Added,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"deduped", stats.Deduped,
	)

	if stats.Changed() {
		if err := app.Bus.PublishCorpusReingested(ctx, stats); err != nil {
			slog.Error("publish reingest event failed", "error", err)
			os.Exit(1)
		}
		slog.Info("reingest_event_published", "subject", cfg.NATSSubject)
	}
}

func listPDFs(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
