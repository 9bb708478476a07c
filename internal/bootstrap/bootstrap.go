package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/dolakin/tax-bills-assistant/internal/config"
	"github.com/dolakin/tax-bills-assistant/internal/core/ports"
	"github.com/dolakin/tax-bills-assistant/internal/core/usecase"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/chunking"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/extractor/pdf"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/llm/openai"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/queue/nats"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/resilience"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/scancache"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/session"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/vector/pgvector"
	"github.com/dolakin/tax-bills-assistant/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.PipelineMetrics

	Turns    ports.TurnHandler
	Ingestor ports.CorpusIngestor
	Bus      ports.ReingestBus

	Corpus    *scancache.Corpus
	Extractor *pdf.Extractor
	Chunker   *chunking.Chunker

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := pgvector.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	llm := openai.New(openai.Options{
		BaseURL:        cfg.OpenAIBaseURL,
		APIKey:         cfg.OpenAIAPIKey,
		ChatModel:      cfg.OpenAIChatModel,
		EmbedModel:     cfg.OpenAIEmbedModel,
		Timeout:        time.Duration(cfg.OpenAITimeoutSec) * time.Second,
		RequestsPerSec: cfg.OpenAIRatePerSec,
	}, executor)

	store := pgvector.NewStore(db, llm, cfg.OpenAIEmbedDims)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	bus, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init reingest bus: %w", err)
	}

	corpus := scancache.NewCorpus(store, time.Duration(cfg.ScanCacheTTLMinutes)*time.Minute)
	sessions := session.NewStore(time.Duration(cfg.SessionTTLMinutes) * time.Minute)

	pipelineMetrics := metrics.NewPipelineMetrics("api")

	classifier := usecase.NewIntentClassifier(llm)
	retriever := usecase.NewHybridRetriever(store, corpus, cfg.RetrievalTopK, cfg.RetrievalCandidates)
	citations := usecase.NewCitationBuilder(cfg.MaxCitations, cfg.QuoteWindowChars, cfg.MaxQuoteChars)
	turns := usecase.NewTurnUseCase(classifier, retriever, citations, llm, sessions).
		WithObserver(pipelineMetrics.Observer("api"))

	return &App{
		Config:  cfg,
		Metrics: pipelineMetrics,

		Turns:    turns,
		Ingestor: store,
		Bus:      bus,

		Corpus:    corpus,
		Extractor: pdf.NewExtractor(),
		Chunker:   chunking.NewChunker(cfg.ChunkChars, cfg.ChunkOverlap),

		closeFn: func() {
			bus.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
