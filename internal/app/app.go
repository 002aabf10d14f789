package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/engine"
	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/services/corpus"
	"github.com/ternarybob/attestor/internal/services/llm"
	"github.com/ternarybob/attestor/internal/services/pdf"
	"github.com/ternarybob/attestor/internal/services/retrieval"
	"github.com/ternarybob/attestor/internal/services/taxonomy"
	badgerstore "github.com/ternarybob/attestor/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB             *badgerstore.BadgerDB
	CorpusStorage  *badgerstore.CorpusStorage
	SectionStorage *badgerstore.SectionStorage
	ReportStorage  *badgerstore.ReportStorage

	// Services
	Retriever     interfaces.Retriever
	TaxonomyStore *taxonomy.Store
	PDFService    interfaces.PDFService

	// Run engine
	Engine *engine.Engine
}

// New wires the application from configuration: storage, corpus index,
// taxonomies, section definitions, and the run engine.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	embedder := corpus.NewTermFrequencyEmbedder(256)
	corpusStorage := badgerstore.NewCorpusStorage(db, embedder, logger)
	sectionStorage := badgerstore.NewSectionStorage(db, logger)
	reportStorage := badgerstore.NewReportStorage(db, logger)

	taxonomies := taxonomy.NewStore(logger)
	if config.Taxonomy.Dir != "" {
		if err := taxonomies.LoadDir(config.Taxonomy.Dir); err != nil {
			db.Close()
			return nil, fmt.Errorf("loading taxonomies: %w", err)
		}
	}

	if config.Sections.SeedDir != "" {
		if err := sectionStorage.LoadSeedDir(context.Background(), config.Sections.SeedDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("loading section definitions: %w", err)
		}
	}

	retriever := retrieval.NewService(corpusStorage, &config.Retrieval, logger)

	llmFactory := func(model string) (interfaces.LLMService, error) {
		return llm.NewLLMService(config, model, logger)
	}

	app := &App{
		Config:         config,
		Logger:         logger,
		DB:             db,
		CorpusStorage:  corpusStorage,
		SectionStorage: sectionStorage,
		ReportStorage:  reportStorage,
		Retriever:      retriever,
		TaxonomyStore:  taxonomies,
		PDFService:     pdf.NewService(logger),
		Engine:         engine.New(retriever, taxonomies, sectionStorage, reportStorage, llmFactory, config, logger),
	}

	logger.Info().
		Str("environment", config.Environment).
		Str("badger_path", config.Storage.Badger.Path).
		Int("frameworks", len(taxonomies.Frameworks())).
		Msg("Application initialized")
	return app, nil
}

// Close releases application resources.
func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
}
