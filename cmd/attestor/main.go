package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/attestor/internal/app"
	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/engine"
	"github.com/ternarybob/attestor/internal/models"
	"github.com/ternarybob/attestor/internal/services/corpus"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	framework   = flag.String("framework", "", "Compliance framework to report against")
	firm        = flag.String("firm", "", "Firm under assessment")
	scope       = flag.String("scope", "", "Free-text scope folded into retrieval and prompts")
	sectionsArg = flag.String("sections", "", "Comma-separated section ids (empty = all)")
	overarching = flag.String("prompt", "", "Overarching prompt applied to every section")
	modelArg    = flag.String("model", "", "Generative model override")
	strategyArg = flag.String("strategy", "", "Retrieval strategy: cosine, mmr or hybrid")
	ragDebug    = flag.Bool("rag-debug", false, "Capture retrieval debug rows on the run")
	streamRun   = flag.Bool("stream", false, "Stream run events as NDJSON on stdout")
	exportPDF   = flag.String("pdf", "", "Render an existing run id to PDF and exit")
	listRuns    = flag.Bool("list", false, "List persisted run ids and exit")
	ingestDir   = flag.String("ingest", "", "Ingest .txt/.md documents from a directory and exit")
	collection  = flag.String("collection", "", "Target corpus collection for -ingest (e.g. framework:aml-ctf, evidence:acme)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Attestor version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Initialize logger
	// 3. Print banner

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("attestor.toml"); err == nil {
			configFiles = append(configFiles, "attestor.toml")
		} else if _, err := os.Stat("deployments/local/attestor.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/attestor.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	if !*streamRun {
		// NDJSON output owns stdout; keep the banner off it.
		common.PrintBanner(common.GetVersion())
	}

	logger.Info().
		Strs("config_files", configFiles).
		Str("environment", config.Environment).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	// Cancel the run on interrupt; the engine persists the failed run.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Interrupt signal received, cancelling run")
		cancel()
	}()

	os.Exit(run(ctx, application))
}

func run(ctx context.Context, application *app.App) int {
	switch {
	case *listRuns:
		return doList(ctx, application)
	case *ingestDir != "":
		return doIngest(ctx, application)
	case *exportPDF != "":
		return doExportPDF(ctx, application, *exportPDF)
	default:
		return doRun(ctx, application)
	}
}

func doIngest(ctx context.Context, application *app.App) int {
	if *collection == "" {
		fmt.Fprintln(os.Stderr, "usage: attestor -ingest <dir> -collection <name>")
		return 2
	}
	ingestor := corpus.NewIngestor(application.CorpusStorage, logger)
	n, err := ingestor.IngestDir(ctx, *collection, *ingestDir)
	if err != nil {
		logger.Error().Err(err).Str("dir", *ingestDir).Msg("Ingest failed")
		return 1
	}
	fmt.Printf("Ingested %d chunks into %s\n", n, *collection)
	return 0
}

func doList(ctx context.Context, application *app.App) int {
	ids, err := application.ReportStorage.List(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list runs")
		return 1
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return 0
}

func doExportPDF(ctx context.Context, application *app.App, runID string) int {
	report, err := application.ReportStorage.Load(ctx, runID)
	if err != nil {
		logger.Error().Err(err).Str("run_id", runID).Msg("Failed to load run")
		return 1
	}

	sections, err := application.SectionStorage.SectionsFor(ctx, report.Framework)
	if err != nil {
		logger.Error().Err(err).Str("framework", report.Framework).Msg("Failed to load sections")
		return 1
	}

	data, err := application.PDFService.RenderReport(report, sections)
	if err != nil {
		logger.Error().Err(err).Str("run_id", runID).Msg("Failed to render PDF")
		return 1
	}

	outDir := application.Config.PDF.OutputDir
	if err := os.MkdirAll(outDir, 0755); err != nil {
		logger.Error().Err(err).Str("dir", outDir).Msg("Failed to create output directory")
		return 1
	}
	outPath := filepath.Join(outDir, runID+".pdf")
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		logger.Error().Err(err).Str("path", outPath).Msg("Failed to write PDF")
		return 1
	}

	logger.Info().Str("path", outPath).Int("bytes", len(data)).Msg("PDF written")
	fmt.Println(outPath)
	return 0
}

func doRun(ctx context.Context, application *app.App) int {
	if *framework == "" || *firm == "" {
		fmt.Fprintln(os.Stderr, "usage: attestor -framework <name> -firm <name> [flags]")
		flag.PrintDefaults()
		return 2
	}

	strategy, err := models.ParseRetrievalStrategy(*strategyArg)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid retrieval strategy")
		return 2
	}

	req := models.RunRequest{
		Framework:         *framework,
		Firm:              *firm,
		Scope:             *scope,
		OverarchingPrompt: *overarching,
		Strategy:          strategy,
		Model:             *modelArg,
		IncludeRagDebug:   *ragDebug,
	}
	if *sectionsArg != "" {
		for _, id := range strings.Split(*sectionsArg, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.SelectedSections = append(req.SelectedSections, id)
			}
		}
	}

	if *streamRun {
		if err := engine.WriteEvents(os.Stdout, application.Engine.Stream(ctx, req)); err != nil {
			logger.Error().Err(err).Msg("Event stream write failed")
			return 1
		}
		return 0
	}

	report, err := application.Engine.Run(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("Run failed")
		return 1
	}

	fmt.Printf("Run %s completed: %d findings, %d sections\n", report.RunID, len(report.Findings), len(report.Sections))
	return 0
}
