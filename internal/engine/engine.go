package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
	"github.com/ternarybob/attestor/internal/services/evaluator"
	"github.com/ternarybob/attestor/internal/services/synthesis"
)

var (
	ErrInvalidFramework = errors.New("framework is required")
	ErrInvalidFirm      = errors.New("firm is required")
	ErrPersistence      = errors.New("report persistence failed")
)

// LLMFactory builds a generative backend for a run. model "" selects
// the configured default; a factory may return (nil, nil) when no
// backend is configured, which selects the deterministic pathways.
type LLMFactory func(model string) (interfaces.LLMService, error)

// Engine executes report runs: it evaluates every control of the
// requested framework against the three corpora, synthesizes the
// selected sections in order, and persists the completed report.
//
// A run moves pending -> evaluating -> synthesizing -> completed, with
// failed reachable from any non-terminal state. The report is persisted
// exactly once, at the terminal state.
type Engine struct {
	retriever  interfaces.Retriever
	taxonomies interfaces.TaxonomyStore
	sections   interfaces.SectionStore
	reports    interfaces.ReportStorage
	llmFactory LLMFactory
	config     *common.Config
	logger     arbor.ILogger
}

// New creates a run engine.
func New(retriever interfaces.Retriever, taxonomies interfaces.TaxonomyStore, sections interfaces.SectionStore, reports interfaces.ReportStorage, llmFactory LLMFactory, config *common.Config, logger arbor.ILogger) *Engine {
	return &Engine{
		retriever:  retriever,
		taxonomies: taxonomies,
		sections:   sections,
		reports:    reports,
		llmFactory: llmFactory,
		config:     config,
		logger:     logger,
	}
}

// Run executes a report run to completion and returns the persisted
// report. The returned report and the section texts a streaming run
// emits are identical for identical inputs on the deterministic
// pathway.
func (e *Engine) Run(ctx context.Context, req models.RunRequest) (*models.Report, error) {
	return e.execute(ctx, req, nil)
}

// Stream executes a report run while emitting its ordered event
// sequence. The channel is closed after the terminal event (end or
// error). The run persists exactly as a batch run does.
func (e *Engine) Stream(ctx context.Context, req models.RunRequest) <-chan models.RunEvent {
	events := make(chan models.RunEvent, e.config.Engine.EventBuffer)
	go func() {
		defer close(events)
		if _, err := e.execute(ctx, req, events); err != nil {
			e.logger.Warn().Err(err).Msg("Streaming run failed")
		}
	}()
	return events
}

// execute is the single run implementation behind Run and Stream.
// events may be nil for batch runs.
func (e *Engine) execute(ctx context.Context, req models.RunRequest, events chan<- models.RunEvent) (*models.Report, error) {
	runID := common.NewRunID()
	report := &models.Report{
		RunID:     runID,
		Framework: req.Framework,
		Firm:      req.Firm,
		Scope:     req.Scope,
		Sections:  make(map[string]string),
		Status:    models.RunPending,
		CreatedAt: time.Now().UTC(),
	}

	if timeout := e.runTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	emit := func(event models.RunEvent) {
		if events == nil {
			return
		}
		event.RunID = runID
		// A consumer that cancelled and stopped draining must not park
		// the run goroutine on the channel; the run fails at the next
		// cancellation check instead.
		select {
		case events <- event:
		case <-ctx.Done():
		}
	}

	fail := func(err error) (*models.Report, error) {
		report.Status = models.RunFailed
		report.CompletedAt = time.Now().UTC()
		if saveErr := e.reports.Save(ctx, report); saveErr != nil {
			e.logger.Warn().Err(saveErr).Str("run_id", runID).Msg("Failed to persist failed run")
		}
		emit(models.RunEvent{Kind: models.EventError, Error: err.Error()})
		e.logger.Warn().Err(err).Str("run_id", runID).Msg("Run failed")
		return report, err
	}

	if req.Framework == "" {
		return fail(ErrInvalidFramework)
	}
	if req.Firm == "" {
		return fail(ErrInvalidFirm)
	}

	taxonomy, err := e.taxonomies.TaxonomyFor(req.Framework)
	if err != nil {
		return fail(err)
	}

	sections, err := e.resolveSections(ctx, req)
	if err != nil {
		return fail(err)
	}
	for _, section := range sections {
		report.SelectedSections = append(report.SelectedSections, section.ID)
	}

	llm, err := e.llmFactory(req.Model)
	if err != nil {
		return fail(fmt.Errorf("generative backend: %w", err))
	}

	e.logger.Info().
		Str("run_id", runID).
		Str("framework", req.Framework).
		Str("firm", req.Firm).
		Int("controls", len(taxonomy.Controls)).
		Int("sections", len(sections)).
		Msg("Run started")
	emit(models.RunEvent{Kind: models.EventStart, Framework: req.Framework, Firm: req.Firm})

	report.Status = models.RunEvaluating
	findings, ragDebug, err := e.evaluateControls(ctx, req, taxonomy.Controls, llm)
	if err != nil {
		return fail(err)
	}
	report.Findings = findings
	if req.IncludeRagDebug {
		report.RagDebug = ragDebug
	}

	report.Status = models.RunSynthesizing
	synthesizer := synthesis.NewService(llm, &e.config.Synthesis, e.logger)
	memory := synthesis.NewRollingMemory(&e.config.Synthesis)
	sectionFailures := 0

	for _, section := range sections {
		if ctx.Err() != nil {
			return fail(fmt.Errorf("run cancelled: %w", ctx.Err()))
		}

		emit(models.RunEvent{Kind: models.EventSectionStart, SectionID: section.ID, SectionName: section.Name})

		inScope := make([]models.Finding, 0, len(findings))
		for _, f := range findings {
			if section.InScope(f) {
				inScope = append(inScope, f)
			}
		}

		opts := synthesis.Options{
			OverarchingPrompt: req.OverarchingPrompt,
			PromptOverride:    req.PromptOverrides[section.ID],
			Memory:            memory,
		}

		text, err := e.synthesizeSection(ctx, synthesizer, section, inScope, opts, emit, events != nil)
		if err != nil {
			sectionFailures++
			text = sectionPlaceholder(section, err)
			emit(models.RunEvent{Kind: models.EventSectionText, SectionID: section.ID, Text: text})
			e.logger.Warn().Err(err).Str("run_id", runID).Str("section_id", section.ID).Msg("Section synthesis failed")
		} else {
			memory.Observe(section, text, inScope)
		}
		report.Sections[section.ID] = text
	}

	report.Status = models.RunCompleted
	report.CompletedAt = time.Now().UTC()
	if saveErr := e.reports.Save(ctx, report); saveErr != nil {
		// The work completed; only persistence failed. The in-memory
		// report stays completed and the run id is not re-saved.
		err := fmt.Errorf("%w: %v", ErrPersistence, saveErr)
		emit(models.RunEvent{Kind: models.EventError, Error: err.Error()})
		e.logger.Warn().Err(saveErr).Str("run_id", runID).Msg("Completed run could not be persisted")
		return report, err
	}

	ok := sectionFailures == 0 || !e.config.Engine.FailOnSectionError
	emit(models.RunEvent{Kind: models.EventEnd, OK: &ok})
	e.logger.Info().
		Str("run_id", runID).
		Int("findings", len(report.Findings)).
		Int("section_failures", sectionFailures).
		Msg("Run completed")
	return report, nil
}

// synthesizeSection produces one section's text, streaming segments
// through emit when the run is streaming.
func (e *Engine) synthesizeSection(ctx context.Context, synthesizer *synthesis.Service, section models.Section, findings []models.Finding, opts synthesis.Options, emit func(models.RunEvent), streaming bool) (string, error) {
	if !streaming {
		return synthesizer.Synthesize(ctx, section, findings, opts)
	}

	var full []byte
	err := synthesizer.SynthesizeStream(ctx, section, findings, opts, func(segment string) error {
		full = append(full, segment...)
		emit(models.RunEvent{Kind: models.EventSectionText, SectionID: section.ID, Text: segment})
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(full), nil
}

// evaluateControls runs the findings evaluator over the full taxonomy
// under a bounded worker pool and a shared call-rate budget. Findings
// come back in taxonomy order regardless of completion order.
func (e *Engine) evaluateControls(ctx context.Context, req models.RunRequest, controls []models.Control, llm interfaces.LLMService) ([]models.Finding, map[string][]models.RagDebugRow, error) {
	eval := evaluator.NewService(llm, &e.config.Evaluator, e.logger)
	limiter := rate.NewLimiter(rate.Limit(e.config.Evaluator.RatePerSecond), e.config.Evaluator.RatePerSecond)

	findings := make([]models.Finding, len(controls))
	ragDebug := make(map[string][]models.RagDebugRow)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	sem := make(chan struct{}, e.config.Evaluator.Concurrency)

	for i, control := range controls {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, control models.Control) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := limiter.Wait(ctx); err != nil {
				mu.Lock()
				if first == nil {
					first = fmt.Errorf("run cancelled: %w", err)
				}
				mu.Unlock()
				return
			}

			fw, assess, ev, rows := e.retrieveForControl(ctx, req, control)
			finding := eval.Evaluate(ctx, control, fw, assess, ev)

			mu.Lock()
			findings[idx] = finding
			if req.IncludeRagDebug {
				ragDebug[control.ControlID] = rows
			}
			mu.Unlock()
		}(i, control)
	}
	wg.Wait()

	if first != nil {
		return nil, nil, first
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("run cancelled: %w", err)
	}
	return findings, ragDebug, nil
}

// retrieveForControl queries the three corpora for one control. A
// failed collection query degrades to an empty result; evaluation
// continues with whatever was retrieved.
func (e *Engine) retrieveForControl(ctx context.Context, req models.RunRequest, control models.Control) (fw, assess, ev []models.ScoredChunk, rows []models.RagDebugRow) {
	query := control.RetrievalQuery()
	if req.Scope != "" {
		query += " " + req.Scope
	}

	retrieve := func(collection string) []models.ScoredChunk {
		chunks, err := e.retriever.Retrieve(ctx, collection, query, e.config.Retrieval.TopK, req.Strategy)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("collection", collection).
				Str("control_id", control.ControlID).
				Msg("Retrieval failed, continuing with empty result")
			return nil
		}
		return chunks
	}

	fw = retrieve(models.FrameworkCollection(req.Framework))
	assess = retrieve(models.AssessmentCollection(req.Firm))
	ev = retrieve(models.EvidenceCollection(req.Firm))

	if req.IncludeRagDebug {
		for _, chunk := range fw {
			rows = append(rows, chunk.DebugRow())
		}
		for _, chunk := range assess {
			rows = append(rows, chunk.DebugRow())
		}
		for _, chunk := range ev {
			rows = append(rows, chunk.DebugRow())
		}
	}
	return fw, assess, ev, rows
}

// resolveSections returns the run's sections in position order. An
// empty selection means every section defined for the framework; a
// selected id with no definition is a run-level error.
func (e *Engine) resolveSections(ctx context.Context, req models.RunRequest) ([]models.Section, error) {
	defined, err := e.sections.SectionsFor(ctx, req.Framework)
	if err != nil {
		return nil, fmt.Errorf("loading sections: %w", err)
	}
	if len(defined) == 0 {
		return nil, fmt.Errorf("no sections defined for framework %s", req.Framework)
	}
	if len(req.SelectedSections) == 0 {
		return defined, nil
	}

	byID := make(map[string]models.Section, len(defined))
	for _, section := range defined {
		byID[section.ID] = section
	}

	selected := make([]models.Section, 0, len(req.SelectedSections))
	seen := make(map[string]bool)
	for _, id := range req.SelectedSections {
		section, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown section: %s", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		selected = append(selected, section)
	}
	// Definitions arrive position-ordered; selection keeps that order.
	for i := 1; i < len(selected); i++ {
		for j := i; j > 0 && selected[j].Position < selected[j-1].Position; j-- {
			selected[j], selected[j-1] = selected[j-1], selected[j]
		}
	}
	return selected, nil
}

func (e *Engine) runTimeout() time.Duration {
	if e.config.Engine.RunTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(e.config.Engine.RunTimeout)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Invalid run timeout, running without deadline")
		return 0
	}
	return d
}

func sectionPlaceholder(section models.Section, err error) string {
	return fmt.Sprintf("%s could not be generated: %v", section.Name, err)
}
