package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
	"github.com/ternarybob/attestor/internal/services/corpus"
	"github.com/ternarybob/attestor/internal/services/retrieval"
	"github.com/ternarybob/attestor/internal/services/taxonomy"
)

type fakeSectionStore struct {
	sections map[string][]models.Section
	err      error
}

func (f *fakeSectionStore) SectionsFor(ctx context.Context, framework string) ([]models.Section, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := append([]models.Section(nil), f.sections[framework]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeSectionStore) SaveSection(ctx context.Context, framework string, section models.Section) error {
	if f.sections == nil {
		f.sections = make(map[string][]models.Section)
	}
	f.sections[framework] = append(f.sections[framework], section)
	return nil
}

func (f *fakeSectionStore) DeleteSection(ctx context.Context, framework, sectionID string) error {
	return nil
}

type memoryReportStorage struct {
	mu        sync.Mutex
	reports   map[string]*models.Report
	saveErr   error
	saveCalls int
}

func newMemoryReportStorage() *memoryReportStorage {
	return &memoryReportStorage{reports: make(map[string]*models.Report)}
}

func (m *memoryReportStorage) Save(ctx context.Context, report *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, exists := m.reports[report.RunID]; exists {
		return fmt.Errorf("run %s already persisted", report.RunID)
	}
	copied := *report
	m.reports[report.RunID] = &copied
	return nil
}

func (m *memoryReportStorage) Load(ctx context.Context, runID string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return report, nil
}

func (m *memoryReportStorage) LoadRagDebug(ctx context.Context, runID string) (map[string][]models.RagDebugRow, error) {
	report, err := m.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return report.RagDebug, nil
}

func (m *memoryReportStorage) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.reports))
	for id := range m.reports {
		ids = append(ids, id)
	}
	return ids, nil
}

type testHarness struct {
	engine  *Engine
	reports *memoryReportStorage
	config  *common.Config
}

func newTestHarness(t *testing.T, llmFactory LLMFactory) *testHarness {
	t.Helper()
	cfg := common.NewDefaultConfig()
	logger := common.GetLogger()

	index := corpus.NewMemoryIndex(corpus.NewTermFrequencyEmbedder(256))
	seedCorpus(t, index)

	taxonomies := taxonomy.NewStore(logger)
	require.NoError(t, taxonomies.Register(&models.Taxonomy{
		Framework: "aml-ctf",
		Controls: []models.Control{
			{ControlID: "AML-1", QueryText: "customer identification procedures", FrameworkRefs: []string{"AUSTRAC 4.2"}},
			{ControlID: "AML-2", QueryText: "transaction monitoring alerts"},
			{ControlID: "AML-3", QueryText: "board oversight compliance program"},
		},
	}))

	sections := &fakeSectionStore{sections: map[string][]models.Section{
		"aml-ctf": {
			{ID: "overview", Name: "Program Overview", Position: 1},
			{ID: "monitoring", Name: "Transaction Monitoring", Position: 2, ControlScope: []string{"AML-2"}},
			{ID: "governance", Name: "Governance", Position: 3, ControlScope: []string{"AML-3", "AUSTRAC 4.2"}},
		},
	}}

	reports := newMemoryReportStorage()
	if llmFactory == nil {
		llmFactory = func(model string) (interfaces.LLMService, error) { return nil, nil }
	}

	retriever := retrieval.NewService(index, &cfg.Retrieval, logger)
	return &testHarness{
		engine:  New(retriever, taxonomies, sections, reports, llmFactory, cfg, logger),
		reports: reports,
		config:  cfg,
	}
}

func seedCorpus(t *testing.T, index *corpus.MemoryIndex) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, index.AddChunks(ctx, models.FrameworkCollection("aml-ctf"), []models.Chunk{
		{DocID: "guide-1", Page: 1, Text: "customer identification procedures must verify identity at onboarding", SourceCollection: models.FrameworkCollection("aml-ctf")},
		{DocID: "guide-1", Page: 7, Text: "transaction monitoring alerts require timely review", SourceCollection: models.FrameworkCollection("aml-ctf")},
	}))
	require.NoError(t, index.AddChunks(ctx, models.AssessmentCollection("acme"), []models.Chunk{
		{DocID: "self-1", Page: 2, Text: "acme verifies customer identification with documentary checks", SourceCollection: models.AssessmentCollection("acme")},
	}))
	require.NoError(t, index.AddChunks(ctx, models.EvidenceCollection("acme"), []models.Chunk{
		{DocID: "ev-1", Page: 1, Text: "customer identification procedures log for march onboarding batch", SourceCollection: models.EvidenceCollection("acme")},
		{DocID: "ev-2", Page: 4, Text: "transaction monitoring alerts queue export with review timestamps", SourceCollection: models.EvidenceCollection("acme")},
	}))
}

func baseRequest() models.RunRequest {
	return models.RunRequest{
		Framework: "aml-ctf",
		Firm:      "acme",
	}
}

func TestRunCompletes(t *testing.T) {
	h := newTestHarness(t, nil)

	report, err := h.engine.Run(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, report.Status)
	assert.False(t, report.CompletedAt.IsZero())
	require.Len(t, report.Findings, 3)
	assert.Equal(t, "AML-1", report.Findings[0].ControlID)
	assert.Equal(t, "AML-2", report.Findings[1].ControlID)
	assert.Equal(t, "AML-3", report.Findings[2].ControlID)

	// Every defined section is present when none were selected.
	assert.Equal(t, []string{"overview", "monitoring", "governance"}, report.SelectedSections)
	require.Len(t, report.Sections, 3)
	for _, id := range report.SelectedSections {
		assert.NotEmpty(t, report.Sections[id])
	}

	persisted, err := h.reports.Load(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, persisted.Status)
}

func TestRunSelectedSectionsExactKeys(t *testing.T) {
	h := newTestHarness(t, nil)

	req := baseRequest()
	req.SelectedSections = []string{"governance", "overview"}

	report, err := h.engine.Run(context.Background(), req)

	require.NoError(t, err)
	// Position order wins over request order; keys match exactly.
	assert.Equal(t, []string{"overview", "governance"}, report.SelectedSections)
	assert.Len(t, report.Sections, 2)
	assert.Contains(t, report.Sections, "overview")
	assert.Contains(t, report.Sections, "governance")
	assert.NotContains(t, report.Sections, "monitoring")
}

func TestRunUnknownFrameworkFails(t *testing.T) {
	h := newTestHarness(t, nil)

	req := baseRequest()
	req.Framework = "nope"

	report, err := h.engine.Run(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, models.RunFailed, report.Status)
}

func TestRunEmptyRequestFieldsFail(t *testing.T) {
	h := newTestHarness(t, nil)

	req := baseRequest()
	req.Framework = ""
	report, err := h.engine.Run(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidFramework)
	assert.Equal(t, models.RunFailed, report.Status)

	req = baseRequest()
	req.Firm = ""
	report, err = h.engine.Run(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidFirm)
	assert.Equal(t, models.RunFailed, report.Status)
}

func TestRunUnknownSectionFails(t *testing.T) {
	h := newTestHarness(t, nil)

	req := baseRequest()
	req.SelectedSections = []string{"overview", "absent"}

	report, err := h.engine.Run(context.Background(), req)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown section")
	assert.Equal(t, models.RunFailed, report.Status)
}

func TestRunRagDebugCapture(t *testing.T) {
	h := newTestHarness(t, nil)

	req := baseRequest()
	req.IncludeRagDebug = true

	report, err := h.engine.Run(context.Background(), req)

	require.NoError(t, err)
	require.NotEmpty(t, report.RagDebug)
	rows := report.RagDebug["AML-1"]
	require.NotEmpty(t, rows)
	for _, row := range rows {
		assert.NotEmpty(t, row.DocID)
		assert.LessOrEqual(t, len(row.Preview), 400)
	}

	// Debug capture stays off by default.
	plain, err := h.engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Empty(t, plain.RagDebug)
}

func TestStreamEventOrder(t *testing.T) {
	h := newTestHarness(t, nil)

	var events []models.RunEvent
	for event := range h.engine.Stream(context.Background(), baseRequest()) {
		events = append(events, event)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, models.EventStart, events[0].Kind)

	last := events[len(events)-1]
	require.Equal(t, models.EventEnd, last.Kind)
	require.NotNil(t, last.OK)
	assert.True(t, *last.OK)

	// Every event carries the run id; section events arrive in
	// section order, text after the section's start.
	runID := events[0].RunID
	require.NotEmpty(t, runID)
	var sectionOrder []string
	current := ""
	for _, event := range events {
		assert.Equal(t, runID, event.RunID)
		switch event.Kind {
		case models.EventSectionStart:
			sectionOrder = append(sectionOrder, event.SectionID)
			current = event.SectionID
		case models.EventSectionText:
			assert.Equal(t, current, event.SectionID)
		}
	}
	assert.Equal(t, []string{"overview", "monitoring", "governance"}, sectionOrder)
}

func TestStreamMatchesBatchSections(t *testing.T) {
	h := newTestHarness(t, nil)

	batch, err := h.engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	streamed := make(map[string]*strings.Builder)
	var endEvent *models.RunEvent
	for event := range h.engine.Stream(context.Background(), baseRequest()) {
		switch event.Kind {
		case models.EventSectionText:
			if streamed[event.SectionID] == nil {
				streamed[event.SectionID] = &strings.Builder{}
			}
			streamed[event.SectionID].WriteString(event.Text)
		case models.EventEnd:
			e := event
			endEvent = &e
		}
	}

	require.NotNil(t, endEvent)
	require.Len(t, streamed, len(batch.Sections))
	for id, text := range batch.Sections {
		require.NotNil(t, streamed[id], "section %s missing from stream", id)
		assert.Equal(t, text, streamed[id].String(), "section %s diverges between batch and stream", id)
	}
}

func TestStreamErrorTerminal(t *testing.T) {
	h := newTestHarness(t, nil)

	req := baseRequest()
	req.Framework = "nope"

	var events []models.RunEvent
	for event := range h.engine.Stream(context.Background(), req) {
		events = append(events, event)
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.EventError, last.Kind)
	assert.NotEmpty(t, last.Error)
	assert.True(t, last.TerminalEvent())
}

type failingSynthesisLLM struct{}

func (f *failingSynthesisLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	for _, m := range messages {
		if m.Role == "system" && strings.Contains(m.Content, "report") {
			return "", errors.New("backend unavailable")
		}
	}
	// Evaluator calls get a malformed response and fall back silently.
	return "no json here", nil
}

func (f *failingSynthesisLLM) ChatStream(ctx context.Context, messages []interfaces.Message, emit func(string) error) error {
	_, err := f.Chat(ctx, messages)
	return err
}

func (f *failingSynthesisLLM) HealthCheck(ctx context.Context) error { return nil }

func TestSectionFailureDegradesToPlaceholder(t *testing.T) {
	h := newTestHarness(t, func(model string) (interfaces.LLMService, error) {
		return &failingSynthesisLLM{}, nil
	})

	report, err := h.engine.Run(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, report.Status)
	require.Len(t, report.Sections, 3)
	for id, text := range report.Sections {
		assert.Contains(t, text, "could not be generated", "section %s", id)
	}
}

func TestSectionFailureEndOKRespectsConfig(t *testing.T) {
	h := newTestHarness(t, func(model string) (interfaces.LLMService, error) {
		return &failingSynthesisLLM{}, nil
	})
	h.engine.config.Engine.FailOnSectionError = true

	var last models.RunEvent
	for event := range h.engine.Stream(context.Background(), baseRequest()) {
		last = event
	}

	require.Equal(t, models.EventEnd, last.Kind)
	require.NotNil(t, last.OK)
	assert.False(t, *last.OK)
}

func TestRunCancelled(t *testing.T) {
	h := newTestHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.engine.Run(ctx, baseRequest())

	require.Error(t, err)
	assert.Equal(t, models.RunFailed, report.Status)
}

func TestStreamAbandonedConsumerReleasesRun(t *testing.T) {
	h := newTestHarness(t, nil)
	h.config.Engine.EventBuffer = 1

	ctx, cancel := context.WithCancel(context.Background())
	events := h.engine.Stream(ctx, baseRequest())

	first, ok := <-events
	require.True(t, ok)
	assert.Equal(t, models.EventStart, first.Kind)

	// Cancel and stop draining entirely. The run goroutine must not
	// stay parked on the full event channel; it fails the run and
	// persists it.
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for {
		ids, err := h.reports.List(context.Background())
		require.NoError(t, err)
		if len(ids) == 1 {
			persisted, err := h.reports.Load(context.Background(), ids[0])
			require.NoError(t, err)
			assert.Equal(t, models.RunFailed, persisted.Status)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("run never reached a terminal state after the consumer disconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCompletedRunPersistenceFailure(t *testing.T) {
	h := newTestHarness(t, nil)
	h.reports.saveErr = errors.New("disk full")

	report, err := h.engine.Run(context.Background(), baseRequest())

	require.ErrorIs(t, err, ErrPersistence)
	// The run itself completed; only the save failed, exactly once.
	assert.Equal(t, models.RunCompleted, report.Status)
	assert.Equal(t, 1, h.reports.saveCalls)
	ids, listErr := h.reports.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, ids)
}

func TestRunIDsUnique(t *testing.T) {
	h := newTestHarness(t, nil)

	first, err := h.engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	second, err := h.engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	ids, err := h.reports.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
