package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

type fakeLLM struct {
	response string
	err      error
	lastUser string
}

func (f *fakeLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	f.record(messages)
	return f.response, f.err
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []interfaces.Message, emit func(string) error) error {
	f.record(messages)
	if f.err != nil {
		return f.err
	}
	// Emit in two segments to exercise ordered concatenation.
	half := len(f.response) / 2
	if err := emit(f.response[:half]); err != nil {
		return err
	}
	return emit(f.response[half:])
}

func (f *fakeLLM) HealthCheck(ctx context.Context) error { return f.err }

func (f *fakeLLM) record(messages []interfaces.Message) {
	for _, m := range messages {
		if m.Role == "user" {
			f.lastUser = m.Content
		}
	}
}

func testConfig() *common.SynthesisConfig {
	return &common.SynthesisConfig{
		MaxFindingsPerSection: 20,
		MemorySummaryChars:    2100,
		MemoryPointsLimit:     12,
	}
}

func testSection() models.Section {
	return models.Section{
		ID:       "governance",
		Name:     "Governance and Oversight",
		Position: 1,
		Prompt:   "Assess board oversight of the compliance program.",
	}
}

func finding(controlID string, verdict models.Verdict, confidence float64) models.Finding {
	return models.Finding{
		ID:         "fnd_" + controlID,
		ControlID:  controlID,
		Assessment: verdict,
		Confidence: confidence,
		Claim:      "Claim for " + controlID,
		EvidenceLinks: []models.EvidenceLink{
			{DocID: "doc-" + controlID, Page: 1, Source: "evidence:test"},
		},
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	svc := NewService(nil, testConfig(), common.GetLogger())
	findings := []models.Finding{
		finding("C-1", models.VerdictMet, 0.9),
		finding("C-2", models.VerdictNotMet, 0.6),
	}

	text, err := svc.Synthesize(context.Background(), testSection(), findings, Options{})

	require.NoError(t, err)
	assert.Contains(t, text, "Governance and Oversight")
	assert.Contains(t, text, "C-1")
	assert.Contains(t, text, "C-2")
	assert.Contains(t, text, "doc-C-1 p.1")
}

func TestSynthesizeDeterministicEmptyFindings(t *testing.T) {
	svc := NewService(nil, testConfig(), common.GetLogger())

	text, err := svc.Synthesize(context.Background(), testSection(), nil, Options{})

	require.NoError(t, err)
	assert.Contains(t, text, "No findings are in scope")
}

func TestStreamConcatenationEqualsBatch(t *testing.T) {
	svc := NewService(nil, testConfig(), common.GetLogger())
	findings := []models.Finding{
		finding("C-1", models.VerdictMet, 0.9),
		finding("C-2", models.VerdictPartiallyMet, 0.5),
	}

	batch, err := svc.Synthesize(context.Background(), testSection(), findings, Options{})
	require.NoError(t, err)

	var streamed strings.Builder
	err = svc.SynthesizeStream(context.Background(), testSection(), findings, Options{}, func(segment string) error {
		streamed.WriteString(segment)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, batch, streamed.String())
}

func TestSynthesizeGenerativePromptAssembly(t *testing.T) {
	llm := &fakeLLM{response: "The board exercises effective oversight."}
	svc := NewService(llm, testConfig(), common.GetLogger())

	opts := Options{
		OverarchingPrompt: "Write for an AUSTRAC audience.",
		PromptOverride:    "Focus on delegation of authority.",
	}
	text, err := svc.Synthesize(context.Background(), testSection(), []models.Finding{
		finding("C-1", models.VerdictMet, 0.9),
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, "The board exercises effective oversight.", text)
	// Override replaces the stored section prompt.
	assert.Contains(t, llm.lastUser, "Focus on delegation of authority.")
	assert.NotContains(t, llm.lastUser, "Assess board oversight")
	assert.Contains(t, llm.lastUser, "C-1")
}

func TestSynthesizeGenerativeErrorPropagates(t *testing.T) {
	llm := &fakeLLM{err: errors.New("backend unavailable")}
	svc := NewService(llm, testConfig(), common.GetLogger())

	_, err := svc.Synthesize(context.Background(), testSection(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "governance")

	err = svc.SynthesizeStream(context.Background(), testSection(), nil, Options{}, func(string) error { return nil })
	require.Error(t, err)
}

func TestStreamEmitsOrderedSegments(t *testing.T) {
	llm := &fakeLLM{response: "first half then second half"}
	svc := NewService(llm, testConfig(), common.GetLogger())

	var segments []string
	err := svc.SynthesizeStream(context.Background(), testSection(), nil, Options{}, func(segment string) error {
		segments = append(segments, segment)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "first half then second half", strings.Join(segments, ""))
}

func TestBoundFindingsKeepsHighestConfidenceInOrder(t *testing.T) {
	findings := []models.Finding{
		finding("C-1", models.VerdictMet, 0.2),
		finding("C-2", models.VerdictMet, 0.9),
		finding("C-3", models.VerdictMet, 0.8),
		finding("C-4", models.VerdictMet, 0.1),
	}

	bounded := boundFindings(findings, 2)

	require.Len(t, bounded, 2)
	assert.Equal(t, "C-2", bounded[0].ControlID)
	assert.Equal(t, "C-3", bounded[1].ControlID)
}

func TestRollingMemory(t *testing.T) {
	mem := NewRollingMemory(testConfig())
	assert.Empty(t, mem.Context())

	section := testSection()
	f := finding("C-1", models.VerdictMet, 0.9)
	mem.Observe(section, "The board provides strong oversight. More detail follows.", []models.Finding{f})

	ctx := mem.Context()
	assert.Contains(t, ctx, "Governance and Oversight")
	assert.Contains(t, ctx, "The board provides strong oversight.")
	assert.NotContains(t, ctx, "More detail follows")
	assert.Contains(t, ctx, "1 met")

	assert.True(t, mem.EvidenceCited(f.EvidenceLinks[0]))
	assert.False(t, mem.EvidenceCited(models.EvidenceLink{DocID: "other", Page: 1}))
}

func TestRollingMemoryBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MemorySummaryChars = 200
	cfg.MemoryPointsLimit = 2
	mem := NewRollingMemory(cfg)

	for i := 0; i < 10; i++ {
		section := models.Section{ID: fmt.Sprintf("s%d", i), Name: fmt.Sprintf("Section %d", i)}
		mem.Observe(section, strings.Repeat("x", 80)+".", []models.Finding{finding(fmt.Sprintf("C-%d", i), models.VerdictMet, 0.5)})
	}

	assert.LessOrEqual(t, mem.summaryLen(), 200+100) // one entry of slack
	assert.Len(t, mem.points, 2)
	// Latest points survive.
	assert.Contains(t, mem.points[1], "Section 9")
}
