package report

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costlimit"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/cpih"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/grid"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/pipeline"
)

type mockMessager struct {
	text   string
	err    error
	params anthropic.MessageNewParams
}

func (m *mockMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: m.text}}}, nil
}

func withMockClient(t *testing.T, m *mockMessager) {
	t.Helper()
	prev := newAnthropicClient
	newAnthropicClient = func(string) AnthropicMessager { return m }
	t.Cleanup(func() { newAnthropicClient = prev })
}

func sampleResult() pipeline.Result {
	start := time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)
	return pipeline.Result{
		Metadata: pipeline.Metadata{
			RunID:        "run-1",
			StartedAt:    start,
			CompletedAt:  start.Add(time.Minute),
			Policy:       failure.Lenient,
			Stage1Rows:   8,
			Stage2Rows:   4,
			Combinations: 2,
			Completed:    2,
			ResultRows:   12,
		},
		Index: []cpih.Ratio{
			{Year: "2017-18", IndexValue: 104.2, Deflation: 1, Inflation: 1},
			{Year: "2022-23", IndexValue: 123.45678, Deflation: 0.84403, Inflation: 1.18480},
		},
		Stage1Points: []costlimit.Point{{Efficiency: 0.5, LimitIncrease: 1.2}, {Efficiency: 1, LimitIncrease: 1.2}},
		Stage2Points: []costlimit.Point{{Efficiency: 1, LimitIncrease: 1.1}},
		Companies: []pipeline.CompanySummary{
			{Company: "ANH", Rows: 4, MinCharge: 90, MaxCharge: 150.0005, MeanCharge: 120.25},
			{Company: "WSX", Rows: 4, NonFinite: 4, MinCharge: math.NaN(), MaxCharge: math.NaN(), MeanCharge: math.NaN()},
		},
	}
}

func sampleParams() Params {
	return Params{
		Stage1Name:  "model1",
		Stage1:      grid.Space2{First: grid.Range{Start: 0.5, Stop: 1.5, Step: 0.5}, Second: grid.Single(1.2)},
		Stage2Name:  "model2",
		Stage2:      grid.Space2{First: grid.Single(1), Second: grid.Single(1.1)},
		Returns:     grid.Single(0.03),
		Schedules:   []string{"flat"},
		DP:          3,
		GeneratedAt: time.Date(2024, 10, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMarkdownSections(t *testing.T) {
	md := Markdown(sampleResult(), sampleParams())

	assert.Contains(t, md, "# Price Review Scenario Run")
	assert.Contains(t, md, "- Run ID: run-1")
	assert.Contains(t, md, "| Combinations | 2 |")
	assert.Contains(t, md, "| 2022-23 | 123.457 | 1.1848 | 0.8440 |")
	assert.Contains(t, md, "| ANH | 4 | 90.000 | 120.250 | 150.001 | 0 |")
	assert.Contains(t, md, "| WSX | 4 | n/a | n/a | n/a | 4 |")
	assert.Contains(t, md, "- Smoothing schedules: flat")
	assert.NotContains(t, md, "INCOMPLETE")
	assert.NotContains(t, md, "## Commentary")
}

func TestMarkdownFlagsFailedRun(t *testing.T) {
	res := sampleResult()
	res.Metadata.StageFailed = pipeline.StageThree
	res.Metadata.Completed = 1
	res.Metadata.FailureReason = "company=SVT\nitem=PRABCL"

	md := Markdown(res, sampleParams())
	assert.Contains(t, md, "> INCOMPLETE: stage `stage_3` failed after 1 of 2 combinations: company=SVT item=PRABCL")
}

func TestFixed(t *testing.T) {
	assert.Equal(t, "1.235", Fixed(1.2345, 3))
	assert.Equal(t, "-2.50", Fixed(-2.5, 2))
	assert.Equal(t, "n/a", Fixed(math.Inf(1), 3))
	assert.Equal(t, "n/a", Fixed(math.NaN(), 3))
}

func TestHTMLRendersTables(t *testing.T) {
	doc, err := HTML(Markdown(sampleResult(), sampleParams()))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc, "<!doctype html>"))
	assert.Contains(t, doc, "<table>")
	assert.Contains(t, doc, "<td>ANH</td>")
}

func TestWriteFileByExtension(t *testing.T) {
	dir := t.TempDir()
	md := Markdown(sampleResult(), sampleParams())

	mdPath := filepath.Join(dir, "run.md")
	require.NoError(t, WriteFile(mdPath, md))
	got, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Equal(t, md, string(got))

	htmlPath := filepath.Join(dir, "run.html")
	require.NoError(t, WriteFile(htmlPath, md))
	got, err = os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(got), "<h1")

	_, err = os.Stat(htmlPath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestNarratorRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicNarratorFromEnv("")
	require.Error(t, err)
}

func TestNarratorReturnsCommentary(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	m := &mockMessager{text: "  Charges for ANH range from 90 to 150.  "}
	withMockClient(t, m)

	n, err := NewAnthropicNarratorFromEnv("")
	require.NoError(t, err)
	text, err := n.Narrate(context.Background(), "summary")
	require.NoError(t, err)
	assert.Equal(t, "Charges for ANH range from 90 to 150.", text)
	assert.Equal(t, anthropic.ModelClaudeSonnet4_20250514, m.params.Model)
	assert.Equal(t, int64(1024), m.params.MaxTokens)
}

func TestNarratorUsesConfiguredModel(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	m := &mockMessager{text: "ok"}
	withMockClient(t, m)

	n, err := NewAnthropicNarratorFromEnv("claude-opus-4-1")
	require.NoError(t, err)
	_, err = n.Narrate(context.Background(), "summary")
	require.NoError(t, err)
	assert.Equal(t, anthropic.Model("claude-opus-4-1"), m.params.Model)
}

func TestNarratorErrors(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	withMockClient(t, &mockMessager{err: errors.New("overloaded")})
	n, err := NewAnthropicNarratorFromEnv("")
	require.NoError(t, err)
	_, err = n.Narrate(context.Background(), "summary")
	assert.EqualError(t, err, "overloaded")

	withMockClient(t, &mockMessager{text: "   "})
	n, err = NewAnthropicNarratorFromEnv("")
	require.NoError(t, err)
	_, err = n.Narrate(context.Background(), "summary")
	assert.Error(t, err)
}

func TestPageSetupParams(t *testing.T) {
	p := A4Landscape().params()
	assert.True(t, p.Landscape)
	assert.True(t, p.PrintBackground)
	assert.Equal(t, 8.27, p.PaperWidth)
	assert.Equal(t, 11.69, p.PaperHeight)
	assert.True(t, p.DisplayHeaderFooter)
	assert.Contains(t, p.FooterTemplate, "pageNumber")

	plain := PageSetup{Width: 8.5, Height: 11}.params()
	assert.False(t, plain.Landscape)
	assert.False(t, plain.DisplayHeaderFooter)
	assert.Empty(t, plain.FooterTemplate)
}

func TestAllocatorOptionsAddExecPath(t *testing.T) {
	base := (&PDFRenderer{}).allocatorOptions()
	withPath := (&PDFRenderer{ChromePath: "/usr/bin/chromium"}).allocatorOptions()
	assert.Len(t, withPath, len(base)+1)
}

func TestPDFRendererProducesPDF(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping chromium render in short mode")
	}
	r := NewPDFRenderer()
	if r.ChromePath == "" {
		t.Skip("no chromium binary available")
	}
	pdf, err := r.Render(context.Background(), Markdown(sampleResult(), sampleParams()))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF"))
}
