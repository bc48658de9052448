package report

import (
	"context"
	"errors"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const narratorPrompt = "You are an analyst at a UK water regulator reviewing a price-control scenario sweep. " +
	"Given a run summary in markdown, write three to five short paragraphs of plain commentary on the spread of customer charges between companies. " +
	"Use only figures present in the summary. Do not invent data and do not use headings."

// Narrator writes commentary for a rendered summary.
type Narrator interface {
	Narrate(ctx context.Context, summary string) (string, error)
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type AnthropicNarrator struct {
	messages AnthropicMessager
	model    anthropic.Model
}

// NewAnthropicNarratorFromEnv reads ANTHROPIC_API_KEY. An empty model uses
// the default Sonnet model.
func NewAnthropicNarratorFromEnv(model string) (*AnthropicNarrator, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	m := anthropic.ModelClaudeSonnet4_20250514
	if s := strings.TrimSpace(model); s != "" {
		m = anthropic.Model(s)
	}
	return &AnthropicNarrator{messages: newAnthropicClient(apiKey), model: m}, nil
}

func (a *AnthropicNarrator) Narrate(ctx context.Context, summary string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   1024,
		System:      []anthropic.TextBlockParam{{Text: narratorPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(summary))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("narrator returned no text")
	}
	return text, nil
}
