// Package insight writes a short plain-English comparison of the per-year
// averages inside a polygon.
package insight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/lox/co2map/internal/models"
)

// ErrDisabled is returned by NewGenerator when no API key is configured.
var ErrDisabled = errors.New("OPENAI_API_KEY not set")

const defaultModel = "gpt-4o-mini"

const systemPrompt = "You summarize satellite CO2 measurements for a map user. " +
	"Answer in at most three sentences. Quote values in ppm with one decimal. " +
	"If a year has no data, say so plainly and do not guess."

// Generator calls the OpenAI chat API.
type Generator struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// NewGenerator builds a generator from apiKey, falling back to the
// OPENAI_API_KEY environment variable.
func NewGenerator(apiKey, model string, logger *zap.Logger) (*Generator, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, ErrDisabled
	}
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger.Named("insight"),
	}, nil
}

// Summary is the input to one narrative.
type Summary struct {
	Years    []int
	Averages models.YearAverage
	Inside   map[int]int
}

// Narrate asks the model for a comparison of the yearly averages.
func (g *Generator) Narrate(ctx context.Context, s Summary) (string, error) {
	prompt := BuildPrompt(s)
	g.logger.Debug("requesting narrative", zap.String("model", g.model), zap.Ints("years", s.Years))

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("narrative request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no narrative returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty narrative returned")
	}
	return text, nil
}

// BuildPrompt lists each year's average and point count in year order.
func BuildPrompt(s Summary) string {
	var b strings.Builder
	b.WriteString("Average CO2 inside the drawn area, by year:\n")
	for _, y := range s.Years {
		if avg := s.Averages[y]; avg != nil {
			fmt.Fprintf(&b, "- %d: %.1f ppm from %d measurements\n", y, *avg, s.Inside[y])
		} else {
			fmt.Fprintf(&b, "- %d: no data\n", y)
		}
	}
	if d, ok := Change(s); ok {
		fmt.Fprintf(&b, "Change from first to last year: %+.1f ppm.\n", d)
	}
	b.WriteString("Describe the change between years.")
	return b.String()
}

// Change is the difference between the last and first year when both have
// data.
func Change(s Summary) (float64, bool) {
	if len(s.Years) < 2 {
		return 0, false
	}
	first, last := s.Averages[s.Years[0]], s.Averages[s.Years[len(s.Years)-1]]
	if first == nil || last == nil {
		return 0, false
	}
	return *last - *first, true
}
