package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/maxharrison/podcast-adblocker/internal/advert"
	"github.com/maxharrison/podcast-adblocker/internal/upstream"
)

const geminiSource = "gemini"

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

// ErrNoAPIKey is returned when no Gemini API key is configured.
var ErrNoAPIKey = errors.New("detect: GEMINI_API_KEY is not set")

const detectPrompt = `
You are given a podcast transcript with time-offset annotations. Words appear like:
    word1<0.00s> word2<0.12s> ... wordN<123.45s>

Your task is to identify every contiguous block of speech that corresponds to an advertisement segment,
and return ONLY a JSON array of objects with "start" and "end" times in seconds.
Example: [{"start": 12.3, "end": 56.7}, {"start": 134.2, "end": 150.0}]
Return [] when there are no advertisements.

---

transcript:

%s
`

// ContentGenerator is the part of the genai client the detector uses.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeneratorFactory builds a ContentGenerator for one API key.
type GeneratorFactory func(ctx context.Context, apiKey string) (ContentGenerator, error)

// NewGenAIFactory returns a factory backed by the Gemini API.
func NewGenAIFactory() GeneratorFactory {
	return func(ctx context.Context, apiKey string) (ContentGenerator, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, err
		}
		return client.Models, nil
	}
}

// GeminiDetector implements Detector with Gemini structured output.
// Several API keys may be configured; a rate-limited key rotates to the next.
type GeminiDetector struct {
	factory    GeneratorFactory
	apiKeys    []string
	currentKey int
	model      string
	logger     *slog.Logger
}

// NewGeminiDetector creates a GeminiDetector. apiKeys is a comma-separated
// list of keys.
func NewGeminiDetector(factory GeneratorFactory, apiKeys, model string, logger *slog.Logger) (*GeminiDetector, error) {
	var keys []string
	for _, k := range strings.Split(apiKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = DefaultModel
	}
	if factory == nil {
		factory = NewGenAIFactory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiDetector{
		factory: factory,
		apiKeys: keys,
		model:   model,
		logger:  logger.With("component", "detector"),
	}, nil
}

// ResponseSchema is the structured output schema sent with every request.
func ResponseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"start": {Type: genai.TypeNumber},
				"end":   {Type: genai.TypeNumber},
			},
			Required:         []string{"start", "end"},
			PropertyOrdering: []string{"start", "end"},
		},
	}
}

// Detect implements Detector.
func (d *GeminiDetector) Detect(ctx context.Context, transcript string) (advert.Set, error) {
	d.logger.Info("identifying advert timestamps", slog.String("model", d.model))

	text, err := d.generate(ctx, fmt.Sprintf(detectPrompt, transcript))
	if err != nil {
		return advert.Set{}, err
	}

	set, err := ParseResponse(geminiSource, text)
	if err != nil {
		return advert.Set{}, err
	}
	d.logger.Info("adverts identified", slog.Int("count", set.Len()))
	return set, nil
}

func (d *GeminiDetector) generate(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   ResponseSchema(),
		Temperature:      genai.Ptr[float32](0),
	}

	var lastErr error
	for range len(d.apiKeys) {
		gen, err := d.factory(ctx, d.apiKeys[d.currentKey])
		if err != nil {
			lastErr = fmt.Errorf("create client: %w", err)
			d.rotateKey()
			continue
		}

		result, err := gen.GenerateContent(ctx, d.model, genai.Text(prompt), cfg)
		if err != nil {
			if isRateLimited(err) && len(d.apiKeys) > 1 {
				d.logger.Warn("key rate limited, rotating", slog.Int("key", d.currentKey+1))
				d.rotateKey()
				lastErr = err
				continue
			}
			return "", fmt.Errorf("detect: generate content: %w", err)
		}

		if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
			var text strings.Builder
			for _, part := range result.Candidates[0].Content.Parts {
				if part != nil && part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			return text.String(), nil
		}
		return "", upstream.NewFormatError(geminiSource, "empty response", nil)
	}

	return "", fmt.Errorf("detect: all API keys exhausted: %w", lastErr)
}

func (d *GeminiDetector) rotateKey() {
	d.currentKey = (d.currentKey + 1) % len(d.apiKeys)
}

func isRateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

// Verify interface implementation at compile time.
var _ Detector = (*GeminiDetector)(nil)
