package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Category labels produced by the classifier. Only membership in the safe
// set matters to the chat core.
const (
	CategorySafe       = "safe"
	CategoryToxic      = "toxic"
	CategoryHarassment = "harassment"
	CategoryHate       = "hate"
	CategorySexual     = "sexual"
)

// safeCategories is the fixed allow set; anything else counts as a violation.
var safeCategories = map[string]struct{}{
	CategorySafe: {},
}

// IsSafe reports whether a category label is in the allowed set.
func IsSafe(category string) bool {
	_, ok := safeCategories[strings.ToLower(strings.TrimSpace(category))]
	return ok
}

// Classifier labels outbound message text. Implementations must respect the
// context deadline; a slow classifier must not stall unrelated conversations.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// Provider represents an AI provider type
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

// Options contains options for creating a classifier
type Options struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

const classifyPrompt = `You are a strict content-safety classifier for a chat application.
Classify the user message below into exactly one category:
safe, toxic, harassment, hate, sexual.
Respond with only the category word, lowercase, nothing else.

Message:
%s`

// LLMClassifier classifies text via a langchaingo model.
type LLMClassifier struct {
	provider Provider
	llm      llms.Model
	timeout  time.Duration
}

// NewLLMClassifier creates a classifier for the specified provider.
func NewLLMClassifier(ctx context.Context, options Options) (*LLMClassifier, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("Creating moderation classifier")

	switch options.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, openai.WithModel(options.Model))
		}
		if options.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(options.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderGemini:
		opts := []googleai.Option{googleai.WithAPIKey(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(options.Model))
		}
		model, err = googleai.New(ctx, opts...)
	case ProviderClaude:
		opts := []anthropic.Option{anthropic.WithToken(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, anthropic.WithModel(options.Model))
		}
		model, err = anthropic.New(opts...)
	case ProviderCohere:
		opts := []cohere.Option{cohere.WithToken(options.APIKey)}
		if options.Model != "" {
			opts = append(opts, cohere.WithModel(options.Model))
		}
		model, err = cohere.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{}
		if options.Model != "" {
			opts = append(opts, ollama.WithModel(options.Model))
		}
		if options.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(options.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &LLMClassifier{
		provider: options.Provider,
		llm:      model,
		timeout:  timeout,
	}, nil
}

// Classify runs the classification prompt with a bounded timeout and returns
// the category label.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, fmt.Sprintf(classifyPrompt, text),
		llms.WithTemperature(0), llms.WithMaxTokens(8))
	if err != nil {
		return "", fmt.Errorf("classifier call failed: %w", err)
	}

	label := strings.ToLower(strings.TrimSpace(out))
	// Models occasionally answer with a sentence; take the first word.
	if idx := strings.IndexAny(label, " \n.,:"); idx > 0 {
		label = label[:idx]
	}
	return label, nil
}
