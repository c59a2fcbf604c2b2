// Package classifier asks a language model which category fits a transaction.
package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"firefly-ai-categorize/internal/categorize"
	"firefly-ai-categorize/internal/config"
	"firefly-ai-categorize/internal/metrics"
)

// Backend is one chat model provider.
type Backend interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

var _ categorize.Classifier = (*Classifier)(nil)

type Classifier struct {
	backend          Backend
	maxContextTokens int
	log              *zerolog.Logger
}

func NewClassifier(backend Backend, maxContextTokens int, log *zerolog.Logger) *Classifier {
	return &Classifier{backend: backend, maxContextTokens: maxContextTokens, log: log}
}

// New picks the backend named in cfg.Provider.
func New(ctx context.Context, cfg config.ClassifierConfig, log *zerolog.Logger) (*Classifier, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Provider {
	case "openai":
		backend, err = NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "gemini":
		backend, err = NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	WarmEncoding(encodingLoadTimeout, log)
	return NewClassifier(backend, cfg.MaxContextTokens, log), nil
}

func (c *Classifier) Categorize(ctx context.Context, req categorize.ClassifyRequest) (string, bool, error) {
	prompt := BuildPrompt(req, TrimToTokens(req.Context, c.maxContextTokens))

	start := time.Now()
	answer, err := c.backend.Complete(ctx, systemPrompt, prompt)
	metrics.ObserveClassifier(c.backend.Name(), err == nil, time.Since(start))
	if err != nil {
		return "", false, err
	}

	category, ok := ParseCategory(answer)
	c.log.Debug().
		Str("provider", c.backend.Name()).
		Str("merchant", req.MerchantName).
		Str("answer", answer).
		Bool("ok", ok).
		Dur("took", time.Since(start)).
		Msg("classifier answered")
	return category, ok, nil
}
