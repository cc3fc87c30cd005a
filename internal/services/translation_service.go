package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajramos/quickreply/internal/llm"
	"github.com/ajramos/quickreply/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// TranslationServiceImpl implements Translator on top of an LLM provider,
// caching results per (text, language, style)
type TranslationServiceImpl struct {
	provider llm.Provider
	prompt   string
	cache    *lru.Cache[string, string]
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewTranslationService creates a translation service. prompt may use the
// {{text}}, {{language}} and {{style}} placeholders. cacheSize <= 0 disables
// caching.
func NewTranslationService(provider llm.Provider, prompt string, cacheSize int, m *metrics.Collector, logger *zap.Logger) (*TranslationServiceImpl, error) {
	if provider == nil {
		return nil, fmt.Errorf("translation provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TranslationServiceImpl{
		provider: provider,
		prompt:   prompt,
		metrics:  m,
		logger:   logger,
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, string](cacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	return s, nil
}

func (s *TranslationServiceImpl) Translate(ctx context.Context, text, targetLanguage, style string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if strings.TrimSpace(targetLanguage) == "" {
		return "", &TranslationError{Provider: s.provider.Name(), Err: fmt.Errorf("no target language")}
	}
	if style == "" {
		style = "neutral"
	}

	key := targetLanguage + "\x00" + style + "\x00" + text
	if s.cache != nil {
		if out, ok := s.cache.Get(key); ok {
			s.metrics.ObserveTranslation(s.provider.Name(), "cache")
			return out, nil
		}
	}

	prompt := strings.NewReplacer(
		"{{language}}", targetLanguage,
		"{{style}}", style,
		"{{text}}", text,
	).Replace(s.prompt)

	out, err := s.provider.Generate(ctx, prompt)
	if err != nil {
		s.metrics.ObserveTranslation(s.provider.Name(), "error")
		s.logger.Warn("translation failed", zap.String("provider", s.provider.Name()), zap.Error(err))
		return "", &TranslationError{Provider: s.provider.Name(), Err: err}
	}
	s.metrics.ObserveTranslation(s.provider.Name(), "provider")
	if s.cache != nil {
		s.cache.Add(key, out)
	}
	return out, nil
}

var _ Translator = (*TranslationServiceImpl)(nil)
