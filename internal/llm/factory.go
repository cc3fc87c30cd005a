package llm

import (
	"context"
	"fmt"
	"time"
)

// NewProviderFromConfig creates a Provider from config fields
func NewProviderFromConfig(ctx context.Context, provider, endpoint, model, region string, timeout time.Duration) (Provider, error) {
	switch provider {
	case "ollama", "":
		return NewClient(endpoint, model, timeout), nil
	case "bedrock":
		return NewBedrock(ctx, region, model, timeout)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
