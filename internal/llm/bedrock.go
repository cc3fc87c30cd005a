package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	minOutputTokens  = 256
	maxOutputTokens  = 4096
)

// InvokeAPI is the part of the Bedrock runtime client used here.
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient translates through an Anthropic model hosted on Amazon
// Bedrock. Requests run at temperature 0 so a phrase translates the same way
// every time.
type BedrockClient struct {
	Region  string
	Model   string
	Timeout time.Duration

	svc InvokeAPI
}

// NewBedrockWithClient wraps an existing runtime client.
func NewBedrockWithClient(svc InvokeAPI, model string, timeout time.Duration) *BedrockClient {
	return &BedrockClient{Model: model, Timeout: timeout, svc: svc}
}

// NewBedrock resolves credentials through the default AWS chain. region may
// be empty when AWS_REGION or the profile provides one.
func NewBedrock(ctx context.Context, region, model string, timeout time.Duration) (*BedrockClient, error) {
	if !isAnthropicModel(model) {
		return nil, fmt.Errorf("bedrock translation needs an Anthropic model, got %q", model)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if r := strings.TrimSpace(region); r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		return nil, errors.New("AWS region not resolved: set translation.region or AWS_REGION")
	}
	return &BedrockClient{Region: cfg.Region, Model: model, Timeout: timeout, svc: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (b *BedrockClient) Name() string { return "bedrock" }

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

// Generate sends prompt as a single user message and returns the first text
// block of the reply.
func (b *BedrockClient) Generate(ctx context.Context, prompt string) (string, error) {
	if !isAnthropicModel(b.Model) {
		return "", fmt.Errorf("bedrock translation needs an Anthropic model, got %q", b.Model)
	}
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        outputBudget(prompt),
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicContent{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	modelID := bedrockModelID(b.Model)
	out, err := b.svc.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock %s: %w", modelID, err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode bedrock response: %w", err)
	}
	for _, c := range resp.Content {
		if c.Type == "text" && strings.TrimSpace(c.Text) != "" {
			return strings.TrimSpace(c.Text), nil
		}
	}
	return "", fmt.Errorf("bedrock %s returned no text", modelID)
}

func isAnthropicModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "anthropic.")
}

// bedrockModelID appends the ":0" revision to bare model ids. ARNs and
// inference profiles pass through.
func bedrockModelID(model string) string {
	model = strings.TrimSpace(model)
	lower := strings.ToLower(model)
	if strings.HasPrefix(lower, "arn:") || strings.Contains(lower, "inference-profile/") || strings.Contains(model, ":") {
		return model
	}
	return model + ":0"
}

// outputBudget sizes max_tokens from the prompt: a translation is roughly as
// long as its source, and a token is at least a couple of bytes.
func outputBudget(prompt string) int {
	n := len(prompt)/2 + minOutputTokens
	return min(max(n, minOutputTokens), maxOutputTokens)
}
