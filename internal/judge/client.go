package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Result carries a judge response plus the metadata recorded on the
// workflow step that issued it.
type Result struct {
	Text       string
	Model      string
	TokenCount int
	Duration   time.Duration
}

// Client is an abstraction over the LLM judge provider
type Client interface {
	// Evaluate sends a prompt on behalf of a pipeline agent and returns the
	// raw text response with call metadata
	Evaluate(ctx context.Context, agent, prompt string) (*Result, error)
	// Close releases any resources held by the client
	Close() error
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini-backed judge client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, config: config}, nil
}

// Evaluate sends a prompt to the model mapped for the given agent. All
// pipeline agents expect JSON back, so the response MIME type is pinned and
// temperature kept low for reproducible scoring.
func (c *GeminiClient) Evaluate(ctx context.Context, agent, prompt string) (*Result, error) {
	modelName := c.config.ModelFor(agent)
	if modelName == "" {
		return nil, fmt.Errorf("no model configured for agent %s", agent)
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("judge call failed for %s: %w", agent, err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("judge response for %s: %w", agent, err)
	}

	result := &Result{
		Text:     CleanJSONBlock(text),
		Model:    modelName,
		Duration: time.Since(start),
	}
	if resp.UsageMetadata != nil {
		result.TokenCount = int(resp.UsageMetadata.TotalTokenCount)
	}
	return result, nil
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from a Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}
