package anthropic

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"resty.dev/v3"

	"paper-tutor/config"
)

const apiVersion = "2023-06-01"

// Client ist ein schlanker Client für das Anthropic Messages-API.
// Retry, Timeout und Rate-Limiting liegen bewusst beim Aufrufer; der Client
// führt genau einen Versuch pro Aufruf aus.
type Client struct {
	httpClient *resty.Client
	model      string
	logger     *zap.Logger
}

// NewClient erstellt einen neuen Anthropic-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.AnthropicBaseURL)
	client.SetHeader("x-api-key", cfg.AnthropicAPIKey)
	client.SetHeader("anthropic-version", apiVersion)
	client.SetHeader("Content-Type", "application/json")

	return &Client{
		httpClient: client,
		model:      cfg.AnthropicModel,
		logger:     logger,
	}
}

// Close schließt den darunterliegenden HTTP-Client.
func (c *Client) Close() error {
	return c.httpClient.Close()
}

// Model gibt das konfigurierte Modell zurück.
func (c *Client) Model() string {
	return c.model
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

// Message ist eine einzelne Konversationsnachricht.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      Usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage zählt die Tokens eines Aufrufs für die Kostenrechnung.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete schickt einen System- und einen User-Prompt und gibt den Text der
// Antwort samt Token-Verbrauch zurück.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, Usage, error) {
	body := messagesRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      system,
		Messages:    []Message{{Role: "user", Content: user}},
	}

	var result messagesResponse
	var apiErr errorResponse
	response, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/v1/messages")
	if err != nil {
		return "", Usage{}, err
	}

	if response.IsError() {
		// 429 bzw. rate_limit_error so formulieren, dass die
		// Fehlerklassifikation des Aufrufers sie als transient erkennt.
		if response.StatusCode() == 429 || apiErr.Error.Type == "rate_limit_error" {
			return "", Usage{}, fmt.Errorf("anthropic rate limit: %s", apiErr.Error.Message)
		}
		if apiErr.Error.Type == "overloaded_error" {
			return "", Usage{}, fmt.Errorf("anthropic overloaded, treat as rate limit: %s", apiErr.Error.Message)
		}
		return "", Usage{}, fmt.Errorf("anthropic status %d (%s): %s",
			response.StatusCode(), apiErr.Error.Type, apiErr.Error.Message)
	}

	var text string
	for _, block := range result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", result.Usage, fmt.Errorf("anthropic: empty completion (stop_reason %s)", result.StopReason)
	}

	c.logger.Debug("Completion erhalten",
		zap.String("model", result.Model),
		zap.Int("input_tokens", result.Usage.InputTokens),
		zap.Int("output_tokens", result.Usage.OutputTokens))
	return text, result.Usage, nil
}
