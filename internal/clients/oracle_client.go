package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/quantfold/dealer/internal/domain"
	"github.com/quantfold/dealer/internal/services/promptbuilder"
	"github.com/quantfold/dealer/pkg/retrier"
)

const (
	oracleTimeout    = 60 * time.Second
	oracleMaxRetries = 3
)

// DecisionOracle returns ranked trading decisions for a batch of asset
// contexts. Failures are *domain.OracleError: the caller drops the chunk
// and continues.
type DecisionOracle interface {
	AnalyzeBatch(ctx context.Context, req promptbuilder.BatchRequest) ([]domain.CycleDecision, error)
}

// OpenAIOracleClient talks to any OpenAI-compatible chat completions API.
type OpenAIOracleClient struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	retrier    *retrier.Retrier
}

// NewOpenAIOracleClient creates a client for OpenAI-compatible APIs.
func NewOpenAIOracleClient(apiURL, apiKey, model string) *OpenAIOracleClient {
	return &OpenAIOracleClient{
		apiURL: apiURL,
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: oracleTimeout,
		},
		retrier: retrier.New(retrier.WithMaxRetries(oracleMaxRetries)),
	}
}

// chatRequest represents the request structure for OpenAI-compatible APIs
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents the response structure from OpenAI-compatible APIs
type chatResponse struct {
	Choices []choice  `json:"choices"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// AnalyzeBatch builds prompts, calls the API with retries and parses the
// returned decisions.
func (c *OpenAIOracleClient) AnalyzeBatch(ctx context.Context, req promptbuilder.BatchRequest) ([]domain.CycleDecision, error) {
	if c.apiKey == "" {
		return nil, &domain.OracleError{Backend: "openai", Err: errors.New("oracle API key is empty")}
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: promptbuilder.SystemPrompt},
			{Role: "user", Content: promptbuilder.BuildUserPrompt(req)},
		},
		Temperature: 0.0, // deterministic responses for trading decisions
		MaxTokens:   8192,
	}

	response, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (string, error) {
		return c.sendRequest(ctx, reqBody)
	})
	if err != nil {
		return nil, &domain.OracleError{Backend: "openai", Err: err}
	}

	decisions, err := domain.ParseCycleDecisions(response)
	if err != nil {
		return nil, &domain.OracleError{Backend: "openai", Err: err}
	}

	return decisions, nil
}

func (c *OpenAIOracleClient) sendRequest(ctx context.Context, reqBody chatRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", errors.Wrap(err, "create HTTP request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle API returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", errors.Wrap(err, "unmarshal response")
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("oracle API error: %s (type: %s, code: %s)",
			chatResp.Error.Message, chatResp.Error.Type, chatResp.Error.Code)
	}

	if len(chatResp.Choices) == 0 {
		return "", errors.New("oracle API returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}
