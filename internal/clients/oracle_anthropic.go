package clients

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/quantfold/dealer/internal/domain"
	"github.com/quantfold/dealer/internal/services/promptbuilder"
	"github.com/quantfold/dealer/pkg/retrier"
)

// AnthropicOracleClient backs the decision oracle with the Anthropic
// Messages API.
type AnthropicOracleClient struct {
	client  anthropic.Client
	model   string
	retrier *retrier.Retrier
}

// NewAnthropicOracleClient creates an Anthropic-backed oracle client.
func NewAnthropicOracleClient(apiKey, model string) *AnthropicOracleClient {
	return &AnthropicOracleClient{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		retrier: retrier.New(retrier.WithMaxRetries(oracleMaxRetries)),
	}
}

// AnalyzeBatch builds prompts, calls the Messages API with retries and
// parses the returned decisions.
func (c *AnthropicOracleClient) AnalyzeBatch(ctx context.Context, req promptbuilder.BatchRequest) ([]domain.CycleDecision, error) {
	userPrompt := promptbuilder.BuildUserPrompt(req)

	response, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (string, error) {
		msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: 8192,
			System: []anthropic.TextBlockParam{
				{Text: promptbuilder.SystemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
			},
		})
		if err != nil {
			return "", errors.Wrap(err, "messages API call failed")
		}

		if len(msg.Content) == 0 {
			return "", errors.New("empty response from oracle")
		}

		return msg.Content[0].Text, nil
	})
	if err != nil {
		return nil, &domain.OracleError{Backend: "anthropic", Err: err}
	}

	decisions, err := domain.ParseCycleDecisions(response)
	if err != nil {
		return nil, &domain.OracleError{Backend: "anthropic", Err: err}
	}

	return decisions, nil
}
