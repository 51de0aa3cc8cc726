package providers

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBinding talks to OpenAI and OpenAI-compatible APIs via
// github.com/sashabaranov/go-openai.
type OpenAIBinding struct{}

func (OpenAIBinding) client(baseURL, credential string) *openai.Client {
	cfg := openai.DefaultConfig(credential)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (b OpenAIBinding) Generate(ctx context.Context, baseURL, credential, model, prompt string, params GenerationParams) (GenerationResult, error) {
	client := b.client(baseURL, credential)

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature > 0 {
		req.Temperature = float32(params.Temperature)
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return GenerationResult{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return GenerationResult{}, &PermanentError{Err: errors.New("no choices in response")}
	}

	return GenerationResult{
		Text:      resp.Choices[0].Message.Content,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}

func (b OpenAIBinding) Probe(ctx context.Context, baseURL, credential, model string) error {
	client := b.client(baseURL, credential)
	_, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: 5,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return &RateLimitError{Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &UnauthorizedError{Err: err}
		case http.StatusBadRequest, http.StatusNotFound:
			return &PermanentError{Err: err}
		default:
			return &TransientError{Err: err}
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return &RateLimitError{Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &UnauthorizedError{Err: err}
		}
	}
	return &TransientError{Err: err}
}
