package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GenericBinding speaks the OpenAI-compatible /chat/completions wire format
// over plain net/http. It backs providers with no first-class SDK in the
// example pack (Ollama, LM Studio, any self-hosted gateway reachable via a
// caller-supplied base URL) — see DESIGN.md for why this one binding stays
// on the standard library instead of a third-party client.
type GenericBinding struct {
	HTTPClient *http.Client
}

func (b GenericBinding) httpClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (b GenericBinding) Generate(ctx context.Context, baseURL, credential, model, prompt string, params GenerationParams) (GenerationResult, error) {
	if baseURL == "" {
		return GenerationResult{}, &PermanentError{Err: errors.New("base_url is required for generic provider")}
	}

	body := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if params.Temperature > 0 {
		body["temperature"] = params.Temperature
	}
	if params.MaxTokens > 0 {
		body["max_tokens"] = params.MaxTokens
	}

	start := time.Now()
	raw, err := b.doRequest(ctx, baseURL, credential, "/chat/completions", body)
	if err != nil {
		return GenerationResult{}, err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return GenerationResult{}, &PermanentError{Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return GenerationResult{}, &PermanentError{Err: errors.New("no choices in response")}
	}

	return GenerationResult{
		Text:      parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (b GenericBinding) Probe(ctx context.Context, baseURL, credential, model string) error {
	_, err := b.Generate(ctx, baseURL, credential, model, "Hi", GenerationParams{MaxTokens: 5})
	return err
}

func (b GenericBinding) doRequest(ctx context.Context, baseURL, credential, path string, body map[string]any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &PermanentError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, &PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return respBody, nil
	case http.StatusTooManyRequests:
		return nil, &RateLimitError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &UnauthorizedError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	case http.StatusBadRequest, http.StatusNotFound:
		return nil, &PermanentError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	default:
		return nil, &TransientError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}
}
