package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DeepSeekBaseURL is the default OpenAI-compatible endpoint.
const DeepSeekBaseURL = "https://api.deepseek.com/v1"

// OpenAICompatProvider implements Provider for any OpenAI-compatible API.
// Used for DeepSeek and OpenAI.
type OpenAICompatProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompat creates a provider for OpenAI-compatible APIs.
func NewOpenAICompat(name, baseURL, apiKey, model string) *OpenAICompatProvider {
	if baseURL == "" {
		baseURL = DeepSeekBaseURL
	}
	if model == "" {
		model = "deepseek-chat"
	}
	return &OpenAICompatProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: openaiHTTPClient,
	}
}

func (p *OpenAICompatProvider) Name() string { return p.name }

func (p *OpenAICompatProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	// Build messages array for OpenAI format
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body := openAIRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	resp, err := p.do(ctx, body)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// openaiHTTPClient is a shared HTTP client for OpenAI-compatible requests.
var openaiHTTPClient = &http.Client{Timeout: 2 * time.Minute}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// do makes an HTTP request to the chat completions endpoint.
func (p *OpenAICompatProvider) do(ctx context.Context, body openAIRequest) (*CompletionResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, p.fail(0, fmt.Sprintf("marshal request: %v", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, p.fail(0, fmt.Sprintf("create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.fail(0, fmt.Sprintf("http request: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.fail(resp.StatusCode, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIError
		_ = json.Unmarshal(respBody, &apiErr)
		pe := p.fail(resp.StatusCode, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)))
		if apiErr.Error.Type == "authentication_error" {
			pe.Kind = ErrAuthentication
		}
		return nil, pe
	}

	var oaiResp openAIResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, p.fail(resp.StatusCode, fmt.Sprintf("parse response: %v", err))
	}
	if len(oaiResp.Choices) == 0 {
		return nil, p.fail(resp.StatusCode, "response has no choices")
	}

	return &CompletionResponse{
		Content:      oaiResp.Choices[0].Message.Content,
		Model:        oaiResp.Model,
		InputTokens:  oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
		StopReason:   oaiResp.Choices[0].FinishReason,
	}, nil
}

func (p *OpenAICompatProvider) fail(status int, msg string) *ProviderError {
	return &ProviderError{
		Message:    msg,
		StatusCode: status,
		Provider:   p.name,
		Kind:       kindForStatus(status),
	}
}
