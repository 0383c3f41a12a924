package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/ai"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/ai/prompt"
	"github.com/InahHwang/d-care-console-sub007/internal/resilience"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.3
	defaultMaxTokens   = 1000
)

// Client implements ai.Classifier with chat completions and ai.SpeechToText
// with Whisper.
type Client struct {
	*openai.Client
	Model           string
	TranscribeModel string
	Temperature     float32
	MaxTokens       int
	Now             func() time.Time
}

// NewClient builds a client; baseURL is optional and points at a compatible gateway.
func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model}
}

func reasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func (c *Client) Classify(ctx context.Context, transcript string) (string, error) {
	model := c.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.SystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.UserPrompt(transcript, now())},
		},
	}
	// reasoning models reject temperature and max_tokens
	if reasoningModel(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
		req.Temperature = c.Temperature
		if req.Temperature == 0 {
			req.Temperature = defaultTemperature
		}
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", mapError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Transcribe(ctx context.Context, in ai.SpeechRequest) (ai.SpeechResult, error) {
	model := c.TranscribeModel
	if model == "" {
		model = openai.Whisper1
	}
	name := in.FileName
	if name == "" {
		name = "recording.wav"
	}

	resp, err := c.CreateTranscription(ctx, openai.AudioRequest{
		Model:                  model,
		FilePath:               name,
		Reader:                 bytes.NewReader(in.Audio),
		Language:               in.Language,
		Format:                 openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{openai.TranscriptionTimestampGranularityWord},
	})
	if err != nil {
		return ai.SpeechResult{}, mapError("transcription", err)
	}

	out := ai.SpeechResult{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
		Words:    make([]ai.Word, 0, len(resp.Words)),
	}
	for _, w := range resp.Words {
		out.Words = append(out.Words, ai.Word{Text: w.Word, Start: w.Start, End: w.End})
	}
	return out, nil
}

// mapError tags quota errors and marks non-transient client errors permanent.
func mapError(op string, err error) error {
	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
		code   int
	)
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	if code == http.StatusTooManyRequests {
		err = fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, err)
	}
	return resilience.FromHTTPStatus(fmt.Errorf("failed to create %s: %w", op, err), code)
}
