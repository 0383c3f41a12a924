// Package diarize talks to a speech-to-text service that labels speakers.
package diarize

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/ai"
	"github.com/InahHwang/d-care-console-sub007/internal/resilience"
)

type word struct {
	Text    string  `json:"word"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

type response struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Words    []word  `json:"words"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client implements ai.SpeechToText over multipart POST {baseURL}/transcribe.
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Client{httpClient: client, logger: logger}
}

func (c *Client) Transcribe(ctx context.Context, req ai.SpeechRequest) (ai.SpeechResult, error) {
	name := req.FileName
	if name == "" {
		name = "recording.wav"
	}

	var (
		out  response
		fail errorBody
	)
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(req.Audio)).
		SetFormData(map[string]string{
			"language": req.Language,
			"diarize":  "true",
		}).
		SetResult(&out).
		SetError(&fail).
		Post("/transcribe")
	if err != nil {
		return ai.SpeechResult{}, fmt.Errorf("diarize request: %w", err)
	}
	if resp.IsError() {
		c.logger.Warn("diarize service returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", fail.Error),
		)
		return ai.SpeechResult{}, resilience.FromHTTPStatus(
			fmt.Errorf("diarize service: %s (status: %d)", fail.Error, resp.StatusCode()),
			resp.StatusCode(),
		)
	}

	res := ai.SpeechResult{
		Text:     out.Text,
		Language: out.Language,
		Duration: out.Duration,
		Words:    make([]ai.Word, 0, len(out.Words)),
	}
	for _, w := range out.Words {
		res.Words = append(res.Words, ai.Word(w))
	}
	return res, nil
}
