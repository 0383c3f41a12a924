// Package fetch downloads recordings that the phone bridge only referenced by URL.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/InahHwang/d-care-console-sub007/internal/resilience"
)

var errEmptyRecording = errors.New("downloaded recording is empty")

// Downloader implements calls.RecordingFetcher.
type Downloader struct {
	httpClient *resty.Client
	maxBytes   int
}

// NewDownloader caps bodies at maxBytes when positive.
func NewDownloader(timeout time.Duration, maxBytes int) *Downloader {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Downloader{
		httpClient: resty.New().SetTimeout(timeout),
		maxBytes:   maxBytes,
	}
}

func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := d.httpClient.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	if resp.IsError() {
		return nil, resilience.FromHTTPStatus(
			fmt.Errorf("download recording: status %d", resp.StatusCode()),
			resp.StatusCode(),
		)
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, resilience.Permanent(errEmptyRecording)
	}
	if d.maxBytes > 0 && len(body) > d.maxBytes {
		return nil, resilience.Permanent(fmt.Errorf("recording exceeds %d bytes", d.maxBytes))
	}
	return body, nil
}
