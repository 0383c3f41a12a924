// Package profile pushes analysis results to the clinic console's patient API.
package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
)

type updateRequest struct {
	Temperature    string `json:"temperature,omitempty"`
	Interest       string `json:"interest,omitempty"`
	InterestDetail string `json:"interestDetail,omitempty"`
	Name           string `json:"name,omitempty"`
	Status         string `json:"status,omitempty"`
	CallRecordID   string `json:"callRecordId"`
}

// Client implements patients.ProfileUpdater.
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &Client{httpClient: client, logger: logger}
}

func (c *Client) ApplyAnalysis(ctx context.Context, id patients.PatientID, u patients.ProfileUpdate) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", string(id)).
		SetBody(updateRequest{
			Temperature:    u.Temperature,
			Interest:       u.Interest,
			InterestDetail: u.InterestDetail,
			Name:           u.Name,
			Status:         u.Status,
			CallRecordID:   u.CallRecordID,
		}).
		Patch("/patients/{id}/call-analysis")
	if err != nil {
		return fmt.Errorf("profile update: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("profile update: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	c.logger.Debug("patient profile updated",
		zap.String("patient_id", string(id)),
		zap.String("call_id", u.CallRecordID),
	)
	return nil
}
