// Package events appends pipeline events to a Redis stream for the notifier.
package events

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
)

const DefaultStream = "callintel:events"

// NewRedisClient opens a client; connectivity is checked by Ping.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// StreamPublisher implements calls.EventPublisher with XADD.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamPublisher trims the stream to about maxLen entries when maxLen > 0.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (p *StreamPublisher) PublishAnalysisCompleted(ctx context.Context, e calls.AnalysisCompleted) error {
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "marshal analysis-complete event")
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":         calls.EventAnalysisComplete,
			"callRecordId": e.CallRecordID,
			"data":         string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return eris.Wrapf(err, "xadd %s", p.stream)
	}
	p.logger.Debug("event published",
		zap.String("stream", p.stream),
		zap.String("id", id),
		zap.String("call_id", e.CallRecordID),
	)
	return nil
}

// Ping backs the readiness check.
func (p *StreamPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
