package pipeline

import (
	"context"
	"errors"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/resilience"
)

// AudioLoader reads a call's RecordingBlob, downloading and storing it first
// when the call only carries a URL reference.
type AudioLoader struct {
	Repo    calls.Repository
	Blobs   calls.RecordingStore
	Fetcher calls.RecordingFetcher
}

func (l *AudioLoader) Load(ctx context.Context, rec *calls.CallRecord) ([]byte, error) {
	if rec.RecordingKey != "" {
		data, err := l.Blobs.Get(ctx, rec.RecordingKey)
		if errors.Is(err, calls.ErrNoRecording) {
			return nil, resilience.Permanent(err)
		}
		return data, err
	}

	if !rec.RemoteRecording() || l.Fetcher == nil {
		return nil, resilience.Permanent(calls.ErrNoRecording)
	}

	data, err := l.Fetcher.Fetch(ctx, rec.RecordingRef)
	if err != nil {
		return nil, err
	}
	key := calls.RecordingKey(rec.ID, rec.RecordingRef)
	if err := l.Blobs.Put(ctx, calls.RecordingBlob{Key: key, Data: data}); err != nil {
		return nil, err
	}
	if err := l.Repo.SetRecordingKey(ctx, rec.ID, key); err != nil {
		return nil, err
	}
	rec.RecordingKey = key
	return data, nil
}
