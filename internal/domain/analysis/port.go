package analysis

import "context"

// Repository port for generated analyses
type Repository interface {
	Save(ctx context.Context, r *Result) error
	// LatestByCall returns (nil, nil) when the call has no analysis yet.
	LatestByCall(ctx context.Context, callID string) (*Result, error)
}
