package stageerrors

import "context"

// Repository defines persistence for stage errors
type Repository interface {
	Save(ctx context.Context, e *StageError) error
	ListByCall(ctx context.Context, callID string, limit int) ([]*StageError, error)
}
