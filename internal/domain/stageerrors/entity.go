package stageerrors

import "time"

// StageError is a persisted terminal failure of one pipeline stage.
type StageError struct {
	ID        int64     `json:"id"`
	CallID    string    `json:"callId"`
	Stage     string    `json:"stage"` // transcribe | classify
	Attempts  int       `json:"attempts"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
