package ai

import "context"

// Classifier sends a formatted transcript to a language model and returns its raw text.
type Classifier interface {
	Classify(ctx context.Context, transcript string) (string, error)
}

// SpeechToText turns call audio into words with optional speaker labels.
type SpeechToText interface {
	Transcribe(ctx context.Context, req SpeechRequest) (SpeechResult, error)
}

// SpeechRequest carries the audio and a language hint.
type SpeechRequest struct {
	Audio    []byte
	FileName string
	Language string
}

// Word with timing. Speaker is empty when the provider does not diarize.
type Word struct {
	Text    string
	Start   float64
	End     float64
	Speaker string
}

// SpeechResult is the provider-neutral transcription output.
type SpeechResult struct {
	Text     string
	Language string
	Duration float64
	Words    []Word
}
