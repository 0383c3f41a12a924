package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/ai"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
)

func TestBuildTranscript_GroupsDiarizedWords(t *testing.T) {
	tr := BuildTranscript(ai.SpeechResult{
		Language: "ko",
		Duration: 9,
		Words: []ai.Word{
			{Text: "Hello,", Start: 0, End: 0.5, Speaker: "SPEAKER_00"},
			{Text: "clinic.", Start: 0.5, End: 1, Speaker: "SPEAKER_00"},
			{Text: "How much", Start: 1.2, End: 2, Speaker: "SPEAKER_01"},
			{Text: "is an implant?", Start: 2, End: 3, Speaker: "SPEAKER_01"},
			{Text: "It depends.", Start: 3.5, End: 4, Speaker: "SPEAKER_00"},
		},
	})

	require.Len(t, tr.Segments, 3)
	assert.True(t, tr.Diarized)
	assert.Equal(t, analysis.SpeakerStaff, tr.Segments[0].Speaker)
	assert.Equal(t, analysis.SpeakerCaller, tr.Segments[1].Speaker)
	assert.Equal(t, "How much is an implant?", tr.Segments[1].Text)
	assert.Equal(t, 1.2, tr.Segments[1].Start)
	assert.Equal(t, 3.0, tr.Segments[1].End)
	assert.Equal(t, "Staff: Hello, clinic.\nCaller: How much is an implant?\nStaff: It depends.", tr.Formatted)
	assert.Equal(t, "Hello, clinic. How much is an implant? It depends.", tr.Text)
}

func TestBuildTranscript_UndiarizedIsOneUnknownSegment(t *testing.T) {
	tr := BuildTranscript(ai.SpeechResult{
		Text:     " Hello, I would like to book a cleaning. ",
		Duration: 6,
		Words: []ai.Word{
			{Text: "Hello,", Start: 0.2, End: 0.6},
			{Text: "cleaning.", Start: 4, End: 5.5},
		},
	})

	require.Len(t, tr.Segments, 1)
	assert.False(t, tr.Diarized)
	assert.Equal(t, analysis.SpeakerUnknown, tr.Segments[0].Speaker)
	assert.Equal(t, 0.2, tr.Segments[0].Start)
	assert.Equal(t, 5.5, tr.Segments[0].End)
	assert.Equal(t, "Unknown: Hello, I would like to book a cleaning.", tr.Formatted)
}

func TestBuildTranscript_ThirdSpeaker(t *testing.T) {
	tr := BuildTranscript(ai.SpeechResult{Words: []ai.Word{
		{Text: "hi", Speaker: "0"},
		{Text: "hello", Speaker: "2"},
	}})
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, "Staff: hi\nSpeaker 2: hello", tr.Formatted)
}

func TestBuildTranscript_Empty(t *testing.T) {
	tr := BuildTranscript(ai.SpeechResult{})
	assert.Empty(t, tr.Segments)
	assert.Empty(t, tr.Formatted)
}

func TestSpeakerIndex(t *testing.T) {
	cases := map[string]int{
		"0":          0,
		"SPEAKER_01": 1,
		"speaker 1":  1,
		"spk12":      12,
		"A":          -1,
		"":           -1,
	}
	for label, want := range cases {
		assert.Equal(t, want, SpeakerIndex(label), label)
	}
}

type stubSTT struct {
	err error
	got ai.SpeechRequest
}

func (s *stubSTT) Transcribe(_ context.Context, req ai.SpeechRequest) (ai.SpeechResult, error) {
	s.got = req
	if s.err != nil {
		return ai.SpeechResult{}, s.err
	}
	return ai.SpeechResult{Text: "ok"}, nil
}

func TestTranscribeStage_PassesLanguage(t *testing.T) {
	stt := &stubSTT{}
	stage := &TranscribeStage{STT: stt, Language: "ko"}

	tr, err := stage.Run(context.Background(), []byte("abc"), "a.wav")
	require.NoError(t, err)
	assert.Equal(t, "ko", stt.got.Language)
	assert.Equal(t, "a.wav", stt.got.FileName)
	assert.Equal(t, "Unknown: ok", tr.Formatted)

	stt.err = errors.New("boom")
	_, err = stage.Run(context.Background(), nil, "a.wav")
	assert.EqualError(t, err, "boom")
}

func TestCallerName(t *testing.T) {
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	current := &calls.CallRecord{ID: "c3", CreatedAt: base.Add(2 * time.Hour)}

	t.Run("fresh name when no history", func(t *testing.T) {
		assert.Equal(t, "Lee", CallerName(current, nil, "Lee"))
	})

	t.Run("earliest recognized name wins", func(t *testing.T) {
		history := []calls.NameObservation{
			{CallID: "c1", Name: "Park", ObservedAt: base},
			{CallID: "c2", Name: "Choi", ObservedAt: base.Add(time.Hour)},
		}
		assert.Equal(t, "Park", CallerName(current, history, "Lee"))
	})

	t.Run("manual correction beats earlier names", func(t *testing.T) {
		history := []calls.NameObservation{
			{CallID: "c1", Name: "Park", ObservedAt: base},
			{CallID: "c2", Name: "Choi", Manual: true, ObservedAt: base.Add(time.Hour)},
		}
		assert.Equal(t, "Choi", CallerName(current, history, "Lee"))
	})

	t.Run("own manual name", func(t *testing.T) {
		own := &calls.CallRecord{ID: "c3", CallerName: "Han", CallerNameManual: true, CreatedAt: base.Add(2 * time.Hour)}
		history := []calls.NameObservation{{CallID: "c1", Name: "Park", ObservedAt: base}}
		assert.Equal(t, "Han", CallerName(own, history, "Lee"))
	})
}

type stubLLM struct{ raw string }

func (s stubLLM) Classify(context.Context, string) (string, error) { return s.raw, nil }

func TestClassifyStage_FallsBackOnBadOutput(t *testing.T) {
	stage := &ClassifyStage{LLM: stubLLM{raw: "I cannot help with that."}}
	tr := analysis.Transcript{Formatted: "Caller: hi"}

	res, err := stage.Run(context.Background(), tr)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, analysis.CategoryOther, res.Category)
	assert.Equal(t, analysis.TemperatureWarm, res.Temperature)
	assert.Equal(t, tr, res.Transcript)
}
