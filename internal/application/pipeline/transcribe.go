package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/ai"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
)

// TranscribeStage turns audio into a speaker-labeled transcript.
type TranscribeStage struct {
	STT      ai.SpeechToText
	Language string
}

func (s *TranscribeStage) Run(ctx context.Context, audio []byte, fileName string) (analysis.Transcript, error) {
	res, err := s.STT.Transcribe(ctx, ai.SpeechRequest{
		Audio:    audio,
		FileName: fileName,
		Language: s.Language,
	})
	if err != nil {
		return analysis.Transcript{}, err
	}
	return BuildTranscript(res), nil
}

// BuildTranscript groups consecutive words of one speaker into segments. When
// no word carries a speaker label the whole text is one unknown segment.
func BuildTranscript(res ai.SpeechResult) analysis.Transcript {
	t := analysis.Transcript{
		Text:            strings.TrimSpace(res.Text),
		Language:        res.Language,
		DurationSeconds: res.Duration,
	}

	if diarized(res.Words) {
		t.Segments = groupBySpeaker(res.Words)
		t.Diarized = true
		if t.Text == "" {
			t.Text = joinWords(res.Words)
		}
	} else {
		text := t.Text
		if text == "" {
			text = joinWords(res.Words)
			t.Text = text
		}
		if text != "" {
			seg := analysis.Segment{Speaker: analysis.SpeakerUnknown, Text: text, End: res.Duration}
			if n := len(res.Words); n > 0 {
				seg.Start = res.Words[0].Start
				seg.End = res.Words[n-1].End
			}
			t.Segments = []analysis.Segment{seg}
		}
	}
	t.Formatted = Format(t.Segments)
	return t
}

// Format renders one "Role: text" line per segment.
func Format(segments []analysis.Segment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, s.Speaker.Label()+": "+s.Text)
	}
	return strings.Join(lines, "\n")
}

func diarized(words []ai.Word) bool {
	for _, w := range words {
		if strings.TrimSpace(w.Speaker) != "" {
			return true
		}
	}
	return false
}

func groupBySpeaker(words []ai.Word) []analysis.Segment {
	var out []analysis.Segment
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		speaker := analysis.SpeakerForIndex(SpeakerIndex(w.Speaker))
		if n := len(out); n > 0 && out[n-1].Speaker == speaker {
			out[n-1].Text += " " + text
			out[n-1].End = w.End
			continue
		}
		out = append(out, analysis.Segment{Speaker: speaker, Text: text, Start: w.Start, End: w.End})
	}
	return out
}

// SpeakerIndex reads the trailing number of labels like "0", "SPEAKER_01" or
// "speaker 1". Unreadable labels return -1.
func SpeakerIndex(label string) int {
	label = strings.TrimSpace(label)
	i := len(label)
	for i > 0 && label[i-1] >= '0' && label[i-1] <= '9' {
		i--
	}
	if i == len(label) {
		return -1
	}
	n, err := strconv.Atoi(label[i:])
	if err != nil {
		return -1
	}
	return n
}

func joinWords(words []ai.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if s := strings.TrimSpace(w.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
