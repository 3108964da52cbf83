package transcription

import "time"

type Segment struct {
	Text       string   `json:"text"`
	StartSec   *float64 `json:"start_sec,omitempty"`
	EndSec     *float64 `json:"end_sec,omitempty"`
	SpeakerTag *int     `json:"speaker_tag,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TranscriptItem is the normalized transcript of one input.
type TranscriptItem struct {
	InputRef    string    `json:"input_ref,omitempty"`
	PrimaryText string    `json:"primary_text"`
	Segments    []Segment `json:"segments,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// Transcript is the finalized derived artifact promoted to object storage.
type Transcript struct {
	JobID       string           `json:"job_id"`
	Provider    string           `json:"provider"`
	Items       []TranscriptItem `json:"items"`
	FinalizedAt time.Time        `json:"finalized_at"`
}

func (t *Transcript) FullText() string {
	if t == nil {
		return ""
	}
	out := ""
	for _, it := range t.Items {
		if it.PrimaryText == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += it.PrimaryText
	}
	return out
}

// Summary is the secondary artifact stored in post_process_result.
type Summary struct {
	Summary   string    `json:"summary"`
	KeyPoints []string  `json:"key_points"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
