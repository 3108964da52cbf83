package gcp

import (
	"errors"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/durationpb"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
)

func TestSpeechOperationState(t *testing.T) {
	tests := []struct {
		done     bool
		progress int32
		want     domain.Status
	}{
		{false, 0, domain.StatusPending},
		{false, 35, domain.StatusRunning},
		{true, 100, domain.StatusSucceeded},
	}
	for _, tt := range tests {
		got := domain.MapProviderState(speechOperationState(tt.done, tt.progress))
		if got != tt.want {
			t.Fatalf("done=%v progress=%d: want=%s got=%s", tt.done, tt.progress, tt.want, got)
		}
	}
}

func TestSpeechErrorMapping(t *testing.T) {
	err := speechError("fetch", status.Error(codes.NotFound, "operation gone"))
	if !errors.Is(err, domain.ErrProviderJobNotFound) {
		t.Fatalf("NotFound: want ErrProviderJobNotFound got=%v", err)
	}

	err = speechError("cancel", status.Error(codes.FailedPrecondition, "operation already running"))
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("FailedPrecondition: want *ProviderError got=%T", err)
	}
	if pe.Code != "FailedPrecondition" || pe.Message != "operation already running" {
		t.Fatalf("provider error: got code=%q message=%q", pe.Code, pe.Message)
	}

	// A missing resource at submit time is a bad input, not a missing job.
	err = speechError("submit", status.Error(codes.NotFound, "no such object"))
	if errors.Is(err, domain.ErrProviderJobNotFound) {
		t.Fatalf("submit NotFound: must not map to job not found")
	}
}

func TestBuildSpeechRecognitionConfig(t *testing.T) {
	rc := buildSpeechRecognitionConfig("gs://b/meeting.flac", domain.Hints{
		EnableSpeakerDiarization: true,
		MinSpeakerCount:          2,
		MaxSpeakerCount:          4,
	})
	if rc.LanguageCode != "en-US" {
		t.Fatalf("language: want default en-US got=%q", rc.LanguageCode)
	}
	if rc.Encoding != speechpb.RecognitionConfig_FLAC {
		t.Fatalf("encoding: want FLAC got=%v", rc.Encoding)
	}
	if rc.DiarizationConfig == nil || rc.DiarizationConfig.MaxSpeakerCount != 4 {
		t.Fatalf("diarization: got=%v", rc.DiarizationConfig)
	}
	if !rc.EnableWordTimeOffsets {
		t.Fatalf("diarization needs word offsets")
	}
}

func TestSpeechParseTranscriptDiarized(t *testing.T) {
	word := func(w string, start, end int64, spk int32) *speechpb.WordInfo {
		return &speechpb.WordInfo{
			Word:       w,
			StartTime:  durationpb.New(secs(start)),
			EndTime:    durationpb.New(secs(end)),
			SpeakerTag: spk,
			Confidence: 0.9,
		}
	}
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello there general kenobi"}}},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Words: []*speechpb.WordInfo{
					word("hello", 0, 1, 1),
					word("there", 1, 2, 1),
					word("general", 3, 4, 2),
					word("kenobi", 4, 5, 2),
				},
			}}},
		},
	}
	raw, err := protojson.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	p := &speechProvider{}
	item, err := p.ParseTranscript(raw, domain.ResultRef{InputRef: "gs://b/a.flac"})
	if err != nil {
		t.Fatalf("ParseTranscript: %v", err)
	}
	if item.PrimaryText != "hello there general kenobi" {
		t.Fatalf("primary text: got=%q", item.PrimaryText)
	}
	if item.InputRef != "gs://b/a.flac" {
		t.Fatalf("input ref: got=%q", item.InputRef)
	}
	if len(item.Segments) != 2 {
		t.Fatalf("segments: want=2 got=%d", len(item.Segments))
	}
	if item.Segments[1].Text != "general kenobi" || *item.Segments[1].SpeakerTag != 2 {
		t.Fatalf("second segment: got=%+v", item.Segments[1])
	}
	if *item.Segments[1].StartSec != 3 || *item.Segments[1].EndSec != 5 {
		t.Fatalf("second segment bounds: got start=%v end=%v", *item.Segments[1].StartSec, *item.Segments[1].EndSec)
	}
}

func TestSpeechParseTranscriptEmpty(t *testing.T) {
	p := &speechProvider{}
	item, err := p.ParseTranscript([]byte(`{}`), domain.ResultRef{})
	if err != nil {
		t.Fatalf("ParseTranscript: %v", err)
	}
	if item.PrimaryText != "" || len(item.Warnings) != 1 {
		t.Fatalf("empty response: want one warning got=%+v", item)
	}
	if _, err := p.ParseTranscript([]byte(`not json`), domain.ResultRef{}); err == nil {
		t.Fatalf("garbage: want decode error")
	}
}

func secs(n int64) time.Duration { return time.Duration(n) * time.Second }
