package redis

import (
	"context"
	"testing"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent(`{"type":"job.status_changed","job_id":"j-1","status":"RUNNING"}`)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if ev.Type != domain.EventStatusChanged || ev.Status != domain.StatusRunning {
		t.Fatalf("decodeEvent: got=%+v", ev)
	}
	if _, err := decodeEvent(`{"status":"RUNNING"}`); err == nil {
		t.Fatalf("missing fields: want error")
	}
	if _, err := decodeEvent(`nope`); err == nil {
		t.Fatalf("garbage: want error")
	}
}

func TestNewEventBusRequiresAddr(t *testing.T) {
	if _, err := NewEventBus(logger.Nop(), " ", ""); err == nil {
		t.Fatalf("NewEventBus: want error for empty addr")
	}
}

func TestUninitializedBus(t *testing.T) {
	var b *eventBus
	if err := b.Publish(context.Background(), domain.Event{}); err == nil {
		t.Fatalf("Publish on nil bus: want error")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close on nil bus: %v", err)
	}
}
