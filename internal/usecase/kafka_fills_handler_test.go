package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"CapTrack/internal/domain/models"
)

func TestFillsHandlerForwardsValidFill(t *testing.T) {
	rec := newTestRecorder(t, nil)
	h := NewKafkaFillsHandler("fills", rec, newNoopMetrics())

	b, err := json.Marshal(buyFill("MSFT", 5, 300, time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h.Handle(context.Background(), b); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rep := rec.Report(); rep.TrackedInstruments != 1 {
		t.Fatalf("tracked = %d, want 1", rep.TrackedInstruments)
	}
}

func TestFillsHandlerRejectsBadJSON(t *testing.T) {
	rec := newTestRecorder(t, nil)
	m := newNoopMetrics()
	h := NewKafkaFillsHandler("fills", rec, m)

	if err := h.Handle(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected unmarshal error")
	}
	if m.errors["consumer_unmarshal"] != 1 {
		t.Fatalf("unmarshal error metric = %d, want 1", m.errors["consumer_unmarshal"])
	}
}

func TestFillsHandlerDropsEmptySymbol(t *testing.T) {
	rec := newTestRecorder(t, nil)
	m := newNoopMetrics()
	h := NewKafkaFillsHandler("fills", rec, m)

	b, _ := json.Marshal(&models.FillEvent{Status: models.OrderStatusFilled})
	if err := h.Handle(context.Background(), b); err != nil {
		t.Fatalf("empty symbol should not be retryable, got %v", err)
	}
	if m.errors["consumer_empty_symbol"] != 1 {
		t.Fatalf("empty symbol metric = %d, want 1", m.errors["consumer_empty_symbol"])
	}
	if rep := rec.Report(); rep.TrackedInstruments != 0 {
		t.Fatalf("tracked = %d, want 0", rep.TrackedInstruments)
	}
}

func TestFillsHandlerDefaultsZeroTime(t *testing.T) {
	rec := newTestRecorder(t, nil)
	h := NewKafkaFillsHandler("fills", rec, newNoopMetrics())

	fill := buyFill("TSLA", 1, 200, time.Time{})
	b, _ := json.Marshal(fill)
	if err := h.Handle(context.Background(), b); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rep := rec.Report(); rep.TrackedInstruments != 1 {
		t.Fatalf("tracked = %d, want 1", rep.TrackedInstruments)
	}
}
