package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"CapTrack/internal/capacity"
	"CapTrack/internal/domain/models"
	icache "CapTrack/internal/service/cache"
	"CapTrack/internal/services/portfolio"
	"CapTrack/internal/usecase"
)

type fakeStore struct {
	snaps []*models.CapacitySnapshot
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }
func (f *fakeStore) Store(ctx context.Context, s *models.CapacitySnapshot) error {
	f.snaps = append(f.snaps, s)
	return nil
}
func (f *fakeStore) StoreBatch(ctx context.Context, s []*models.CapacitySnapshot) error {
	f.snaps = append(f.snaps, s...)
	return nil
}
func (f *fakeStore) Query(ctx context.Context, from, to time.Time, limit int) ([]*models.CapacitySnapshot, error) {
	if limit > len(f.snaps) {
		limit = len(f.snaps)
	}
	return f.snaps[:limit], nil
}
func (f *fakeStore) Health(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                     { return nil }

func newTestHandler(t *testing.T) (*CapacityHandler, *fakeStore) {
	t.Helper()
	book := portfolio.NewBook(decimal.NewFromInt(100000))
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	est := capacity.NewEstimator(book, book, start, start.AddDate(0, 3, 0))
	rec := usecase.NewCapacityRecorder(est, book, nil, nil)
	store := &fakeStore{}
	uc := usecase.NewCapacityReportUseCase(rec, store)
	return NewCapacityHandler(uc), store
}

func TestReportEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/api/capacity", nil)
	w := httptest.NewRecorder()
	h.Report().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var rep models.CapacityReport
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rep.Capacity.IsZero() {
		t.Fatalf("capacity before any settlement = %s, want 0", rep.Capacity)
	}
	if rep.Settlements != 0 {
		t.Fatalf("settlements = %d, want 0", rep.Settlements)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h, store := newTestHandler(t)
	store.snaps = []*models.CapacitySnapshot{
		{Time: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), Capacity: decimal.NewFromInt(1000)},
		{Time: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), Capacity: decimal.NewFromInt(2000)},
	}

	req := httptest.NewRequest("GET", "/api/capacity/history?limit=1", nil)
	w := httptest.NewRecorder()
	h.History().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var snaps []*models.CapacitySnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
}

func TestHistoryEndpointRejectsBadRange(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/api/capacity/history?from=2024-03-10T00:00:00Z&to=2024-03-01T00:00:00Z", nil)
	w := httptest.NewRecorder()
	h.History().ServeHTTP(w, req)

	if w.Code != 500 {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestHistoryEndpointServesCachedBytes(t *testing.T) {
	h, store := newTestHandler(t)
	h.SetCache(icache.NewTTLCache())
	store.snaps = []*models.CapacitySnapshot{
		{Time: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), Capacity: decimal.NewFromInt(1000)},
	}

	req := httptest.NewRequest("GET", "/api/capacity/history", nil)
	w := httptest.NewRecorder()
	h.History().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	first := w.Body.String()

	// Mutate the store; the cached response should still be served.
	store.snaps = nil
	w2 := httptest.NewRecorder()
	h.History().ServeHTTP(w2, req)
	if w2.Code != 200 {
		t.Fatalf("second status = %d", w2.Code)
	}
	if w2.Body.String() != first {
		t.Fatalf("cached body differs: %s vs %s", w2.Body.String(), first)
	}
}

func TestBottlenecksEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/api/capacity/bottlenecks?top=5", nil)
	w := httptest.NewRecorder()
	h.Bottlenecks().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var entries []models.BottleneckEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries before any settlement, want 0", len(entries))
	}
}
