package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"CapTrack/internal/domain/models"
	drepo "CapTrack/internal/domain/repository"
	pkgcache "CapTrack/pkg/cache"
	xhttp "CapTrack/pkg/http"
	"CapTrack/pkg/util"
)

const historyCacheTTL = 30 * time.Second

// CapacityReportUseCase serves the read side: the live report from the
// recorder and the persisted snapshot history from the store.
type CapacityReportUseCase struct {
	rec   *CapacityRecorder
	store drepo.SnapshotStore
	cache pkgcache.Service
}

func NewCapacityReportUseCase(rec *CapacityRecorder, store drepo.SnapshotStore) *CapacityReportUseCase {
	return &CapacityReportUseCase{rec: rec, store: store}
}

// SetCache enables caching of history queries.
func (uc *CapacityReportUseCase) SetCache(c pkgcache.Service) { uc.cache = c }

// Report returns the current capacity read model.
func (uc *CapacityReportUseCase) Report(ctx context.Context) (*models.CapacityReport, error) {
	if uc.rec == nil {
		return nil, fmt.Errorf("recorder not configured")
	}
	return uc.rec.Report(), nil
}

type HistoryParams struct {
	From  string
	To    string
	Limit int
}

// History queries persisted snapshots. From defaults to 30 days ago,
// To to now.
func (uc *CapacityReportUseCase) History(ctx context.Context, p HistoryParams) ([]*models.CapacitySnapshot, error) {
	if uc.store == nil {
		return nil, fmt.Errorf("snapshot store not configured")
	}
	now := time.Now().UTC()
	from := util.ParseTimeDefault(p.From, now.AddDate(0, 0, -30))
	to := util.ParseTimeDefault(p.To, now)
	if to.Before(from) {
		return nil, xhttp.BadRequestError("invalid range: to before from")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 500
	}

	// Cached as a JSON string so memory and Redis backends behave the
	// same way.
	key := pkgcache.Key("history", from.Unix(), to.Unix(), limit)
	if uc.cache != nil {
		var raw string
		if err := uc.cache.Get(ctx, key, &raw); err == nil && raw != "" {
			var cached []*models.CapacitySnapshot
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		}
	}

	snaps, err := uc.store.Query(ctx, from, to, limit)
	if err != nil {
		return nil, err
	}
	if uc.cache != nil {
		if b, err := json.Marshal(snaps); err == nil {
			_ = uc.cache.Set(ctx, key, string(b), historyCacheTTL)
		}
	}
	return snaps, nil
}

// Bottlenecks returns the top-N most constraining instruments, lowest
// smoothed capacity first.
func (uc *CapacityReportUseCase) Bottlenecks(ctx context.Context, top int) ([]models.BottleneckEntry, error) {
	rep, err := uc.Report(ctx)
	if err != nil {
		return nil, err
	}
	entries := rep.Bottlenecks
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Smoothed.LessThan(entries[j].Smoothed)
	})
	if top > 0 && len(entries) > top {
		entries = entries[:top]
	}
	return entries, nil
}
