package services

import (
	"context"
	"time"

	"github.com/docuhealth/docpipe/internal/config"
	"github.com/docuhealth/docpipe/internal/models"
	"github.com/docuhealth/docpipe/internal/store"
)

// trendDays is the trailing window rendered on the dashboard, inclusive
// of today.
const trendDays = 7

// Metrics derives dashboard snapshots from the record store. It holds no
// state between calls and may be invoked concurrently with dispatcher
// writes; all inputs come from one ReadAggregates view, so a snapshot
// never sees a half-visible outcome.
type Metrics struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
}

func NewMetrics(st store.Store, policy *config.Policy) *Metrics {
	return &Metrics{store: st, loc: policy.Location(), now: time.Now}
}

// Snapshot recomputes the dashboard figures from current data. Calling it
// twice with no intervening writes yields identical results.
func (m *Metrics) Snapshot(ctx context.Context) (models.MetricsSnapshot, error) {
	now := m.now().In(m.loc)
	windowStart := startOfDay(now.AddDate(0, 0, -(trendDays - 1)))

	agg, err := m.store.ReadAggregates(ctx, windowStart)
	if err != nil {
		return models.MetricsSnapshot{}, err
	}

	snap := models.MetricsSnapshot{
		PendingValidations: len(agg.OpenTickets),
		Trend:              m.trend(agg.WindowRecords, windowStart),
	}

	today := dayKey(now)
	var confSum float64
	var confN int
	for _, rec := range agg.WindowRecords {
		if dayKey(rec.StartedAt.In(m.loc)) == today {
			snap.DocumentsToday++
		}
		// Unscored records carry nil confidence; legacy rows that used a
		// literal 0 placeholder are excluded the same way.
		if rec.ConfidenceScore != nil && *rec.ConfidenceScore > 0 {
			confSum += *rec.ConfidenceScore
			confN++
		}
	}
	if confN > 0 {
		avg := confSum / float64(confN)
		snap.AvgAccuracy = &avg
	}

	var completed, synced int
	for _, rec := range agg.AllRecords {
		if rec.Status != models.StatusCompleted {
			continue
		}
		completed++
		if rec.HISSynced {
			synced++
		}
	}
	if completed > 0 {
		snap.HISSyncRatio = float64(synced) / float64(completed)
	}

	return snap, nil
}

// trend buckets record volume per reporting-timezone calendar day. Days
// with no volume appear as zero entries; the result always has exactly
// trendDays buckets, oldest first.
func (m *Metrics) trend(recs []models.ProcessingRecord, windowStart time.Time) []models.TrendBucket {
	volumes := make(map[string]int)
	for _, rec := range recs {
		volumes[dayKey(rec.StartedAt.In(m.loc))]++
	}

	buckets := make([]models.TrendBucket, 0, trendDays)
	for i := 0; i < trendDays; i++ {
		day := windowStart.AddDate(0, 0, i)
		buckets = append(buckets, models.TrendBucket{
			DayLabel: day.Format("Jan 02"),
			Volume:   volumes[dayKey(day)],
		})
	}
	return buckets
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
