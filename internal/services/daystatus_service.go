// Package services – DayStatusService
//
// This file implements the day-status aggregation cache: a read-through,
// write-invalidated mapping from (user, calendar day) to one of five
// adherence states, derived from the schedule entries of that day.
//
// The hardest part, classification, is a pure function (ComputeDayStatus) so
// it can be tested without a store. The service wraps it with a thin
// persistence layer: Get and GetRange read through the cache and fill misses,
// Update and UpdateMany force recomputation after entry mutations, and
// Invalidate drops a row without recomputing. Cache rows are always
// recomputable from source entries, so a stale or missing row is a transient
// inconsistency, never data loss.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
	"github.com/medtrack/go-medtrack-backend/internal/repo"
	"github.com/medtrack/go-medtrack-backend/internal/utils"
)

var (
	// dayStatusCacheHits counts cache reads served from a persisted row.
	dayStatusCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "day_status_cache_hits_total",
		Help: "Total number of day-status reads served from the cache.",
	})

	// dayStatusCacheMisses counts cache reads that required recomputation.
	dayStatusCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "day_status_cache_misses_total",
		Help: "Total number of day-status reads recomputed from entries.",
	})
)

func init() {
	prometheus.MustRegister(dayStatusCacheHits, dayStatusCacheMisses)
}

// ComputeDayStatus classifies one user-day from the entries falling on that
// day. today must be the caller's current calendar day (canonical day key);
// day is the day being classified.
//
// The five states are exhaustive and mutually exclusive:
//   - NONE:      no entries that day
//   - ALL_TAKEN: every entry DONE
//   - MISSED:    every entry PLANNED and the day is in the past
//   - SCHEDULED: every entry PLANNED and the day is today or later
//   - PARTIAL:   mixed DONE and PLANNED
//
// The returned DayStatus carries the counting fields but no identity; the
// caller fills in UserID, Date, and ID before persisting.
func ComputeDayStatus(entries []domain.ScheduleEntry, day, today time.Time) domain.DayStatus {
	var planned, taken int
	for _, e := range entries {
		if e.Status == domain.EntryStatusDone {
			taken++
		} else {
			planned++
		}
	}
	total := len(entries)

	status := domain.DayStatusNone
	switch {
	case total == 0:
		status = domain.DayStatusNone
	case taken == total:
		status = domain.DayStatusAllTaken
	case planned == total && day.Before(today):
		status = domain.DayStatusMissed
	case planned == total:
		status = domain.DayStatusScheduled
	default:
		status = domain.DayStatusPartial
	}

	return domain.DayStatus{
		Status:       status,
		TotalCount:   total,
		PlannedCount: planned,
		TakenCount:   taken,
	}
}

// DayStatusService provides cached day-status reads and explicit
// recomputation. It is stateless beyond the shared DB handle and safe for
// concurrent use; concurrent recomputes of the same day upsert the same
// derived value.
type DayStatusService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewDayStatusService constructs a DayStatusService.
func NewDayStatusService(db *gorm.DB) *DayStatusService {
	return &DayStatusService{DB: db}
}

// Get returns the day status for (userID, day), reading through the cache.
// On a miss the status is computed from the entries of that day, persisted,
// and returned. day may be any time; it is normalized to the calendar day
// observed in loc.
func (s *DayStatusService) Get(ctx context.Context, userID string, day time.Time, loc *time.Location) (*domain.DayStatus, error) {
	key := utils.DayKey(day)
	if ds, err := repo.GetDayStatus(ctx, s.DB, userID, key); err == nil {
		dayStatusCacheHits.Inc()
		return ds, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	dayStatusCacheMisses.Inc()
	return s.recompute(ctx, s.DB, userID, key, loc)
}

// GetRange returns the statuses for every day in [from, to] inclusive, keyed
// by "YYYY-MM-DD". Cached rows are batch-read; each missing day is computed
// and persisted individually. The returned map always covers the full range,
// never a partial one.
func (s *DayStatusService) GetRange(ctx context.Context, userID string, from, to time.Time, loc *time.Location) (map[string]domain.DayStatus, error) {
	start, end := utils.DayKey(from), utils.DayKey(to)
	if end.Before(start) {
		start, end = end, start
	}

	cached, err := repo.ListDayStatusRange(ctx, s.DB, userID, start, end)
	if err != nil {
		return nil, err
	}
	have := make(map[string]domain.DayStatus, len(cached))
	for _, ds := range cached {
		have[utils.DayKey(ds.Date).Format(utils.DayFormat)] = ds
	}

	out := make(map[string]domain.DayStatus)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		k := day.Format(utils.DayFormat)
		if ds, ok := have[k]; ok {
			dayStatusCacheHits.Inc()
			out[k] = ds
			continue
		}
		dayStatusCacheMisses.Inc()
		ds, err := s.recompute(ctx, s.DB, userID, day, loc)
		if err != nil {
			return nil, err
		}
		out[k] = *ds
	}
	return out, nil
}

// Update forces a recompute-and-upsert of one day. Call it after any entry
// mutation affecting that day; the subsequent Get reflects the new entry set.
func (s *DayStatusService) Update(ctx context.Context, userID string, day time.Time, loc *time.Location) (*domain.DayStatus, error) {
	return s.recompute(ctx, s.DB, userID, utils.DayKey(day), loc)
}

// UpdateMany recomputes a batch of days, deduplicating the input by calendar
// day first. It stops at the first error.
func (s *DayStatusService) UpdateMany(ctx context.Context, userID string, days []time.Time, loc *time.Location) error {
	seen := make(map[time.Time]struct{}, len(days))
	for _, d := range days {
		key := utils.DayKey(d)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, err := s.recompute(ctx, s.DB, userID, key, loc); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate deletes the cached row for one day without recomputing it.
// Used when entries are deleted and no immediate read is expected; the next
// Get will lazily recompute.
func (s *DayStatusService) Invalidate(ctx context.Context, userID string, day time.Time, loc *time.Location) error {
	return repo.DeleteDayStatus(ctx, s.DB, userID, utils.DayKey(day))
}

// RefreshBestEffort recomputes the given days, swallowing any failure.
// Mutating flows call it outside their primary transaction: a cache-write
// failure must never fail the mutation that triggered it, since the cache is
// recomputable. Failures are logged loudly so a persistent store problem
// does not hide behind silent staleness.
func (s *DayStatusService) RefreshBestEffort(ctx context.Context, userID string, days []time.Time, loc *time.Location) {
	if err := s.UpdateMany(ctx, userID, days, loc); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Int("days", len(days)).
			Msg("day-status cache refresh failed; cache is stale until next read")
	}
}

// logCacheFailure reports a swallowed cache maintenance failure. The primary
// mutation already succeeded; only the derived row is stale or lingering.
func logCacheFailure(err error, userID string, day time.Time) {
	log.Error().
		Err(err).
		Str("user_id", userID).
		Time("date", day).
		Msg("day-status cache invalidation failed; stale row until next recompute")
}

// recompute derives the status of one canonical day key from the entries on
// that day (as observed in loc) and upserts the cache row.
func (s *DayStatusService) recompute(ctx context.Context, db *gorm.DB, userID string, day time.Time, loc *time.Location) (*domain.DayStatus, error) {
	from, to := utils.DayBounds(day, loc)
	entries, err := repo.ListEntriesRange(ctx, db, userID, from, to)
	if err != nil {
		return nil, err
	}

	today := utils.Day(time.Now(), loc)
	ds := ComputeDayStatus(entries, day, today)
	ds.UserID = userID
	ds.Date = day

	if err := repo.UpsertDayStatus(ctx, db, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}
