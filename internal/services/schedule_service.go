// Package services – ScheduleService
//
// This file implements the schedule lifecycle: creating a template with its
// initial entry expansion, editing it with safe regeneration of the future,
// deleting it, toggling single entries, and live (uncached) range reads.
//
// Regeneration follows one rule everywhere: only PLANNED entries at or after
// "now" are ever deleted and re-expanded. DONE entries and anything in the
// past are permanent history. Every delete-then-recreate runs inside a single
// transaction so concurrent readers observe either the old or the new entry
// set, never an intermediate empty one. Day-status cache maintenance happens
// after commit, best-effort.
package services

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
	"github.com/medtrack/go-medtrack-backend/internal/recurrence"
	"github.com/medtrack/go-medtrack-backend/internal/repo"
	"github.com/medtrack/go-medtrack-backend/internal/utils"
)

// clockRE matches a strict 24-hour "HH:MM" wall-clock value.
var clockRE = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// RegenerateResult reports the outcome of a future-entry regeneration.
type RegenerateResult struct {
	// DeletedCount is the number of future PLANNED entries removed.
	DeletedCount int64
	// CreatedCount is the number of entries inserted from the new expansion.
	CreatedCount int64
	// AffectedDates is the distinct calendar-day set (canonical day keys) of
	// every deleted and created entry, for day-status cache maintenance.
	AffectedDates []time.Time
}

// TemplatePatch carries the optional field updates for a schedule edit.
// Nil (or empty, for the slices) fields are left unchanged.
type TemplatePatch struct {
	Quantity      *float64
	Units         *string
	FrequencyDays []int
	DurationDays  *int
	TimeOfDay     []string
	MealTiming    *string
	DateStart     *time.Time
}

// ScheduleService manages schedule templates and their expanded entries.
type ScheduleService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Cache maintains the derived day-status rows after entry mutations.
	Cache *DayStatusService
	// GenerationDays bounds the expansion horizon for unbounded templates
	// (DurationDays == 0): entries are generated this many days ahead.
	GenerationDays int
}

// NewScheduleService constructs a ScheduleService with a default generation
// horizon of 30 days for unbounded templates.
func NewScheduleService(db *gorm.DB, cache *DayStatusService) *ScheduleService {
	return &ScheduleService{DB: db, Cache: cache, GenerationDays: 30}
}

// Create validates and persists a new template for a medication owned by
// userID, expands it, and inserts the initial PLANNED entries in the same
// transaction. The day-status cache is refreshed for every generated day
// after commit, best-effort.
func (s *ScheduleService) Create(ctx context.Context, userID string, tpl domain.ScheduleTemplate, now time.Time, loc *time.Location) (*domain.ScheduleTemplate, error) {
	tr := otel.Tracer("services/ScheduleService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("medication.id", tpl.MedicationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	tpl.UserID = userID
	if tpl.MealTiming == "" {
		tpl.MealTiming = domain.MealTimingAnytime
	}
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}
	if _, err := repo.GetMedication(ctx, s.DB, tpl.MedicationID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMedicationNotFound
		}
		return nil, err
	}

	instants, err := recurrence.Expand(tpl, tpl.DateStart, s.horizon(tpl, now, loc), loc)
	if err != nil {
		return nil, err
	}

	var created *domain.ScheduleTemplate
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = repo.CreateTemplate(ctx, tx, tpl)
		if err != nil {
			return err
		}
		_, err = repo.CreateEntries(ctx, tx, created.ID, created.MedicationID, userID, instants)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Cache.RefreshBestEffort(ctx, userID, daysOf(instants, loc), loc)
	return created, nil
}

// Update applies a patch to a template owned by userID. When regenerate is
// true (the default), future PLANNED entries are deleted and re-expanded
// from the patched template within one transaction, and the cache is
// refreshed for every affected day after commit.
func (s *ScheduleService) Update(ctx context.Context, userID, scheduleID string, patch TemplatePatch, regenerate bool, now time.Time, loc *time.Location) (*domain.ScheduleTemplate, error) {
	tpl, err := repo.GetTemplate(ctx, s.DB, scheduleID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	applyPatch(tpl, patch)
	if err := validateTemplate(*tpl); err != nil {
		return nil, err
	}

	var result RegenerateResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(tpl).Error; err != nil {
			return err
		}
		if !regenerate {
			return nil
		}
		var err error
		result, err = s.regenerateFuture(ctx, tx, *tpl, now, loc)
		return err
	})
	if err != nil {
		return nil, err
	}

	if regenerate {
		s.Cache.RefreshBestEffort(ctx, userID, result.AffectedDates, loc)
	}
	return tpl, nil
}

// RegenerateFuture deletes a schedule's future PLANNED entries and re-inserts
// the expansion of tpl restricted to [now, end] in one transaction. The
// returned AffectedDates is the union of the days of deleted and created
// entries. Regeneration is idempotent: the expansion is deterministic, so
// running it twice with identical inputs leaves the same entry set.
func (s *ScheduleService) RegenerateFuture(ctx context.Context, userID, scheduleID string, now time.Time, loc *time.Location) (*RegenerateResult, error) {
	tr := otel.Tracer("services/ScheduleService")
	ctx, span := tr.Start(ctx, "RegenerateFuture",
		trace.WithAttributes(
			attribute.String("schedule.id", scheduleID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	tpl, err := repo.GetTemplate(ctx, s.DB, scheduleID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	var result RegenerateResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.regenerateFuture(ctx, tx, *tpl, now, loc)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Cache.RefreshBestEffort(ctx, userID, result.AffectedDates, loc)
	return &result, nil
}

// Delete soft-deletes a template and permanently removes its future PLANNED
// entries in one transaction. Past entries (any status) remain queryable
// history. Affected cache rows are invalidated, not recomputed: no immediate
// read is expected after a deletion.
func (s *ScheduleService) Delete(ctx context.Context, userID, scheduleID string, now time.Time, loc *time.Location) error {
	var affected []time.Time
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetTemplate(ctx, tx, scheduleID, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrScheduleNotFound
			}
			return err
		}
		doomed, err := repo.ListFuturePlanned(ctx, tx, scheduleID, now)
		if err != nil {
			return err
		}
		affected = entryDays(doomed, loc)
		if _, err := repo.DeleteFuturePlanned(ctx, tx, scheduleID, now); err != nil {
			return err
		}
		return repo.SoftDeleteTemplate(ctx, tx, scheduleID, userID, now.UTC())
	})
	if err != nil {
		return err
	}

	for _, day := range affected {
		if err := s.Cache.Invalidate(ctx, userID, day, loc); err != nil {
			logCacheFailure(err, userID, day)
		}
	}
	return nil
}

// SetEntryStatus toggles an entry between PLANNED and DONE and refreshes the
// day-status cache for the entry's day, best-effort. Only the two legal
// states are accepted.
func (s *ScheduleService) SetEntryStatus(ctx context.Context, userID, entryID, status string, loc *time.Location) (*domain.ScheduleEntry, error) {
	if status != domain.EntryStatusPlanned && status != domain.EntryStatusDone {
		return nil, ErrInvalidEntryStatus
	}
	entry, err := repo.UpdateEntryStatus(ctx, s.DB, entryID, userID, status)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	s.Cache.RefreshBestEffort(ctx, userID, []time.Time{entry.DateTime}, loc)
	return entry, nil
}

// DeleteEntry permanently removes one entry (a one-off removal, not a
// schedule-wide edit) and invalidates the cached status of its day.
func (s *ScheduleService) DeleteEntry(ctx context.Context, userID, entryID string, loc *time.Location) error {
	entry, err := repo.GetEntry(ctx, s.DB, entryID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEntryNotFound
		}
		return err
	}
	if err := repo.DeleteEntry(ctx, s.DB, entryID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEntryNotFound
		}
		return err
	}
	day := utils.Day(entry.DateTime, loc)
	if err := s.Cache.Invalidate(ctx, userID, day, loc); err != nil {
		logCacheFailure(err, userID, day)
	}
	return nil
}

// GetEntries returns a user's entries for the inclusive day range [from, to]
// as observed in loc. This read is always live, never cached.
func (s *ScheduleService) GetEntries(ctx context.Context, userID string, from, to time.Time, loc *time.Location) ([]domain.ScheduleEntry, error) {
	start, _ := utils.DayBounds(utils.DayKey(from), loc)
	_, end := utils.DayBounds(utils.DayKey(to), loc)
	return repo.ListEntriesRange(ctx, s.DB, userID, start, end)
}

// regenerateFuture is the transactional core shared by Update and
// RegenerateFuture: delete future PLANNED, expand, insert, collect days.
func (s *ScheduleService) regenerateFuture(ctx context.Context, tx *gorm.DB, tpl domain.ScheduleTemplate, now time.Time, loc *time.Location) (RegenerateResult, error) {
	doomed, err := repo.ListFuturePlanned(ctx, tx, tpl.ID, now)
	if err != nil {
		return RegenerateResult{}, err
	}
	deleted, err := repo.DeleteFuturePlanned(ctx, tx, tpl.ID, now)
	if err != nil {
		return RegenerateResult{}, err
	}

	instants, err := recurrence.Expand(tpl, now, s.horizon(tpl, now, loc), loc)
	if err != nil {
		return RegenerateResult{}, err
	}
	// Expansion is day-granular; drop instants already behind "now" on the
	// boundary day so history stays untouched.
	kept := instants[:0]
	for _, at := range instants {
		if !at.Before(now) {
			kept = append(kept, at)
		}
	}
	created, err := repo.CreateEntries(ctx, tx, tpl.ID, tpl.MedicationID, tpl.UserID, kept)
	if err != nil {
		return RegenerateResult{}, err
	}

	affected := entryDays(doomed, loc)
	affected = append(affected, daysOf(kept, loc)...)
	return RegenerateResult{
		DeletedCount:  deleted,
		CreatedCount:  created,
		AffectedDates: dedupeDays(affected),
	}, nil
}

// horizon returns the expansion window end: the template's own end day when
// bounded, otherwise now plus the configured generation horizon.
func (s *ScheduleService) horizon(tpl domain.ScheduleTemplate, now time.Time, loc *time.Location) time.Time {
	if de := tpl.DateEnd(); de != nil {
		start, _ := utils.DayBounds(utils.DayKey(*de), loc)
		return start
	}
	days := s.GenerationDays
	if days <= 0 {
		days = 30
	}
	return now.AddDate(0, 0, days)
}

// validateTemplate rejects malformed recurrence input before any store
// mutation takes place.
func validateTemplate(tpl domain.ScheduleTemplate) error {
	if len(tpl.FrequencyDays) == 0 {
		return ErrInvalidFrequencyDays
	}
	for _, d := range tpl.FrequencyDays {
		if d < 1 || d > 7 {
			return ErrInvalidFrequencyDays
		}
	}
	if len(tpl.TimeOfDay) == 0 {
		return ErrInvalidTimeOfDay
	}
	for _, t := range tpl.TimeOfDay {
		if !clockRE.MatchString(t) {
			return ErrInvalidTimeOfDay
		}
	}
	if tpl.DateStart.IsZero() {
		return ErrInvalidDateStart
	}
	switch tpl.MealTiming {
	case domain.MealTimingBefore, domain.MealTimingWith, domain.MealTimingAfter, domain.MealTimingAnytime:
	default:
		return ErrInvalidMealTiming
	}
	if tpl.DurationDays < 0 {
		return ErrInvalidDateStart
	}
	return nil
}

// applyPatch merges the non-nil patch fields into tpl.
func applyPatch(tpl *domain.ScheduleTemplate, patch TemplatePatch) {
	if patch.Quantity != nil {
		tpl.Quantity = *patch.Quantity
	}
	if patch.Units != nil {
		tpl.Units = *patch.Units
	}
	if len(patch.FrequencyDays) > 0 {
		tpl.FrequencyDays = patch.FrequencyDays
	}
	if patch.DurationDays != nil {
		tpl.DurationDays = *patch.DurationDays
	}
	if len(patch.TimeOfDay) > 0 {
		tpl.TimeOfDay = patch.TimeOfDay
	}
	if patch.MealTiming != nil {
		tpl.MealTiming = *patch.MealTiming
	}
	if patch.DateStart != nil {
		tpl.DateStart = *patch.DateStart
	}
}

// daysOf maps instants to their canonical day keys (not deduplicated).
func daysOf(instants []time.Time, loc *time.Location) []time.Time {
	out := make([]time.Time, 0, len(instants))
	for _, at := range instants {
		out = append(out, utils.Day(at, loc))
	}
	return out
}

// entryDays maps entries to the canonical day keys of their instants.
func entryDays(entries []domain.ScheduleEntry, loc *time.Location) []time.Time {
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, utils.Day(e.DateTime, loc))
	}
	return out
}

// dedupeDays removes duplicate day keys, preserving first-seen order.
func dedupeDays(days []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(days))
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
