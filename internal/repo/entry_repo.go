// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ScheduleEntry model.
//
// Entries are never soft-deleted: regeneration permanently removes future
// PLANNED rows and re-inserts the expansion result, while past rows (any
// status) and DONE rows are left untouched as history. The unique index on
// (schedule_id, date_time) makes bulk insertion idempotent against
// double submission.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
)

// CreateEntries bulk-inserts PLANNED entries for the given schedule, one per
// instant. Conflicting rows (same schedule, same instant) are skipped rather
// than failing, so replays of the same expansion are harmless. Returns the
// number of rows actually inserted.
func CreateEntries(ctx context.Context, db *gorm.DB, scheduleID, medicationID, userID string, instants []time.Time) (int64, error) {
	if len(instants) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]domain.ScheduleEntry, 0, len(instants))
	for _, at := range instants {
		rows = append(rows, domain.ScheduleEntry{
			ID:           uuid.NewString(),
			ScheduleID:   scheduleID,
			MedicationID: medicationID,
			UserID:       userID,
			DateTime:     at.UTC(),
			Status:       domain.EntryStatusPlanned,
			CreatedAt:    now,
		})
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows)
	return res.RowsAffected, res.Error
}

// CountEntriesBySchedule returns the number of stored entries for a schedule,
// regardless of status.
func CountEntriesBySchedule(ctx context.Context, db *gorm.DB, scheduleID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ScheduleEntry{}).
		Where("schedule_id = ?", scheduleID).
		Count(&n).Error
	return n, err
}

// ListFuturePlanned returns the PLANNED entries of a schedule at or after
// "now", ascending. Callers use it to record affected calendar days before
// DeleteFuturePlanned removes the rows.
func ListFuturePlanned(ctx context.Context, db *gorm.DB, scheduleID string, now time.Time) ([]domain.ScheduleEntry, error) {
	var out []domain.ScheduleEntry
	err := db.WithContext(ctx).
		Where("schedule_id = ? AND status = ? AND date_time >= ?", scheduleID, domain.EntryStatusPlanned, now.UTC()).
		Order("date_time asc").
		Find(&out).Error
	return out, err
}

// DeleteFuturePlanned permanently removes the PLANNED entries of a schedule
// at or after "now" and reports how many rows went away. DONE entries and
// anything before "now" are never touched.
func DeleteFuturePlanned(ctx context.Context, db *gorm.DB, scheduleID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("schedule_id = ? AND status = ? AND date_time >= ?", scheduleID, domain.EntryStatusPlanned, now.UTC()).
		Delete(&domain.ScheduleEntry{})
	return res.RowsAffected, res.Error
}

// ListEntriesRange returns a user's entries with date_time inside the
// half-open instant interval [from, to), ascending. This is the live
// (uncached) range read feeding dashboards and the day-status computation.
func ListEntriesRange(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.ScheduleEntry, error) {
	var out []domain.ScheduleEntry
	err := db.WithContext(ctx).
		Where("user_id = ? AND date_time >= ? AND date_time < ?", userID, from.UTC(), to.UTC()).
		Order("date_time asc").
		Find(&out).Error
	return out, err
}

// GetEntry fetches a single entry by id and owner, or ErrNotFound.
func GetEntry(ctx context.Context, db *gorm.DB, id, userID string) (*domain.ScheduleEntry, error) {
	var e domain.ScheduleEntry
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEntryStatus sets the status of an entry owned by userID and returns
// the updated row. Returns ErrNotFound when the entry does not exist or is
// not owned by userID. Status validity (PLANNED/DONE only) is the service
// layer's concern.
func UpdateEntryStatus(ctx context.Context, db *gorm.DB, id, userID, status string) (*domain.ScheduleEntry, error) {
	res := db.WithContext(ctx).
		Model(&domain.ScheduleEntry{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("status", status)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return GetEntry(ctx, db, id, userID)
}

// DeleteEntry permanently removes a single entry (one-off removal, not a
// schedule-wide edit). Returns ErrNotFound when nothing was deleted.
func DeleteEntry(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.ScheduleEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
