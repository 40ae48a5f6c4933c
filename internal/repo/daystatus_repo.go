// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the DayStatus
// cache rows.
//
// DayStatus is derived state: rows may be deleted or overwritten at will and
// recomputed from schedule entries. The unique index on (user_id, date) keeps
// one row per user-day; upserts resolve races between concurrent recomputes
// by letting the last writer win, which is safe because recompute is
// idempotent.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
)

// GetDayStatus fetches the cached row for (userID, day), or ErrNotFound on a
// cache miss. day must be a canonical day key (midnight UTC).
func GetDayStatus(ctx context.Context, db *gorm.DB, userID string, day time.Time) (*domain.DayStatus, error) {
	var ds domain.DayStatus
	err := db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, day).
		First(&ds).Error
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// ListDayStatusRange returns every cached row for userID with date inside
// [from, to] inclusive, ascending. Missing days are simply absent; the
// service layer fills the gaps.
func ListDayStatusRange(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DayStatus, error) {
	var out []domain.DayStatus
	err := db.WithContext(ctx).
		Where("user_id = ? AND date >= ? AND date <= ?", userID, from, to).
		Order("date asc").
		Find(&out).Error
	return out, err
}

// UpsertDayStatus writes the cache row for (userID, day), inserting or
// overwriting the existing row in one statement.
func UpsertDayStatus(ctx context.Context, db *gorm.DB, ds *domain.DayStatus) error {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	ds.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "total_count", "planned_count", "taken_count", "updated_at"}),
		}).
		Create(ds).Error
}

// DeleteDayStatus removes the cached row for (userID, day) without
// recomputing it. Deleting a row that does not exist is not an error.
func DeleteDayStatus(ctx context.Context, db *gorm.DB, userID string, day time.Time) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, day).
		Delete(&domain.DayStatus{}).Error
}
