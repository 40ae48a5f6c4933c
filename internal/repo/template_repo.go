// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ScheduleTemplate model.
//
// Templates carry gorm.DeletedAt, so all queries here exclude soft-deleted
// templates unless stated otherwise. The soft invariant "one active template
// per medication" is maintained by the versioning service, not enforced here.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
)

// CreateTemplate inserts a new schedule template row. The id is a randomly
// generated UUID; the remaining fields are taken from tpl as-is.
func CreateTemplate(ctx context.Context, db *gorm.DB, tpl domain.ScheduleTemplate) (*domain.ScheduleTemplate, error) {
	tpl.ID = uuid.NewString()
	tpl.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(&tpl).Error; err != nil {
		return nil, err
	}
	return &tpl, nil
}

// GetTemplate fetches a non-deleted template by id and owner, or ErrNotFound.
func GetTemplate(ctx context.Context, db *gorm.DB, id, userID string) (*domain.ScheduleTemplate, error) {
	var tpl domain.ScheduleTemplate
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&tpl).Error
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// GetActiveTemplateByMedication fetches the non-deleted template attached to
// a medication, or ErrNotFound when the medication has no live schedule.
// Should more than one active template exist (the soft invariant was
// violated), the most recently created wins.
func GetActiveTemplateByMedication(ctx context.Context, db *gorm.DB, medicationID, userID string) (*domain.ScheduleTemplate, error) {
	var tpl domain.ScheduleTemplate
	err := db.WithContext(ctx).
		Where("medication_id = ? AND user_id = ?", medicationID, userID).
		Order("created_at desc").
		First(&tpl).Error
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// ListActiveTemplatesByMedication returns every non-deleted template attached
// to a medication. The versioning service soft-deletes all of them when
// forking a version, which also heals a violated one-active invariant.
func ListActiveTemplatesByMedication(ctx context.Context, db *gorm.DB, medicationID, userID string) ([]domain.ScheduleTemplate, error) {
	var out []domain.ScheduleTemplate
	err := db.WithContext(ctx).
		Where("medication_id = ? AND user_id = ?", medicationID, userID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// SoftDeleteTemplate marks a template deleted at the given instant.
// Returns ErrNotFound when the row does not exist or is already deleted.
func SoftDeleteTemplate(ctx context.Context, db *gorm.DB, id, userID string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.ScheduleTemplate{}).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, userID).
		Update("deleted_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SoftDeleteTemplatesByMedication marks every active template of a medication
// deleted at the given instant and reports how many rows were touched.
func SoftDeleteTemplatesByMedication(ctx context.Context, db *gorm.DB, medicationID, userID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.ScheduleTemplate{}).
		Where("medication_id = ? AND user_id = ? AND deleted_at IS NULL", medicationID, userID).
		Update("deleted_at", at)
	return res.RowsAffected, res.Error
}
