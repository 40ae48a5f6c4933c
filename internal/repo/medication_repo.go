// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Medication
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a medication is not found (or hidden by soft delete / ownership),
//     functions return gorm.ErrRecordNotFound (exported here as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Soft-delete semantics: Medication carries gorm.DeletedAt, so every query
// here automatically excludes superseded and removed versions. Chain and
// history lookups opt back in with Unscoped.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateMedication inserts a new Medication row owned by userID. The id is a
// randomly generated UUID and CreatedAt is set to UTC. previousID is nil for
// a first version and points at the superseded row when forked by the
// versioning service.
func CreateMedication(ctx context.Context, db *gorm.DB, userID, name, dose, form string, previousID *string) (*domain.Medication, error) {
	m := &domain.Medication{
		ID:                   uuid.NewString(),
		UserID:               userID,
		Name:                 name,
		Dose:                 dose,
		Form:                 form,
		PreviousMedicationID: previousID,
		CreatedAt:            time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetMedication fetches a single non-deleted medication by id and owner.
// Missing, soft-deleted, and foreign rows are indistinguishable: all return
// ErrNotFound.
func GetMedication(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Medication, error) {
	var m domain.Medication
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMedications returns all non-deleted medications belonging to userID,
// ordered by creation time descending.
func ListMedications(ctx context.Context, db *gorm.DB, userID string) ([]domain.Medication, error) {
	var out []domain.Medication
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountMedications returns the number of non-deleted medications for userID.
func CountMedications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Medication{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListMedicationsPage returns a paginated slice of non-deleted medications
// for userID, ordered by creation time descending. Use CountMedications to
// obtain the total for pagination metadata.
func ListMedicationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Medication, error) {
	var out []domain.Medication
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// FindActiveDuplicate looks for a non-deleted medication with the same
// (name, dose, form) for userID, excluding excludeID (pass "" for none).
// It returns ErrNotFound when no duplicate exists.
func FindActiveDuplicate(ctx context.Context, db *gorm.DB, userID, name, dose, form, excludeID string) (*domain.Medication, error) {
	q := db.WithContext(ctx).
		Where("user_id = ? AND name = ? AND dose = ? AND form = ?", userID, name, dose, form)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var m domain.Medication
	if err := q.First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMedicationFields performs an in-place update of the descriptive
// fields. This path is only legal for medications without an active schedule;
// the version-forking path is handled by the versioning service. Returns
// ErrNotFound when no row was touched.
func UpdateMedicationFields(ctx context.Context, db *gorm.DB, id, userID string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Medication{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SoftDeleteMedication marks a medication deleted at the given instant.
// Returns ErrNotFound when the row does not exist or is already deleted.
func SoftDeleteMedication(ctx context.Context, db *gorm.DB, id, userID string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Medication{}).
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

// GetMedicationAnyVersion fetches a medication by id and owner including
// soft-deleted rows. Used to walk version chains for display.
func GetMedicationAnyVersion(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Medication, error) {
	var m domain.Medication
	err := db.WithContext(ctx).Unscoped().
		Where("id = ? AND user_id = ?", id, userID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}
