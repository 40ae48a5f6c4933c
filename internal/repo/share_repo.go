// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for ShareLink and
// CareAccess, the two halves of the sharing model: a time-boxed token and the
// permanent grant its acceptance leaves behind.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
)

// CreateShareLink inserts an active share link for ownerID with an opaque
// random token, expiring at expiresAt.
func CreateShareLink(ctx context.Context, db *gorm.DB, ownerID string, expiresAt time.Time) (*domain.ShareLink, error) {
	link := &domain.ShareLink{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		OwnerID:   ownerID,
		ExpiresAt: expiresAt.UTC(),
		Status:    domain.ShareStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(link).Error; err != nil {
		return nil, err
	}
	return link, nil
}

// GetShareLinkByToken fetches a share link by its opaque token, regardless of
// status, or ErrNotFound.
func GetShareLinkByToken(ctx context.Context, db *gorm.DB, token string) (*domain.ShareLink, error) {
	var link domain.ShareLink
	err := db.WithContext(ctx).
		Where("token = ?", token).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// GetShareLinkByID fetches a share link by row id, or ErrNotFound.
func GetShareLinkByID(ctx context.Context, db *gorm.DB, id string) (*domain.ShareLink, error) {
	var link domain.ShareLink
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// MarkShareLinkExpired lazily transitions an active link to expired. Links
// already revoked or expired are left alone (terminal states).
func MarkShareLinkExpired(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.ShareLink{}).
		Where("id = ? AND status = ?", id, domain.ShareStatusActive).
		Update("status", domain.ShareStatusExpired).Error
}

// MarkShareLinkRevoked transitions an active link to revoked. Returns
// ErrNotFound when the link is missing, not owned by ownerID, or already in
// a terminal state.
func MarkShareLinkRevoked(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	res := db.WithContext(ctx).
		Model(&domain.ShareLink{}).
		Where("id = ? AND owner_id = ? AND status = ?", id, ownerID, domain.ShareStatusActive).
		Update("status", domain.ShareStatusRevoked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetShareLinkViewer records the accepting viewer on first acceptance.
func SetShareLinkViewer(ctx context.Context, db *gorm.DB, id, viewerID string) error {
	return db.WithContext(ctx).
		Model(&domain.ShareLink{}).
		Where("id = ?", id).
		Update("viewer_id", viewerID).Error
}

// CreateCareAccess inserts a permanent owner-to-viewer grant. Returns
// ErrDuplicate when the grant already exists, which callers treat as an
// idempotent success.
func CreateCareAccess(ctx context.Context, db *gorm.DB, ownerID, viewerID string) (*domain.CareAccess, error) {
	grant := &domain.CareAccess{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		ViewerID:  viewerID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(grant).Error; err != nil {
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return grant, nil
}

// GetCareAccess fetches the grant for (ownerID, viewerID), or ErrNotFound.
func GetCareAccess(ctx context.Context, db *gorm.DB, ownerID, viewerID string) (*domain.CareAccess, error) {
	var grant domain.CareAccess
	err := db.WithContext(ctx).
		Where("owner_id = ? AND viewer_id = ?", ownerID, viewerID).
		First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// DeleteCareAccess removes a permanent grant. Grants are otherwise never
// cleaned up automatically; revoking the originating link does not touch them.
func DeleteCareAccess(ctx context.Context, db *gorm.DB, ownerID, viewerID string) error {
	res := db.WithContext(ctx).
		Where("owner_id = ? AND viewer_id = ?", ownerID, viewerID).
		Delete(&domain.CareAccess{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
