// Package services – AccessService
//
// This file implements capability-based access resolution for cross-user
// reads, plus the share-link lifecycle that feeds it. A caller is resolved to
// exactly one of three roles against an owner: the owner themselves, a viewer
// (via an active share token or a permanent care-access grant), or anonymous.
// Role checks run before any other store is touched.
//
// Share-link expiry is a lazy state transition: validation checks the clock
// and persists active-to-expired as a side effect, so no background job is
// needed for a five-entity system.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
	"github.com/medtrack/go-medtrack-backend/internal/repo"
)

// Role is a caller's resolved capability against a resource owner.
type Role int

// Roles, ordered by capability rank. A role satisfies a requirement when its
// rank is greater than or equal to the required rank.
const (
	RoleAnonymous Role = iota
	RoleViewer
	RoleOwner
)

// String returns the lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleViewer:
		return "viewer"
	default:
		return "anonymous"
	}
}

// HasAccess reports whether actual satisfies required under the capability
// ordering owner > viewer > anonymous.
func HasAccess(actual, required Role) bool {
	return actual >= required
}

// AccessService resolves caller roles and manages share links and the
// permanent grants their acceptance creates.
type AccessService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// LinkTTL is the default share-link lifetime used when the owner does
	// not pick an explicit expiry.
	LinkTTL time.Duration
}

// NewAccessService constructs an AccessService with a 7-day default link TTL.
func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{DB: db, LinkTTL: 7 * 24 * time.Hour}
}

// ResolveRole determines callerID's role against ownerID, short-circuiting:
//
//  1. The owner is always the owner.
//  2. A provided share token qualifies as viewer only while the link is
//     active and belongs to ownerID; an active-but-stale link is transitioned
//     to expired as a side effect and does not qualify.
//  3. A permanent CareAccess grant for (ownerID, callerID) qualifies as
//     viewer regardless of any link's later fate.
//  4. Otherwise the caller is anonymous.
//
// Store errors during steps 2 and 3 are returned as-is; role resolution
// never invents a role on a failed lookup.
func (s *AccessService) ResolveRole(ctx context.Context, callerID, ownerID, shareToken string, now time.Time) (Role, error) {
	if callerID != "" && callerID == ownerID {
		return RoleOwner, nil
	}

	if shareToken != "" {
		link, err := s.ValidateShareLink(ctx, shareToken, now)
		switch {
		case err == nil:
			if link.OwnerID == ownerID {
				return RoleViewer, nil
			}
		case errors.Is(err, ErrShareLinkNotFound), errors.Is(err, ErrShareLinkNotActive):
			// Fall through to the permanent-grant check.
		default:
			return RoleAnonymous, err
		}
	}

	if callerID != "" {
		if _, err := repo.GetCareAccess(ctx, s.DB, ownerID, callerID); err == nil {
			return RoleViewer, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return RoleAnonymous, err
		}
	}

	return RoleAnonymous, nil
}

// CreateShareLink mints an active link for ownerID. A zero expiresAt applies
// the configured default TTL from now.
func (s *AccessService) CreateShareLink(ctx context.Context, ownerID string, expiresAt time.Time, now time.Time) (*domain.ShareLink, error) {
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.LinkTTL)
	}
	return repo.CreateShareLink(ctx, s.DB, ownerID, expiresAt)
}

// ValidateShareLink fetches a link by token and enforces its state. An
// active link past its expiry is persisted as expired (lazy transition) and
// reported ErrShareLinkNotActive; revoked and expired links always are.
func (s *AccessService) ValidateShareLink(ctx context.Context, token string, now time.Time) (*domain.ShareLink, error) {
	link, err := repo.GetShareLinkByToken(ctx, s.DB, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShareLinkNotFound
		}
		return nil, err
	}
	if link.Status == domain.ShareStatusActive && now.After(link.ExpiresAt) {
		if err := repo.MarkShareLinkExpired(ctx, s.DB, link.ID); err != nil {
			return nil, err
		}
		link.Status = domain.ShareStatusExpired
	}
	if link.Status != domain.ShareStatusActive {
		return nil, ErrShareLinkNotActive
	}
	return link, nil
}

// AcceptShareLink turns a valid token into a permanent CareAccess grant for
// viewerID and records the viewer on the link. Accepting a link whose grant
// already exists is not an error: the existing grant is reported as an
// idempotent success.
func (s *AccessService) AcceptShareLink(ctx context.Context, token, viewerID string, now time.Time) (*domain.CareAccess, error) {
	link, err := s.ValidateShareLink(ctx, token, now)
	if err != nil {
		return nil, err
	}
	if link.OwnerID == viewerID {
		// Owners cannot grant themselves viewer access; nothing to do.
		return nil, ErrShareLinkNotActive
	}

	var grant *domain.CareAccess
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if link.ViewerID == nil || *link.ViewerID == "" {
			if err := repo.SetShareLinkViewer(ctx, tx, link.ID, viewerID); err != nil {
				return err
			}
		}
		var err error
		grant, err = repo.CreateCareAccess(ctx, tx, link.OwnerID, viewerID)
		if errors.Is(err, repo.ErrDuplicate) {
			grant, err = repo.GetCareAccess(ctx, tx, link.OwnerID, viewerID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// RevokeShareLink transitions an active link to revoked. Only the owner may
// revoke; a non-owner caller observes the same not-found as a missing link.
// idOrToken accepts either the row id or the opaque token. Revocation does
// not retroactively remove CareAccess grants created by prior acceptances.
func (s *AccessService) RevokeShareLink(ctx context.Context, idOrToken, callerID string) error {
	link, err := repo.GetShareLinkByID(ctx, s.DB, idOrToken)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		link, err = repo.GetShareLinkByToken(ctx, s.DB, idOrToken)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrShareLinkNotFound
		}
		return err
	}
	if err := repo.MarkShareLinkRevoked(ctx, s.DB, link.ID, callerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrShareLinkNotFound
		}
		return err
	}
	return nil
}
