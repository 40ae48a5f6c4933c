// Sharing and access HTTP handlers.
//
// This file exposes REST endpoints for caregiver sharing:
//   - POST   /share-links               (owner mints a link)
//   - POST   /share-links/accept        (viewer converts a token to a grant)
//   - DELETE /share-links/{id}          (owner revokes a link)
//   - GET    /access/{owner}            (resolve the caller's role)
//   - GET    /users/{owner}/day-statuses (gated cross-user rollup read)
//   - GET    /users/{owner}/entries      (gated cross-user entry read)
//
// Cross-user reads accept an optional share_token query parameter so a link
// holder can read before accepting; accepted viewers are recognized without
// a token.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medtrack/go-medtrack-backend/internal/services"
	"github.com/medtrack/go-medtrack-backend/internal/utils"
)

//
// DTOs
//

// CreateShareLinkRequest is the JSON payload for minting a share link.
type CreateShareLinkRequest struct {
	// ExpiresAt optionally sets the link expiry (RFC 3339). When omitted the
	// configured default TTL applies.
	ExpiresAt *time.Time `json:"expires_at,omitempty" example:"2025-03-01T00:00:00Z"`
}

// AcceptShareLinkRequest is the JSON payload for accepting a share link.
type AcceptShareLinkRequest struct {
	// Token is the opaque share token from the link.
	Token string `json:"token" binding:"required" example:"0f2d7a34-93cd-45f7-9a3b-6f9a1f2d7c10"`
}

// ResolveAccessResponse reports the caller's capability against an owner.
type ResolveAccessResponse struct {
	OwnerID string `json:"owner_id"`
	Role    string `json:"role"`
}

//
// Helpers
//

// requireViewer resolves the caller's role against ownerID and writes the
// failure response itself when the caller lacks read access. A share_token
// query parameter is honored when present.
func (h *Handlers) requireViewer(c *gin.Context, ownerID string) bool {
	role, err := h.accessSvc.ResolveRole(c.Request.Context(), userID(c), ownerID,
		strings.TrimSpace(c.Query("share_token")), time.Now().UTC())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return false
	}
	if !services.HasAccess(role, services.RoleViewer) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "no access to this user's data")
		return false
	}
	return true
}

//
// Handlers
//

// CreateShareLink godoc
// @ID          createShareLink
// @Summary     Create a share link
// @Description Mints an active share link for the current user's data. The returned token can be handed to a caregiver.
// @Tags        Sharing
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateShareLinkRequest  false  "Optional expiry"
//
// @Success     201  {object}  domain.ShareLink
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /share-links [post]
func (h *Handlers) CreateShareLink(c *gin.Context) {
	var req CreateShareLinkRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	now := time.Now().UTC()
	var expiresAt time.Time
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "expires_at must be in the future")
			return
		}
		expiresAt = req.ExpiresAt.UTC()
	}

	link, err := h.accessSvc.CreateShareLink(c.Request.Context(), userID(c), expiresAt, now)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, link)
}

// AcceptShareLink godoc
// @ID          acceptShareLink
// @Summary     Accept a share link
// @Description Converts a valid share token into a permanent caregiver grant for the current user. Accepting the same link twice is idempotent.
// @Tags        Sharing
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(caregiver42)
// @Param       body       body    handlers.AcceptShareLinkRequest  true  "Share token"
//
// @Success     200  {object}  domain.CareAccess
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown token"
// @Failure     409  {object}  handlers.ErrorResponse  "Link not active"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /share-links/accept [post]
func (h *Handlers) AcceptShareLink(c *gin.Context) {
	var req AcceptShareLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	grant, err := h.accessSvc.AcceptShareLink(c.Request.Context(), strings.TrimSpace(req.Token), userID(c), time.Now().UTC())
	switch {
	case err == nil:
		ok(c, http.StatusOK, grant)
	case errors.Is(err, services.ErrShareLinkNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrShareLinkNotActive):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrAccessDenied):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// RevokeShareLink godoc
// @ID          revokeShareLink
// @Summary     Revoke a share link
// @Description Transitions the owner's active link to revoked. Token-based access stops immediately; accepted grants persist until removed.
// @Tags        Sharing
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Share link ID or token"
//
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /share-links/{id} [delete]
func (h *Handlers) RevokeShareLink(c *gin.Context) {
	err := h.accessSvc.RevokeShareLink(c.Request.Context(), c.Param("id"), userID(c))
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrShareLinkNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
	}
}

// ResolveAccess godoc
// @ID          resolveAccess
// @Summary     Resolve caller role
// @Description Returns the caller's capability against another user: owner, viewer, or anonymous. A share_token query parameter is honored when present.
// @Tags        Sharing
// @Produce     json
//
// @Param       X-User-ID    header  string  false "User ID (demo header)"  example(caregiver42)
// @Param       owner        path    string  true  "Data owner's user ID"
// @Param       share_token  query   string  false "Share token to evaluate"
//
// @Success     200  {object}  handlers.ResolveAccessResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /access/{owner} [get]
func (h *Handlers) ResolveAccess(c *gin.Context) {
	ownerID := c.Param("owner")
	role, err := h.accessSvc.ResolveRole(c.Request.Context(), userID(c), ownerID,
		strings.TrimSpace(c.Query("share_token")), time.Now().UTC())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, ResolveAccessResponse{OwnerID: ownerID, Role: role.String()})
}

// GetSharedDayStatuses godoc
// @ID          getSharedDayStatuses
// @Summary     Day rollups of another user
// @Description Returns the cached per-day statuses of the owner's data for a day range, provided the caller holds viewer access (grant or share token).
// @Tags        Sharing
// @Produce     json
//
// @Param       X-User-ID    header  string  false "User ID (demo header)"  example(caregiver42)
// @Param       owner        path    string  true  "Data owner's user ID"
// @Param       from         query   string  true  "Range start, YYYY-MM-DD"
// @Param       to           query   string  true  "Range end, YYYY-MM-DD"
// @Param       tz           query   string  false "IANA timezone"  example(Europe/London)
// @Param       share_token  query   string  false "Share token (pre-acceptance access)"
//
// @Success     200  {object}  handlers.DayStatusesResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "No access"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/{owner}/day-statuses [get]
func (h *Handlers) GetSharedDayStatuses(c *gin.Context) {
	ownerID := c.Param("owner")
	if !h.requireViewer(c, ownerID) {
		return
	}
	from, to, okRange := dayRange(c)
	if !okRange {
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}
	days, err := h.daySvc.GetRange(c.Request.Context(), ownerID, from, to, loc)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, DayStatusesResponse{
		Days: days,
		From: from.Format(utils.DayFormat),
		To:   to.Format(utils.DayFormat),
	})
}

// GetSharedEntries godoc
// @ID          getSharedEntries
// @Summary     Entries of another user
// @Description Returns the owner's live schedule entries for a day range, provided the caller holds viewer access (grant or share token).
// @Tags        Sharing
// @Produce     json
//
// @Param       X-User-ID    header  string  false "User ID (demo header)"  example(caregiver42)
// @Param       owner        path    string  true  "Data owner's user ID"
// @Param       from         query   string  true  "Range start, YYYY-MM-DD"
// @Param       to           query   string  true  "Range end, YYYY-MM-DD"
// @Param       tz           query   string  false "IANA timezone"  example(Europe/London)
// @Param       share_token  query   string  false "Share token (pre-acceptance access)"
//
// @Success     200  {object}  handlers.ListEntriesResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "No access"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/{owner}/entries [get]
func (h *Handlers) GetSharedEntries(c *gin.Context) {
	ownerID := c.Param("owner")
	if !h.requireViewer(c, ownerID) {
		return
	}
	from, to, okRange := dayRange(c)
	if !okRange {
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}
	entries, err := h.schedSvc.GetEntries(c.Request.Context(), ownerID, from, to, loc)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListEntriesResponse{
		Entries: entries,
		From:    from.Format(utils.DayFormat),
		To:      to.Format(utils.DayFormat),
	})
}
