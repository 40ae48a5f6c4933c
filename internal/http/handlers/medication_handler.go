// Medication HTTP handlers.
//
// This file exposes REST endpoints for medication resources:
//   - POST   /medications                (create)
//   - GET    /medications                (list, paginated, ETag support)
//   - GET    /medications/{id}           (fetch one)
//   - PUT    /medications/{id}           (edit; may fork a new version)
//   - DELETE /medications/{id}           (soft delete)
//   - GET    /medications/{id}/versions  (version chain, newest first)
//
// It also hosts the Handlers wiring and the service contracts shared by the
// schedule and sharing handlers. Handlers are transport-thin: they validate
// input, call application services, and translate results into HTTP
// responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
	"github.com/medtrack/go-medtrack-backend/internal/repo"
	"github.com/medtrack/go-medtrack-backend/internal/services"
	"github.com/medtrack/go-medtrack-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// MedicationService defines medication lifecycle operations consumed by HTTP
// handlers. Implementations should be safe for concurrent use and must honor
// the provided context for cancellation and timeouts.
type MedicationService interface {
	// Create inserts a medication for userID, rejecting active duplicates.
	Create(ctx context.Context, userID, name, dose, form string) (*domain.Medication, error)
	// Get fetches a non-deleted medication owned by userID.
	Get(ctx context.Context, userID, id string) (*domain.Medication, error)
	// ListPage returns a page of medications and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Medication, int64, error)
	// Update edits a medication, forking a version when a live schedule exists.
	Update(ctx context.Context, userID, id string, patch services.MedicationPatch, now time.Time, loc *time.Location) (*domain.Medication, error)
	// Delete soft-deletes a medication and removes its future PLANNED entries.
	Delete(ctx context.Context, userID, id string, now time.Time, loc *time.Location) error
	// VersionChain lists the edit history of a medication, newest first.
	VersionChain(ctx context.Context, userID, id string) ([]domain.Medication, error)
}

// ScheduleService defines schedule and entry operations consumed by HTTP
// handlers.
type ScheduleService interface {
	// Create persists a template and its initial expanded entries.
	Create(ctx context.Context, userID string, tpl domain.ScheduleTemplate, now time.Time, loc *time.Location) (*domain.ScheduleTemplate, error)
	// Update patches a template, optionally regenerating future entries.
	Update(ctx context.Context, userID, scheduleID string, patch services.TemplatePatch, regenerate bool, now time.Time, loc *time.Location) (*domain.ScheduleTemplate, error)
	// Delete soft-deletes a template and removes its future PLANNED entries.
	Delete(ctx context.Context, userID, scheduleID string, now time.Time, loc *time.Location) error
	// RegenerateFuture re-expands future PLANNED entries from the template.
	RegenerateFuture(ctx context.Context, userID, scheduleID string, now time.Time, loc *time.Location) (*services.RegenerateResult, error)
	// SetEntryStatus toggles an entry between PLANNED and DONE.
	SetEntryStatus(ctx context.Context, userID, entryID, status string, loc *time.Location) (*domain.ScheduleEntry, error)
	// DeleteEntry permanently removes one entry.
	DeleteEntry(ctx context.Context, userID, entryID string, loc *time.Location) error
	// GetEntries returns the live entries for an inclusive day range.
	GetEntries(ctx context.Context, userID string, from, to time.Time, loc *time.Location) ([]domain.ScheduleEntry, error)
}

// DayStatusService defines cached day-status reads consumed by HTTP handlers.
type DayStatusService interface {
	// Get returns one day's status, reading through the cache.
	Get(ctx context.Context, userID string, day time.Time, loc *time.Location) (*domain.DayStatus, error)
	// GetRange returns statuses for every day in the range, keyed "YYYY-MM-DD".
	GetRange(ctx context.Context, userID string, from, to time.Time, loc *time.Location) (map[string]domain.DayStatus, error)
}

// AccessService defines role resolution and share-link operations consumed by
// HTTP handlers.
type AccessService interface {
	// ResolveRole determines the caller's capability against an owner.
	ResolveRole(ctx context.Context, callerID, ownerID, shareToken string, now time.Time) (services.Role, error)
	// CreateShareLink mints an active link for the owner.
	CreateShareLink(ctx context.Context, ownerID string, expiresAt, now time.Time) (*domain.ShareLink, error)
	// AcceptShareLink converts a valid token into a permanent grant.
	AcceptShareLink(ctx context.Context, token, viewerID string, now time.Time) (*domain.CareAccess, error)
	// RevokeShareLink transitions an owner's active link to revoked.
	RevokeShareLink(ctx context.Context, idOrToken, callerID string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for medications, schedules, entries,
// day statuses, and sharing. It depends on abstract service interfaces to
// keep transport concerns separate from business logic.
type Handlers struct {
	medSvc    MedicationService
	schedSvc  ScheduleService
	daySvc    DayStatusService
	accessSvc AccessService

	// defaultLoc is applied when a request does not carry a tz parameter.
	defaultLoc *time.Location

	// IdemTTL bounds how long a stored Idempotency-Key result can be replayed
	// for entry-creating schedule mutations.
	IdemTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
// defaultLoc may be nil, in which case UTC is used.
func New(medSvc MedicationService, schedSvc ScheduleService, daySvc DayStatusService, accessSvc AccessService, defaultLoc *time.Location) *Handlers {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Handlers{
		medSvc:     medSvc,
		schedSvc:   schedSvc,
		daySvc:     daySvc,
		accessSvc:  accessSvc,
		defaultLoc: defaultLoc,
		IdemTTL:    24 * time.Hour,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// location resolves the request timezone from the "tz" query parameter,
// falling back to the configured default. Unknown names are a client error.
func (h *Handlers) location(c *gin.Context) (*time.Location, bool) {
	name := strings.TrimSpace(c.Query("tz"))
	if name == "" {
		return h.defaultLoc, true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tz must be a valid IANA timezone name")
		return nil, false
	}
	return loc, true
}

// dayRange parses the required "from" and "to" query parameters as
// "YYYY-MM-DD" calendar days.
func dayRange(c *gin.Context) (from, to time.Time, ok bool) {
	var err error
	if from, err = utils.ParseDay(c.Query("from")); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from must be YYYY-MM-DD")
		return from, to, false
	}
	if to, err = utils.ParseDay(c.Query("to")); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to must be YYYY-MM-DD")
		return from, to, false
	}
	if to.Before(from) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to must not precede from")
		return from, to, false
	}
	return from, to, true
}

//
// DTOs
//

// CreateMedicationRequest is the JSON payload for creating a medication.
type CreateMedicationRequest struct {
	// Name is the medication display name (required).
	Name string `json:"name" binding:"required,min=1,max=255" example:"Aspirin"`
	// Dose optionally describes the strength per unit.
	Dose string `json:"dose" example:"100 mg"`
	// Form optionally describes the dosage form.
	Form string `json:"form" example:"tablet"`
}

// UpdateMedicationRequest is the JSON payload for editing a medication.
// Omitted fields are left unchanged.
type UpdateMedicationRequest struct {
	Name *string `json:"name,omitempty" example:"Aspirin Protect"`
	Dose *string `json:"dose,omitempty" example:"100 mg"`
	Form *string `json:"form,omitempty" example:"tablet"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListMedicationsResponse wraps a page of medications and pagination
// information.
type ListMedicationsResponse struct {
	Medications []domain.Medication `json:"medications"`
	Pagination  Pagination          `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// CreateMedication godoc
// @ID          createMedication
// @Summary     Create a new medication
// @Description Creates a medication for the current user and returns the resource. Names are normalized; an active duplicate is rejected.
// @Tags        Medications
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateMedicationRequest  true  "Create medication payload"
//
// @Success     201  {object}  domain.Medication
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate medication"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /medications [post]
func (h *Handlers) CreateMedication(c *gin.Context) {
	var req CreateMedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	med, err := h.medSvc.Create(c.Request.Context(), userID(c), req.Name, req.Dose, req.Form)
	switch {
	case err == nil:
		ok(c, http.StatusCreated, med)
	case errors.Is(err, services.ErrDuplicateMedication):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrInvalidMedicationName):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
	}
}

// ListMedications godoc
// @ID          listMedications
// @Summary     List medications (paginated)
// @Description Returns a page of the user's medications. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Medications
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMedicationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /medications [get]
func (h *Handlers) ListMedications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okCast := h.medSvc.(*services.MedicationService); okCast {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.MedicationsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"medications:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.medSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMedicationsResponse{
		Medications: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetMedication godoc
// @ID          getMedication
// @Summary     Fetch one medication
// @Description Returns a non-deleted medication owned by the current user.
// @Tags        Medications
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Medication ID (UUID)"
//
// @Success     200  {object}  domain.Medication
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /medications/{id} [get]
func (h *Handlers) GetMedication(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "medication id must be a UUID")
		return
	}
	med, err := h.medSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrMedicationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, med)
}

// UpdateMedication godoc
// @ID          updateMedication
// @Summary     Edit a medication
// @Description Edits a medication. When a live schedule exists the edit forks a new version and regenerates future doses; past intake history is preserved under the old version.
// @Tags        Medications
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Medication ID (UUID)"
// @Param       tz         query   string  false "IANA timezone"  example(Europe/London)
// @Param       body       body    handlers.UpdateMedicationRequest  true  "Fields to change"
//
// @Success     200  {object}  domain.Medication
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate medication"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /medications/{id} [put]
func (h *Handlers) UpdateMedication(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "medication id must be a UUID")
		return
	}
	var req UpdateMedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}

	med, err := h.medSvc.Update(c.Request.Context(), userID(c), id,
		services.MedicationPatch{Name: req.Name, Dose: req.Dose, Form: req.Form},
		time.Now().UTC(), loc)
	switch {
	case err == nil:
		ok(c, http.StatusOK, med)
	case errors.Is(err, services.ErrMedicationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrDuplicateMedication):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
	}
}

// DeleteMedication godoc
// @ID          deleteMedication
// @Summary     Delete a medication
// @Description Soft-deletes a medication together with its schedules and future planned doses. Past intake history is untouched.
// @Tags        Medications
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Medication ID (UUID)"
// @Param       tz         query   string  false "IANA timezone"  example(Europe/London)
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /medications/{id} [delete]
func (h *Handlers) DeleteMedication(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "medication id must be a UUID")
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}
	err := h.medSvc.Delete(c.Request.Context(), userID(c), id, time.Now().UTC(), loc)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrMedicationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
	}
}

// ListMedicationVersions godoc
// @ID          listMedicationVersions
// @Summary     List medication versions
// @Description Returns the edit history of a medication, newest first, following previous-version links.
// @Tags        Medications
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Medication ID (UUID)"
//
// @Success     200  {object}  map[string]interface{}
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /medications/{id}/versions [get]
func (h *Handlers) ListMedicationVersions(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "medication id must be a UUID")
		return
	}
	chain, err := h.medSvc.VersionChain(c.Request.Context(), userID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrMedicationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"versions": chain})
}
