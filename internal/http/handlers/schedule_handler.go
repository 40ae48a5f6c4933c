// Schedule and entry HTTP handlers.
//
// This file exposes REST endpoints for schedule templates, their expanded
// entries, and the derived day-status rollups:
//   - POST   /schedules                  (create template + initial entries)
//   - PUT    /schedules/{id}             (edit template, regenerate future)
//   - DELETE /schedules/{id}             (soft delete, drop future planned)
//   - POST   /schedules/{id}/regenerate  (re-expand future planned entries)
//   - GET    /entries                    (live entries for a day range)
//   - PUT    /entries/{id}/status        (mark dose PLANNED or DONE)
//   - DELETE /entries/{id}               (remove one occurrence)
//   - GET    /day-statuses               (cached per-day rollups for a range)
package handlers

import (
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
// DTOs
//

// CreateScheduleRequest is the JSON payload for creating a schedule template.
type CreateScheduleRequest struct {
	// MedicationID binds the schedule to an existing medication (required).
	MedicationID string `json:"medication_id" binding:"required" example:"6a1f1c1e-3a7e-4d2b-9f64-9c2b1a0d7e55"`
	// Quantity is the amount taken per intake.
	Quantity float64 `json:"quantity" binding:"required,gt=0" example:"1"`
	// Units names the quantity unit (tablet, ml, ...).
	Units string `json:"units" binding:"required,min=1,max=32" example:"tablet"`
	// FrequencyDays lists ISO weekdays the dose occurs on (1=Mon .. 7=Sun).
	FrequencyDays []int `json:"frequency_days" binding:"required" example:"1,3,5"`
	// DurationDays bounds the schedule; 0 or omitted means unbounded.
	DurationDays int `json:"duration_days" example:"14"`
	// DateStart is the first calendar day, "YYYY-MM-DD".
	DateStart string `json:"date_start" binding:"required" example:"2025-02-03"`
	// TimeOfDay lists intake clock times, "HH:MM" 24h.
	TimeOfDay []string `json:"time_of_day" binding:"required" example:"08:00,20:00"`
	// MealTiming is one of before, with, after, anytime.
	MealTiming string `json:"meal_timing" example:"with"`
}

// UpdateScheduleRequest is the JSON payload for editing a schedule template.
// Omitted fields are left unchanged.
type UpdateScheduleRequest struct {
	Quantity      *float64 `json:"quantity,omitempty"`
	Units         *string  `json:"units,omitempty"`
	FrequencyDays []int    `json:"frequency_days,omitempty"`
	DurationDays  *int     `json:"duration_days,omitempty"`
	DateStart     *string  `json:"date_start,omitempty"`
	TimeOfDay     []string `json:"time_of_day,omitempty"`
	MealTiming    *string  `json:"meal_timing,omitempty"`
	// Regenerate controls whether future planned entries are re-expanded.
	// Defaults to true; timing-only edits may pass false to keep entries.
	Regenerate *bool `json:"regenerate,omitempty"`
}

// UpdateEntryStatusRequest is the JSON payload for toggling an entry status.
type UpdateEntryStatusRequest struct {
	// Status is PLANNED or DONE.
	Status string `json:"status" binding:"required" example:"DONE"`
}

// RegenerateResponse reports what a future re-expansion changed.
type RegenerateResponse struct {
	DeletedCount  int64    `json:"deleted_count"`
	CreatedCount  int64    `json:"created_count"`
	AffectedDates []string `json:"affected_dates"`
}

// ListEntriesResponse wraps entries for a requested day range.
type ListEntriesResponse struct {
	Entries []domain.ScheduleEntry `json:"entries"`
	From    string                 `json:"from"`
	To      string                 `json:"to"`
}

// DayStatusesResponse maps "YYYY-MM-DD" day keys to their cached rollups.
type DayStatusesResponse struct {
	Days map[string]domain.DayStatus `json:"days"`
	From string                      `json:"from"`
	To   string                      `json:"to"`
}

//
// Helpers
//

// scheduleErrStatus maps schedule service errors onto HTTP responses shared
// by create and update.
func scheduleErrStatus(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrScheduleNotFound),
		errors.Is(err, services.ErrMedicationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidFrequencyDays),
		errors.Is(err, services.ErrInvalidTimeOfDay),
		errors.Is(err, services.ErrInvalidDateStart),
		errors.Is(err, services.ErrInvalidMealTiming):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

// idempotencyKey extracts the client's idempotency key. The validator
// middleware has already rejected malformed values by the time a handler runs;
// reading the header directly also lets handlers work on bare engines (tests).
func idempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

// scheduleDB exposes the raw GORM handle when the schedule service is the
// concrete implementation. Stub services used in tests yield nil, which
// disables the idempotency store and conditional-response paths.
func (h *Handlers) scheduleDB() *gorm.DB {
	if svc, okCast := h.schedSvc.(*services.ScheduleService); okCast {
		return svc.DB
	}
	return nil
}

//
// Handlers
//

// CreateSchedule godoc
// @ID          createSchedule
// @Summary     Create a schedule
// @Description Creates a recurrence template for a medication and expands its initial dated entries within the generation horizon.
// @Tags        Schedules
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Safe-retry key; a replay returns the active template"
// @Param       tz               query   string  false "IANA timezone"  example(Europe/London)
// @Param       body             body    handlers.CreateScheduleRequest  true  "Create schedule payload"
//
// @Success     201  {object}  domain.ScheduleTemplate
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Medication not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /schedules [post]
func (h *Handlers) CreateSchedule(c *gin.Context) {
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}
	dateStart, err := utils.ParseDay(req.DateStart)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "date_start must be YYYY-MM-DD")
		return
	}
	currentUser := userID(c)

	// Idempotency (replay path) – a recorded create for this medication and
	// key serves the active template instead of mutating again.
	idemKey, hasKey := idempotencyKey(c)
	idemDB := h.scheduleDB()
	if hasKey && idemDB != nil {
		ctx := c.Request.Context()
		if rec, errIdem := repo.GetIdempotency(ctx, idemDB, currentUser, req.MedicationID, idemKey, time.Now().UTC()); errIdem == nil && rec != nil {
			if prev, errPrev := repo.GetActiveTemplateByMedication(ctx, idemDB, req.MedicationID, currentUser); errPrev == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	tpl := domain.ScheduleTemplate{
		MedicationID:  req.MedicationID,
		Quantity:      req.Quantity,
		Units:         req.Units,
		FrequencyDays: req.FrequencyDays,
		DurationDays:  req.DurationDays,
		DateStart:     dateStart,
		TimeOfDay:     req.TimeOfDay,
		MealTiming:    req.MealTiming,
	}

	created, err := h.schedSvc.Create(c.Request.Context(), currentUser, tpl, time.Now().UTC(), loc)
	if err != nil {
		scheduleErrStatus(c, err, ErrCodeCreateFailed)
		return
	}

	// Idempotency (store path) – best effort.
	if hasKey && idemDB != nil {
		ctx := c.Request.Context()
		n, _ := repo.CountEntriesBySchedule(ctx, idemDB, created.ID)
		_, _ = repo.CreateIdempotency(ctx, idemDB, currentUser, req.MedicationID, idemKey, int(n), http.StatusCreated, h.IdemTTL)
	}
	ok(c, http.StatusCreated, created)
}

// UpdateSchedule godoc
// @ID          updateSchedule
// @Summary     Edit a schedule
// @Description Edits a recurrence template. Future planned entries are re-expanded unless regenerate=false; past and taken doses are untouched.
// @Tags        Schedules
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Schedule ID (UUID)"
// @Param       tz         query   string  false "IANA timezone"  example(Europe/London)
// @Param       body       body    handlers.UpdateScheduleRequest  true  "Fields to change"
//
// @Success     200  {object}  domain.ScheduleTemplate
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /schedules/{id} [put]
func (h *Handlers) UpdateSchedule(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "schedule id must be a UUID")
		return
	}
	var req UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}

	patch := services.TemplatePatch{
		Quantity:      req.Quantity,
		Units:         req.Units,
		FrequencyDays: req.FrequencyDays,
		DurationDays:  req.DurationDays,
		TimeOfDay:     req.TimeOfDay,
		MealTiming:    req.MealTiming,
	}
	if req.DateStart != nil {
		ds, err := utils.ParseDay(*req.DateStart)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "date_start must be YYYY-MM-DD")
			return
		}
		patch.DateStart = &ds
	}
	regenerate := true
	if req.Regenerate != nil {
		regenerate = *req.Regenerate
	}

	updated, err := h.schedSvc.Update(c.Request.Context(), userID(c), id, patch, regenerate, time.Now().UTC(), loc)
	if err != nil {
		scheduleErrStatus(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, updated)
}

// DeleteSchedule godoc
// @ID          deleteSchedule
// @Summary     Delete a schedule
// @Description Soft-deletes a recurrence template and removes its future planned entries. Past and taken doses remain as history.
// @Tags        Schedules
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Schedule ID (UUID)"
// @Param       tz         query   string  false "IANA timezone"  example(Europe/London)
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /schedules/{id} [delete]
func (h *Handlers) DeleteSchedule(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "schedule id must be a UUID")
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}
	err := h.schedSvc.Delete(c.Request.Context(), userID(c), id, time.Now().UTC(), loc)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrScheduleNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
	}
}

// RegenerateSchedule godoc
// @ID          regenerateSchedule
// @Summary     Regenerate future entries
// @Description Deletes a schedule's future planned entries and re-expands them from the current template. Deterministic, so repeating the call leaves the same entry set.
// @Tags        Schedules
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       id               path    string  true  "Schedule ID (UUID)"
// @Param       Idempotency-Key  header  string  false "Safe-retry key; a replay returns the recorded counts"
// @Param       tz               query   string  false "IANA timezone"  example(Europe/London)
//
// @Success     200  {object}  handlers.RegenerateResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /schedules/{id}/regenerate [post]
func (h *Handlers) RegenerateSchedule(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "schedule id must be a UUID")
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}
	currentUser := userID(c)

	// Idempotency (replay path) – serve the recorded outcome without touching
	// the entry set again.
	idemKey, hasKey := idempotencyKey(c)
	idemDB := h.scheduleDB()
	if hasKey && idemDB != nil {
		if rec, errIdem := repo.GetIdempotency(c.Request.Context(), idemDB, currentUser, id, idemKey, time.Now().UTC()); errIdem == nil && rec != nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, RegenerateResponse{
				DeletedCount:  0,
				CreatedCount:  int64(rec.EntryCount),
				AffectedDates: []string{},
			})
			return
		}
	}

	res, err := h.schedSvc.RegenerateFuture(c.Request.Context(), currentUser, id, time.Now().UTC(), loc)
	switch {
	case err == nil:
		// Idempotency (store path) – best effort.
		if hasKey && idemDB != nil {
			_, _ = repo.CreateIdempotency(c.Request.Context(), idemDB, currentUser, id, idemKey, int(res.CreatedCount), http.StatusOK, h.IdemTTL)
		}
		dates := make([]string, 0, len(res.AffectedDates))
		for _, d := range res.AffectedDates {
			dates = append(dates, d.Format(utils.DayFormat))
		}
		ok(c, http.StatusOK, RegenerateResponse{
			DeletedCount:  res.DeletedCount,
			CreatedCount:  res.CreatedCount,
			AffectedDates: dates,
		})
	case errors.Is(err, services.ErrScheduleNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeRegenerateFailed, err.Error())
	}
}

// ListEntries godoc
// @ID          listEntries
// @Summary     List entries for a day range
// @Description Returns the user's live schedule entries whose occurrence falls inside the inclusive [from, to] day range, resolved in the request timezone. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Entries
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"  example(user123)
// @Param       from           query   string  true  "Range start, YYYY-MM-DD"
// @Param       to             query   string  true  "Range end, YYYY-MM-DD"
// @Param       tz             query   string  false "IANA timezone"  example(Europe/London)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object}  handlers.ListEntriesResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /entries [get]
func (h *Handlers) ListEntries(c *gin.Context) {
	from, to, okRange := dayRange(c)
	if !okRange {
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}
	uid := userID(c)

	// ETag pre-check (best effort).
	if db := h.scheduleDB(); db != nil {
		count, maxTS, errStats := repo.EntriesStats(c.Request.Context(), db, uid)
		if errStats == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"entries:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	entries, err := h.schedSvc.GetEntries(c.Request.Context(), uid, from, to, loc)
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

// UpdateEntryStatus godoc
// @ID          updateEntryStatus
// @Summary     Mark an entry taken or planned
// @Description Sets one entry's status to PLANNED or DONE and refreshes the affected day's cached rollup.
// @Tags        Entries
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Entry ID (UUID)"
// @Param       tz         query   string  false "IANA timezone"  example(Europe/London)
// @Param       body       body    handlers.UpdateEntryStatusRequest  true  "New status"
//
// @Success     200  {object}  domain.ScheduleEntry
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /entries/{id}/status [put]
func (h *Handlers) UpdateEntryStatus(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "entry id must be a UUID")
		return
	}
	var req UpdateEntryStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}

	entry, err := h.schedSvc.SetEntryStatus(c.Request.Context(), userID(c), id, req.Status, loc)
	switch {
	case err == nil:
		ok(c, http.StatusOK, entry)
	case errors.Is(err, services.ErrEntryNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidEntryStatus):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
	}
}

// DeleteEntry godoc
// @ID          deleteEntry
// @Summary     Delete one entry
// @Description Permanently removes a single dated occurrence and invalidates the affected day's cached rollup.
// @Tags        Entries
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Entry ID (UUID)"
// @Param       tz         query   string  false "IANA timezone"  example(Europe/London)
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /entries/{id} [delete]
func (h *Handlers) DeleteEntry(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "entry id must be a UUID")
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}
	err := h.schedSvc.DeleteEntry(c.Request.Context(), userID(c), id, loc)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrEntryNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
	}
}

// GetDayStatuses godoc
// @ID          getDayStatuses
// @Summary     Day rollups for a range
// @Description Returns the cached per-day status for every day in the inclusive [from, to] range. Missing days are computed on demand and persisted.
// @Tags        DayStatuses
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       from       query   string  true  "Range start, YYYY-MM-DD"
// @Param       to         query   string  true  "Range end, YYYY-MM-DD"
// @Param       tz         query   string  false "IANA timezone"  example(Europe/London)
//
// @Success     200  {object}  handlers.DayStatusesResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /day-statuses [get]
func (h *Handlers) GetDayStatuses(c *gin.Context) {
	from, to, okRange := dayRange(c)
	if !okRange {
		return
	}
	loc, okLoc := h.location(c)
	if !okLoc {
		return
	}
	days, err := h.daySvc.GetRange(c.Request.Context(), userID(c), from, to, loc)
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
