// Package domain defines the persistence models for medications, schedule
// templates, schedule entries, day statuses, and sharing grants. These types
// are mapped with GORM and form the core data layer of the medication
// reminder application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// ScheduleEntry lifecycle states. An entry is created PLANNED and may be
// toggled to DONE (and back) by the user; no other states exist.
const (
	EntryStatusPlanned = "PLANNED"
	EntryStatusDone    = "DONE"
)

// DayStatus adherence states. Exactly one applies to any (user, day) given
// the multiset of entry statuses on that day and a day-vs-today comparison.
const (
	DayStatusNone      = "NONE"
	DayStatusScheduled = "SCHEDULED"
	DayStatusPartial   = "PARTIAL"
	DayStatusAllTaken  = "ALL_TAKEN"
	DayStatusMissed    = "MISSED"
)

// ShareLink lifecycle states. A link starts active and transitions to expired
// lazily on validation or to revoked explicitly; neither is ever left again.
const (
	ShareStatusActive  = "active"
	ShareStatusRevoked = "revoked"
	ShareStatusExpired = "expired"
)

// Meal timing hints attached to a schedule template.
const (
	MealTimingBefore  = "before"
	MealTimingWith    = "with"
	MealTimingAfter   = "after"
	MealTimingAnytime = "anytime"
)

// Medication represents one link of a medication's version chain. Editing a
// medication with a live schedule never mutates the row: the old row is
// soft-deleted and a new row is created pointing back via
// PreviousMedicationID. Rows are immutable once superseded.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the owner; indexed for efficient retrieval.
//   - Name / Dose / Form: descriptive fields; (name, dose, form) must be
//     unique among a user's non-deleted medications.
//   - PreviousMedicationID: forward link to the superseded version, set once
//     at version-creation time and never edited (keeps the chain acyclic).
//   - DeletedAt: soft deletion marker (superseded or removed).
type Medication struct {
	ID                   string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID               string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_medications"`
	Name                 string         `json:"name"       gorm:"type:varchar(255);not null"`
	Dose                 string         `json:"dose,omitempty" gorm:"type:varchar(64)"`
	Form                 string         `json:"form,omitempty" gorm:"type:varchar(64)"`
	PreviousMedicationID *string        `json:"previous_medication_id,omitempty" gorm:"type:char(36);index"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Medication.
func (Medication) TableName() string { return "medications" }

// ScheduleTemplate is the recurring weekly definition from which concrete
// entries are expanded: which ISO weekdays, which wall-clock times, and for
// how many days starting at DateStart.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - MedicationID / UserID: owning medication and user (both indexed).
//   - Quantity / Units: dose taken per entry (e.g. 1 "tablet").
//   - FrequencyDays: set of ISO weekdays (1=Monday .. 7=Sunday), JSON-encoded.
//   - DurationDays: length of the schedule in days; 0 means unbounded.
//   - DateStart: first calendar day of the schedule.
//   - TimeOfDay: ordered "HH:MM" wall-clock times, JSON-encoded.
//   - MealTiming: before|with|after|anytime.
//   - DeletedAt: soft deletion marker. At most one non-deleted template
//     should exist per medication; the versioning service maintains this.
type ScheduleTemplate struct {
	ID            string         `json:"id"            gorm:"type:char(36);primaryKey"`
	MedicationID  string         `json:"medication_id" gorm:"type:char(36);not null;index"`
	UserID        string         `json:"user_id"       gorm:"type:varchar(64);not null;index"`
	Quantity      float64        `json:"quantity"      gorm:"not null"`
	Units         string         `json:"units"         gorm:"type:varchar(32);not null"`
	FrequencyDays []int          `json:"frequency_days" gorm:"serializer:json;not null"`
	DurationDays  int            `json:"duration_days"`
	DateStart     time.Time      `json:"date_start"    gorm:"not null"`
	TimeOfDay     []string       `json:"time_of_day"   gorm:"serializer:json;not null"`
	MealTiming    string         `json:"meal_timing"   gorm:"type:varchar(16);not null;default:'anytime'"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"             gorm:"index"`
}

// TableName returns the database table name for ScheduleTemplate.
func (ScheduleTemplate) TableName() string { return "schedule_templates" }

// DateEnd returns the last calendar day covered by the template
// (DateStart + DurationDays - 1), or nil when the template is unbounded.
func (t ScheduleTemplate) DateEnd() *time.Time {
	if t.DurationDays <= 0 {
		return nil
	}
	end := t.DateStart.AddDate(0, 0, t.DurationDays-1)
	return &end
}

// ScheduleEntry is one concrete dated occurrence derived from a template.
// DONE entries are never deleted by regeneration; only PLANNED entries at or
// after "now" are ever deleted and re-expanded. Past entries of any status
// are permanent history.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ScheduleID / MedicationID / UserID: owning template, medication, user.
//   - DateTime: the absolute instant of the occurrence; unique per schedule
//     so double-submitted expansions cannot duplicate rows.
//   - Status: PLANNED or DONE.
type ScheduleEntry struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	ScheduleID   string    `json:"schedule_id"   gorm:"type:char(36);not null;uniqueIndex:ux_schedule_datetime,priority:1"`
	MedicationID string    `json:"medication_id" gorm:"type:char(36);not null;index"`
	UserID       string    `json:"user_id"       gorm:"type:varchar(64);not null;index:idx_user_entries,priority:1"`
	DateTime     time.Time `json:"date_time"     gorm:"not null;uniqueIndex:ux_schedule_datetime,priority:2;index:idx_user_entries,priority:2"`
	Status       string    `json:"status"        gorm:"type:varchar(16);not null;default:'PLANNED';check:status IN ('PLANNED','DONE')"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for ScheduleEntry.
func (ScheduleEntry) TableName() string { return "schedule_entries" }

// DayStatus is the cached adherence aggregate for one (user, calendar day).
// It is pure derived state: always recomputable from the entries of that day,
// safe to delete at will, one row per (user_id, date).
//
// Date is normalized to midnight UTC of the calendar day observed in the
// caller's timezone, so rows compare and index cleanly.
type DayStatus struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID       string    `json:"user_id"       gorm:"type:varchar(64);not null;uniqueIndex:ux_user_day,priority:1"`
	Date         time.Time `json:"date"          gorm:"not null;uniqueIndex:ux_user_day,priority:2"`
	Status       string    `json:"status"        gorm:"type:varchar(16);not null"`
	TotalCount   int       `json:"total_count"   gorm:"not null"`
	PlannedCount int       `json:"planned_count" gorm:"not null"`
	TakenCount   int       `json:"taken_count"   gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for DayStatus.
func (DayStatus) TableName() string { return "day_statuses" }

// ShareLink is an opaque, time-boxed credential letting another user view the
// owner's data. ViewerID is filled in on first acceptance. Status moves
// active→expired lazily during validation, or active→revoked explicitly;
// revoked and expired are terminal.
type ShareLink struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Token     string    `json:"token"      gorm:"type:char(36);not null;uniqueIndex"`
	OwnerID   string    `json:"owner_id"   gorm:"type:varchar(64);not null;index"`
	ViewerID  *string   `json:"viewer_id,omitempty" gorm:"type:varchar(64)"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','revoked','expired')"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ShareLink.
func (ShareLink) TableName() string { return "share_links" }

// CareAccess is a permanent owner→viewer visibility grant created when a
// share link is accepted. It outlives the link that created it: expiring or
// revoking the link never deletes the grant.
type CareAccess struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	OwnerID   string    `json:"owner_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_owner_viewer,priority:1"`
	ViewerID  string    `json:"viewer_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_owner_viewer,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for CareAccess.
func (CareAccess) TableName() string { return "care_access" }
