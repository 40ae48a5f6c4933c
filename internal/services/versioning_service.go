// Package services – VersioningService
//
// This file implements copy-on-write versioning for medications. Editing a
// medication that has a live schedule must not mutate history: the old
// medication and its template are soft-deleted, a new medication row is
// created pointing back via PreviousMedicationID, the template is cloned and
// re-anchored at "now", and future entries are moved to the new chain link.
// Everything persisted happens in one transaction; day-status maintenance is
// the caller's concern via the returned affected dates.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
	"github.com/medtrack/go-medtrack-backend/internal/recurrence"
	"github.com/medtrack/go-medtrack-backend/internal/repo"
	"github.com/medtrack/go-medtrack-backend/internal/utils"
)

// MedicationPatch carries the optional descriptive-field updates for a
// medication edit. Nil fields are left unchanged.
type MedicationPatch struct {
	Name *string
	Dose *string
	Form *string
}

// VersionResult reports the outcome of a version fork.
type VersionResult struct {
	// NewMedication is the freshly created chain head.
	NewMedication *domain.Medication
	// PreviousMedication is the superseded (now soft-deleted) version.
	PreviousMedication *domain.Medication
	// NewTemplate is the active template cloned onto the new version, nil
	// when the old medication had no live schedule to carry over.
	NewTemplate *domain.ScheduleTemplate
	// DeletedEntriesCount / GeneratedEntriesCount are entry row counts.
	DeletedEntriesCount   int64
	GeneratedEntriesCount int64
	// AffectedDates is the distinct day-key set of every deleted and created
	// entry, for the caller to push into the day-status cache.
	AffectedDates []time.Time
}

// VersioningService forks medication versions. It is dispatched to only for
// medications with a non-deleted schedule template; plain field edits on
// schedule-less medications are handled in place by MedicationService.
type VersioningService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// GenerationDays bounds the expansion horizon for unbounded templates.
	GenerationDays int
}

// NewVersioningService constructs a VersioningService with a default
// generation horizon of 30 days for unbounded templates.
func NewVersioningService(db *gorm.DB) *VersioningService {
	return &VersioningService{DB: db, GenerationDays: 30}
}

// CreateVersion forks a new version of oldMedicationID with the patched
// fields, in one transaction:
//
//  1. Load the old medication and its active template(s).
//  2. Delete future PLANNED entries of the old schedule(s), recording days.
//  3. Soft-delete the old medication and its template(s) at "now".
//  4. Create the new medication with PreviousMedicationID set to the old id.
//  5. Clone the template (same recurrence, quantity, timing) with DateStart
//     re-anchored to now's calendar day, so all history before "now" belongs
//     only to the old chain link.
//  6. Expand and insert entries for the new template from "now" through its
//     end, recording days.
//
// The returned AffectedDates is the union of steps 2 and 6; the caller
// pushes it into DayStatusService.UpdateMany (best-effort).
func (s *VersioningService) CreateVersion(ctx context.Context, oldMedicationID string, patch MedicationPatch, userID string, now time.Time, loc *time.Location) (*VersionResult, error) {
	tr := otel.Tracer("services/VersioningService")
	ctx, span := tr.Start(ctx, "CreateVersion",
		trace.WithAttributes(
			attribute.String("medication.id", oldMedicationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	var result VersionResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old, err := repo.GetMedication(ctx, tx, oldMedicationID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMedicationNotFound
			}
			return err
		}
		templates, err := repo.ListActiveTemplatesByMedication(ctx, tx, old.ID, userID)
		if err != nil {
			return err
		}

		var affected []time.Time

		// Retire the old chain link: future entries, templates, medication.
		for _, tpl := range templates {
			doomed, err := repo.ListFuturePlanned(ctx, tx, tpl.ID, now)
			if err != nil {
				return err
			}
			affected = append(affected, entryDays(doomed, loc)...)
			deleted, err := repo.DeleteFuturePlanned(ctx, tx, tpl.ID, now)
			if err != nil {
				return err
			}
			result.DeletedEntriesCount += deleted
		}
		if _, err := repo.SoftDeleteTemplatesByMedication(ctx, tx, old.ID, userID, now.UTC()); err != nil {
			return err
		}
		if err := repo.SoftDeleteMedication(ctx, tx, old.ID, userID, now.UTC()); err != nil {
			return err
		}

		// Create the new chain head with the patched fields.
		name, dose, form := old.Name, old.Dose, old.Form
		if patch.Name != nil {
			name = *patch.Name
		}
		if patch.Dose != nil {
			dose = *patch.Dose
		}
		if patch.Form != nil {
			form = *patch.Form
		}
		newMed, err := repo.CreateMedication(ctx, tx, userID, name, dose, form, &old.ID)
		if err != nil {
			return err
		}

		// Clone the newest active template, re-anchored at now's day.
		if len(templates) > 0 {
			src := templates[len(templates)-1]
			clone := domain.ScheduleTemplate{
				MedicationID:  newMed.ID,
				UserID:        userID,
				Quantity:      src.Quantity,
				Units:         src.Units,
				FrequencyDays: src.FrequencyDays,
				DurationDays:  remainingDuration(src, now, loc),
				DateStart:     utils.Day(now, loc),
				TimeOfDay:     src.TimeOfDay,
				MealTiming:    src.MealTiming,
			}
			newTpl, err := repo.CreateTemplate(ctx, tx, clone)
			if err != nil {
				return err
			}

			end := now.AddDate(0, 0, s.generationDays())
			if de := newTpl.DateEnd(); de != nil {
				start, _ := utils.DayBounds(utils.DayKey(*de), loc)
				end = start
			}
			instants, err := recurrence.Expand(*newTpl, now, end, loc)
			if err != nil {
				return err
			}
			kept := instants[:0]
			for _, at := range instants {
				if !at.Before(now) {
					kept = append(kept, at)
				}
			}
			created, err := repo.CreateEntries(ctx, tx, newTpl.ID, newMed.ID, userID, kept)
			if err != nil {
				return err
			}
			result.GeneratedEntriesCount = created
			result.NewTemplate = newTpl
			affected = append(affected, daysOf(kept, loc)...)
		}

		old.DeletedAt = gorm.DeletedAt{Time: now.UTC(), Valid: true}
		result.NewMedication = newMed
		result.PreviousMedication = old
		result.AffectedDates = dedupeDays(affected)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// VersionChain walks a medication's chain backwards from id through
// PreviousMedicationID links, newest first, including soft-deleted versions.
// Links are only ever created at version-creation time and never edited, so
// the walk cannot cycle; the depth guard is a backstop against corrupt data.
func (s *VersioningService) VersionChain(ctx context.Context, id, userID string) ([]domain.Medication, error) {
	const maxChain = 100

	var chain []domain.Medication
	next := &id
	for next != nil && len(chain) < maxChain {
		med, err := repo.GetMedicationAnyVersion(ctx, s.DB, *next, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if len(chain) == 0 {
					return nil, ErrMedicationNotFound
				}
				break
			}
			return nil, err
		}
		chain = append(chain, *med)
		next = med.PreviousMedicationID
	}
	return chain, nil
}

// remainingDuration computes the cloned template's duration so the new chain
// link covers the rest of the original window: days from now's day through
// the old end day, inclusive. Unbounded templates stay unbounded.
func remainingDuration(src domain.ScheduleTemplate, now time.Time, loc *time.Location) int {
	de := src.DateEnd()
	if de == nil {
		return 0
	}
	start := utils.Day(now, loc)
	end := utils.DayKey(*de)
	if end.Before(start) {
		// Window already over; keep a single-day stub so the clone is valid.
		return 1
	}
	return int(end.Sub(start).Hours()/24) + 1
}

func (s *VersioningService) generationDays() int {
	if s.GenerationDays <= 0 {
		return 30
	}
	return s.GenerationDays
}
