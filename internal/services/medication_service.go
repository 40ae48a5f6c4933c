// Package services – MedicationService
//
// This file implements the medication lifecycle around the versioning core:
// creating medications (with duplicate detection), dispatching edits to
// either an in-place update or a version fork depending on whether a live
// schedule exists, deleting medications together with their future entries,
// and listing with pagination.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
	"github.com/medtrack/go-medtrack-backend/internal/repo"
)

// MedicationService provides medication-level operations. Edits on
// medications with an active schedule are delegated to the versioning
// service so history is never mutated.
type MedicationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Versioning forks a new chain link when an edit targets a medication
	// with a live schedule.
	Versioning *VersioningService
	// Cache maintains derived day-status rows after entry mutations.
	Cache *DayStatusService
}

// NewMedicationService constructs a MedicationService.
func NewMedicationService(db *gorm.DB, versioning *VersioningService, cache *DayStatusService) *MedicationService {
	return &MedicationService{
		DB:         db,
		Versioning: versioning,
		Cache:      cache,
	}
}

// Create inserts a new medication for userID. The name is normalized
// (trimmed, collapsed whitespace, leading capital); a non-deleted medication
// with the same (name, dose, form) yields ErrDuplicateMedication.
func (s *MedicationService) Create(ctx context.Context, userID, name, dose, form string) (*domain.Medication, error) {
	name = s.normalizeName(name)
	if name == "" {
		return nil, ErrInvalidMedicationName
	}
	if _, err := repo.FindActiveDuplicate(ctx, s.DB, userID, name, dose, form, ""); err == nil {
		return nil, ErrDuplicateMedication
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return repo.CreateMedication(ctx, s.DB, userID, name, dose, form, nil)
}

// Get fetches a non-deleted medication owned by userID.
func (s *MedicationService) Get(ctx context.Context, userID, id string) (*domain.Medication, error) {
	med, err := repo.GetMedication(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMedicationNotFound
		}
		return nil, err
	}
	return med, nil
}

// List returns all non-deleted medications for a user (non-paginated).
// Prefer ListPage for scalability on large datasets.
func (s *MedicationService) List(ctx context.Context, userID string) ([]domain.Medication, error) {
	return repo.ListMedications(ctx, s.DB, userID)
}

// ListPage returns a page of medications for a user (paginated).
// It applies defaults for invalid page/pageSize and returns the total count.
func (s *MedicationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Medication, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountMedications(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Medication{}, 0, nil
	}

	items, err := repo.ListMedicationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Update edits a medication. The dispatch rule: when a non-deleted schedule
// template exists, history must be preserved, so the edit forks a new version
// through the versioning service (and the day-status cache is refreshed for
// the affected days, best-effort). Without a live schedule the row is updated
// in place and no version is created.
func (s *MedicationService) Update(ctx context.Context, userID, id string, patch MedicationPatch, now time.Time, loc *time.Location) (*domain.Medication, error) {
	med, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		n := s.normalizeName(*patch.Name)
		patch.Name = &n
	}
	if err := s.checkDuplicate(ctx, userID, med, patch); err != nil {
		return nil, err
	}

	_, err = repo.GetActiveTemplateByMedication(ctx, s.DB, id, userID)
	switch {
	case err == nil:
		// Live schedule: fork a version, never mutate the old row.
		result, err := s.Versioning.CreateVersion(ctx, id, patch, userID, now, loc)
		if err != nil {
			return nil, err
		}
		s.Cache.RefreshBestEffort(ctx, userID, result.AffectedDates, loc)
		return result.NewMedication, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		// No schedule: plain in-place field update.
		fields := map[string]any{}
		if patch.Name != nil {
			fields["name"] = *patch.Name
		}
		if patch.Dose != nil {
			fields["dose"] = *patch.Dose
		}
		if patch.Form != nil {
			fields["form"] = *patch.Form
		}
		if len(fields) == 0 {
			return med, nil
		}
		if err := repo.UpdateMedicationFields(ctx, s.DB, id, userID, fields); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrMedicationNotFound
			}
			return nil, err
		}
		return s.Get(ctx, userID, id)
	default:
		return nil, err
	}
}

// Delete soft-deletes a medication and its active template(s) and permanently
// removes their future PLANNED entries, all in one transaction. Past entries
// (any status) remain queryable history. Affected cache rows are invalidated
// after commit.
func (s *MedicationService) Delete(ctx context.Context, userID, id string, now time.Time, loc *time.Location) error {
	var affected []time.Time
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetMedication(ctx, tx, id, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMedicationNotFound
			}
			return err
		}
		templates, err := repo.ListActiveTemplatesByMedication(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		for _, tpl := range templates {
			doomed, err := repo.ListFuturePlanned(ctx, tx, tpl.ID, now)
			if err != nil {
				return err
			}
			affected = append(affected, entryDays(doomed, loc)...)
			if _, err := repo.DeleteFuturePlanned(ctx, tx, tpl.ID, now); err != nil {
				return err
			}
		}
		if _, err := repo.SoftDeleteTemplatesByMedication(ctx, tx, id, userID, now.UTC()); err != nil {
			return err
		}
		return repo.SoftDeleteMedication(ctx, tx, id, userID, now.UTC())
	})
	if err != nil {
		return err
	}

	for _, day := range dedupeDays(affected) {
		if err := s.Cache.Invalidate(ctx, userID, day, loc); err != nil {
			logCacheFailure(err, userID, day)
		}
	}
	return nil
}

// VersionChain lists a medication's edit history, newest first.
func (s *MedicationService) VersionChain(ctx context.Context, userID, id string) ([]domain.Medication, error) {
	return s.Versioning.VersionChain(ctx, id, userID)
}

// checkDuplicate rejects an edit that would collide with another non-deleted
// medication carrying the same (name, dose, form).
func (s *MedicationService) checkDuplicate(ctx context.Context, userID string, med *domain.Medication, patch MedicationPatch) error {
	name, dose, form := med.Name, med.Dose, med.Form
	if patch.Name != nil {
		name = *patch.Name
	}
	if patch.Dose != nil {
		dose = *patch.Dose
	}
	if patch.Form != nil {
		form = *patch.Form
	}
	if _, err := repo.FindActiveDuplicate(ctx, s.DB, userID, name, dose, form, med.ID); err == nil {
		return ErrDuplicateMedication
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return nil
}

// normalizeName trims whitespace, collapses runs of spaces, and capitalizes
// word-initial letters without lowering the rest ("vitamin D" stays "Vitamin D").
// A fresh Caser per call: Caser instances are stateful and not goroutine-safe.
func (s *MedicationService) normalizeName(name string) string {
	name = medNameWhitespaceRE.ReplaceAllString(strings.TrimSpace(name), " ")
	if name == "" {
		return ""
	}
	return cases.Title(language.Und, cases.NoLower).String(name)
}

// medNameWhitespaceRE collapses consecutive whitespace to a single space.
var medNameWhitespaceRE = regexp.MustCompile(`\s+`)
