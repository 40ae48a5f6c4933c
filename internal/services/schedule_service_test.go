package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
)

func seedMedication(t *testing.T, db *gorm.DB, id, userID, name string) {
	t.Helper()
	if err := db.Create(&domain.Medication{ID: id, UserID: userID, Name: name}).Error; err != nil {
		t.Fatalf("seed medication %s: %v", id, err)
	}
}

func newScheduleService(t *testing.T) (*ScheduleService, *gorm.DB) {
	t.Helper()
	db := newServiceDB(t)
	return NewScheduleService(db, NewDayStatusService(db)), db
}

// boundedTemplate covers Mon/Wed/Fri at 08:00 and 20:00 for one week starting
// Monday 2025-02-03, i.e. six entries.
func boundedTemplate(medID string) domain.ScheduleTemplate {
	return domain.ScheduleTemplate{
		MedicationID:  medID,
		Quantity:      1,
		Units:         "tablet",
		FrequencyDays: []int{1, 3, 5},
		DurationDays:  7,
		DateStart:     time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
		TimeOfDay:     []string{"08:00", "20:00"},
	}
}

func countEntries(t *testing.T, db *gorm.DB, scheduleID string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.ScheduleEntry{}).Where("schedule_id = ?", scheduleID).Count(&n).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return n
}

// entrySet snapshots a schedule's stored entries as "instant|status" keys so
// tests can compare whole entry sets instead of row counts.
func entrySet(t *testing.T, db *gorm.DB, scheduleID string) map[string]struct{} {
	t.Helper()
	var rows []domain.ScheduleEntry
	if err := db.Where("schedule_id = ?", scheduleID).Find(&rows).Error; err != nil {
		t.Fatalf("load entries: %v", err)
	}
	set := make(map[string]struct{}, len(rows))
	for _, e := range rows {
		set[e.DateTime.UTC().Format(time.RFC3339)+"|"+e.Status] = struct{}{}
	}
	return set
}

func TestScheduleService_CreateExpandsEntries(t *testing.T) {
	svc, db := newScheduleService(t)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	now := time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, "u1", boundedTemplate("m1"), now, time.UTC)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.UserID != "u1" {
		t.Fatalf("created template: %+v", created)
	}
	if created.MealTiming != domain.MealTimingAnytime {
		t.Fatalf("empty meal timing should default to anytime, got %q", created.MealTiming)
	}
	if n := countEntries(t, db, created.ID); n != 6 {
		t.Fatalf("entries = %d, want 6", n)
	}
}

func TestScheduleService_CreateRejectsBadInput(t *testing.T) {
	svc, db := newScheduleService(t)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")
	now := time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC)

	tpl := boundedTemplate("ghost")
	if _, err := svc.Create(ctx, "u1", tpl, now, time.UTC); !errors.Is(err, ErrMedicationNotFound) {
		t.Fatalf("unknown medication: %v", err)
	}

	tpl = boundedTemplate("m1")
	tpl.FrequencyDays = []int{0, 3}
	if _, err := svc.Create(ctx, "u1", tpl, now, time.UTC); !errors.Is(err, ErrInvalidFrequencyDays) {
		t.Fatalf("bad weekday: %v", err)
	}

	tpl = boundedTemplate("m1")
	tpl.TimeOfDay = []string{"8:00"}
	if _, err := svc.Create(ctx, "u1", tpl, now, time.UTC); !errors.Is(err, ErrInvalidTimeOfDay) {
		t.Fatalf("bad clock: %v", err)
	}

	tpl = boundedTemplate("m1")
	tpl.MealTiming = "brunch"
	if _, err := svc.Create(ctx, "u1", tpl, now, time.UTC); !errors.Is(err, ErrInvalidMealTiming) {
		t.Fatalf("bad meal timing: %v", err)
	}

	// No rows may have leaked from the rejected attempts.
	var n int64
	if err := db.Model(&domain.ScheduleTemplate{}).Count(&n).Error; err != nil || n != 0 {
		t.Fatalf("templates leaked: %d (%v)", n, err)
	}
}

func TestScheduleService_UpdateRegeneratesOnlyFuturePlanned(t *testing.T) {
	svc, db := newScheduleService(t)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	createNow := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, "u1", boundedTemplate("m1"), createNow, time.UTC)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Take the Monday 08:00 dose so it becomes protected history.
	var morning domain.ScheduleEntry
	if err := db.Where("schedule_id = ? AND date_time = ?", created.ID,
		time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)).First(&morning).Error; err != nil {
		t.Fatalf("find morning entry: %v", err)
	}
	if _, err := svc.SetEntryStatus(ctx, "u1", morning.ID, domain.EntryStatusDone, time.UTC); err != nil {
		t.Fatalf("SetEntryStatus: %v", err)
	}

	// Midday edit: single daily time from now on.
	now := time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC)
	nine := []string{"09:00"}
	if _, err := svc.Update(ctx, "u1", created.ID, TemplatePatch{TimeOfDay: nine}, true, now, time.UTC); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var entries []domain.ScheduleEntry
	if err := db.Where("schedule_id = ?", created.ID).Order("date_time asc").Find(&entries).Error; err != nil {
		t.Fatalf("list entries: %v", err)
	}
	// DONE Monday 08:00 survives; Wed and Fri are re-expanded at 09:00.
	// Monday 09:00 is already behind "now" and must not be resurrected.
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3: %+v", len(entries), entries)
	}
	if entries[0].ID != morning.ID || entries[0].Status != domain.EntryStatusDone {
		t.Fatalf("history entry touched: %+v", entries[0])
	}
	wantWed := time.Date(2025, 2, 5, 9, 0, 0, 0, time.UTC)
	wantFri := time.Date(2025, 2, 7, 9, 0, 0, 0, time.UTC)
	if !entries[1].DateTime.Equal(wantWed) || !entries[2].DateTime.Equal(wantFri) {
		t.Fatalf("regenerated instants: %v, %v", entries[1].DateTime, entries[2].DateTime)
	}
}

func TestScheduleService_UpdateWithoutRegeneration(t *testing.T) {
	svc, db := newScheduleService(t)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	now := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, "u1", boundedTemplate("m1"), now, time.UTC)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	units := "capsule"
	updated, err := svc.Update(ctx, "u1", created.ID, TemplatePatch{Units: &units}, false, now, time.UTC)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Units != "capsule" {
		t.Fatalf("units = %q", updated.Units)
	}
	if n := countEntries(t, db, created.ID); n != 6 {
		t.Fatalf("entries changed without regeneration: %d", n)
	}
}

func TestScheduleService_RegenerateFutureIsIdempotent(t *testing.T) {
	svc, db := newScheduleService(t)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	createNow := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, "u1", boundedTemplate("m1"), createNow, time.UTC)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Date(2025, 2, 4, 12, 0, 0, 0, time.UTC)
	first, err := svc.RegenerateFuture(ctx, "u1", created.ID, now, time.UTC)
	if err != nil {
		t.Fatalf("first regenerate: %v", err)
	}
	// Wed and Fri (two times each) are in the future of Tuesday noon.
	if first.DeletedCount != 4 || first.CreatedCount != 4 {
		t.Fatalf("first: %+v", first)
	}
	afterFirst := entrySet(t, db, created.ID)

	second, err := svc.RegenerateFuture(ctx, "u1", created.ID, now, time.UTC)
	if err != nil {
		t.Fatalf("second regenerate: %v", err)
	}
	if second.DeletedCount != 4 || second.CreatedCount != 4 {
		t.Fatalf("second: %+v", second)
	}
	afterSecond := entrySet(t, db, created.ID)

	// Counts can lie; the stored (instant, status) set must be unchanged.
	if len(afterFirst) != 6 || len(afterSecond) != 6 {
		t.Fatalf("set sizes = %d and %d, want 6", len(afterFirst), len(afterSecond))
	}
	for k := range afterFirst {
		if _, okSet := afterSecond[k]; !okSet {
			t.Fatalf("entry %q lost by second regeneration", k)
		}
	}
	for k := range afterSecond {
		if _, okSet := afterFirst[k]; !okSet {
			t.Fatalf("entry %q invented by second regeneration", k)
		}
	}

	if _, err := svc.RegenerateFuture(ctx, "u1", "nope", now, time.UTC); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("unknown schedule: %v", err)
	}
}

func TestScheduleService_DeleteSparesHistory(t *testing.T) {
	svc, db := newScheduleService(t)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	createNow := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, "u1", boundedTemplate("m1"), createNow, time.UTC)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Delete on Tuesday noon: Monday's two entries are the past.
	now := time.Date(2025, 2, 4, 12, 0, 0, 0, time.UTC)
	if err := svc.Delete(ctx, "u1", created.ID, now, time.UTC); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if n := countEntries(t, db, created.ID); n != 2 {
		t.Fatalf("history entries = %d, want 2", n)
	}
	var tpl domain.ScheduleTemplate
	err = db.Where("id = ?", created.ID).First(&tpl).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("template should be soft-deleted, got %v", err)
	}

	if err := svc.Delete(ctx, "u1", created.ID, now, time.UTC); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestScheduleService_SetEntryStatus(t *testing.T) {
	svc, db := newScheduleService(t)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	now := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, "u1", boundedTemplate("m1"), now, time.UTC)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var entry domain.ScheduleEntry
	if err := db.Where("schedule_id = ?", created.ID).Order("date_time asc").First(&entry).Error; err != nil {
		t.Fatalf("find entry: %v", err)
	}

	if _, err := svc.SetEntryStatus(ctx, "u1", entry.ID, "SKIPPED", time.UTC); !errors.Is(err, ErrInvalidEntryStatus) {
		t.Fatalf("bad status: %v", err)
	}
	if _, err := svc.SetEntryStatus(ctx, "u1", "nope", domain.EntryStatusDone, time.UTC); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("unknown entry: %v", err)
	}
	if _, err := svc.SetEntryStatus(ctx, "other", entry.ID, domain.EntryStatusDone, time.UTC); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("foreign entry: %v", err)
	}

	done, err := svc.SetEntryStatus(ctx, "u1", entry.ID, domain.EntryStatusDone, time.UTC)
	if err != nil || done.Status != domain.EntryStatusDone {
		t.Fatalf("mark done: %+v, %v", done, err)
	}
	back, err := svc.SetEntryStatus(ctx, "u1", entry.ID, domain.EntryStatusPlanned, time.UTC)
	if err != nil || back.Status != domain.EntryStatusPlanned {
		t.Fatalf("mark planned: %+v, %v", back, err)
	}
}

func TestScheduleService_DeleteEntryInvalidatesDay(t *testing.T) {
	svc, db := newScheduleService(t)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	now := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, "u1", boundedTemplate("m1"), now, time.UTC)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var entry domain.ScheduleEntry
	if err := db.Where("schedule_id = ?", created.ID).Order("date_time asc").First(&entry).Error; err != nil {
		t.Fatalf("find entry: %v", err)
	}

	if err := svc.DeleteEntry(ctx, "u1", entry.ID, time.UTC); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if err := svc.DeleteEntry(ctx, "u1", entry.ID, time.UTC); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if n := countEntries(t, db, created.ID); n != 5 {
		t.Fatalf("entries = %d, want 5", n)
	}
}

func TestScheduleService_GetEntriesInclusiveRange(t *testing.T) {
	svc, db := newScheduleService(t)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	now := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	if _, err := svc.Create(ctx, "u1", boundedTemplate("m1"), now, time.UTC); err != nil {
		t.Fatalf("Create: %v", err)
	}

	from := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)
	entries, err := svc.GetEntries(ctx, "u1", from, to, time.UTC)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	// Monday and Wednesday, two times each; Friday is outside the range.
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
}
