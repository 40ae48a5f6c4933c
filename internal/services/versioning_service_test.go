package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
)

func strp(s string) *string { return &s }

// forkFixture seeds a medication with a bounded schedule, takes the first
// dose, and returns the schedule service used to build it.
func forkFixture(t *testing.T, db *gorm.DB) (medID string, scheduleID string) {
	t.Helper()
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	sched := NewScheduleService(db, NewDayStatusService(db))
	created, err := sched.Create(ctx, "u1", boundedTemplate("m1"),
		time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC), time.UTC)
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	var morning domain.ScheduleEntry
	if err := db.Where("schedule_id = ? AND date_time = ?", created.ID,
		time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)).First(&morning).Error; err != nil {
		t.Fatalf("find morning entry: %v", err)
	}
	if _, err := sched.SetEntryStatus(ctx, "u1", morning.ID, domain.EntryStatusDone, time.UTC); err != nil {
		t.Fatalf("take dose: %v", err)
	}
	return "m1", created.ID
}

func TestVersioningService_CreateVersionForksChain(t *testing.T) {
	db := newServiceDB(t)
	svc := NewVersioningService(db)
	ctx := context.Background()
	medID, oldScheduleID := forkFixture(t, db)

	// Tuesday noon: Monday's two entries are history (one DONE, one PLANNED).
	now := time.Date(2025, 2, 4, 12, 0, 0, 0, time.UTC)
	res, err := svc.CreateVersion(ctx, medID, MedicationPatch{Dose: strp("200mg")}, "u1", now, time.UTC)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	if res.NewMedication.ID == medID {
		t.Fatalf("new version reuses the old id")
	}
	if res.NewMedication.Dose != "200mg" || res.NewMedication.Name != "Aspirin" {
		t.Fatalf("patched fields: %+v", res.NewMedication)
	}
	if res.NewMedication.PreviousMedicationID == nil || *res.NewMedication.PreviousMedicationID != medID {
		t.Fatalf("back link missing: %+v", res.NewMedication)
	}
	if !res.PreviousMedication.DeletedAt.Valid {
		t.Fatalf("old version not superseded")
	}

	// Wed and Fri entries (two times each) moved to the new chain link.
	if res.DeletedEntriesCount != 4 || res.GeneratedEntriesCount != 4 {
		t.Fatalf("entry movement: %+v", res)
	}
	if res.NewTemplate == nil || res.NewTemplate.MedicationID != res.NewMedication.ID {
		t.Fatalf("clone template: %+v", res.NewTemplate)
	}

	// The clone is re-anchored at now's day and covers the remaining window:
	// Tue Feb 4 through Sun Feb 9 is six days.
	wantStart := time.Date(2025, 2, 4, 0, 0, 0, 0, time.UTC)
	if !res.NewTemplate.DateStart.Equal(wantStart) || res.NewTemplate.DurationDays != 6 {
		t.Fatalf("re-anchor: start=%v duration=%d", res.NewTemplate.DateStart, res.NewTemplate.DurationDays)
	}

	// History stays on the old schedule, untouched.
	var history []domain.ScheduleEntry
	if err := db.Where("schedule_id = ?", oldScheduleID).Order("date_time asc").Find(&history).Error; err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history))
	}
	if history[0].Status != domain.EntryStatusDone || history[1].Status != domain.EntryStatusPlanned {
		t.Fatalf("history statuses: %+v", history)
	}

	// The old template is retired.
	var tpl domain.ScheduleTemplate
	if err := db.Where("id = ?", oldScheduleID).First(&tpl).Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("old template still active: %v", err)
	}
}

func TestVersioningService_CreateVersionWithoutSchedule(t *testing.T) {
	db := newServiceDB(t)
	svc := NewVersioningService(db)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	now := time.Date(2025, 2, 4, 12, 0, 0, 0, time.UTC)
	res, err := svc.CreateVersion(ctx, "m1", MedicationPatch{Name: strp("Ibuprofen")}, "u1", now, time.UTC)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if res.NewTemplate != nil || res.DeletedEntriesCount != 0 || res.GeneratedEntriesCount != 0 {
		t.Fatalf("schedule-less fork produced schedule artifacts: %+v", res)
	}
	if res.NewMedication.Name != "Ibuprofen" {
		t.Fatalf("name not patched: %+v", res.NewMedication)
	}
}

func TestVersioningService_CreateVersionUnknownMedication(t *testing.T) {
	svc := NewVersioningService(newServiceDB(t))
	now := time.Date(2025, 2, 4, 12, 0, 0, 0, time.UTC)
	if _, err := svc.CreateVersion(context.Background(), "ghost", MedicationPatch{}, "u1", now, time.UTC); !errors.Is(err, ErrMedicationNotFound) {
		t.Fatalf("unknown medication: %v", err)
	}
}

func TestVersioningService_VersionChainNewestFirst(t *testing.T) {
	db := newServiceDB(t)
	svc := NewVersioningService(db)
	ctx := context.Background()
	seedMedication(t, db, "m1", "u1", "Aspirin")

	now := time.Date(2025, 2, 4, 12, 0, 0, 0, time.UTC)
	v2, err := svc.CreateVersion(ctx, "m1", MedicationPatch{Dose: strp("200mg")}, "u1", now, time.UTC)
	if err != nil {
		t.Fatalf("fork v2: %v", err)
	}
	v3, err := svc.CreateVersion(ctx, v2.NewMedication.ID, MedicationPatch{Dose: strp("400mg")}, "u1", now.Add(time.Hour), time.UTC)
	if err != nil {
		t.Fatalf("fork v3: %v", err)
	}

	chain, err := svc.VersionChain(ctx, v3.NewMedication.ID, "u1")
	if err != nil {
		t.Fatalf("VersionChain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	if chain[0].ID != v3.NewMedication.ID || chain[1].ID != v2.NewMedication.ID || chain[2].ID != "m1" {
		t.Fatalf("chain order: %s, %s, %s", chain[0].ID, chain[1].ID, chain[2].ID)
	}
	if chain[0].Dose != "400mg" || chain[2].Dose != "" {
		t.Fatalf("chain doses: %+v", chain)
	}
	// Older links are soft-deleted but still visible in the chain.
	if !chain[1].DeletedAt.Valid || !chain[2].DeletedAt.Valid {
		t.Fatalf("superseded links not marked deleted")
	}

	// The walk works from a mid-chain id too.
	mid, err := svc.VersionChain(ctx, v2.NewMedication.ID, "u1")
	if err != nil || len(mid) != 2 {
		t.Fatalf("mid-chain walk: %d, %v", len(mid), err)
	}

	if _, err := svc.VersionChain(ctx, "ghost", "u1"); !errors.Is(err, ErrMedicationNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
	if _, err := svc.VersionChain(ctx, v3.NewMedication.ID, "intruder"); !errors.Is(err, ErrMedicationNotFound) {
		t.Fatalf("foreign chain: %v", err)
	}
}

func TestRemainingDuration(t *testing.T) {
	now := time.Date(2025, 2, 4, 12, 0, 0, 0, time.UTC)

	bounded := boundedTemplate("m1") // Feb 3 through Feb 9
	if d := remainingDuration(bounded, now, time.UTC); d != 6 {
		t.Fatalf("bounded = %d, want 6", d)
	}

	unbounded := boundedTemplate("m1")
	unbounded.DurationDays = 0
	if d := remainingDuration(unbounded, now, time.UTC); d != 0 {
		t.Fatalf("unbounded = %d, want 0", d)
	}

	over := boundedTemplate("m1")
	over.DateStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	over.DurationDays = 3
	if d := remainingDuration(over, now, time.UTC); d != 1 {
		t.Fatalf("elapsed window = %d, want 1", d)
	}
}
