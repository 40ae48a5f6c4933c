package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/medtrack/go-medtrack-backend/internal/domain"
)

func newStatsRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("stats_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := db.AutoMigrate(&domain.Medication{}, &domain.ScheduleEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestMedicationsStats_EmptyUser(t *testing.T) {
	db := newStatsRepoDB(t)

	count, max, err := MedicationsStats(context.Background(), db, "nobody")
	if err != nil {
		t.Fatalf("MedicationsStats: %v", err)
	}
	if count != 0 || max != nil {
		t.Fatalf("expected zero stats, got count=%d max=%v", count, max)
	}
}

func TestMedicationsStats_CountAndLatest(t *testing.T) {
	db := newStatsRepoDB(t)
	ctx := context.Background()

	t0 := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		med := domain.Medication{
			ID:        fmt.Sprintf("m%d", i),
			UserID:    "u1",
			Name:      fmt.Sprintf("Med %d", i),
			CreatedAt: t0,
			UpdatedAt: t0.Add(time.Duration(i) * time.Hour),
		}
		if err := db.Create(&med).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	// Another user's rows must not leak into the stats.
	if err := db.Create(&domain.Medication{ID: "mx", UserID: "u2", Name: "Other",
		CreatedAt: t0, UpdatedAt: t0.Add(48 * time.Hour)}).Error; err != nil {
		t.Fatalf("seed other user: %v", err)
	}

	count, max, err := MedicationsStats(ctx, db, "u1")
	if err != nil {
		t.Fatalf("MedicationsStats: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if max == nil || !max.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("maxUpdatedAt = %v, want %v", max, t0.Add(2*time.Hour))
	}
}

func TestEntriesStats_CountAndLatest(t *testing.T) {
	db := newStatsRepoDB(t)
	ctx := context.Background()

	t0 := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		e := domain.ScheduleEntry{
			ID:         fmt.Sprintf("e%d", i),
			ScheduleID: "s1",
			UserID:     "u1",
			DateTime:   t0.Add(time.Duration(i) * 24 * time.Hour),
			Status:     domain.EntryStatusPlanned,
			CreatedAt:  t0,
			UpdatedAt:  t0.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&e).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	count, max, err := EntriesStats(ctx, db, "u1")
	if err != nil {
		t.Fatalf("EntriesStats: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if max == nil || !max.Equal(t0.Add(time.Minute)) {
		t.Fatalf("maxUpdatedAt = %v, want %v", max, t0.Add(time.Minute))
	}
}
