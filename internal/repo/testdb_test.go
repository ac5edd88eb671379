package repo

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/medmind/go-derm-backend/internal/domain"
)

// newTestDB opens a throwaway on-disk SQLite database with the full domain
// schema migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedDoctor inserts a doctor with a funded profile and returns its id.
func seedDoctor(t *testing.T, db *gorm.DB, id string, credits int) string {
	t.Helper()
	if err := db.Create(&domain.Doctor{ID: id, Name: "Dr " + id, Role: "doctor"}).Error; err != nil {
		t.Fatalf("seed doctor: %v", err)
	}
	if err := db.Create(&domain.DoctorProfile{DoctorID: id, Credits: credits}).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return id
}

// seedCheckup inserts a minimal checkup for the doctor and returns it.
func seedCheckup(t *testing.T, db *gorm.DB, doctorID string, status domain.CheckupStatus) *domain.Checkup {
	t.Helper()
	c := &domain.Checkup{
		DoctorID:  doctorID,
		Status:    status,
		Age:       44,
		Gender:    "female",
		BloodType: "A+",
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed checkup: %v", err)
	}
	return c
}
