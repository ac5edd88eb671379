// Package services – BiopsyService
//
// This file implements the BiopsyService, which handles pathology follow-up
// on completed checkups: doctors upload the biopsy report, administrators
// verify or reject it. Verifying refunds the checkup cost exactly once; the
// claim on the row's credits_refunded flag and the balance credit commit in
// the same transaction.
package services

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/repo"
	"github.com/medmind/go-derm-backend/internal/storage"
)

// BiopsyService provides biopsy upload and admin review operations.
type BiopsyService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Files is the local store for uploaded documents.
	Files *storage.Store
	// RefundAmount is credited when a biopsy is verified.
	RefundAmount int
}

// NewBiopsyService constructs a BiopsyService with the production refund.
func NewBiopsyService(db *gorm.DB, files *storage.Store) *BiopsyService {
	return &BiopsyService{DB: db, Files: files, RefundAmount: 100}
}

// Upload attaches a biopsy report to one of the doctor's checkups. A checkup
// takes at most one biopsy; a second upload returns ErrDuplicateBiopsy.
func (s *BiopsyService) Upload(ctx context.Context, doctorID string, checkupID uint, result, filename string, document []byte) (*domain.BiopsyResult, error) {
	tr := otel.Tracer("services/BiopsyService")
	ctx, span := tr.Start(ctx, "Upload",
		trace.WithAttributes(
			attribute.String("doctor.id", doctorID),
			attribute.Int("checkup.id", int(checkupID)),
		),
	)
	defer span.End()

	if _, err := repo.GetCheckupOwned(ctx, s.DB, checkupID, doctorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCheckupNotFound
		}
		return nil, err
	}

	rel, err := s.Files.Save(storage.BiopsyDocPath(uuid.NewString()[:8], filename), bytes.NewReader(document))
	if err != nil {
		return nil, err
	}

	biopsy := &domain.BiopsyResult{
		CheckupKind:  domain.KindSkinLesion,
		CheckupID:    checkupID,
		Result:       result,
		DocumentPath: rel,
	}
	if err := repo.CreateBiopsy(ctx, s.DB, biopsy); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicateBiopsy
		}
		return nil, err
	}
	return biopsy, nil
}

// Verify marks the biopsy VERIFIED and refunds the checkup cost to the
// submitting doctor. Re-verifying refunds nothing; the refund claim wins at
// most once per biopsy.
func (s *BiopsyService) Verify(ctx context.Context, adminRole, adminID string, biopsyID uint) (*domain.BiopsyResult, error) {
	return s.review(ctx, adminRole, adminID, biopsyID, domain.BiopsyVerified)
}

// Reject marks the biopsy REJECTED. No credits move.
func (s *BiopsyService) Reject(ctx context.Context, adminRole, adminID string, biopsyID uint) (*domain.BiopsyResult, error) {
	return s.review(ctx, adminRole, adminID, biopsyID, domain.BiopsyRejected)
}

func (s *BiopsyService) review(ctx context.Context, adminRole, adminID string, biopsyID uint, outcome domain.BiopsyStatus) (*domain.BiopsyResult, error) {
	tr := otel.Tracer("services/BiopsyService")
	ctx, span := tr.Start(ctx, "Review",
		trace.WithAttributes(
			attribute.Int("biopsy.id", int(biopsyID)),
			attribute.String("outcome", string(outcome)),
		),
	)
	defer span.End()

	if adminRole != "admin" {
		return nil, ErrNotAdmin
	}

	biopsy, err := repo.GetBiopsy(ctx, s.DB, biopsyID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBiopsyNotFound
	}
	if err != nil {
		return nil, err
	}
	if biopsy.Status != domain.BiopsyPending {
		return nil, ErrBiopsySettled
	}

	checkup, err := repo.GetCheckup(ctx, s.DB, biopsy.CheckupID)
	if err != nil {
		return nil, err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetBiopsyStatus(ctx, tx, biopsyID, outcome, adminID); err != nil {
			return err
		}
		if outcome != domain.BiopsyVerified {
			return nil
		}
		won, err := repo.ClaimBiopsyRefund(ctx, tx, biopsyID)
		if err != nil {
			return err
		}
		if won {
			return repo.AddCredits(ctx, tx, checkup.DoctorID, s.RefundAmount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repo.GetBiopsy(ctx, s.DB, biopsyID)
}

// Get returns the biopsy attached to one of the doctor's checkups.
func (s *BiopsyService) Get(ctx context.Context, doctorID string, checkupID uint) (*domain.BiopsyResult, error) {
	if _, err := repo.GetCheckupOwned(ctx, s.DB, checkupID, doctorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCheckupNotFound
		}
		return nil, err
	}
	b, err := repo.GetBiopsyForCheckup(ctx, s.DB, domain.KindSkinLesion, checkupID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBiopsyNotFound
	}
	return b, err
}
