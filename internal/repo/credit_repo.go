// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for doctor
// accounts and the credit balance on DoctorProfile.
//
// Balance semantics:
//   - Every mutation is a single guarded UPDATE with an arithmetic
//     expression (credits = credits ± n), never a read-then-write, so
//     concurrent debits and refunds for the same doctor cannot lose updates.
//   - DebitCredits guards on credits >= amount; a zero-row update means the
//     balance was insufficient (or the profile is missing) and nothing was
//     charged.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
)

// ErrInsufficientCredits is returned when a debit would drive a balance
// negative. The submission path maps this to a hard rejection.
var ErrInsufficientCredits = errors.New("insufficient credits")

// EnsureDoctor upserts a doctor account and its profile. Identity is owned
// by the external user service; this keeps the local rows in sync the first
// time a doctor is seen. Existing balances are never touched.
func EnsureDoctor(ctx context.Context, db *gorm.DB, id, name, role string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc := domain.Doctor{ID: id, Name: name, Role: role}
		if err := tx.Where("id = ?", id).FirstOrCreate(&doc).Error; err != nil {
			return err
		}
		if role != "doctor" {
			return nil
		}
		profile := domain.DoctorProfile{DoctorID: id, Credits: 1000}
		return tx.Where("doctor_id = ?", id).FirstOrCreate(&profile).Error
	})
}

// GetProfile returns the credit profile for a doctor, or ErrNotFound.
func GetProfile(ctx context.Context, db *gorm.DB, doctorID string) (*domain.DoctorProfile, error) {
	var p domain.DoctorProfile
	err := db.WithContext(ctx).Where("doctor_id = ?", doctorID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DebitCredits subtracts amount from a doctor's balance in one guarded
// statement. Returns ErrInsufficientCredits when the guard does not match
// (balance below amount or profile missing); in that case nothing changes.
func DebitCredits(ctx context.Context, db *gorm.DB, doctorID string, amount int) error {
	if amount < 0 {
		return errors.New("debit amount must be >= 0")
	}
	res := db.WithContext(ctx).
		Model(&domain.DoctorProfile{}).
		Where("doctor_id = ? AND credits >= ?", doctorID, amount).
		Update("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// AddCredits adds amount to a doctor's balance (refunds and purchases).
// Returns ErrNotFound when the profile does not exist.
func AddCredits(ctx context.Context, db *gorm.DB, doctorID string, amount int) error {
	if amount < 0 {
		return errors.New("credit amount must be >= 0")
	}
	res := db.WithContext(ctx).
		Model(&domain.DoctorProfile{}).
		Where("doctor_id = ?", doctorID).
		Update("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
