// Package domain – biopsy models.
//
// A biopsy result closes the loop on a checkup's ground truth: the doctor
// uploads the pathology document, and an administrator verifies or rejects
// it. Verification refunds the submission debit exactly once, guarded by the
// credits_refunded flag on the row itself so retries and crashes cannot
// produce a second refund.
package domain

import "time"

// BiopsyStatus is the review state of a biopsy result.
// PENDING may move to VERIFIED or REJECTED; both are terminal.
type BiopsyStatus string

const (
	BiopsyPending  BiopsyStatus = "PENDING"
	BiopsyVerified BiopsyStatus = "VERIFIED"
	BiopsyRejected BiopsyStatus = "REJECTED"
)

// BiopsyResult is the pathology confirmation for a checkup, one-to-one via
// the (kind, id) discriminated reference (unique per checkup).
//
// Fields:
//   - Result: free-text pathology outcome.
//   - DocumentPath: stored reference to the uploaded report.
//   - CreditsRefunded: one-time refund guard, flipped atomically with the
//     transition to VERIFIED.
//   - VerifiedByID: admin who performed the review (nullable until then).
type BiopsyResult struct {
	ID              uint         `json:"id"            gorm:"primaryKey;autoIncrement"`
	CheckupKind     CheckupKind  `json:"checkup_kind"  gorm:"type:varchar(32);not null;uniqueIndex:ux_biopsy_checkup,priority:1"`
	CheckupID       uint         `json:"checkup_id"    gorm:"not null;uniqueIndex:ux_biopsy_checkup,priority:2"`
	Result          string       `json:"result"        gorm:"type:text;not null"`
	DocumentPath    string       `json:"document_path" gorm:"type:varchar(512);not null"`
	Status          BiopsyStatus `json:"status"        gorm:"type:varchar(20);not null;default:'PENDING'"`
	CreditsRefunded bool         `json:"credits_refunded" gorm:"not null;default:false"`
	VerifiedByID    *string      `json:"verified_by,omitempty" gorm:"type:varchar(64)"`
	UploadedAt      time.Time    `json:"uploaded_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// TableName returns the database table name for BiopsyResult.
func (BiopsyResult) TableName() string { return "biopsy_results" }
