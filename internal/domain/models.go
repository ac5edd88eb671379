// Package domain defines the persistence models for doctors, checkups, image
// samples, and per-image inference results. These types are mapped with GORM
// and form the core data layer of the clinical checkup backend.
package domain

import (
	"time"
)

// CheckupStatus is the lifecycle state of a checkup. The literal string
// values are part of the public API contract and must not change.
type CheckupStatus string

const (
	CheckupPending    CheckupStatus = "PENDING"
	CheckupInProgress CheckupStatus = "IN_PROGRESS"
	CheckupCompleted  CheckupStatus = "COMPLETED"
	CheckupFailed     CheckupStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s CheckupStatus) Terminal() bool {
	return s == CheckupCompleted || s == CheckupFailed
}

// CheckupKind discriminates checkup subtypes for polymorphic associations
// (image samples and biopsy results reference a (kind, id) pair). The subtype
// set is closed; skin-lesion checkups are the only kind today.
type CheckupKind string

// KindSkinLesion is the discriminator for skin-lesion checkups.
const KindSkinLesion CheckupKind = "skin_lesion"

// ModelEfficientNet identifies the model revision stored on ImageResult rows.
// The identifier pins a result to the model that produced it so re-runs can
// replace stale rows.
const ModelEfficientNet = "efficientnet_b0"

// Result labels produced by classification.
const (
	LabelMalignant = "Malignant"
	LabelBenign    = "Benign"
)

// Doctor is the minimal account record this subsystem needs. Account
// management (registration, verification, suspension) is owned by the user
// service; identity arrives on requests via trusted headers.
//
// Fields:
//   - ID: stable external identifier (varchar(64)).
//   - Name: display name.
//   - Role: "doctor" or "admin"; admins verify biopsies.
type Doctor struct {
	ID        string    `json:"id"   gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Role      string    `json:"role" gorm:"type:varchar(16);not null;default:'doctor';check:role IN ('doctor','admin')"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Doctor.
func (Doctor) TableName() string { return "doctors" }

// DoctorProfile carries the credit balance for a doctor. The balance is a
// shared mutable resource: every mutation goes through a guarded
// read-modify-write in the repo layer so concurrent debits and refunds
// cannot lose updates or drive the balance negative.
//
// Fields:
//   - DoctorID: owning doctor (unique, one profile per doctor).
//   - Credits: non-negative balance; new doctors start with 1000.
type DoctorProfile struct {
	ID        uint      `json:"id"        gorm:"primaryKey;autoIncrement"`
	DoctorID  string    `json:"doctor_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Credits   int       `json:"credits"   gorm:"not null;default:1000;check:credits >= 0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Doctor is the owning account; the profile is removed with it.
	Doctor Doctor `json:"-" gorm:"foreignKey:DoctorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DoctorProfile.
func (DoctorProfile) TableName() string { return "doctor_profiles" }

// Checkup is one diagnostic episode submitted by a doctor: the clinical
// metadata captured at submission, 1..5 attached image samples, and the
// aggregate diagnosis produced by the inference worker.
//
// Lifecycle: created PENDING by the submission path; the inference worker is
// the only writer of status/result fields afterwards. FAILED and COMPLETED
// are terminal. The ABCDE lesion descriptors are clinical metadata only and
// are never consumed by the model.
//
// Fields:
//   - TaskID: opaque broker handle correlating the checkup to its background
//     run; nullable, best-effort (inference proceeds even if persisting the
//     handle fails).
//   - Result / FinalConfidence: aggregate label and mean confidence, set on
//     completion.
//   - FailureRefund: one-time guard for the credit refund on failure.
//     Flipped false→true atomically with the refund, never reset.
//   - ErrorMessage: human-readable cause recorded on the failure path.
type Checkup struct {
	ID        uint          `json:"id"         gorm:"primaryKey;autoIncrement"`
	DoctorID  string        `json:"doctor_id"  gorm:"type:varchar(64);not null;index:idx_doctor_checkups"`
	Status    CheckupStatus `json:"status"     gorm:"type:varchar(20);not null;default:'PENDING';index"`
	Age       int           `json:"age"        gorm:"not null"`
	Gender    string        `json:"gender"     gorm:"type:varchar(10);not null"`
	BloodType string        `json:"blood_type" gorm:"type:varchar(3);not null"`
	Note      string        `json:"note"       gorm:"type:text"`

	// Skin-lesion descriptors (ABCDE clinical metadata).
	LesionSizeMM       float64 `json:"lesion_size_mm"`
	LesionLocation     string  `json:"lesion_location" gorm:"type:varchar(100)"`
	Asymmetry          bool    `json:"asymmetry"`
	BorderIrregularity bool    `json:"border_irregularity"`
	ColorVariation     bool    `json:"color_variation"`
	DiameterMM         float64 `json:"diameter_mm"`
	Evolution          bool    `json:"evolution"`

	// Inference bookkeeping.
	TaskID          *string    `json:"task_id,omitempty"          gorm:"type:varchar(64)"`
	Result          *string    `json:"result,omitempty"           gorm:"type:varchar(32)"`
	FinalConfidence *float64   `json:"final_confidence,omitempty"`
	ImageCount      int        `json:"image_count"`
	ErrorMessage    *string    `json:"error_message,omitempty"    gorm:"type:text"`
	FailureRefund   bool       `json:"failure_refund"             gorm:"not null;default:false"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	// Doctor is the submitting owner; checkups are cascade-deleted with it.
	Doctor Doctor `json:"-" gorm:"foreignKey:DoctorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Checkup.
func (Checkup) TableName() string { return "checkups" }

// ImageSample is one uploaded image attached to a checkup via a (kind, id)
// discriminated reference. Samples are immutable after creation and at most
// five may exist per checkup (enforced by the repo at creation time).
type ImageSample struct {
	ID          uint        `json:"id"           gorm:"primaryKey;autoIncrement"`
	CheckupKind CheckupKind `json:"checkup_kind" gorm:"type:varchar(32);not null;index:idx_sample_owner,priority:1"`
	CheckupID   uint        `json:"checkup_id"   gorm:"not null;index:idx_sample_owner,priority:2"`
	ImagePath   string      `json:"image_path"   gorm:"type:varchar(512);not null"`
	UploadedAt  time.Time   `json:"uploaded_at"`
}

// TableName returns the database table name for ImageSample.
func (ImageSample) TableName() string { return "image_samples" }

// ImageResult is the per-image, per-model output of inference. Re-running a
// checkup deletes the stale row for the same (sample, model) pair before
// inserting the fresh one; the unique index backs that invariant.
//
// Fields:
//   - Result: "Malignant" or "Benign".
//   - Model: identifier of the model revision that scored the image.
//   - Confidence: malignant probability in [0,1].
//   - XAIImagePath: optional explanation-heatmap reference (best effort).
type ImageResult struct {
	ID            uint      `json:"id"              gorm:"primaryKey;autoIncrement"`
	ImageSampleID uint      `json:"image_sample_id" gorm:"not null;index;uniqueIndex:ux_result_sample_model,priority:1"`
	Result        string    `json:"result"          gorm:"type:varchar(32);not null"`
	Model         string    `json:"model"           gorm:"type:varchar(100);not null;uniqueIndex:ux_result_sample_model,priority:2"`
	Confidence    float64   `json:"confidence"      gorm:"not null"`
	XAIImagePath  *string   `json:"xai_image_path,omitempty" gorm:"type:varchar(512)"`
	CreatedAt     time.Time `json:"created_at"`

	// ImageSample is the scored image; results are cascade-deleted with it.
	ImageSample ImageSample `json:"-" gorm:"foreignKey:ImageSampleID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ImageResult.
func (ImageResult) TableName() string { return "image_results" }
