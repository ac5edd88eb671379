// Package services defines the business logic for checkups, billing, and
// biopsy verification. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer; mapping
// them to user-facing messages or HTTP status codes is performed at the
// handler layer.
package services

import "errors"

// Checkup-related errors.
var (
	// ErrCheckupNotFound indicates that the requested checkup does not exist
	// or is not accessible to the current doctor.
	ErrCheckupNotFound = errors.New("checkup not found")

	// ErrNoImages is returned when a checkup submission carries no images.
	ErrNoImages = errors.New("at least one image is required")

	// ErrTooManyImages is returned when a submission exceeds the per-checkup
	// image cap.
	ErrTooManyImages = errors.New("too many images for one checkup")

	// ErrInsufficientCredits is returned when a doctor's balance cannot cover
	// the checkup cost.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidImage is returned when an uploaded file is not a decodable
	// image.
	ErrInvalidImage = errors.New("uploaded file is not a valid image")

	// ErrCheckupIncomplete signals that inference has not finished within the
	// caller's wait budget.
	ErrCheckupIncomplete = errors.New("checkup results not ready")
)

// Billing-related errors.
var (
	// ErrInvalidBundle is returned when a purchase names an unknown credit
	// bundle.
	ErrInvalidBundle = errors.New("unknown credit bundle")

	// ErrDuplicatePurchase is returned when a purchase with the same
	// idempotency key is already in flight.
	ErrDuplicatePurchase = errors.New("purchase already in progress")
)

// Biopsy-related errors.
var (
	// ErrBiopsyNotFound indicates that the requested biopsy record does not
	// exist.
	ErrBiopsyNotFound = errors.New("biopsy result not found")

	// ErrDuplicateBiopsy is returned when a checkup already has a biopsy
	// record attached.
	ErrDuplicateBiopsy = errors.New("biopsy result already exists for this checkup")

	// ErrBiopsySettled is returned when verification targets a biopsy that
	// is no longer PENDING.
	ErrBiopsySettled = errors.New("biopsy result already settled")

	// ErrNotAdmin is returned when a non-admin attempts a verification
	// action.
	ErrNotAdmin = errors.New("admin role required")
)
