// Package services – CheckupService
//
// This file implements the CheckupService, which owns the submission and
// retrieval lifecycle of diagnostic checkups. Submission is the only path
// that spends credits: the debit, the checkup row, and its image samples
// commit in one transaction, then the inference task is dispatched after
// commit so the worker can never observe a checkup that later rolls back.
// A dispatch failure degrades the response rather than failing it; the
// results path re-dispatches lost tasks on read.
package services

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/dispatch"
	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/inference"
	"github.com/medmind/go-derm-backend/internal/repo"
	"github.com/medmind/go-derm-backend/internal/search"
	"github.com/medmind/go-derm-backend/internal/storage"
)

// CheckupService coordinates checkup submission, result retrieval, and
// listing. It enforces the image cap and the credit debit; status
// transitions themselves belong to the inference worker.
type CheckupService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Files is the local store for uploaded images.
	Files *storage.Store
	// Dispatcher enqueues inference runs.
	Dispatcher *dispatch.Dispatcher

	// Cost is the credit price of one checkup.
	Cost int
	// MaxImages caps images per submission.
	MaxImages int

	// WaitDefault / WaitMax / PollInterval bound the results long-poll.
	WaitDefault  time.Duration
	WaitMax      time.Duration
	PollInterval time.Duration
}

// NewCheckupService constructs a CheckupService with production defaults.
func NewCheckupService(db *gorm.DB, files *storage.Store, d *dispatch.Dispatcher) *CheckupService {
	return &CheckupService{
		DB:           db,
		Files:        files,
		Dispatcher:   d,
		Cost:         100,
		MaxImages:    repo.MaxSamplesPerCheckup,
		WaitDefault:  30 * time.Second,
		WaitMax:      120 * time.Second,
		PollInterval: time.Second,
	}
}

// SubmitInput is the clinical metadata captured at submission time.
type SubmitInput struct {
	Age       int
	Gender    string
	BloodType string
	Note      string

	LesionSizeMM       float64
	LesionLocation     string
	Asymmetry          bool
	BorderIrregularity bool
	ColorVariation     bool
	DiameterMM         float64
	Evolution          bool
}

// ImageUpload is one uploaded image file.
type ImageUpload struct {
	Filename string
	Data     []byte
}

// Submit creates a checkup for doctorID, debits the checkup cost, stores the
// uploaded images, and dispatches the inference run. The returned dispatch
// result reports whether the background task was queued; a false Queued with
// a non-nil Err is the degraded-success case and the checkup still exists.
func (s *CheckupService) Submit(ctx context.Context, doctorID, doctorName string, in SubmitInput, images []ImageUpload) (*domain.Checkup, dispatch.Result, error) {
	tr := otel.Tracer("services/CheckupService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("doctor.id", doctorID),
			attribute.Int("images", len(images)),
		),
	)
	defer span.End()

	if len(images) == 0 {
		return nil, dispatch.Result{}, ErrNoImages
	}
	if len(images) > s.MaxImages {
		return nil, dispatch.Result{}, ErrTooManyImages
	}
	// Reject undecodable uploads before any credits move.
	for _, img := range images {
		if _, err := inference.DecodeImage(img.Data); err != nil {
			return nil, dispatch.Result{}, ErrInvalidImage
		}
	}

	if err := repo.EnsureDoctor(ctx, s.DB, doctorID, doctorName, "doctor"); err != nil {
		return nil, dispatch.Result{}, err
	}

	checkup := &domain.Checkup{
		DoctorID:           doctorID,
		Status:             domain.CheckupPending,
		Age:                in.Age,
		Gender:             in.Gender,
		BloodType:          in.BloodType,
		Note:               in.Note,
		LesionSizeMM:       in.LesionSizeMM,
		LesionLocation:     in.LesionLocation,
		Asymmetry:          in.Asymmetry,
		BorderIrregularity: in.BorderIrregularity,
		ColorVariation:     in.ColorVariation,
		DiameterMM:         in.DiameterMM,
		Evolution:          in.Evolution,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.DebitCredits(ctx, tx, doctorID, s.Cost); err != nil {
			return err
		}
		if err := repo.CreateCheckup(ctx, tx, checkup); err != nil {
			return err
		}
		paths := make([]string, 0, len(images))
		for _, img := range images {
			rel, err := s.Files.Save(storage.CheckupImagePath(checkup.ID, img.Filename), bytes.NewReader(img.Data))
			if err != nil {
				return err
			}
			paths = append(paths, rel)
		}
		_, err := repo.CreateSamples(ctx, tx, domain.KindSkinLesion, checkup.ID, paths)
		return err
	})
	if errors.Is(err, repo.ErrInsufficientCredits) {
		return nil, dispatch.Result{}, ErrInsufficientCredits
	}
	if errors.Is(err, repo.ErrTooManySamples) {
		return nil, dispatch.Result{}, ErrTooManyImages
	}
	if err != nil {
		return nil, dispatch.Result{}, err
	}

	res := s.Dispatcher.Dispatch(ctx, checkup.ID)
	if res.TaskID != "" {
		checkup.TaskID = &res.TaskID
	}
	return checkup, res, nil
}

// ResultsView is the state of a checkup as seen by the results endpoint.
// Complete is true once the checkup reached a terminal status; until then
// Results may be partially filled.
type ResultsView struct {
	Checkup  *domain.Checkup
	Results  []domain.ImageResult
	Complete bool
}

// Results returns the checkup's per-image results, waiting up to wait for
// inference to finish. A wait of zero applies the service default; waits are
// clamped to WaitMax. Lost or failed-to-enqueue tasks are re-dispatched
// before waiting. When the budget expires first, the current snapshot is
// returned with Complete=false and a nil error.
func (s *CheckupService) Results(ctx context.Context, doctorID string, id uint, wait time.Duration) (*ResultsView, error) {
	tr := otel.Tracer("services/CheckupService")
	ctx, span := tr.Start(ctx, "Results",
		trace.WithAttributes(
			attribute.String("doctor.id", doctorID),
			attribute.Int("checkup.id", int(id)),
		),
	)
	defer span.End()

	if wait <= 0 {
		wait = s.WaitDefault
	}
	if wait > s.WaitMax {
		wait = s.WaitMax
	}

	checkup, err := s.getOwned(ctx, doctorID, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.Dispatcher.EnsureDispatched(ctx, checkup); err != nil {
		// Broker state is unavailable; fall through to plain polling.
		span.RecordError(err)
	}

	deadline := time.Now().Add(wait)
	for {
		if checkup.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			return s.snapshot(ctx, checkup, false)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.PollInterval):
		}
		if checkup, err = s.getOwned(ctx, doctorID, id); err != nil {
			return nil, err
		}
	}
	return s.snapshot(ctx, checkup, true)
}

func (s *CheckupService) snapshot(ctx context.Context, c *domain.Checkup, complete bool) (*ResultsView, error) {
	results, err := repo.ListResultsForCheckup(ctx, s.DB, domain.KindSkinLesion, c.ID)
	if err != nil {
		return nil, err
	}
	return &ResultsView{Checkup: c, Results: results, Complete: complete}, nil
}

// Get returns a checkup owned by doctorID.
func (s *CheckupService) Get(ctx context.Context, doctorID string, id uint) (*domain.Checkup, error) {
	return s.getOwned(ctx, doctorID, id)
}

func (s *CheckupService) getOwned(ctx context.Context, doctorID string, id uint) (*domain.Checkup, error) {
	c, err := repo.GetCheckupOwned(ctx, s.DB, id, doctorID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCheckupNotFound
	}
	return c, err
}

// ListOptions narrows and pages the checkup listing.
type ListOptions struct {
	Query       string
	Result      string
	Gender      string
	BloodType   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	ShowFailed  bool
	Page        int
	PageSize    int
}

// List returns a page of the doctor's checkups, newest first. Failed
// checkups are hidden unless ShowFailed is set; free-text queries are
// tokenized and AND-matched against notes, lesion locations, and the
// doctor's name.
func (s *CheckupService) List(ctx context.Context, doctorID string, opts ListOptions) ([]domain.Checkup, int64, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	offset := (opts.Page - 1) * opts.PageSize

	f := repo.CheckupFilter{
		DoctorID:    doctorID,
		HideFailed:  !opts.ShowFailed,
		Result:      opts.Result,
		Gender:      opts.Gender,
		BloodType:   opts.BloodType,
		CreatedFrom: opts.CreatedFrom,
		CreatedTo:   opts.CreatedTo,
		SearchTerms: search.QueryTerms(opts.Query),
	}

	total, err := repo.CountCheckups(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListCheckupsPage(ctx, s.DB, f, offset, opts.PageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Stats exposes the listing fingerprint (row count plus newest update) used
// for ETag generation.
func (s *CheckupService) Stats(ctx context.Context, doctorID string) (int64, *time.Time, error) {
	return repo.CheckupsStats(ctx, s.DB, doctorID)
}
