package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/config"
	"github.com/medmind/go-derm-backend/internal/dispatch"
	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/queue"
	"github.com/medmind/go-derm-backend/internal/repo"
	"github.com/medmind/go-derm-backend/internal/storage"
)

// ScorerProvider yields the process-local scorer, loading it on first use.
// *Session satisfies it; tests substitute cheap fakes.
type ScorerProvider interface {
	Scorer(ctx context.Context) (Scorer, error)
}

// Options carries the tuning knobs the worker needs from configuration.
type Options struct {
	Concurrency        int
	PollInterval       time.Duration
	StaleClaim         time.Duration
	Retry              RetryPolicy
	ImageSize          int
	ImageThreshold     float64
	AggregateThreshold float64
	FailFast           bool
	RefundAmount       int
	Heatmaps           bool
}

// OptionsFromConfig maps loaded configuration onto worker options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		StaleClaim:   cfg.Worker.StaleClaim,
		Retry: RetryPolicy{
			MaxAttempts: cfg.Worker.MaxAttempts,
			BaseDelay:   cfg.Worker.RetryBase,
			MaxDelay:    cfg.Worker.RetryMax,
		},
		ImageSize:          cfg.Model.ImageSize,
		ImageThreshold:     cfg.Model.ImageThreshold,
		AggregateThreshold: cfg.Model.AggregateThreshold,
		FailFast:           cfg.Worker.FailFast,
		RefundAmount:       cfg.Billing.RefundAmount,
		Heatmaps:           true,
	}
}

// Worker polls the task queue and executes checkup inference runs. A run
// drives one checkup through its terminal transition: IN_PROGRESS while
// scoring, then COMPLETED with an aggregate diagnosis or FAILED with a
// one-time credit refund. Transient faults reschedule the task with backoff
// and leave the checkup IN_PROGRESS; terminal states are never overwritten.
type Worker struct {
	db      *gorm.DB
	queue   *queue.Store
	files   *storage.Store
	scorers ScorerProvider
	opts    Options
}

// NewWorker wires a worker over the shared database, queue, file store, and
// scoring session.
func NewWorker(db *gorm.DB, q *queue.Store, files *storage.Store, scorers ScorerProvider, opts Options) *Worker {
	return &Worker{db: db, queue: q, files: files, scorers: scorers, opts: opts}
}

// Run starts the polling goroutines and blocks until ctx is canceled.
// In-flight runs finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().
		Int("concurrency", w.opts.Concurrency).
		Dur("poll_interval", w.opts.PollInterval).
		Msg("inference worker starting")

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			w.pollLoop(ctx, lane)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()

	wg.Wait()
	log.Info().Msg("inference worker stopped")
	return ctx.Err()
}

func (w *Worker) pollLoop(ctx context.Context, lane int) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		task, err := w.queue.Claim(ctx, dispatch.TaskRunCheckup)
		if err != nil {
			log.Error().Err(err).Int("lane", lane).Msg("claim task")
		} else if task != nil {
			w.execute(ctx, task)
			// Drain the queue before going back to sleep.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reclaimLoop returns tasks stuck in STARTED (crashed worker) to PENDING.
func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StaleClaim / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.ReclaimStale(ctx, w.opts.StaleClaim)
			if err != nil {
				log.Error().Err(err).Msg("reclaim stale tasks")
			} else if n > 0 {
				log.Warn().Int64("count", n).Msg("reclaimed stale tasks")
			}
		}
	}
}

// execute runs one claimed task to a queue-level outcome: SUCCESS,
// rescheduled PENDING with backoff, or terminal FAILURE with the checkup
// failed and refunded.
func (w *Worker) execute(ctx context.Context, task *queue.Task) {
	workersBusy.Inc()
	defer workersBusy.Dec()
	start := time.Now()

	var args dispatch.RunCheckupArgs
	if err := task.DecodePayload(&args); err != nil {
		log.Error().Err(err).Str("task", task.Handle).Msg("undecodable task payload")
		w.finishTask(ctx, task, Permanent(err))
		return
	}

	logger := log.With().Str("task", task.Handle).Uint("checkup_id", args.CheckupID).Logger()
	err := w.runCheckup(ctx, task, args.CheckupID)
	runDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		runsTotal.WithLabelValues("completed").Inc()
		logger.Info().Dur("took", time.Since(start)).Msg("checkup run finished")
	case w.opts.Retry.ShouldRetry(task.Attempts, err):
		runsTotal.WithLabelValues("rescheduled").Inc()
		logger.Warn().Err(err).Int("attempt", task.Attempts).Msg("checkup run rescheduled")
	default:
		runsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Int("attempt", task.Attempts).Msg("checkup run failed")
	}
	if err != nil && !w.opts.Retry.ShouldRetry(task.Attempts, err) {
		// The checkup must settle before the queue row. A crash in between
		// leaves the task STARTED, so the reaper returns it to PENDING and
		// the re-run observes the terminal checkup instead of stranding it
		// IN_PROGRESS with the refund unclaimed.
		w.failTerminally(ctx, args.CheckupID, err)
	}
	w.finishTask(ctx, task, err)
}

// finishTask records the queue-level outcome. Queue bookkeeping must survive
// a canceled run context.
func (w *Worker) finishTask(ctx context.Context, task *queue.Task, runErr error) {
	ctx = context.WithoutCancel(ctx)
	if runErr == nil {
		if err := w.queue.Complete(ctx, task.ID); err != nil {
			log.Error().Err(err).Str("task", task.Handle).Msg("complete task")
		}
		return
	}
	var retryAt *time.Time
	if w.opts.Retry.ShouldRetry(task.Attempts, runErr) {
		at := time.Now().UTC().Add(w.opts.Retry.Delay(task.Attempts))
		retryAt = &at
	}
	if err := w.queue.Fail(ctx, task.ID, runErr.Error(), retryAt); err != nil {
		log.Error().Err(err).Str("task", task.Handle).Msg("record task failure")
	}
}

// runCheckup performs the actual inference run. A nil return means the
// checkup reached (or already was in) a terminal state; a Permanent error
// means retrying cannot help; any other error is transient and the checkup
// stays IN_PROGRESS for the rescheduled attempt.
func (w *Worker) runCheckup(ctx context.Context, task *queue.Task, checkupID uint) error {
	c, err := repo.GetCheckup(ctx, w.db, checkupID)
	if errors.Is(err, repo.ErrNotFound) {
		return Permanent(fmt.Errorf("checkup %d not found", checkupID))
	}
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		// Duplicate delivery after a completed run; nothing to do.
		log.Info().Uint("checkup_id", checkupID).Str("status", string(c.Status)).Msg("checkup already terminal")
		return nil
	}

	if err := repo.MarkInProgress(ctx, w.db, checkupID, task.Handle); err != nil {
		if errors.Is(err, repo.ErrStaleTransition) {
			return nil
		}
		return err
	}

	samples, err := repo.ListSamples(ctx, w.db, domain.KindSkinLesion, checkupID)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return Permanent(errors.New("checkup has no image samples"))
	}

	scorer, err := w.scorers.Scorer(ctx)
	if err != nil {
		return fmt.Errorf("load scorer: %w", err)
	}

	var (
		sum    float64
		scored int
	)
	for _, sample := range samples {
		score, err := w.scoreSample(ctx, scorer, checkupID, sample)
		if err != nil {
			imagesScored.WithLabelValues("skipped").Inc()
			if w.opts.FailFast {
				return fmt.Errorf("sample %d: %w", sample.ID, err)
			}
			log.Warn().Err(err).Uint("sample_id", sample.ID).Msg("image sample skipped")
			continue
		}
		imagesScored.WithLabelValues("scored").Inc()
		sum += score
		scored++
	}
	if scored == 0 {
		return Permanent(errors.New("no image sample could be scored"))
	}

	mean := sum / float64(scored)
	label := AggregateLabel(mean, w.opts.AggregateThreshold)
	if err := repo.CompleteCheckup(ctx, w.db, checkupID, label, mean, scored); err != nil {
		if errors.Is(err, repo.ErrStaleTransition) {
			return nil
		}
		return err
	}
	return nil
}

// scoreSample scores one image and persists its result row, replacing any
// stale row from an earlier run of the same model.
func (w *Worker) scoreSample(ctx context.Context, scorer Scorer, checkupID uint, sample domain.ImageSample) (float64, error) {
	data, err := w.files.Read(sample.ImagePath)
	if err != nil {
		return 0, err
	}
	img, err := DecodeImage(data)
	if err != nil {
		return 0, err
	}

	raw, err := scorer.Score(ctx, img)
	if err != nil {
		return 0, err
	}
	score, err := NormalizeScore(raw)
	if err != nil {
		return 0, err
	}

	result := &domain.ImageResult{
		ImageSampleID: sample.ID,
		Model:         domain.ModelEfficientNet,
		Confidence:    score,
		Result:        LabelForScore(score, w.opts.ImageThreshold),
	}
	if w.opts.Heatmaps {
		if rel, err := w.renderHeatmap(ctx, scorer, checkupID, sample, img, score); err != nil {
			// Explanations are best effort; the numeric result stands.
			log.Warn().Err(err).Uint("sample_id", sample.ID).Msg("heatmap generation failed")
		} else {
			result.XAIImagePath = &rel
		}
	}
	if err := repo.ReplaceResult(ctx, w.db, result); err != nil {
		return 0, err
	}
	return score, nil
}

// renderHeatmap builds the occlusion overlay for a scored image and stores
// it as a PNG next to the other derived artifacts.
func (w *Worker) renderHeatmap(ctx context.Context, scorer Scorer, checkupID uint, sample domain.ImageSample, img image.Image, score float64) (string, error) {
	overlay, err := OcclusionHeatmap(ctx, scorer, img, w.opts.ImageSize, score)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, overlay); err != nil {
		return "", err
	}
	return w.files.Save(storage.HeatmapPath(checkupID, sample.ID), &buf)
}

// failTerminally records the FAILED transition and issues the one-time
// credit refund. Exactly one refund per checkup: the claim is a
// compare-and-set on the failure_refund flag inside the refund transaction.
func (w *Worker) failTerminally(ctx context.Context, checkupID uint, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := repo.FailCheckup(ctx, w.db, checkupID, cause.Error()); err != nil && !errors.Is(err, repo.ErrStaleTransition) {
		log.Error().Err(err).Uint("checkup_id", checkupID).Msg("mark checkup failed")
		return
	}
	// The refund decision reads the checkup after the transition attempt. A
	// concurrent run may have completed it in the meantime, and a delivered
	// result is never refunded.
	c, err := repo.GetCheckup(ctx, w.db, checkupID)
	if err != nil {
		log.Error().Err(err).Uint("checkup_id", checkupID).Msg("load checkup for refund")
		return
	}
	if c.Status != domain.CheckupFailed {
		return
	}

	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := repo.ClaimFailureRefund(ctx, tx, checkupID)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if err := repo.AddCredits(ctx, tx, c.DoctorID, w.opts.RefundAmount); err != nil {
			return err
		}
		refundsTotal.Inc()
		log.Info().
			Uint("checkup_id", checkupID).
			Str("doctor_id", c.DoctorID).
			Int("credits", w.opts.RefundAmount).
			Msg("failure refund issued")
		return nil
	})
	if err != nil {
		log.Error().Err(err).Uint("checkup_id", checkupID).Msg("failure refund")
	}
}
