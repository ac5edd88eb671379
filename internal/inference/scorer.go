// Package inference implements the background classification pipeline: model
// artifact resolution, the process-scoped scoring session, image
// preprocessing, per-image scoring with strict numeric semantics, best-effort
// explanation heatmaps, and the worker that drives the checkup state machine.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/medmind/go-derm-backend/internal/domain"
)

// Scorer is the opaque classification function the pipeline consumes: given
// a decoded image it returns the malignant probability. Implementations must
// be safe for concurrent calls; the session layer serializes access when the
// underlying runtime is not.
type Scorer interface {
	Score(ctx context.Context, img image.Image) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface (used heavily
// in tests).
type ScorerFunc func(ctx context.Context, img image.Image) (float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, img image.Image) (float64, error) {
	return f(ctx, img)
}

// ErrNonFinite is returned when the model emits NaN or ±Inf. The affected
// image is a hard scoring failure; it must never crash the worker process.
var ErrNonFinite = errors.New("non-finite prediction score")

// NormalizeScore applies the pipeline's numeric contract to a raw model
// output: NaN/Inf is rejected, while out-of-range finite values are clamped
// into [0,1] (sigmoid overshoot from reduced-precision inference is expected
// and benign).
func NormalizeScore(raw float64) (float64, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, fmt.Errorf("%w: %v (model likely not loaded with compatible weights)", ErrNonFinite, raw)
	}
	if raw < 0 {
		return 0, nil
	}
	if raw > 1 {
		return 1, nil
	}
	return raw, nil
}

// LabelForScore maps a per-image probability to its label: Malignant at or
// above the threshold (0.5 baseline), Benign below.
func LabelForScore(score, threshold float64) string {
	if score >= threshold {
		return domain.LabelMalignant
	}
	return domain.LabelBenign
}

// AggregateLabel maps the aggregate (mean) confidence of a checkup to its
// label. The comparison is strict: a mean exactly at the conservative
// threshold stays Benign.
func AggregateLabel(mean, threshold float64) string {
	if mean > threshold {
		return domain.LabelMalignant
	}
	return domain.LabelBenign
}
