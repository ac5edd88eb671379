// Package inference – scoring session.
//
// Loading the classifier is expensive (seconds): the runtime has to read the
// artifact, build the graph, and allocate device memory. The session wraps
// that cost behind a process-scoped, lazily-initialized accessor: the first
// caller pays for the load, every later caller reuses the cached scorer, and
// a failed load stays retriable on the next call instead of pinning the
// process to the failure. The cached scorer is immutable after load and safe
// for concurrent Score calls.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medmind/go-derm-backend/internal/config"
)

const scorerHTTPTimeout = 60 * time.Second

// Session owns the process-local scorer and its one-time initialization.
type Session struct {
	cfg config.ModelConfig

	mu     sync.Mutex
	scorer Scorer
}

// NewSession prepares a session; no loading happens until the first
// Scorer call.
func NewSession(cfg config.ModelConfig) *Session {
	return &Session{cfg: cfg}
}

// Scorer returns the cached scorer, loading the model on first use. The
// happy path after a successful load is a mutex acquire and a nil check.
func (s *Session) Scorer(ctx context.Context) (Scorer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scorer != nil {
		return s.scorer, nil
	}

	artifact, err := ResolveArtifact(s.cfg.Path)
	if err != nil {
		// Unresolvable artifacts are operator errors; retrying cannot fix them.
		return nil, Permanent(err)
	}

	sc := newRESTScorer(s.cfg, artifact)
	start := time.Now()
	if err := sc.load(ctx); err != nil {
		return nil, err
	}
	log.Info().
		Str("artifact", string(artifact.Kind)).
		Str("path", artifact.Path).
		Dur("took", time.Since(start)).
		Msg("classification model loaded")

	s.scorer = sc
	return s.scorer, nil
}

// restScorer talks to the scoring runtime sidecar over HTTP: one load call
// at session start, then a score call per image. The sidecar keeps the model
// resident, so per-image calls are cheap forward passes.
type restScorer struct {
	baseURL    string
	artifact   Artifact
	imageSize  int
	httpClient *http.Client
}

func newRESTScorer(cfg config.ModelConfig, artifact Artifact) *restScorer {
	return &restScorer{
		baseURL:    strings.TrimRight(cfg.ScorerURL, "/"),
		artifact:   artifact,
		imageSize:  cfg.ImageSize,
		httpClient: &http.Client{Timeout: scorerHTTPTimeout},
	}
}

type loadRequest struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type scoreRequest struct {
	Inputs []Tensor `json:"inputs"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
	Error  string    `json:"error,omitempty"`
}

// load asks the runtime to resolve and cache the artifact. Idempotent on the
// runtime side; a 4xx answer means the artifact itself is unusable.
func (r *restScorer) load(ctx context.Context) error {
	body, err := r.post(ctx, "/v1/load", loadRequest{Path: r.artifact.Path, Kind: string(r.artifact.Kind)})
	if err != nil {
		return err
	}
	defer body.Close()
	_, _ = io.Copy(io.Discard, body)
	return nil
}

// Score runs one forward pass for the image. The raw output is returned
// unclamped; NormalizeScore applies the numeric contract at the call site.
func (r *restScorer) Score(ctx context.Context, img image.Image) (float64, error) {
	tensor := ImageTensor(img, r.imageSize)
	body, err := r.post(ctx, "/v1/score", scoreRequest{Inputs: []Tensor{tensor}})
	if err != nil {
		return 0, err
	}
	defer body.Close()

	var resp scoreResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return 0, fmt.Errorf("scorer response: %w", err)
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("scorer: %s", resp.Error)
	}
	if len(resp.Scores) != 1 {
		return 0, fmt.Errorf("scorer: expected 1 score, got %d", len(resp.Scores))
	}
	return resp.Scores[0], nil
}

func (r *restScorer) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode scorer request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scorer runtime unreachable: %w", err)
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		err := fmt.Errorf("scorer runtime: http %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// The runtime rejected the artifact or request shape; retrying
			// the identical call cannot succeed.
			return nil, Permanent(err)
		}
		return nil, err
	}
	return resp.Body, nil
}
