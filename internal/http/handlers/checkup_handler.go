// Checkup HTTP handlers.
//
// This file exposes REST endpoints for checkup resources:
//   - POST   /checkups               (submit, multipart with images)
//   - GET    /checkups               (list, paginated, filtered, ETag support)
//   - GET    /checkups/{id}          (detail)
//   - GET    /checkups/{id}/results  (results, bounded long-poll)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/dispatch"
	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/repo"
	"github.com/medmind/go-derm-backend/internal/services"
	"github.com/medmind/go-derm-backend/internal/sysutil"
	"github.com/medmind/go-derm-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// CheckupService defines checkup lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type CheckupService interface {
	// Submit creates a checkup, debits credits, and dispatches inference.
	Submit(ctx context.Context, doctorID, doctorName string, in services.SubmitInput, images []services.ImageUpload) (*domain.Checkup, dispatch.Result, error)
	// Results returns per-image results, waiting up to wait for completion.
	Results(ctx context.Context, doctorID string, id uint, wait time.Duration) (*services.ResultsView, error)
	// Get returns a checkup owned by the doctor.
	Get(ctx context.Context, doctorID string, id uint) (*domain.Checkup, error)
	// List returns a filtered page of the doctor's checkups and the total count.
	List(ctx context.Context, doctorID string, opts services.ListOptions) ([]domain.Checkup, int64, error)
}

// BillingService defines credit balance and purchase operations.
type BillingService interface {
	// Purchase credits the doctor with a bundle, idempotently per key.
	Purchase(ctx context.Context, doctorID, doctorName string, bundle domain.CreditBundle, idemKey string) (*services.PurchaseReceipt, error)
	// Balance returns the current credit balance.
	Balance(ctx context.Context, doctorID string) (int, error)
	// Catalog returns the purchasable bundle catalog.
	Catalog() map[domain.CreditBundle]domain.BundleInfo
	// ListTransactions returns a page of the purchase ledger.
	ListTransactions(ctx context.Context, doctorID string, page, pageSize int) ([]domain.CreditTransaction, int64, error)
}

// BiopsyService defines biopsy upload and admin review operations.
type BiopsyService interface {
	// Upload attaches a biopsy report to a checkup.
	Upload(ctx context.Context, doctorID string, checkupID uint, result, filename string, document []byte) (*domain.BiopsyResult, error)
	// Get returns the biopsy attached to a checkup.
	Get(ctx context.Context, doctorID string, checkupID uint) (*domain.BiopsyResult, error)
	// Verify marks a biopsy VERIFIED and refunds the checkup cost once.
	Verify(ctx context.Context, adminRole, adminID string, biopsyID uint) (*domain.BiopsyResult, error)
	// Reject marks a biopsy REJECTED.
	Reject(ctx context.Context, adminRole, adminID string, biopsyID uint) (*domain.BiopsyResult, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for checkups, billing, and biopsies.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	checkupSvc CheckupService
	billingSvc BillingService
	biopsySvc  BiopsyService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(checkupSvc CheckupService, billingSvc BillingService, biopsySvc BiopsyService) *Handlers {
	return &Handlers{checkupSvc: checkupSvc, billingSvc: billingSvc, biopsySvc: biopsySvc}
}

// doctorID extracts the authenticated doctor id from Gin context (set by the
// upstream identity gateway). If absent, it falls back to the "X-Doctor-ID"
// header (tests use it), and finally to "demo-doctor".
func doctorID(c *gin.Context) string {
	if v, ok := c.Get("doctorID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-Doctor-ID")); h != "" {
			return h
		}
	}
	return "demo-doctor"
}

// doctorName returns the display name forwarded by the identity gateway.
func doctorName(c *gin.Context) string {
	return sysutil.FirstNonEmpty(c.GetHeader("X-Doctor-Name"), doctorID(c))
}

// doctorRole returns the forwarded role; "doctor" unless elevated upstream.
func doctorRole(c *gin.Context) string {
	return sysutil.FirstNonEmpty(c.GetHeader("X-Doctor-Role"), "doctor")
}

//
// DTOs
//

// CheckupResponse is the checkup resource plus dispatch degradation markers.
// When the background task could not be queued at submission time the
// checkup still exists; TaskQueued is false and TaskError carries the cause.
type CheckupResponse struct {
	domain.Checkup
	TaskQueued *bool  `json:"_task_queued,omitempty"`
	TaskError  string `json:"_task_error,omitempty"`
}

// ResultsResponse wraps the aggregate diagnosis and per-image results.
type ResultsResponse struct {
	ID              uint                 `json:"id"`
	Status          domain.CheckupStatus `json:"status"`
	TaskID          *string              `json:"task_id,omitempty"`
	Result          *string              `json:"result,omitempty"`
	FinalConfidence *float64             `json:"final_confidence,omitempty"`
	ImageCount      int                  `json:"image_count"`
	ErrorMessage    *string              `json:"error_message,omitempty"`
	Results         []domain.ImageResult `json:"results"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListCheckupsResponse wraps a page of checkups and pagination information.
type ListCheckupsResponse struct {
	Checkups   []domain.Checkup `json:"checkups"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	return utils.PageWindow(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
}

// pathID parses the numeric {id} path parameter.
func pathID(c *gin.Context) (uint, bool) {
	id := utils.AtoiDefault(c.Param("id"), 0)
	if id < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// maxImageBytes caps a single uploaded image read.
const maxImageBytes = 10 << 20

// readUploads pulls the images[] parts out of a multipart form.
func readUploads(c *gin.Context) ([]services.ImageUpload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	files := form.File["images"]
	if len(files) == 0 {
		files = form.File["images[]"]
	}
	uploads := make([]services.ImageUpload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
		f.Close()
		if err != nil {
			return nil, err
		}
		if len(data) > maxImageBytes {
			return nil, fmt.Errorf("image %s exceeds the size limit", fh.Filename)
		}
		uploads = append(uploads, services.ImageUpload{Filename: fh.Filename, Data: data})
	}
	return uploads, nil
}

//
// Handlers
//

// SubmitCheckup godoc
// @ID          submitCheckup
// @Summary     Submit a new checkup
// @Description Creates a skin-lesion checkup with 1-5 images, debits the checkup cost, and dispatches the inference run. When the task cannot be queued the response carries _task_queued=false and _task_error; the checkup can be re-dispatched by polling its results.
// @Tags        Checkups
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-Doctor-ID      header    string  false "Doctor ID (gateway header)" example(doc-123)
// @Param       images           formData  file    true  "Lesion images (repeatable, max 5)"
// @Param       age              formData  int     true  "Patient age"
// @Param       gender           formData  string  true  "Patient gender"
// @Param       blood_type       formData  string  false "Blood type"
// @Param       note             formData  string  false "Clinical note"
// @Param       lesion_location  formData  string  false "Lesion location"
//
// @Success     201  {object}  handlers.CheckupResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse "Insufficient credits"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /checkups [post]
func (h *Handlers) SubmitCheckup(c *gin.Context) {
	uploads, err := readUploads(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	in := services.SubmitInput{
		Age:                utils.AtoiDefault(c.PostForm("age"), 0),
		Gender:             strings.TrimSpace(c.PostForm("gender")),
		BloodType:          strings.TrimSpace(c.PostForm("blood_type")),
		Note:               strings.TrimSpace(c.PostForm("note")),
		LesionSizeMM:       utils.AtofDefault(c.PostForm("lesion_size_mm"), 0),
		LesionLocation:     strings.TrimSpace(c.PostForm("lesion_location")),
		Asymmetry:          utils.FormBool(c.PostForm("asymmetry")),
		BorderIrregularity: utils.FormBool(c.PostForm("border_irregularity")),
		ColorVariation:     utils.FormBool(c.PostForm("color_variation")),
		DiameterMM:         utils.AtofDefault(c.PostForm("diameter_mm"), 0),
		Evolution:          utils.FormBool(c.PostForm("evolution")),
	}
	if in.Age < 0 || in.Age > 150 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "age must be between 0 and 150")
		return
	}
	if in.Gender == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "gender is required")
		return
	}

	checkup, res, err := h.checkupSvc.Submit(c.Request.Context(), doctorID(c), doctorName(c), in, uploads)
	switch {
	case errors.Is(err, services.ErrNoImages), errors.Is(err, services.ErrTooManyImages), errors.Is(err, services.ErrInvalidImage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, services.ErrInsufficientCredits):
		fail(c, http.StatusPaymentRequired, ErrCodeInsufficientCredits, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, err.Error())
		return
	}

	resp := CheckupResponse{Checkup: *checkup}
	if !res.Queued {
		q := false
		resp.TaskQueued = &q
		resp.TaskError = res.Err
	}
	ok(c, http.StatusCreated, resp)
}

// GetCheckup godoc
// @ID          getCheckup
// @Summary     Get a checkup
// @Description Returns a checkup owned by the current doctor.
// @Tags        Checkups
// @Produce     json
//
// @Param       X-Doctor-ID  header  string  false "Doctor ID (gateway header)" example(doc-123)
// @Param       id           path    int     true  "Checkup ID"
//
// @Success     200  {object}  domain.Checkup
// @Failure     404  {object}  handlers.ErrorResponse "Checkup not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /checkups/{id} [get]
func (h *Handlers) GetCheckup(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	checkup, err := h.checkupSvc.Get(c.Request.Context(), doctorID(c), id)
	if errors.Is(err, services.ErrCheckupNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "checkup not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, checkup)
}

// GetCheckupResults godoc
// @ID          getCheckupResults
// @Summary     Get checkup results (bounded long-poll)
// @Description Returns per-image results and the aggregate diagnosis. Waits up to the wait query parameter (seconds) for inference to finish; while incomplete the endpoint answers 202 with the current snapshot. Lost tasks are re-dispatched transparently.
// @Tags        Checkups
// @Produce     json
//
// @Param       X-Doctor-ID  header  string  false "Doctor ID (gateway header)" example(doc-123)
// @Param       id           path    int     true  "Checkup ID"
// @Param       wait         query   int     false "Seconds to wait for completion" default(30)
//
// @Success     200  {object}  handlers.ResultsResponse "Terminal checkup"
// @Success     202  {object}  handlers.ResultsResponse "Inference still running"
// @Failure     404  {object}  handlers.ErrorResponse "Checkup not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /checkups/{id}/results [get]
func (h *Handlers) GetCheckupResults(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	wait := time.Duration(utils.AtoiDefault(c.Query("wait"), 0)) * time.Second

	view, err := h.checkupSvc.Results(c.Request.Context(), doctorID(c), id, wait)
	if errors.Is(err, services.ErrCheckupNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "checkup not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := ResultsResponse{
		ID:              view.Checkup.ID,
		Status:          view.Checkup.Status,
		TaskID:          view.Checkup.TaskID,
		Result:          view.Checkup.Result,
		FinalConfidence: view.Checkup.FinalConfidence,
		ImageCount:      view.Checkup.ImageCount,
		ErrorMessage:    view.Checkup.ErrorMessage,
		Results:         view.Results,
	}
	status := http.StatusOK
	if !view.Complete {
		status = http.StatusAccepted
	}
	ok(c, status, resp)
}

// ListCheckups godoc
// @ID          listCheckups
// @Summary     List checkups (paginated, filtered)
// @Description Returns a page of the doctor's checkups, newest first. Failed checkups are hidden unless show_failed=true. Supports free-text search (q) over notes, lesion locations, and doctor names, plus result/gender/blood_type/date filters. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Checkups
// @Produce     json
//
// @Param       X-Doctor-ID    header  string  false "Doctor ID (gateway header)"  example(doc-123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       q              query   string  false "Free-text search"
// @Param       result         query   string  false "Filter by aggregate result"  Enums(Malignant, Benign)
// @Param       gender         query   string  false "Filter by patient gender"
// @Param       blood_type     query   string  false "Filter by blood type"
// @Param       show_failed    query   bool    false "Include FAILED checkups"     default(false)
// @Param       from           query   string  false "Created from (RFC 3339)"
// @Param       to             query   string  false "Created to (RFC 3339)"
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListCheckupsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /checkups [get]
func (h *Handlers) ListCheckups(c *gin.Context) {
	ctx := c.Request.Context()
	did := doctorID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okSvc := h.checkupSvc.(*services.CheckupService); okSvc {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.CheckupsStats(ctx, db, did)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"checkups:%s:%d:%d"`, did, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	opts := services.ListOptions{
		Query:      c.Query("q"),
		Result:     c.Query("result"),
		Gender:     c.Query("gender"),
		BloodType:  c.Query("blood_type"),
		ShowFailed: utils.FormBool(c.Query("show_failed")),
		Page:       page,
		PageSize:   pageSize,
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from must be RFC 3339")
			return
		}
		opts.CreatedFrom = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to must be RFC 3339")
			return
		}
		opts.CreatedTo = &t
	}

	items, total, err := h.checkupSvc.List(ctx, did, opts)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListCheckupsResponse{
		Checkups: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}
