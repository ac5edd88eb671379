package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/medmind/go-derm-backend/internal/dispatch"
	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/queue"
	"github.com/medmind/go-derm-backend/internal/repo"
	"github.com/medmind/go-derm-backend/internal/services"
	"github.com/medmind/go-derm-backend/internal/storage"
)

type apiHarness struct {
	db      *gorm.DB
	router  *gin.Engine
	checkup *services.CheckupService
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	q := queue.NewStore(db)
	if err := q.Migrate(); err != nil {
		t.Fatalf("queue migrate: %v", err)
	}
	files, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	d := &dispatch.Dispatcher{DB: db, Broker: q}

	checkupSvc := services.NewCheckupService(db, files, d)
	checkupSvc.WaitDefault = 20 * time.Millisecond
	checkupSvc.WaitMax = 50 * time.Millisecond
	checkupSvc.PollInterval = 5 * time.Millisecond

	h := New(checkupSvc, services.NewBillingService(db), services.NewBiopsyService(db, files))

	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/checkups", h.SubmitCheckup)
	api.GET("/checkups", h.ListCheckups)
	api.GET("/checkups/:id", h.GetCheckup)
	api.GET("/checkups/:id/results", h.GetCheckupResults)
	api.POST("/checkups/:id/biopsy", h.UploadBiopsy)
	api.GET("/checkups/:id/biopsy", h.GetBiopsy)
	api.POST("/biopsies/:id/verify", h.VerifyBiopsy)
	api.POST("/biopsies/:id/reject", h.RejectBiopsy)
	api.GET("/credits", h.GetBalance)
	api.GET("/credits/bundles", h.GetBundles)
	api.POST("/credits/purchase", h.PurchaseCredits)
	api.GET("/credits/transactions", h.ListTransactions)

	return &apiHarness{db: db, router: r, checkup: checkupSvc}
}

func (h *apiHarness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 180, G: 90, B: 60, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// submitForm builds a multipart submission with n images and sane metadata.
func submitForm(t *testing.T, n int, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i := 0; i < n; i++ {
		fw, err := mw.CreateFormFile("images", fmt.Sprintf("lesion_%d.png", i))
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := fw.Write(smallPNG(t)); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	defaults := map[string]string{
		"age":             "47",
		"gender":          "female",
		"blood_type":      "A+",
		"note":            "pigmented lesion, upper back",
		"lesion_location": "upper back",
	}
	for k, v := range fields {
		defaults[k] = v
	}
	for k, v := range defaults {
		if v == "" {
			delete(defaults, k)
			continue
		}
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func (h *apiHarness) submitCheckup(t *testing.T, doctor string) CheckupResponse {
	t.Helper()
	body, ctype := submitForm(t, 1, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkups", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Doctor-ID", doctor)
	w := h.do(t, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, body %s", w.Code, w.Body.String())
	}
	var resp CheckupResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestSubmitCheckup_Created(t *testing.T) {
	h := newAPIHarness(t)

	body, ctype := submitForm(t, 2, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkups", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Doctor-ID", "doc-1")
	w := h.do(t, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp CheckupResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != domain.CheckupPending {
		t.Fatalf("status = %q, want PENDING", resp.Status)
	}
	if resp.TaskID == nil || *resp.TaskID == "" {
		t.Fatal("expected a task handle on the response")
	}
	// Queued dispatch carries no degradation markers.
	if strings.Contains(w.Body.String(), "_task_queued") {
		t.Fatalf("unexpected degradation marker in %s", w.Body.String())
	}
}

func TestSubmitCheckup_ValidationFailures(t *testing.T) {
	h := newAPIHarness(t)

	// Missing gender.
	body, ctype := submitForm(t, 1, map[string]string{"gender": ""})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkups", body)
	req.Header.Set("Content-Type", ctype)
	if w := h.do(t, req); w.Code != http.StatusBadRequest {
		t.Fatalf("missing gender status = %d", w.Code)
	}

	// Absurd age.
	body, ctype = submitForm(t, 1, map[string]string{"age": "200"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/checkups", body)
	req.Header.Set("Content-Type", ctype)
	if w := h.do(t, req); w.Code != http.StatusBadRequest {
		t.Fatalf("bad age status = %d", w.Code)
	}

	// No images at all.
	body, ctype = submitForm(t, 0, nil)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/checkups", body)
	req.Header.Set("Content-Type", ctype)
	if w := h.do(t, req); w.Code != http.StatusBadRequest {
		t.Fatalf("no images status = %d", w.Code)
	}
}

func TestSubmitCheckup_InsufficientCredits_Returns402(t *testing.T) {
	h := newAPIHarness(t)
	h.checkup.Cost = 5000 // above the starting balance

	body, ctype := submitForm(t, 1, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkups", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Doctor-ID", "doc-poor")
	w := h.do(t, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	if !strings.Contains(w.Body.String(), ErrCodeInsufficientCredits) {
		t.Fatalf("body %s, want code %s", w.Body.String(), ErrCodeInsufficientCredits)
	}
}

func TestGetCheckupResults_PendingIs202_CompletedIs200(t *testing.T) {
	h := newAPIHarness(t)
	created := h.submitCheckup(t, "doc-1")

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/checkups/%d/results", created.ID), nil)
	req.Header.Set("X-Doctor-ID", "doc-1")
	w := h.do(t, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("pending status = %d, want 202", w.Code)
	}

	if err := repo.MarkInProgress(req.Context(), h.db, created.ID, "t1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := repo.CompleteCheckup(req.Context(), h.db, created.ID, domain.LabelMalignant, 0.82, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/checkups/%d/results", created.ID), nil)
	req.Header.Set("X-Doctor-ID", "doc-1")
	w = h.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("completed status = %d, want 200", w.Code)
	}
	var resp ResultsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result == nil || *resp.Result != domain.LabelMalignant {
		t.Fatalf("result = %v, want Malignant", resp.Result)
	}
}

func TestGetCheckup_ForeignDoctorGets404(t *testing.T) {
	h := newAPIHarness(t)
	created := h.submitCheckup(t, "doc-1")

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/checkups/%d", created.ID), nil)
	req.Header.Set("X-Doctor-ID", "doc-2")
	if w := h.do(t, req); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListCheckups_ETagRoundTrip(t *testing.T) {
	h := newAPIHarness(t)
	h.submitCheckup(t, "doc-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkups", nil)
	req.Header.Set("X-Doctor-ID", "doc-1")
	w := h.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"checkups:doc-1:`) {
		t.Fatalf("ETag = %q, want a weak checkups tag", etag)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/checkups", nil)
	req.Header.Set("X-Doctor-ID", "doc-1")
	req.Header.Set("If-None-Match", etag)
	if w := h.do(t, req); w.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", w.Code)
	}

	// New submissions invalidate the tag.
	h.submitCheckup(t, "doc-1")
	req = httptest.NewRequest(http.MethodGet, "/api/v1/checkups", nil)
	req.Header.Set("X-Doctor-ID", "doc-1")
	req.Header.Set("If-None-Match", etag)
	if w := h.do(t, req); w.Code != http.StatusOK {
		t.Fatalf("status after change = %d, want 200", w.Code)
	}
}

func purchaseReq(t *testing.T, doctor, bundle, key string) *http.Request {
	t.Helper()
	body, err := json.Marshal(PurchaseRequest{Bundle: bundle})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/purchase", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Doctor-ID", doctor)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestPurchaseCredits_RequiresIdempotencyKey(t *testing.T) {
	h := newAPIHarness(t)

	if w := h.do(t, purchaseReq(t, "doc-1", "SMALL", "")); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without Idempotency-Key", w.Code)
	}
}

func TestPurchaseCredits_CreditsThenReplays(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, purchaseReq(t, "doc-1", "small", "key-1")) // bundle names are case-insensitive
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp PurchaseResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balance != 6000 || resp.Replayed {
		t.Fatalf("purchase = %+v, want fresh 6000 balance", resp)
	}

	w = h.do(t, purchaseReq(t, "doc-1", "SMALL", "key-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("replay status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Replayed || resp.Balance != 6000 {
		t.Fatalf("replay = %+v, want replayed with unchanged balance", resp)
	}

	if w := h.do(t, purchaseReq(t, "doc-1", "MEGA", "key-2")); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown bundle status = %d, want 400", w.Code)
	}
}

func TestBiopsyFlow_UploadVerifyRefund(t *testing.T) {
	h := newAPIHarness(t)
	created := h.submitCheckup(t, "doc-1")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("result", "melanoma confirmed")
	fw, _ := mw.CreateFormFile("document", "report.pdf")
	_, _ = fw.Write([]byte("%PDF-1.4 fake"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/checkups/%d/biopsy", created.ID), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Doctor-ID", "doc-1")
	w := h.do(t, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", w.Code, w.Body.String())
	}
	var biopsy domain.BiopsyResult
	if err := json.Unmarshal(w.Body.Bytes(), &biopsy); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// A plain doctor cannot settle the review.
	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/biopsies/%d/verify", biopsy.ID), nil)
	req.Header.Set("X-Doctor-ID", "doc-1")
	if w := h.do(t, req); w.Code != http.StatusForbidden {
		t.Fatalf("doctor verify status = %d, want 403", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/biopsies/%d/verify", biopsy.ID), nil)
	req.Header.Set("X-Doctor-ID", "admin-1")
	req.Header.Set("X-Doctor-Role", "admin")
	w = h.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("admin verify status = %d, body %s", w.Code, w.Body.String())
	}

	// Submission debit refunded: 1000 - 100 + 100.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
	req.Header.Set("X-Doctor-ID", "doc-1")
	w = h.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("balance status = %d", w.Code)
	}
	var bal BalanceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bal.Balance != 1000 {
		t.Fatalf("balance = %d, want 1000", bal.Balance)
	}

	// Settling twice conflicts.
	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/biopsies/%d/reject", biopsy.ID), nil)
	req.Header.Set("X-Doctor-ID", "admin-1")
	req.Header.Set("X-Doctor-Role", "admin")
	if w := h.do(t, req); w.Code != http.StatusConflict {
		t.Fatalf("second review status = %d, want 409", w.Code)
	}
}
