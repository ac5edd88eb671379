// Biopsy HTTP handlers.
//
// This file exposes REST endpoints for pathology follow-up:
//   - POST /checkups/{id}/biopsy   (upload report, multipart)
//   - GET  /checkups/{id}/biopsy   (fetch report)
//   - POST /biopsies/{id}/verify   (admin review, refunds once)
//   - POST /biopsies/{id}/reject   (admin review)
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/services"
)

// maxDocumentBytes caps a single uploaded biopsy document read.
const maxDocumentBytes = 20 << 20

// UploadBiopsy godoc
// @ID          uploadBiopsy
// @Summary     Upload a biopsy report
// @Description Attaches a pathology report to one of the doctor's checkups. A checkup takes at most one biopsy.
// @Tags        Biopsies
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-Doctor-ID  header    string  false "Doctor ID (gateway header)" example(doc-123)
// @Param       id           path      int     true  "Checkup ID"
// @Param       document     formData  file    true  "Pathology report"
// @Param       result       formData  string  true  "Pathology outcome text"
//
// @Success     201  {object}  domain.BiopsyResult
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Checkup not found"
// @Failure     409  {object}  handlers.ErrorResponse "Biopsy already exists"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /checkups/{id}/biopsy [post]
func (h *Handlers) UploadBiopsy(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	result := strings.TrimSpace(c.PostForm("result"))
	if result == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "result is required")
		return
	}
	fh, err := c.FormFile("document")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot read document")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxDocumentBytes+1))
	if err != nil || len(data) > maxDocumentBytes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document exceeds the size limit")
		return
	}

	biopsy, err := h.biopsySvc.Upload(c.Request.Context(), doctorID(c), id, result, fh.Filename, data)
	switch {
	case errors.Is(err, services.ErrCheckupNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "checkup not found")
		return
	case errors.Is(err, services.ErrDuplicateBiopsy):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusCreated, biopsy)
}

// GetBiopsy godoc
// @ID          getBiopsy
// @Summary     Get the biopsy for a checkup
// @Description Returns the pathology report attached to one of the doctor's checkups.
// @Tags        Biopsies
// @Produce     json
//
// @Param       X-Doctor-ID  header  string  false "Doctor ID (gateway header)" example(doc-123)
// @Param       id           path    int     true  "Checkup ID"
//
// @Success     200  {object}  domain.BiopsyResult
// @Failure     404  {object}  handlers.ErrorResponse "Checkup or biopsy not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /checkups/{id}/biopsy [get]
func (h *Handlers) GetBiopsy(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	biopsy, err := h.biopsySvc.Get(c.Request.Context(), doctorID(c), id)
	switch {
	case errors.Is(err, services.ErrCheckupNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "checkup not found")
		return
	case errors.Is(err, services.ErrBiopsyNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "biopsy not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, biopsy)
}

// VerifyBiopsy godoc
// @ID          verifyBiopsy
// @Summary     Verify a biopsy (admin)
// @Description Marks the biopsy VERIFIED and refunds the checkup cost to the submitting doctor, at most once per biopsy.
// @Tags        Biopsies
// @Produce     json
//
// @Param       X-Doctor-ID    header  string  false "Admin ID (gateway header)"   example(admin-1)
// @Param       X-Doctor-Role  header  string  false "Role (gateway header)"       example(admin)
// @Param       id             path    int     true  "Biopsy ID"
//
// @Success     200  {object}  domain.BiopsyResult
// @Failure     403  {object}  handlers.ErrorResponse "Admin role required"
// @Failure     404  {object}  handlers.ErrorResponse "Biopsy not found"
// @Failure     409  {object}  handlers.ErrorResponse "Biopsy already settled"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /biopsies/{id}/verify [post]
func (h *Handlers) VerifyBiopsy(c *gin.Context) {
	h.reviewBiopsy(c, h.biopsySvc.Verify)
}

// RejectBiopsy godoc
// @ID          rejectBiopsy
// @Summary     Reject a biopsy (admin)
// @Description Marks the biopsy REJECTED. No credits move.
// @Tags        Biopsies
// @Produce     json
//
// @Param       X-Doctor-ID    header  string  false "Admin ID (gateway header)"   example(admin-1)
// @Param       X-Doctor-Role  header  string  false "Role (gateway header)"       example(admin)
// @Param       id             path    int     true  "Biopsy ID"
//
// @Success     200  {object}  domain.BiopsyResult
// @Failure     403  {object}  handlers.ErrorResponse "Admin role required"
// @Failure     404  {object}  handlers.ErrorResponse "Biopsy not found"
// @Failure     409  {object}  handlers.ErrorResponse "Biopsy already settled"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /biopsies/{id}/reject [post]
func (h *Handlers) RejectBiopsy(c *gin.Context) {
	h.reviewBiopsy(c, h.biopsySvc.Reject)
}

func (h *Handlers) reviewBiopsy(c *gin.Context, review func(ctx context.Context, adminRole, adminID string, biopsyID uint) (*domain.BiopsyResult, error)) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	biopsy, err := review(c.Request.Context(), doctorRole(c), doctorID(c), id)
	switch {
	case errors.Is(err, services.ErrNotAdmin):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
		return
	case errors.Is(err, services.ErrBiopsyNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "biopsy not found")
		return
	case errors.Is(err, services.ErrBiopsySettled):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, biopsy)
}
