// Billing HTTP handlers.
//
// This file exposes REST endpoints for credit balances and bundle purchases:
//   - GET  /credits               (balance)
//   - GET  /credits/bundles       (catalog)
//   - POST /credits/purchase      (idempotent bundle purchase)
//   - GET  /credits/transactions  (ledger history, paginated)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/services"
)

//
// DTOs
//

// PurchaseRequest is the JSON payload for a bundle purchase.
type PurchaseRequest struct {
	// Bundle names the catalog entry to buy.
	Bundle string `json:"bundle" binding:"required" example:"SMALL"`
}

// PurchaseResponse reports the settled transaction and the updated balance.
type PurchaseResponse struct {
	Transaction *domain.CreditTransaction `json:"transaction"`
	Balance     int                       `json:"balance"`
	// Replayed is true when the idempotency key matched an earlier settled
	// purchase and no new credits moved.
	Replayed bool `json:"replayed"`
}

// BalanceResponse reports the doctor's current balance.
type BalanceResponse struct {
	DoctorID string `json:"doctor_id"`
	Balance  int    `json:"balance"`
}

// BundleEntry is one catalog row.
type BundleEntry struct {
	Bundle    domain.CreditBundle `json:"bundle"`
	Credits   int                 `json:"credits"`
	AmountUSD float64             `json:"amount_usd"`
}

// ListTransactionsResponse wraps a page of ledger entries.
type ListTransactionsResponse struct {
	Transactions []domain.CreditTransaction `json:"transactions"`
	Pagination   Pagination                 `json:"pagination"`
}

//
// Handlers
//

// GetBalance godoc
// @ID          getBalance
// @Summary     Get credit balance
// @Description Returns the current doctor's credit balance.
// @Tags        Billing
// @Produce     json
//
// @Param       X-Doctor-ID  header  string  false "Doctor ID (gateway header)" example(doc-123)
//
// @Success     200  {object}  handlers.BalanceResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /credits [get]
func (h *Handlers) GetBalance(c *gin.Context) {
	did := doctorID(c)
	balance, err := h.billingSvc.Balance(c.Request.Context(), did)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, BalanceResponse{DoctorID: did, Balance: balance})
}

// GetBundles godoc
// @ID          getBundles
// @Summary     List purchasable credit bundles
// @Description Returns the fixed bundle catalog with credits and prices.
// @Tags        Billing
// @Produce     json
//
// @Success     200  {array}  handlers.BundleEntry
// @Router      /credits/bundles [get]
func (h *Handlers) GetBundles(c *gin.Context) {
	catalog := h.billingSvc.Catalog()
	entries := make([]BundleEntry, 0, len(catalog))
	for _, b := range []domain.CreditBundle{domain.BundleSmall, domain.BundleMedium, domain.BundleLarge} {
		info, found := catalog[b]
		if !found {
			continue
		}
		entries = append(entries, BundleEntry{Bundle: b, Credits: info.Credits, AmountUSD: info.AmountUSD})
	}
	ok(c, http.StatusOK, entries)
}

// PurchaseCredits godoc
// @ID          purchaseCredits
// @Summary     Purchase a credit bundle
// @Description Credits the doctor with the named bundle. Requires an Idempotency-Key header: replaying the same key returns the original transaction without crediting again. No real payment is taken.
// @Tags        Billing
// @Accept      json
// @Produce     json
//
// @Param       X-Doctor-ID      header  string  false "Doctor ID (gateway header)"      example(doc-123)
// @Param       Idempotency-Key  header  string  true  "Retry token, unique per purchase" example(9f8d2c5a)
// @Param       body             body    handlers.PurchaseRequest  true  "Purchase payload"
//
// @Success     200  {object}  handlers.PurchaseResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse "Purchase already in progress"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /credits/purchase [post]
func (h *Handlers) PurchaseCredits(c *gin.Context) {
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "Idempotency-Key header is required")
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	bundle := domain.CreditBundle(strings.ToUpper(strings.TrimSpace(req.Bundle)))

	receipt, err := h.billingSvc.Purchase(c.Request.Context(), doctorID(c), doctorName(c), bundle, key)
	switch {
	case errors.Is(err, services.ErrInvalidBundle):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, services.ErrDuplicatePurchase):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodePurchaseFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, PurchaseResponse{
		Transaction: receipt.Txn,
		Balance:     receipt.Balance,
		Replayed:    receipt.Replayed,
	})
}

// ListTransactions godoc
// @ID          listTransactions
// @Summary     List credit transactions (paginated)
// @Description Returns a page of the doctor's purchase ledger, newest first.
// @Tags        Billing
// @Produce     json
//
// @Param       X-Doctor-ID  header  string  false "Doctor ID (gateway header)" example(doc-123)
// @Param       page         query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size    query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListTransactionsResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /credits/transactions [get]
func (h *Handlers) ListTransactions(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.billingSvc.ListTransactions(c.Request.Context(), doctorID(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListTransactionsResponse{
		Transactions: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
