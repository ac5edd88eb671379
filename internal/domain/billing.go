// Package domain – billing models.
//
// This file defines the credit purchase ledger. Credits are the billing unit
// debited per checkup submission; doctors top up by purchasing bundles. Every
// purchase is recorded as a CreditTransaction, and the unique
// (doctor, idempotency_key) constraint guarantees a replayed purchase request
// can never double-credit a balance.
package domain

import "time"

// CreditBundle names a purchasable credit package.
type CreditBundle string

const (
	BundleSmall  CreditBundle = "SMALL"
	BundleMedium CreditBundle = "MEDIUM"
	BundleLarge  CreditBundle = "LARGE"
)

// BundleInfo is the catalog entry for a bundle: credits granted and price.
type BundleInfo struct {
	Credits   int
	AmountUSD float64
}

// Bundles is the purchase catalog. Prices are fixed server-side; clients only
// name the bundle.
var Bundles = map[CreditBundle]BundleInfo{
	BundleSmall:  {Credits: 5000, AmountUSD: 20},
	BundleMedium: {Credits: 10000, AmountUSD: 35},
	BundleLarge:  {Credits: 20000, AmountUSD: 60},
}

// TxnStatus is the settlement state of a credit transaction.
// PENDING may move to SUCCESS or FAILED; both are terminal.
type TxnStatus string

const (
	TxnPending TxnStatus = "PENDING"
	TxnSuccess TxnStatus = "SUCCESS"
	TxnFailed  TxnStatus = "FAILED"
)

// CreditTransaction is one ledger entry for a credit purchase.
//
// Fields:
//   - IdempotencyKey: client-supplied retry token, unique per doctor. A
//     replay with a key that already settled SUCCESS returns the existing
//     row and the current balance without re-crediting.
//   - Provider / ProviderRef: payment provider bookkeeping ("SIMULATED" in
//     this deployment; no real charge is made).
//   - Metadata: optional provider payload, stored as raw JSON text.
type CreditTransaction struct {
	ID             uint         `json:"id"              gorm:"primaryKey;autoIncrement"`
	DoctorID       string       `json:"doctor_id"       gorm:"type:varchar(64);not null;index;uniqueIndex:ux_txn_doctor_idem,priority:1"`
	Bundle         CreditBundle `json:"bundle"          gorm:"type:varchar(20);not null"`
	CreditsAdded   int          `json:"credits_added"   gorm:"not null"`
	AmountUSD      float64      `json:"amount_usd"      gorm:"not null"`
	Status         TxnStatus    `json:"status"          gorm:"type:varchar(10);not null;default:'PENDING'"`
	Provider       string       `json:"provider"        gorm:"type:varchar(50);not null;default:'SIMULATED'"`
	ProviderRef    *string      `json:"provider_ref,omitempty" gorm:"type:varchar(100)"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"type:varchar(100);not null;uniqueIndex:ux_txn_doctor_idem,priority:2"`
	Metadata       *string      `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt      time.Time    `json:"created_at"      gorm:"index"`

	// Doctor is the purchasing account.
	Doctor Doctor `json:"-" gorm:"foreignKey:DoctorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CreditTransaction.
func (CreditTransaction) TableName() string { return "credit_transactions" }
