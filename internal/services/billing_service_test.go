package services

import (
	"context"
	"errors"
	"testing"

	"github.com/medmind/go-derm-backend/internal/domain"
)

func TestPurchase_CreditsBundleAndSettlesTxn(t *testing.T) {
	h := newHarness(t)
	svc := NewBillingService(h.db)
	ctx := context.Background()

	receipt, err := svc.Purchase(ctx, "d1", "Dr One", domain.BundleSmall, "key-1")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if receipt.Replayed {
		t.Fatal("first purchase must not be a replay")
	}
	if receipt.Txn.Status != domain.TxnSuccess {
		t.Fatalf("txn status = %q, want SUCCESS", receipt.Txn.Status)
	}
	if receipt.Txn.CreditsAdded != 5000 || receipt.Txn.AmountUSD != 20 {
		t.Fatalf("txn = %+v, want the SMALL bundle terms", receipt.Txn)
	}
	// 1000 starting credits plus the bundle.
	if receipt.Balance != 6000 {
		t.Fatalf("balance = %d, want 6000", receipt.Balance)
	}
}

func TestPurchase_SameKey_ReplaysWithoutRecrediting(t *testing.T) {
	h := newHarness(t)
	svc := NewBillingService(h.db)
	ctx := context.Background()

	first, err := svc.Purchase(ctx, "d1", "Dr One", domain.BundleMedium, "key-1")
	if err != nil {
		t.Fatalf("first Purchase: %v", err)
	}

	second, err := svc.Purchase(ctx, "d1", "Dr One", domain.BundleMedium, "key-1")
	if err != nil {
		t.Fatalf("replay Purchase: %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected a replayed receipt")
	}
	if second.Txn.ID != first.Txn.ID {
		t.Fatalf("replay returned txn %d, want original %d", second.Txn.ID, first.Txn.ID)
	}
	if second.Balance != first.Balance {
		t.Fatalf("balance moved on replay: %d -> %d", first.Balance, second.Balance)
	}

	balance, err := svc.Balance(ctx, "d1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 11000 {
		t.Fatalf("balance = %d, want 11000 (exactly one MEDIUM credit)", balance)
	}
}

func TestPurchase_FreshKey_CreditsAgain(t *testing.T) {
	h := newHarness(t)
	svc := NewBillingService(h.db)
	ctx := context.Background()

	if _, err := svc.Purchase(ctx, "d1", "Dr One", domain.BundleSmall, "key-1"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	receipt, err := svc.Purchase(ctx, "d1", "Dr One", domain.BundleLarge, "key-2")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if receipt.Balance != 26000 {
		t.Fatalf("balance = %d, want 26000", receipt.Balance)
	}
}

func TestPurchase_UnknownBundle_IsRejected(t *testing.T) {
	h := newHarness(t)
	svc := NewBillingService(h.db)

	_, err := svc.Purchase(context.Background(), "d1", "Dr One", domain.CreditBundle("MEGA"), "key-1")
	if !errors.Is(err, ErrInvalidBundle) {
		t.Fatalf("err = %v, want ErrInvalidBundle", err)
	}
}

func TestListTransactions_ScopesToDoctor(t *testing.T) {
	h := newHarness(t)
	svc := NewBillingService(h.db)
	ctx := context.Background()

	if _, err := svc.Purchase(ctx, "d1", "Dr One", domain.BundleSmall, "k1"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if _, err := svc.Purchase(ctx, "d2", "Dr Two", domain.BundleSmall, "k1"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	mine, total, err := svc.ListTransactions(ctx, "d1", 1, 10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if total != 1 || len(mine) != 1 || mine[0].DoctorID != "d1" {
		t.Fatalf("scoped listing = (%d rows, total %d), want d1's single entry", len(mine), total)
	}

	_, all, err := svc.ListTransactions(ctx, "", 1, 10)
	if err != nil {
		t.Fatalf("ListTransactions(all): %v", err)
	}
	if all != 2 {
		t.Fatalf("admin total = %d, want 2", all)
	}
}
