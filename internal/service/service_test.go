package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"boutiquepos/backend/internal/cache"
	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
	"boutiquepos/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.New(store.LegacyFirst)
	svc := New(repo, cache.NoopSummaryCache{}, time.Second, zerolog.Nop())
	return svc, repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "owner", Role: RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "kasi", Role: RoleCashier})
}

func mustAddContainerItem(t *testing.T, svc *Service, containerName, itemName string, stock int, priceCents int64) *domain.ContainerItem {
	t.Helper()
	ctx := adminCtx()
	resp, err := svc.CreateContainer(ctx, containerName)
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	item, err := svc.AddContainerItem(ctx, resp.Container.ID, domain.ContainerItemAddRequest{
		Name:       itemName,
		Amount:     stock,
		PriceCents: priceCents,
	})
	if err != nil {
		t.Fatalf("add container item: %v", err)
	}
	return item
}

func availability(t *testing.T, svc *Service, itemName string) domain.Availability {
	t.Helper()
	avail, err := svc.GetAvailability(adminCtx(), itemName)
	if err != nil {
		t.Fatalf("availability %s: %v", itemName, err)
	}
	return avail
}

func saleHistory(t *testing.T, svc *Service) []domain.StockHistoryEntry {
	t.Helper()
	entries, err := svc.ListStockHistory(adminCtx(), domain.StockHistoryQuery{ChangeType: domain.ChangeTypeSale})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	return entries
}

func TestSaleFromContainerStock(t *testing.T) {
	svc, _ := newTestService()
	mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 10, 5000)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems:     []domain.CartLine{{ItemName: "Rose Veil", Quantity: 3, UnitPriceCents: 5000}},
		PaymentMethod: domain.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.TotalCents != 15000 {
		t.Fatalf("expected total 15000, got %d", sale.TotalCents)
	}
	if sale.TransactionID == "" || sale.Status != domain.SaleStatusActive {
		t.Fatalf("unexpected sale header: %+v", sale)
	}

	if got := availability(t, svc, "Rose Veil").Total; got != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", got)
	}

	entries := saleHistory(t, svc)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one SALE entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.OldStock != 10 || entry.NewStock != 7 || entry.ChangeAmount != -3 {
		t.Fatalf("unexpected journal entry: %+v", entry)
	}
	if entry.TransactionID != sale.TransactionID {
		t.Fatalf("journal entry not linked to sale")
	}
}

func TestSaleRejectedWhenStockShort(t *testing.T) {
	svc, _ := newTestService()
	mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 2, 5000)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Rose Veil", Quantity: 5, UnitPriceCents: 5000}},
	})
	var shortfall *store.InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if shortfall.Available != 2 || shortfall.Requested != 5 {
		t.Fatalf("unexpected figures: %+v", shortfall)
	}

	if got := availability(t, svc, "Rose Veil").Total; got != 2 {
		t.Fatalf("stock changed despite rejection: %d", got)
	}
	sales, err := svc.ListRecentSales(adminCtx(), 10)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale rows, got %d", len(sales))
	}
	if entries := saleHistory(t, svc); len(entries) != 0 {
		t.Fatalf("expected no SALE journal entries, got %d", len(entries))
	}
}

func TestSaleSpansBothTiers(t *testing.T) {
	svc, repo := newTestService()
	repo.SeedInventory(domain.InventoryItem{Name: "Candles", Quantity: 4})
	mustAddContainerItem(t, svc, "Bag B", "Candles", 6, 2500)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Candles", Quantity: 8, UnitPriceCents: 2500}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	avail := availability(t, svc, "Candles")
	if avail.LegacyQty != 0 || avail.ContainerQty != 2 {
		t.Fatalf("expected legacy 0 and container 2, got %+v", avail)
	}

	entries := saleHistory(t, svc)
	if len(entries) != 2 {
		t.Fatalf("expected two journal entries for the split, got %d", len(entries))
	}
	deltaSum := 0
	for _, entry := range entries {
		deltaSum += entry.ChangeAmount
		if entry.TransactionID != sale.TransactionID {
			t.Fatalf("entry not linked to sale: %+v", entry)
		}
	}
	if deltaSum != -8 {
		t.Fatalf("expected journal deltas to sum to -8, got %d", deltaSum)
	}
}

func TestSaleAtomicityAcrossLines(t *testing.T) {
	svc, _ := newTestService()
	mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 10, 5000)
	mustAddContainerItem(t, svc, "Bag B", "Silk Scarf", 1, 8000)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{
			{ItemName: "Rose Veil", Quantity: 2, UnitPriceCents: 5000},
			{ItemName: "Silk Scarf", Quantity: 3, UnitPriceCents: 8000},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if got := availability(t, svc, "Rose Veil").Total; got != 10 {
		t.Fatalf("first line deducted despite rollback: %d", got)
	}
	if entries := saleHistory(t, svc); len(entries) != 0 {
		t.Fatalf("journal written despite rollback: %d entries", len(entries))
	}
}

func TestSaleTotalMatchesLineSubtotals(t *testing.T) {
	svc, _ := newTestService()
	mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 10, 5000)
	mustAddContainerItem(t, svc, "Bag B", "Silk Scarf", 5, 8000)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{
			{ItemName: "Rose Veil", Quantity: 2, UnitPriceCents: 5000},
			{ItemName: "Silk Scarf", Quantity: 3, UnitPriceCents: 8000},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	var sum int64
	for _, item := range sale.Items {
		if item.SubtotalCents != int64(item.Quantity)*item.UnitPriceCents {
			t.Fatalf("bad subtotal: %+v", item)
		}
		sum += item.SubtotalCents
	}
	if sale.TotalCents != sum {
		t.Fatalf("total %d != line sum %d", sale.TotalCents, sum)
	}
}

func TestVoidSaleRestoresStock(t *testing.T) {
	svc, _ := newTestService()
	mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 10, 5000)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Rose Veil", Quantity: 4, UnitPriceCents: 5000}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	voided, err := svc.VoidSale(adminCtx(), sale.TransactionID, "customer return")
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != domain.SaleStatusVoided || voided.VoidedAt == nil {
		t.Fatalf("unexpected voided sale: %+v", voided)
	}

	if got := availability(t, svc, "Rose Veil").Total; got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}

	corrections, err := svc.ListStockHistory(adminCtx(), domain.StockHistoryQuery{ChangeType: domain.ChangeTypeCorrection})
	if err != nil {
		t.Fatalf("list corrections: %v", err)
	}
	if len(corrections) != 1 || corrections[0].ChangeAmount != 4 {
		t.Fatalf("expected one +4 CORRECTION entry, got %+v", corrections)
	}

	if _, err := svc.VoidSale(adminCtx(), sale.TransactionID, "again"); !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected state conflict on double void, got %v", err)
	}
	if got := availability(t, svc, "Rose Veil").Total; got != 10 {
		t.Fatalf("double void changed stock: %d", got)
	}
}

func TestLossReportThenReject(t *testing.T) {
	svc, _ := newTestService()
	mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 7, 5000)

	event, err := svc.ReportLoss(adminCtx(), domain.LossReportRequest{
		ItemName: "Rose Veil",
		Quantity: 1,
		Reason:   "damaged",
	})
	if err != nil {
		t.Fatalf("report loss: %v", err)
	}
	if event.Status != domain.LossStatusPending || !event.Applied {
		t.Fatalf("expected pending applied event, got %+v", event)
	}
	if got := availability(t, svc, "Rose Veil").Total; got != 6 {
		t.Fatalf("expected stock 6 after loss, got %d", got)
	}

	record, err := svc.GetReconciliation(adminCtx(), "Rose Veil", "")
	if err != nil {
		t.Fatalf("get reconciliation: %v", err)
	}
	if record.LossDrawn != 1 {
		t.Fatalf("expected loss_drawn 1, got %d", record.LossDrawn)
	}

	rejected, err := svc.RejectLossEvent(adminCtx(), event.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.LossStatusRejected || rejected.Applied {
		t.Fatalf("unexpected rejected event: %+v", rejected)
	}
	if got := availability(t, svc, "Rose Veil").Total; got != 7 {
		t.Fatalf("expected stock restored to 7, got %d", got)
	}
	record, err = svc.GetReconciliation(adminCtx(), "Rose Veil", "")
	if err != nil {
		t.Fatalf("get reconciliation: %v", err)
	}
	if record.LossDrawn != 0 {
		t.Fatalf("expected loss_drawn back to 0, got %d", record.LossDrawn)
	}

	// Rejecting again is idempotent; approving a rejected event conflicts.
	again, err := svc.RejectLossEvent(adminCtx(), event.ID)
	if err != nil {
		t.Fatalf("second reject: %v", err)
	}
	if again.Status != domain.LossStatusRejected {
		t.Fatalf("second reject changed status: %+v", again)
	}
	if got := availability(t, svc, "Rose Veil").Total; got != 7 {
		t.Fatalf("second reject double-compensated: %d", got)
	}
	if _, err := svc.ApproveLossEvent(adminCtx(), event.ID); !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected conflict approving rejected event, got %v", err)
	}
}

func TestLossDeferredAppliesOnApproval(t *testing.T) {
	svc, _ := newTestService()
	mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 7, 5000)

	deferApply := false
	event, err := svc.ReportLoss(adminCtx(), domain.LossReportRequest{
		ItemName:         "Rose Veil",
		Quantity:         2,
		ApplyImmediately: &deferApply,
	})
	if err != nil {
		t.Fatalf("report loss: %v", err)
	}
	if event.Applied {
		t.Fatalf("deferred event marked applied")
	}
	if got := availability(t, svc, "Rose Veil").Total; got != 7 {
		t.Fatalf("deferred loss deducted stock early: %d", got)
	}

	approved, err := svc.ApproveLossEvent(adminCtx(), event.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.LossStatusApproved || !approved.Applied {
		t.Fatalf("unexpected approved event: %+v", approved)
	}
	if got := availability(t, svc, "Rose Veil").Total; got != 5 {
		t.Fatalf("expected stock 5 after approval, got %d", got)
	}

	// Second approval must not deduct again.
	if _, err := svc.ApproveLossEvent(adminCtx(), event.ID); err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if got := availability(t, svc, "Rose Veil").Total; got != 5 {
		t.Fatalf("double approval double-applied: %d", got)
	}
}

func TestRestockSeedsOpeningBalance(t *testing.T) {
	svc, repo := newTestService()
	repo.SeedInventory(domain.InventoryItem{Name: "Candles", Quantity: 5})

	item, err := svc.Restock(adminCtx(), domain.RestockRequest{ItemName: "Candles", Quantity: 10})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if item.Quantity != 15 {
		t.Fatalf("expected quantity 15, got %d", item.Quantity)
	}

	record, err := svc.GetReconciliation(adminCtx(), "Candles", "")
	if err != nil {
		t.Fatalf("get reconciliation: %v", err)
	}
	if record.OldStock == nil || *record.OldStock != 5 {
		t.Fatalf("expected opening balance 5, got %+v", record.OldStock)
	}
	if record.NewStockAdded != 10 {
		t.Fatalf("expected new_stock_added 10, got %d", record.NewStockAdded)
	}

	restocks, err := svc.ListStockHistory(adminCtx(), domain.StockHistoryQuery{ChangeType: domain.ChangeTypeRestock})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(restocks) != 1 || restocks[0].OldStock != 5 || restocks[0].NewStock != 15 {
		t.Fatalf("unexpected restock journal: %+v", restocks)
	}
}

func TestApplyReconciliation(t *testing.T) {
	svc, repo := newTestService()
	repo.SeedInventory(domain.InventoryItem{Name: "Candles", Quantity: 9})

	balance, err := svc.ApplyReconciliation(adminCtx(), domain.ReconciliationApplyRequest{
		ItemName:    "Candles",
		OldStock:    10,
		NewReceived: 5,
		Sold:        6,
		LossDrawn:   2,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if balance != 7 {
		t.Fatalf("expected balance 7, got %d", balance)
	}
	if got := availability(t, svc, "Candles").LegacyQty; got != 7 {
		t.Fatalf("expected legacy quantity committed to 7, got %d", got)
	}

	_, err = svc.ApplyReconciliation(adminCtx(), domain.ReconciliationApplyRequest{
		ItemName:    "Candles",
		OldStock:    1,
		NewReceived: 0,
		Sold:        5,
		LossDrawn:   0,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for negative balance, got %v", err)
	}
}

func TestStockNeverGoesNegative(t *testing.T) {
	svc, repo := newTestService()
	repo.SeedInventory(domain.InventoryItem{Name: "Candles", Quantity: 3})

	if _, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Candles", Quantity: 3, UnitPriceCents: 1000}},
	}); err != nil {
		t.Fatalf("first sale: %v", err)
	}
	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Candles", Quantity: 1, UnitPriceCents: 1000}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := availability(t, svc, "Candles").Total; got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}

	if err := svc.RecordLoss(adminCtx(), "Candles", 1); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on loss, got %v", err)
	}
}

func TestDeductionOrderContainersFirst(t *testing.T) {
	repo := memory.New(store.ContainersFirst)
	svc := New(repo, cache.NoopSummaryCache{}, time.Second, zerolog.Nop())
	repo.SeedInventory(domain.InventoryItem{Name: "Candles", Quantity: 4})
	mustAddContainerItem(t, svc, "Bag B", "Candles", 6, 2500)

	if _, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Candles", Quantity: 5, UnitPriceCents: 2500}},
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	avail := availability(t, svc, "Candles")
	if avail.ContainerQty != 1 || avail.LegacyQty != 4 {
		t.Fatalf("expected container drained first, got %+v", avail)
	}
}

func TestSaleRequiresValidCart(t *testing.T) {
	svc, _ := newTestService()

	cases := []domain.SaleCreateRequest{
		{},
		{CartItems: []domain.CartLine{{ItemName: "", Quantity: 1, UnitPriceCents: 100}}},
		{CartItems: []domain.CartLine{{ItemName: "X", Quantity: 0, UnitPriceCents: 100}}},
		{CartItems: []domain.CartLine{{ItemName: "X", Quantity: 1, UnitPriceCents: -1}}},
		{CartItems: []domain.CartLine{{ItemName: "X", Quantity: 1, UnitPriceCents: 100}}, PaymentMethod: "Barter"},
		{CartItems: []domain.CartLine{{ItemName: "X", Quantity: 1, UnitPriceCents: 100}}, PaymentMethod: domain.PaymentMethodMobile},
	}
	for i, req := range cases {
		if _, err := svc.CreateSale(cashierCtx(), req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestRoleEnforcement(t *testing.T) {
	svc, _ := newTestService()
	mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 5, 5000)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Rose Veil", Quantity: 1, UnitPriceCents: 5000}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if _, err := svc.VoidSale(cashierCtx(), sale.TransactionID, "oops"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for cashier void, got %v", err)
	}
	if _, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Rose Veil", Quantity: 1, UnitPriceCents: 5000}},
	}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated without actor, got %v", err)
	}
}

func TestCreateContainerIsIdempotent(t *testing.T) {
	svc, _ := newTestService()

	first, err := svc.CreateContainer(adminCtx(), "Bag A")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !first.Created {
		t.Fatalf("expected first create to report created")
	}
	second, err := svc.CreateContainer(adminCtx(), "Bag A")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Created || second.Container.ID != first.Container.ID {
		t.Fatalf("expected idempotent return of existing container, got %+v", second)
	}
}

func TestAddContainerItemMergesStock(t *testing.T) {
	svc, _ := newTestService()
	item := mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 4, 5000)

	merged, err := svc.AddContainerItem(adminCtx(), item.ContainerID, domain.ContainerItemAddRequest{
		Name:       "Rose Veil",
		Amount:     6,
		PriceCents: 5500,
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.ID != item.ID || merged.Stock != 10 || merged.PriceCents != 5500 {
		t.Fatalf("unexpected merged item: %+v", merged)
	}

	initials, err := svc.ListStockHistory(adminCtx(), domain.StockHistoryQuery{ChangeType: domain.ChangeTypeInitial})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(initials) != 1 {
		t.Fatalf("expected one INITIAL entry, got %d", len(initials))
	}
	restocks, err := svc.ListStockHistory(adminCtx(), domain.StockHistoryQuery{ChangeType: domain.ChangeTypeRestock})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(restocks) != 1 || restocks[0].OldStock != 4 || restocks[0].NewStock != 10 {
		t.Fatalf("unexpected RESTOCK entry: %+v", restocks)
	}
}

func TestUpdateContainerItemClassifiesStockChange(t *testing.T) {
	svc, _ := newTestService()
	item := mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 4, 5000)

	up := 9
	if _, err := svc.UpdateContainerItem(adminCtx(), item.ID, domain.ContainerItemUpdateRequest{Stock: &up}); err != nil {
		t.Fatalf("raise stock: %v", err)
	}
	restocks, err := svc.ListStockHistory(adminCtx(), domain.StockHistoryQuery{ChangeType: domain.ChangeTypeRestock})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(restocks) != 1 || restocks[0].OldStock != 4 || restocks[0].NewStock != 9 {
		t.Fatalf("stock increase not journaled as RESTOCK: %+v", restocks)
	}

	down := 3
	if _, err := svc.UpdateContainerItem(adminCtx(), item.ID, domain.ContainerItemUpdateRequest{Stock: &down, Reason: "Shelf count"}); err != nil {
		t.Fatalf("lower stock: %v", err)
	}
	adjustments, err := svc.ListStockHistory(adminCtx(), domain.StockHistoryQuery{ChangeType: domain.ChangeTypeAdjustment})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(adjustments) != 1 || adjustments[0].OldStock != 9 || adjustments[0].NewStock != 3 {
		t.Fatalf("stock decrease not journaled as ADJUSTMENT: %+v", adjustments)
	}
	if adjustments[0].Reason != "Shelf count" {
		t.Fatalf("reason not carried: %+v", adjustments[0])
	}
}

func TestStockSummaryTracksPreSeedFloor(t *testing.T) {
	svc, _ := newTestService()
	item := mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 4, 5000)

	up := 9
	if _, err := svc.UpdateContainerItem(adminCtx(), item.ID, domain.ContainerItemUpdateRequest{Stock: &up}); err != nil {
		t.Fatalf("raise stock: %v", err)
	}

	summaries, err := svc.SummarizeStockHistory(adminCtx(), 7)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one summary row, got %d", len(summaries))
	}
	got := summaries[0]
	if got.MinStock != 0 {
		t.Fatalf("min stock should reflect the pre-seed floor, got %d", got.MinStock)
	}
	if got.MaxStock != 9 || got.TotalAdded != 9 || got.TotalRemoved != 0 || got.ChangeCount != 2 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestDeleteContainerItemJournalsClosure(t *testing.T) {
	svc, _ := newTestService()
	item := mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 4, 5000)

	if err := svc.DeleteContainerItem(adminCtx(), item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetContainerItem(adminCtx(), item.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	adjustments, err := svc.ListStockHistory(adminCtx(), domain.StockHistoryQuery{ChangeType: domain.ChangeTypeAdjustment})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(adjustments) != 1 || adjustments[0].NewStock != 0 || adjustments[0].ChangeAmount != -4 {
		t.Fatalf("expected closing adjustment to zero, got %+v", adjustments)
	}
}

func TestDailySummaryExcludesVoidedSales(t *testing.T) {
	svc, _ := newTestService()
	mustAddContainerItem(t, svc, "Bag A", "Rose Veil", 10, 5000)

	keep, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Rose Veil", Quantity: 2, UnitPriceCents: 5000}},
	})
	if err != nil {
		t.Fatalf("first sale: %v", err)
	}
	drop, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Rose Veil", Quantity: 1, UnitPriceCents: 5000}},
	})
	if err != nil {
		t.Fatalf("second sale: %v", err)
	}
	if _, err := svc.VoidSale(adminCtx(), drop.TransactionID, "test"); err != nil {
		t.Fatalf("void: %v", err)
	}

	summary, err := svc.DailySummary(adminCtx(), "")
	if err != nil {
		t.Fatalf("daily summary: %v", err)
	}
	if summary.TotalCents != keep.TotalCents || summary.SaleCount != 1 {
		t.Fatalf("voided sale counted: %+v", summary)
	}

	total, err := svc.TotalSales(adminCtx())
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != keep.TotalCents {
		t.Fatalf("expected total %d, got %d", keep.TotalCents, total)
	}
}

func TestUserLifecycle(t *testing.T) {
	svc, _ := newTestService()

	if err := svc.CreateUser(adminCtx(), domain.UserCreateRequest{
		Username: "kasi",
		Password: "longenough",
		Role:     RoleCashier,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := svc.CreateUser(adminCtx(), domain.UserCreateRequest{
		Username: "kasi", Password: "longenough", Role: RoleCashier,
	}); !errors.Is(err, store.ErrDuplicateName) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	user, err := svc.Authenticate(context.Background(), "kasi", "longenough")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.Role != RoleCashier {
		t.Fatalf("unexpected role %s", user.Role)
	}
	if _, err := svc.Authenticate(context.Background(), "kasi", "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for wrong password, got %v", err)
	}

	if err := svc.CreateUser(cashierCtx(), domain.UserCreateRequest{
		Username: "other", Password: "longenough", Role: RoleCashier,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}
}
