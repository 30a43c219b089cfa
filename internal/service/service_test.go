package service

import (
	"context"
	"errors"
	"testing"

	"aisla/backend/internal/domain"
	"aisla/backend/internal/store"
	"aisla/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), nil, nil, "store-main")
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "owner", Role: "owner"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func TestAdjustInventoryCreatesRowOnFirstIncrease(t *testing.T) {
	svc := newTestService()

	row, err := svc.AdjustInventory(ownerCtx(), "store-main", "prod-milk", 5, domain.AllowNegative)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if row.Qty != 5 {
		t.Fatalf("expected qty 5 after first increase, got %d", row.Qty)
	}
	if row.ReceivedAt == nil {
		t.Fatalf("expected received_at to be seeded on row creation")
	}
}

func TestAdjustInventoryNegativeOnMissingRow(t *testing.T) {
	svc := newTestService()

	_, err := svc.AdjustInventory(ownerCtx(), "store-main", "prod-milk", -3, domain.AllowNegative)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for decrement on missing row, got %v", err)
	}
}

func TestAdjustInventoryRejectNegativePolicy(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.AdjustInventory(ctx, "store-main", "prod-milk", 5, domain.AllowNegative); err != nil {
		t.Fatalf("seed adjust failed: %v", err)
	}

	_, err := svc.AdjustInventory(ctx, "store-main", "prod-milk", -8, domain.RejectNegative)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	rows, err := svc.ListInventory(ctx, "store-main")
	if err != nil {
		t.Fatalf("list inventory failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Qty != 5 {
		t.Fatalf("expected qty untouched at 5 after rejected decrement, got %+v", rows)
	}

	// The legacy policy lets the same decrement go through.
	row, err := svc.AdjustInventory(ctx, "store-main", "prod-milk", -8, domain.AllowNegative)
	if err != nil {
		t.Fatalf("allow-negative adjust failed: %v", err)
	}
	if row.Qty != -3 {
		t.Fatalf("expected qty -3 under allow-negative, got %d", row.Qty)
	}
}

func TestAdjustInventoryUnknownProduct(t *testing.T) {
	svc := newTestService()

	_, err := svc.AdjustInventory(ownerCtx(), "store-main", "prod-ghost", 5, domain.AllowNegative)
	if !errors.Is(err, store.ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestRecordSaleDecrementsInventory(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.AdjustInventory(ctx, "store-main", "prod-milk", 5, domain.AllowNegative); err != nil {
		t.Fatalf("seed adjust failed: %v", err)
	}

	resp, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-milk", Qty: 3, PriceCents: 18900},
		},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if resp.Transaction.TotalCents != 3*18900 {
		t.Fatalf("expected total %d, got %d", 3*18900, resp.Transaction.TotalCents)
	}
	if resp.Transaction.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed payment status, got %s", resp.Transaction.PaymentStatus)
	}
	if len(resp.InventoryGaps) != 0 {
		t.Fatalf("expected no gaps, got %v", resp.InventoryGaps)
	}

	rows, _ := svc.ListInventory(ctx, "store-main")
	if len(rows) != 1 || rows[0].Qty != 2 {
		t.Fatalf("expected qty 2 after selling 3 of 5, got %+v", rows)
	}
}

func TestRecordSaleTotalMismatchRejected(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordSale(ownerCtx(), domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		TotalCents:    999,
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-milk", Qty: 1, PriceCents: 18900},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for total mismatch, got %v", err)
	}
}

func TestRecordSaleReportsGapWithoutFailing(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "qris",
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-bread", Qty: 2, PriceCents: 17800},
		},
	})
	if err != nil {
		t.Fatalf("sale should commit despite missing inventory row: %v", err)
	}
	if len(resp.InventoryGaps) != 1 {
		t.Fatalf("expected one gap, got %v", resp.InventoryGaps)
	}
	gap := resp.InventoryGaps[0]
	if gap.ProductID != "prod-bread" || gap.Qty != 2 {
		t.Fatalf("unexpected gap %+v", gap)
	}

	// The gap must not create the inventory row.
	rows, _ := svc.ListInventory(ctx, "store-main")
	if len(rows) != 0 {
		t.Fatalf("expected no inventory rows after gapped sale, got %+v", rows)
	}
}

func TestCancelSaleRestoresInventory(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.AdjustInventory(ctx, "store-main", "prod-milk", 5, domain.AllowNegative); err != nil {
		t.Fatalf("seed adjust failed: %v", err)
	}

	resp, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-milk", Qty: 3, PriceCents: 18900},
		},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	cancelled, err := svc.CancelSale(ctx, resp.Transaction.ID)
	if err != nil {
		t.Fatalf("cancel sale failed: %v", err)
	}
	if cancelled.PaymentStatus != domain.PaymentStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.PaymentStatus)
	}
	if cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled_at to be set")
	}

	rows, _ := svc.ListInventory(ctx, "store-main")
	if len(rows) != 1 || rows[0].Qty != 5 {
		t.Fatalf("expected qty back at 5 after cancel, got %+v", rows)
	}
}

func TestCancelSaleTwiceFails(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.AdjustInventory(ctx, "store-main", "prod-milk", 5, domain.AllowNegative); err != nil {
		t.Fatalf("seed adjust failed: %v", err)
	}
	resp, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items:         []domain.SaleItemRequest{{ProductID: "prod-milk", Qty: 2, PriceCents: 18900}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if _, err := svc.CancelSale(ctx, resp.Transaction.ID); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}

	_, err = svc.CancelSale(ctx, resp.Transaction.ID)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second cancel, got %v", err)
	}

	// Inventory credited exactly once.
	rows, _ := svc.ListInventory(ctx, "store-main")
	if len(rows) != 1 || rows[0].Qty != 5 {
		t.Fatalf("expected qty 5 after single restore, got %+v", rows)
	}
}

func TestCancelSaleCreatesMissingRow(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items:         []domain.SaleItemRequest{{ProductID: "prod-bread", Qty: 2, PriceCents: 17800}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if len(resp.InventoryGaps) != 1 {
		t.Fatalf("expected a gap on the way in, got %v", resp.InventoryGaps)
	}

	if _, err := svc.CancelSale(ctx, resp.Transaction.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	rows, _ := svc.ListInventory(ctx, "store-main")
	if len(rows) != 1 || rows[0].ProductID != "prod-bread" || rows[0].Qty != 2 {
		t.Fatalf("expected restore to create the missing row with qty 2, got %+v", rows)
	}
}

func TestSaleRoundTrip(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.AdjustInventory(ctx, "store-main", "prod-coffee", 10, domain.AllowNegative); err != nil {
		t.Fatalf("seed adjust failed: %v", err)
	}

	resp, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items:         []domain.SaleItemRequest{{ProductID: "prod-coffee", Qty: 4, PriceCents: 2600}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	rows, _ := svc.ListInventory(ctx, "store-main")
	if rows[0].Qty != 6 {
		t.Fatalf("expected 6 after selling 4 of 10, got %d", rows[0].Qty)
	}

	if _, err := svc.CancelSale(ctx, resp.Transaction.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	rows, _ = svc.ListInventory(ctx, "store-main")
	if rows[0].Qty != 10 {
		t.Fatalf("expected 10 after cancel, got %d", rows[0].Qty)
	}
}

func TestRestockThenSaleThenCancelShareLedgerRow(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-bread", Qty: 10}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusProcessing}); err != nil {
		t.Fatalf("transition to processing failed: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusCompleted}); err != nil {
		t.Fatalf("transition to completed failed: %v", err)
	}

	rows, _ := svc.ListInventory(ctx, "store-main")
	if len(rows) != 1 || rows[0].Qty != 10 {
		t.Fatalf("expected single row with qty 10 after completion, got %+v", rows)
	}

	sale, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items:         []domain.SaleItemRequest{{ProductID: "prod-bread", Qty: 4, PriceCents: 17800}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if len(sale.InventoryGaps) != 0 {
		t.Fatalf("expected no gaps selling from the restocked row, got %+v", sale.InventoryGaps)
	}

	rows, _ = svc.ListInventory(ctx, "store-main")
	if len(rows) != 1 || rows[0].Qty != 6 {
		t.Fatalf("expected qty 6 after selling 4 of the restocked 10, got %+v", rows)
	}

	if _, err := svc.CancelSale(ctx, sale.Transaction.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	rows, _ = svc.ListInventory(ctx, "store-main")
	if len(rows) != 1 || rows[0].Qty != 10 {
		t.Fatalf("expected cancel to restore the restocked row to 10, got %+v", rows)
	}
}

func TestCreateOrderSnapshotsPrices(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-milk", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if resp.TotalCents != 2*18900 {
		t.Fatalf("expected total %d, got %d", 2*18900, resp.TotalCents)
	}
	if resp.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected new order to be pending, got %s", resp.Order.Status)
	}

	if _, err := svc.UpdateProductPrice(adminCtx(), "prod-milk", 99999); err != nil {
		t.Fatalf("price update failed: %v", err)
	}

	fetched, err := svc.GetOrder(ctx, resp.Order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if fetched.TotalCents != 2*18900 {
		t.Fatalf("snapshot price drifted after catalog change: got %d", fetched.TotalCents)
	}
}

func TestCreateOrderUnknownProductIsAtomic(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	_, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-milk", Qty: 2},
			{ProductID: "prod-ghost", Qty: 1},
		},
	})
	if !errors.Is(err, store.ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}

	orders, err := svc.ListOrders(ctx, "store-main", "", 10)
	if err != nil {
		t.Fatalf("list orders failed: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no order persisted after failed creation, got %d", len(orders))
	}
}

func TestOrderCompletionRestocksInventory(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-water", Qty: 10}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	task, err := svc.ScheduleRobotTask(adminCtx(), domain.RobotTaskCreateRequest{
		OrderID: resp.Order.ID,
		RobotID: "robot-7",
		Qty:     10,
	})
	if err != nil {
		t.Fatalf("schedule robot task failed: %v", err)
	}
	if task.Status != domain.TaskStatusPending {
		t.Fatalf("expected pending task, got %s", task.Status)
	}

	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusProcessing}); err != nil {
		t.Fatalf("transition to processing failed: %v", err)
	}
	completed, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusCompleted})
	if err != nil {
		t.Fatalf("transition to completed failed: %v", err)
	}

	for _, item := range completed.Order.Items {
		if item.Status != domain.OrderStatusCompleted {
			t.Fatalf("expected item status completed, got %s", item.Status)
		}
	}

	rows, _ := svc.ListInventory(ctx, "store-main")
	if len(rows) != 1 || rows[0].Qty != 10 {
		t.Fatalf("expected restock to create row with qty 10, got %+v", rows)
	}

	tasks, err := svc.ListRobotTasks(ctx, resp.Order.ID)
	if err != nil {
		t.Fatalf("list robot tasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != domain.TaskStatusCompleted {
		t.Fatalf("expected robot task completed, got %+v", tasks)
	}
	if tasks[0].EndTime == nil {
		t.Fatalf("expected end_time on completed robot task")
	}
}

func TestOrderCompletionIsNotRepeatable(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-water", Qty: 10}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusProcessing}); err != nil {
		t.Fatalf("processing transition failed: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusCompleted}); err != nil {
		t.Fatalf("completed transition failed: %v", err)
	}

	_, err = svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusCompleted})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on repeat completion, got %v", err)
	}

	// Exactly one restock credit.
	rows, _ := svc.ListInventory(ctx, "store-main")
	if len(rows) != 1 || rows[0].Qty != 10 {
		t.Fatalf("expected single restock to qty 10, got %+v", rows)
	}
}

func TestOrderTransitionRejections(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-eggs", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// pending -> completed skips processing and must fail.
	_, err = svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusCompleted})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected rejection of pending->completed, got %v", err)
	}

	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusCancelled}); err != nil {
		t.Fatalf("pending->cancelled should be allowed: %v", err)
	}

	// cancelled is terminal.
	_, err = svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusProcessing})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected rejection of cancelled->processing, got %v", err)
	}
}

func TestOrderCancellationDoesNotRestock(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-eggs", Qty: 4}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusCancelled}); err != nil {
		t.Fatalf("cancel transition failed: %v", err)
	}

	rows, _ := svc.ListInventory(ctx, "store-main")
	if len(rows) != 0 {
		t.Fatalf("cancelled order must not touch inventory, got %+v", rows)
	}
}

func TestScheduleRobotTaskRequiresOpenOrder(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-eggs", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusRequest{Status: domain.OrderStatusCancelled}); err != nil {
		t.Fatalf("cancel transition failed: %v", err)
	}

	_, err = svc.ScheduleRobotTask(adminCtx(), domain.RobotTaskCreateRequest{
		OrderID: resp.Order.ID,
		RobotID: "robot-1",
		Qty:     1,
	})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected rejection on terminal order, got %v", err)
	}

	// Scheduling is an admin operation.
	_, err = svc.ScheduleRobotTask(ctx, domain.RobotTaskCreateRequest{OrderID: resp.Order.ID, RobotID: "robot-1", Qty: 1})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	svc := newTestService()
	stranger := WithActor(context.Background(), domain.Actor{Username: "mallory", Role: "owner"})

	if _, err := svc.ListInventory(stranger, "store-main"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on inventory read, got %v", err)
	}
	_, err := svc.CreateOrder(stranger, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-milk", Qty: 1}},
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on order creation, got %v", err)
	}
	_, err = svc.RecordSale(stranger, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items:         []domain.SaleItemRequest{{ProductID: "prod-milk", Qty: 1, PriceCents: 18900}},
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on sale, got %v", err)
	}

	// Admins cross store boundaries.
	if _, err := svc.ListInventory(adminCtx(), "store-main"); err != nil {
		t.Fatalf("admin should read any store inventory: %v", err)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	svc := newTestService()

	_, err := svc.ListInventory(context.Background(), "store-main")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	_, err = svc.RecordSale(context.Background(), domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items:         []domain.SaleItemRequest{{ProductID: "prod-milk", Qty: 1, PriceCents: 18900}},
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestCartLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	saved, err := svc.SaveCart(ctx, domain.CartSaveRequest{
		StoreID: "store-main",
		Items:   []domain.CartItem{{ProductID: "prod-milk", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("save cart failed: %v", err)
	}
	if len(saved.Items) != 1 {
		t.Fatalf("expected one cart item, got %d", len(saved.Items))
	}

	fetched, err := svc.GetCart(ctx, "store-main")
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if len(fetched.Items) != 1 || fetched.Items[0].ProductID != "prod-milk" {
		t.Fatalf("unexpected cart contents: %+v", fetched.Items)
	}

	// Recording a sale clears the cashier's cart.
	if _, err := svc.AdjustInventory(ctx, "store-main", "prod-milk", 5, domain.AllowNegative); err != nil {
		t.Fatalf("seed adjust failed: %v", err)
	}
	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items:         []domain.SaleItemRequest{{ProductID: "prod-milk", Qty: 2, PriceCents: 18900}},
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	fetched, err = svc.GetCart(ctx, "store-main")
	if err != nil {
		t.Fatalf("get cart after sale failed: %v", err)
	}
	if len(fetched.Items) != 0 {
		t.Fatalf("expected empty cart after sale, got %+v", fetched.Items)
	}
}

func TestCreateOrderClearsCart(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.SaveCart(ctx, domain.CartSaveRequest{
		StoreID: "store-main",
		Items:   []domain.CartItem{{ProductID: "prod-water", Qty: 10}},
	}); err != nil {
		t.Fatalf("save cart failed: %v", err)
	}

	if _, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-water", Qty: 10}},
	}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	fetched, err := svc.GetCart(ctx, "store-main")
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if len(fetched.Items) != 0 {
		t.Fatalf("expected cart cleared after order creation, got %+v", fetched.Items)
	}
}

func TestSalesLedgerAppends(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.AdjustInventory(ctx, "store-main", "prod-milk", 5, domain.AllowNegative); err != nil {
		t.Fatalf("seed adjust failed: %v", err)
	}
	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		StoreID:       "store-main",
		PaymentMethod: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-milk", Qty: 2, PriceCents: 18900},
			{ProductID: "prod-coffee", Qty: 1, PriceCents: 2600},
		},
	}); err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	sales, err := svc.ListSales(ctx, "store-main", 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("expected one ledger row per item, got %d", len(sales))
	}
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.AdjustInventory(ctx, "store-main", "prod-milk", 5, domain.AllowNegative); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		StoreID: "store-main",
		Items:   []domain.OrderItemRequest{{ProductID: "prod-milk", Qty: 1}},
	}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "store-main", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) < 2 {
		t.Fatalf("expected audit entries for adjust and order, got %d", len(logs))
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
		if entry.ActorUsername != "owner" {
			t.Fatalf("expected actor owner on audit entry, got %s", entry.ActorUsername)
		}
	}
	if !actions["inventory_adjust"] || !actions["order_create"] {
		t.Fatalf("missing expected audit actions: %v", actions)
	}
}
