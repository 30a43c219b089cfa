package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"aisla/backend/internal/cart"
	"aisla/backend/internal/domain"
	"aisla/backend/internal/metrics"
	"aisla/backend/internal/store"
	"aisla/backend/internal/xid"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrUnauthorized    = errors.New("not allowed for this store")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service orchestrates the fulfillment flows on top of the repository. It
// owns validation, authorization and observability; atomicity lives in the
// repository units of work.
type Service struct {
	repo           store.Repository
	carts          cart.Store
	metrics        *metrics.Metrics
	defaultStoreID string
}

func New(repo store.Repository, carts cart.Store, m *metrics.Metrics, defaultStoreID string) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "store-main"
	}
	if carts == nil {
		carts = cart.NewMemoryStore()
	}
	if m == nil {
		m = metrics.New()
	}

	return &Service{
		repo:           repo,
		carts:          carts,
		metrics:        m,
		defaultStoreID: defaultStoreID,
	}
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

// authorizeStore resolves the store and checks the actor may operate on it.
// Admins may touch any store; everyone else must own it.
func (s *Service) authorizeStore(ctx context.Context, actor domain.Actor, storeID string) (*domain.Store, error) {
	st, err := s.repo.GetStoreByID(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if actor.Role == "admin" {
		return st, nil
	}
	if st.OwnerUsername != actor.Username {
		return nil, ErrUnauthorized
	}
	return st, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if actor.Role != "admin" {
		return domain.Product{}, ErrUnauthorized
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" {
		req.ID = xid.New("prod")
	}
	if req.Code == "" || req.Name == "" || req.PriceCents < 1 {
		return domain.Product{}, store.ErrValidation
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:         req.ID,
		Code:       req.Code,
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "", "product_create", "product", created.ID, fmt.Sprintf("code=%s,price=%d", created.Code, created.PriceCents))
	return *created, nil
}

func (s *Service) UpdateProductPrice(ctx context.Context, productID string, priceCents int64) (domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if actor.Role != "admin" {
		return domain.Product{}, ErrUnauthorized
	}

	updated, err := s.repo.UpdateProductPrice(ctx, productID, priceCents)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "", "product_price_update", "product", updated.ID, fmt.Sprintf("price=%d", updated.PriceCents))
	return *updated, nil
}

func (s *Service) CreateStore(ctx context.Context, req domain.StoreCreateRequest) (domain.Store, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Store{}, err
	}
	if actor.Role != "admin" {
		return domain.Store{}, ErrUnauthorized
	}

	req.ID = strings.TrimSpace(req.ID)
	req.OwnerUsername = strings.TrimSpace(req.OwnerUsername)
	if req.ID == "" {
		req.ID = xid.New("store")
	}
	if req.OwnerUsername == "" {
		return domain.Store{}, store.ErrValidation
	}

	created, err := s.repo.CreateStore(ctx, domain.Store{
		ID:            req.ID,
		OwnerUsername: req.OwnerUsername,
		Name:          strings.TrimSpace(req.Name),
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.Store{}, err
	}

	s.logAudit(ctx, created.ID, "store_create", "store", created.ID, fmt.Sprintf("owner=%s", created.OwnerUsername))
	return *created, nil
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role == "admin" {
		return s.repo.ListStores(ctx)
	}

	all, err := s.repo.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	owned := make([]domain.Store, 0, len(all))
	for _, st := range all {
		if st.OwnerUsername == actor.Username {
			owned = append(owned, st)
		}
	}
	return owned, nil
}

func (s *Service) ListInventory(ctx context.Context, storeID string) ([]domain.Inventory, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if _, err := s.authorizeStore(ctx, actor, storeID); err != nil {
		return nil, err
	}
	return s.repo.ListInventory(ctx, storeID)
}

// AdjustInventory is the manual ledger operation: receiving deliveries,
// correcting counts after a physical recount, writing off spoilage.
func (s *Service) AdjustInventory(ctx context.Context, storeID string, productID string, delta int, policy domain.AdjustPolicy) (domain.Inventory, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Inventory{}, err
	}
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if _, err := s.authorizeStore(ctx, actor, storeID); err != nil {
		return domain.Inventory{}, err
	}
	if productID == "" || delta == 0 {
		return domain.Inventory{}, store.ErrValidation
	}
	if delta > 0 {
		if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Inventory{}, fmt.Errorf("%w: %s", store.ErrUnknownProduct, productID)
			}
			return domain.Inventory{}, err
		}
	}

	now := time.Now().UTC()
	row, err := s.repo.AdjustInventory(ctx, storeID, productID, delta, policy, domain.InventoryDefaults{ReceivedAt: &now})
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logAudit(ctx, storeID, "inventory_adjust", "inventory", productID, fmt.Sprintf("delta=%d,qty=%d", delta, row.Qty))
	return *row, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.OrderResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	if _, err := s.authorizeStore(ctx, actor, req.StoreID); err != nil {
		return domain.OrderResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.OrderResponse{}, store.ErrValidation
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeManual
	}
	if !domain.IsOrderType(req.Type) {
		return domain.OrderResponse{}, store.ErrValidation
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == "" || item.Qty < 1 {
			return domain.OrderResponse{}, store.ErrValidation
		}
		ids = append(ids, item.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:              xid.New("order"),
		StoreID:         req.StoreID,
		CreatorUsername: actor.Username,
		Type:            req.Type,
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range req.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return domain.OrderResponse{}, fmt.Errorf("%w: %s", store.ErrUnknownProduct, item.ProductID)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:         xid.New("oitem"),
			OrderID:    order.ID,
			ProductID:  product.ID,
			Qty:        item.Qty,
			PriceCents: product.PriceCents,
			Status:     domain.OrderStatusPending,
		})
	}

	saved, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	s.metrics.OrdersCreated.Inc()
	if err := s.carts.Clear(ctx, saved.StoreID, actor.Username); err != nil {
		log.Printf("[cart] WARN: failed to clear cart store=%s user=%s: %v", saved.StoreID, actor.Username, err)
	}
	s.logAudit(ctx, saved.StoreID, "order_create", "order", saved.ID, fmt.Sprintf("type=%s,items=%d,total=%d", saved.Type, len(saved.Items), saved.TotalCents()))
	return domain.OrderResponse{Order: *saved, TotalCents: saved.TotalCents()}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.OrderResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	if _, err := s.authorizeStore(ctx, actor, order.StoreID); err != nil {
		return domain.OrderResponse{}, err
	}
	return domain.OrderResponse{Order: *order, TotalCents: order.TotalCents()}, nil
}

func (s *Service) ListOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if _, err := s.authorizeStore(ctx, actor, storeID); err != nil {
		return nil, err
	}
	if status != "" && !domain.IsOrderStatus(status) {
		return nil, store.ErrValidation
	}
	return s.repo.ListOrders(ctx, storeID, status, limit)
}

// TransitionOrder moves an order along the status machine. Completion
// triggers the restock cascade inside the repository; the service only adds
// authorization, audit and counters.
func (s *Service) TransitionOrder(ctx context.Context, orderID string, req domain.OrderStatusRequest) (domain.OrderResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	if !domain.IsOrderStatus(req.Status) {
		return domain.OrderResponse{}, store.ErrValidation
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	if _, err := s.authorizeStore(ctx, actor, order.StoreID); err != nil {
		return domain.OrderResponse{}, err
	}

	updated, err := s.repo.TransitionOrder(ctx, orderID, req.Status, time.Now().UTC())
	if err != nil {
		return domain.OrderResponse{}, err
	}

	switch updated.Status {
	case domain.OrderStatusCompleted:
		s.metrics.OrdersCompleted.Inc()
	case domain.OrderStatusCancelled:
		s.metrics.OrdersCancelled.Inc()
	}
	s.logAudit(ctx, updated.StoreID, "order_transition", "order", updated.ID, fmt.Sprintf("%s->%s", order.Status, updated.Status))
	return domain.OrderResponse{Order: *updated, TotalCents: updated.TotalCents()}, nil
}

func (s *Service) ScheduleRobotTask(ctx context.Context, req domain.RobotTaskCreateRequest) (domain.RobotTask, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.RobotTask{}, err
	}
	if actor.Role != "admin" {
		return domain.RobotTask{}, ErrUnauthorized
	}
	if req.OrderID == "" || req.RobotID == "" || req.Qty < 1 {
		return domain.RobotTask{}, store.ErrValidation
	}

	order, err := s.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return domain.RobotTask{}, err
	}
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusProcessing {
		return domain.RobotTask{}, fmt.Errorf("%w: order is %s", store.ErrInvalidTransition, order.Status)
	}

	now := time.Now().UTC()
	task, err := s.repo.CreateRobotTask(ctx, domain.RobotTask{
		ID:        xid.New("task"),
		OrderID:   req.OrderID,
		RobotID:   req.RobotID,
		Qty:       req.Qty,
		Status:    domain.TaskStatusPending,
		StartTime: &now,
	})
	if err != nil {
		return domain.RobotTask{}, err
	}

	s.logAudit(ctx, order.StoreID, "robot_task_create", "robot_task", task.ID, fmt.Sprintf("order=%s,robot=%s,qty=%d", task.OrderID, task.RobotID, task.Qty))
	return *task, nil
}

func (s *Service) ListRobotTasks(ctx context.Context, orderID string) ([]domain.RobotTask, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeStore(ctx, actor, order.StoreID); err != nil {
		return nil, err
	}
	return s.repo.ListRobotTasksByOrder(ctx, orderID)
}

// RecordSale commits a POS transaction and its inventory decrements. Gaps
// are observable, never fatal: the sale goes through, the operator gets the
// list back, the counter ticks.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	if _, err := s.authorizeStore(ctx, actor, req.StoreID); err != nil {
		return domain.SaleResponse{}, err
	}
	if len(req.Items) == 0 || strings.TrimSpace(req.PaymentMethod) == "" {
		return domain.SaleResponse{}, store.ErrValidation
	}

	total := int64(0)
	items := make([]domain.TransactionItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == "" || item.Qty < 1 || item.PriceCents < 0 {
			return domain.SaleResponse{}, store.ErrValidation
		}
		amount := int64(item.Qty) * item.PriceCents
		total += amount
		items = append(items, domain.TransactionItem{
			ProductID:   item.ProductID,
			Qty:         item.Qty,
			PriceCents:  item.PriceCents,
			AmountCents: amount,
		})
	}
	if req.TotalCents != 0 && req.TotalCents != total {
		return domain.SaleResponse{}, fmt.Errorf("%w: total mismatch", store.ErrValidation)
	}

	saved, gaps, err := s.repo.CreateTransaction(ctx, domain.Transaction{
		ID:              xid.New("tx"),
		StoreID:         req.StoreID,
		CashierUsername: actor.Username,
		TotalCents:      total,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		PaymentStatus:   domain.PaymentStatusCompleted,
		TransactionTime: time.Now().UTC(),
		Items:           items,
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.metrics.SalesRecorded.Inc()
	for _, gap := range gaps {
		s.metrics.InventoryGaps.WithLabelValues(gap.StoreID).Inc()
		log.Printf("[sale] WARN: inventory gap store=%s product=%s qty=%d tx=%s", gap.StoreID, gap.ProductID, gap.Qty, saved.ID)
	}

	if err := s.carts.Clear(ctx, req.StoreID, actor.Username); err != nil {
		log.Printf("[cart] WARN: failed to clear cart store=%s user=%s: %v", req.StoreID, actor.Username, err)
	}

	s.logAudit(ctx, saved.StoreID, "sale_record", "transaction", saved.ID, fmt.Sprintf("total=%d,items=%d,gaps=%d", saved.TotalCents, len(saved.Items), len(gaps)))
	return domain.SaleResponse{Transaction: *saved, InventoryGaps: gaps}, nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if _, err := s.authorizeStore(ctx, actor, tx.StoreID); err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

// CancelSale is the compensating operation for RecordSale: payment_status
// flips and every sold quantity goes back on the shelf.
func (s *Service) CancelSale(ctx context.Context, transactionID string) (domain.Transaction, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if _, err := s.authorizeStore(ctx, actor, tx.StoreID); err != nil {
		return domain.Transaction{}, err
	}

	cancelled, err := s.repo.CancelTransaction(ctx, transactionID, time.Now().UTC())
	if err != nil {
		return domain.Transaction{}, err
	}

	s.metrics.SalesCancelled.Inc()
	s.logAudit(ctx, cancelled.StoreID, "sale_cancel", "transaction", cancelled.ID, fmt.Sprintf("total=%d,items=%d", cancelled.TotalCents, len(cancelled.Items)))
	return *cancelled, nil
}

func (s *Service) ListSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if _, err := s.authorizeStore(ctx, actor, storeID); err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, storeID, limit)
}

func (s *Service) GetCart(ctx context.Context, storeID string) (domain.Cart, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	saved, ok, err := s.carts.Get(ctx, storeID, actor.Username)
	if err != nil {
		return domain.Cart{}, err
	}
	if !ok {
		return domain.Cart{StoreID: storeID, Username: actor.Username, Items: []domain.CartItem{}}, nil
	}
	return *saved, nil
}

func (s *Service) SaveCart(ctx context.Context, req domain.CartSaveRequest) (domain.Cart, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Qty < 1 {
			return domain.Cart{}, store.ErrValidation
		}
	}

	saved := domain.Cart{
		StoreID:   req.StoreID,
		Username:  actor.Username,
		Items:     req.Items,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.carts.Save(ctx, saved); err != nil {
		return domain.Cart{}, err
	}
	return saved, nil
}

func (s *Service) ClearCart(ctx context.Context, storeID string) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	return s.carts.Clear(ctx, storeID, actor.Username)
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != "admin" {
		if storeID == "" {
			return nil, ErrUnauthorized
		}
		if _, err := s.authorizeStore(ctx, actor, storeID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListAuditLogs(ctx, storeID, limit)
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
