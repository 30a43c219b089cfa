package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"aisla/backend/internal/domain"
	"aisla/backend/internal/store"
	"aisla/backend/internal/xid"
)

type invKey struct {
	storeID   string
	productID string
}

// Store is an in-memory Repository used for tests and dev mode. A single
// mutex serializes every unit of work, which gives the same all-or-nothing
// semantics as the postgres transactions.
type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	stores           map[string]domain.Store
	inventory        map[invKey]domain.Inventory
	ordersByID       map[string]*domain.Order
	robotTasksByID   map[string]domain.RobotTask
	transactionsByID map[string]*domain.Transaction
	sales            []domain.Sale
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		stores:           make(map[string]domain.Store),
		inventory:        make(map[invKey]domain.Inventory),
		ordersByID:       make(map[string]*domain.Order),
		robotTasksByID:   make(map[string]domain.RobotTask),
		transactionsByID: make(map[string]*domain.Transaction),
		sales:            make([]domain.Sale, 0, 64),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_OWNER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OWNER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_OWNER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"owner", ownerPwd, "owner"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store preloaded with a demo catalog and one store.
// No inventory rows are seeded: rows appear lazily when restock orders
// complete, which mirrors a fresh deployment.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.stores["store-main"] = domain.Store{
		ID:            "store-main",
		OwnerUsername: "owner",
		Name:          "Main Street Store",
		CreatedAt:     now,
	}

	products := []domain.Product{
		{ID: "prod-noodles", Code: "P-NOODLES-01", Name: "Instant Noodles", PriceCents: 3500, Active: true, CreatedAt: now},
		{ID: "prod-eggs", Code: "P-EGGS-10", Name: "Eggs (10 pack)", PriceCents: 26500, Active: true, CreatedAt: now},
		{ID: "prod-milk", Code: "P-MILK-1L", Name: "UHT Milk 1L", PriceCents: 18900, Active: true, CreatedAt: now},
		{ID: "prod-bread", Code: "P-BREAD-01", Name: "White Bread", PriceCents: 17800, Active: true, CreatedAt: now},
		{ID: "prod-coffee", Code: "P-COFFEE-01", Name: "Coffee Sachet", PriceCents: 2600, Active: true, CreatedAt: now},
		{ID: "prod-water", Code: "P-WATER-600", Name: "Mineral Water 600ml", PriceCents: 3900, Active: true, CreatedAt: now},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Code == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrValidation
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}

	product.Active = true
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, exists := s.products[id]; exists && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) UpdateProductPrice(_ context.Context, productID string, priceCents int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if priceCents < 1 {
		return nil, store.ErrValidation
	}
	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.PriceCents = priceCents
	s.products[productID] = product
	updated := product
	return &updated, nil
}

func (s *Store) CreateStore(_ context.Context, st domain.Store) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" || st.OwnerUsername == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.stores[st.ID]; exists {
		return nil, store.ErrValidation
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	s.stores[st.ID] = st
	created := st
	return &created, nil
}

func (s *Store) GetStoreByID(_ context.Context, storeID string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.stores[storeID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyStore := st
	return &copyStore, nil
}

func (s *Store) ListStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stores := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		stores = append(stores, st)
	}
	slices.SortFunc(stores, func(a, b domain.Store) int {
		return strings.Compare(a.ID, b.ID)
	})
	return stores, nil
}

func (s *Store) AdjustInventory(_ context.Context, storeID string, productID string, delta int, policy domain.AdjustPolicy, defaults domain.InventoryDefaults) (*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustInventoryLocked(storeID, productID, delta, policy, defaults)
}

// adjustInventoryLocked is the ledger primitive. Callers must hold s.mu.
func (s *Store) adjustInventoryLocked(storeID string, productID string, delta int, policy domain.AdjustPolicy, defaults domain.InventoryDefaults) (*domain.Inventory, error) {
	key := invKey{storeID: storeID, productID: productID}
	row, exists := s.inventory[key]
	if !exists {
		if delta < 0 {
			return nil, store.ErrNotFound
		}
		row = domain.Inventory{
			StoreID:    storeID,
			ProductID:  productID,
			Qty:        delta,
			Location:   defaults.Location,
			ReceivedAt: defaults.ReceivedAt,
			ExpiresAt:  defaults.ExpiresAt,
		}
		s.inventory[key] = row
		created := row
		return &created, nil
	}

	if policy == domain.RejectNegative && row.Qty+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	row.Qty += delta
	s.inventory[key] = row
	updated := row
	return &updated, nil
}

func (s *Store) GetInventory(_ context.Context, storeID string, productID string) (*domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.inventory[invKey{storeID: storeID, productID: productID}]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyRow := row
	return &copyRow, nil
}

func (s *Store) ListInventory(_ context.Context, storeID string) ([]domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.Inventory, 0, len(s.inventory))
	for key, row := range s.inventory {
		if key.storeID != storeID {
			continue
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b domain.Inventory) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return rows, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.StoreID == "" || len(order.Items) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.stores[order.StoreID]; !exists {
		return nil, store.ErrNotFound
	}
	for _, item := range order.Items {
		if item.Qty < 1 {
			return nil, store.ErrValidation
		}
		if _, exists := s.products[item.ProductID]; !exists {
			return nil, fmt.Errorf("%w: %s", store.ErrUnknownProduct, item.ProductID)
		}
	}

	if order.ID == "" {
		order.ID = xid.New("order")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}

	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = xid.New("oitem")
		}
		item.OrderID = order.ID
		if item.Status == "" {
			item.Status = domain.OrderStatusPending
		}
		items = append(items, item)
	}
	order.Items = items

	saved := order
	s.ordersByID[order.ID] = &saved
	result := cloneOrder(saved)
	return &result, nil
}

func (s *Store) GetOrderByID(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	result := cloneOrder(*order)
	return &result, nil
}

func (s *Store) ListOrders(_ context.Context, storeID string, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if storeID != "" && order.StoreID != storeID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, cloneOrder(*order))
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) TransitionOrder(_ context.Context, orderID string, next string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !domain.CanTransitionOrder(order.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, order.Status, next)
	}

	order.Status = next
	order.UpdatedAt = at

	switch next {
	case domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		for i := range order.Items {
			order.Items[i].Status = next
		}
	case domain.OrderStatusProcessing:
		for i := range order.Items {
			if order.Items[i].Status == domain.OrderStatusPending {
				order.Items[i].Status = domain.OrderStatusProcessing
			}
		}
	}

	if next == domain.OrderStatusCompleted {
		endTime := at
		for id, task := range s.robotTasksByID {
			if task.OrderID != orderID {
				continue
			}
			if task.Status == domain.TaskStatusPending || task.Status == domain.TaskStatusProcessing {
				task.Status = domain.TaskStatusCompleted
				task.EndTime = &endTime
				s.robotTasksByID[id] = task
			}
		}
		receivedAt := at
		for _, item := range order.Items {
			if _, err := s.adjustInventoryLocked(order.StoreID, item.ProductID, item.Qty, domain.AllowNegative, domain.InventoryDefaults{ReceivedAt: &receivedAt}); err != nil {
				return nil, err
			}
		}
	}

	result := cloneOrder(*order)
	return &result, nil
}

func (s *Store) CreateRobotTask(_ context.Context, task domain.RobotTask) (*domain.RobotTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.OrderID == "" || task.RobotID == "" || task.Qty < 1 {
		return nil, store.ErrValidation
	}
	if _, exists := s.ordersByID[task.OrderID]; !exists {
		return nil, store.ErrNotFound
	}
	if task.ID == "" {
		task.ID = xid.New("task")
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	s.robotTasksByID[task.ID] = task
	created := task
	return &created, nil
}

func (s *Store) ListRobotTasksByOrder(_ context.Context, orderID string) ([]domain.RobotTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]domain.RobotTask, 0, 8)
	for _, task := range s.robotTasksByID {
		if task.OrderID == orderID {
			tasks = append(tasks, task)
		}
	}
	slices.SortFunc(tasks, func(a, b domain.RobotTask) int {
		return strings.Compare(a.ID, b.ID)
	})
	return tasks, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, []domain.InventoryGap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.StoreID == "" || len(tx.Items) == 0 || tx.PaymentMethod == "" {
		return nil, nil, store.ErrValidation
	}
	if _, exists := s.stores[tx.StoreID]; !exists {
		return nil, nil, store.ErrNotFound
	}

	total := int64(0)
	items := make([]domain.TransactionItem, 0, len(tx.Items))
	for _, item := range tx.Items {
		if item.ProductID == "" || item.Qty < 1 || item.PriceCents < 0 {
			return nil, nil, store.ErrValidation
		}
		item.AmountCents = int64(item.Qty) * item.PriceCents
		total += item.AmountCents
		items = append(items, item)
	}
	tx.Items = items
	tx.TotalCents = total

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.TransactionTime.IsZero() {
		tx.TransactionTime = time.Now().UTC()
	}
	if tx.PaymentStatus == "" {
		tx.PaymentStatus = domain.PaymentStatusCompleted
	}

	// Snapshot for rollback: the whole sale is one unit of work.
	touched := make(map[invKey]*domain.Inventory, len(items))
	for _, item := range items {
		key := invKey{storeID: tx.StoreID, productID: item.ProductID}
		if row, exists := s.inventory[key]; exists {
			copyRow := row
			touched[key] = &copyRow
		} else {
			touched[key] = nil
		}
	}

	gaps := make([]domain.InventoryGap, 0)
	for _, item := range items {
		_, err := s.adjustInventoryLocked(tx.StoreID, item.ProductID, -item.Qty, domain.AllowNegative, domain.InventoryDefaults{})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				gaps = append(gaps, domain.InventoryGap{StoreID: tx.StoreID, ProductID: item.ProductID, Qty: item.Qty})
				continue
			}
			s.restoreInventory(touched)
			return nil, nil, err
		}
	}

	for _, item := range items {
		s.sales = append(s.sales, domain.Sale{
			ID:            xid.New("sale"),
			ProductID:     item.ProductID,
			StoreID:       tx.StoreID,
			Qty:           item.Qty,
			PriceCents:    item.PriceCents,
			TotalCents:    item.AmountCents,
			PaymentMethod: tx.PaymentMethod,
			CreatedAt:     tx.TransactionTime,
		})
	}

	saved := tx
	s.transactionsByID[tx.ID] = &saved
	result := cloneTransaction(saved)
	return &result, gaps, nil
}

func (s *Store) restoreInventory(touched map[invKey]*domain.Inventory) {
	for key, row := range touched {
		if row == nil {
			delete(s.inventory, key)
		} else {
			s.inventory[key] = *row
		}
	}
}

func (s *Store) GetTransactionByID(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactionsByID[transactionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	result := cloneTransaction(*tx)
	return &result, nil
}

func (s *Store) CancelTransaction(_ context.Context, transactionID string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactionsByID[transactionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if tx.PaymentStatus != domain.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: transaction already cancelled", store.ErrInvalidTransition)
	}

	tx.PaymentStatus = domain.PaymentStatusCancelled
	cancelledAt := at
	tx.CancelledAt = &cancelledAt

	for _, item := range tx.Items {
		if _, err := s.adjustInventoryLocked(tx.StoreID, item.ProductID, item.Qty, domain.AllowNegative, domain.InventoryDefaults{ReceivedAt: &cancelledAt}); err != nil {
			return nil, err
		}
	}

	result := cloneTransaction(*tx)
	return &result, nil
}

func (s *Store) ListSales(_ context.Context, storeID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, limit)
	for i := len(s.sales) - 1; i >= 0 && len(sales) < limit; i-- {
		if storeID != "" && s.sales[i].StoreID != storeID {
			continue
		}
		sales = append(sales, s.sales[i])
	}
	return sales, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		if storeID != "" && s.auditLogs[i].StoreID != storeID {
			continue
		}
		logs = append(logs, s.auditLogs[i])
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	return order
}

func cloneTransaction(tx domain.Transaction) domain.Transaction {
	items := make([]domain.TransactionItem, len(tx.Items))
	copy(items, tx.Items)
	tx.Items = items
	return tx
}
