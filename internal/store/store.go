package store

import (
	"context"
	"errors"
	"time"

	"aisla/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid request")
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Repository is the storage contract for the fulfillment engine. Every
// multi-row operation (order creation, status transition, sale recording,
// sale cancellation) is a single atomic unit of work inside the
// implementation: it either fully commits or leaves nothing behind.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, productID string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	UpdateProductPrice(ctx context.Context, productID string, priceCents int64) (*domain.Product, error)

	CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error)
	GetStoreByID(ctx context.Context, storeID string) (*domain.Store, error)
	ListStores(ctx context.Context) ([]domain.Store, error)

	// AdjustInventory applies delta as one atomic arithmetic operation on the
	// (storeID, productID) row. A positive delta creates the row if absent,
	// seeded from defaults. A negative delta on a missing row returns
	// ErrNotFound; callers decide whether that is a gap or a failure.
	AdjustInventory(ctx context.Context, storeID string, productID string, delta int, policy domain.AdjustPolicy, defaults domain.InventoryDefaults) (*domain.Inventory, error)
	GetInventory(ctx context.Context, storeID string, productID string) (*domain.Inventory, error)
	ListInventory(ctx context.Context, storeID string) ([]domain.Inventory, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.Order, error)
	// TransitionOrder validates the transition against the domain table with
	// compare-and-swap semantics and, when the new status is completed,
	// cascades item statuses, robot task completion and inventory restock in
	// the same unit of work.
	TransitionOrder(ctx context.Context, orderID string, next string, at time.Time) (*domain.Order, error)

	CreateRobotTask(ctx context.Context, task domain.RobotTask) (*domain.RobotTask, error)
	ListRobotTasksByOrder(ctx context.Context, orderID string) ([]domain.RobotTask, error)

	// CreateTransaction persists the sale, its items, the legacy sale rows
	// and every inventory decrement atomically. Missing inventory rows do
	// not abort the sale; they come back as gaps.
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, []domain.InventoryGap, error)
	GetTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error)
	// CancelTransaction flips payment_status completed -> cancelled and
	// restores exactly the sold quantities, creating missing rows. A second
	// cancel fails the status precondition with ErrInvalidTransition.
	CancelTransaction(ctx context.Context, transactionID string, at time.Time) (*domain.Transaction, error)
	ListSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
