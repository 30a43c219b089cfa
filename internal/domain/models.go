package domain

import "time"

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

const (
	OrderTypeManual     = "manual"
	OrderTypePrediction = "prediction"
)

const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
)

const (
	PaymentStatusCompleted = "completed"
	PaymentStatusCancelled = "cancelled"
)

// orderTransitions is the closed transition table for order status changes.
// completed and cancelled are terminal and have no outgoing edges.
var orderTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusCancelled},
}

func CanTransitionOrder(from string, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

func IsOrderType(orderType string) bool {
	return orderType == OrderTypeManual || orderType == OrderTypePrediction
}

// AdjustPolicy controls how the inventory ledger treats a decrement that
// would push quantity below zero.
type AdjustPolicy int

const (
	// AllowNegative applies the delta unconditionally. This is the legacy
	// POS behavior: sales are never blocked by bookkeeping gaps.
	AllowNegative AdjustPolicy = iota
	// RejectNegative refuses any adjustment that would leave qty < 0.
	RejectNegative
)

type Store struct {
	ID            string    `json:"id"`
	OwnerUsername string    `json:"owner_username"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
}

type StoreCreateRequest struct {
	ID            string `json:"id"`
	OwnerUsername string `json:"owner_username"`
	Name          string `json:"name"`
}

type Product struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

// Inventory is the per-(store, product) on-hand quantity row. It is created
// lazily on the first stock-increasing event and mutated only through the
// ledger adjust operation.
type Inventory struct {
	StoreID    string     `json:"store_id"`
	ProductID  string     `json:"product_id"`
	Qty        int        `json:"qty"`
	Location   string     `json:"location,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// InventoryDefaults seeds the non-quantity columns when an adjust operation
// has to create the inventory row.
type InventoryDefaults struct {
	Location   string
	ReceivedAt *time.Time
	ExpiresAt  *time.Time
}

// InventoryGap records a sale decrement that found no inventory row. The
// sale still commits; the gap is surfaced for operator reconciliation.
type InventoryGap struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type Order struct {
	ID              string      `json:"id"`
	StoreID         string      `json:"store_id"`
	CreatorUsername string      `json:"creator_username"`
	Type            string      `json:"type"`
	Status          string      `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Items           []OrderItem `json:"items"`
}

// TotalCents recomputes the order total from snapshot prices. The total is
// never stored so it cannot drift from the item rows.
func (o Order) TotalCents() int64 {
	total := int64(0)
	for _, item := range o.Items {
		total += int64(item.Qty) * item.PriceCents
	}
	return total
}

type OrderItem struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
	Status     string `json:"status"`
}

type OrderItemRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreateRequest struct {
	StoreID string             `json:"store_id"`
	Type    string             `json:"type"`
	Items   []OrderItemRequest `json:"items"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
}

type OrderResponse struct {
	Order      Order `json:"order"`
	TotalCents int64 `json:"total_cents"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

type RobotTask struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"order_id"`
	RobotID   string     `json:"robot_id"`
	Qty       int        `json:"qty"`
	Status    string     `json:"status"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

type RobotTaskCreateRequest struct {
	OrderID string `json:"order_id"`
	RobotID string `json:"robot_id"`
	Qty     int    `json:"qty"`
}

type Transaction struct {
	ID              string            `json:"id"`
	StoreID         string            `json:"store_id"`
	CashierUsername string            `json:"cashier_username"`
	TotalCents      int64             `json:"total_cents"`
	PaymentMethod   string            `json:"payment_method"`
	PaymentStatus   string            `json:"payment_status"`
	TransactionTime time.Time         `json:"transaction_time"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	Items           []TransactionItem `json:"items"`
}

type TransactionItem struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
	// AmountCents is always Qty * PriceCents, validated at write time.
	AmountCents int64 `json:"amount_cents"`
}

type SaleItemRequest struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type SaleCreateRequest struct {
	StoreID       string            `json:"store_id"`
	PaymentMethod string            `json:"payment_method"`
	TotalCents    int64             `json:"total_cents"`
	Items         []SaleItemRequest `json:"items"`
}

type SaleResponse struct {
	Transaction   Transaction    `json:"transaction"`
	InventoryGaps []InventoryGap `json:"inventory_gaps,omitempty"`
}

// Sale is the legacy denormalized ledger: one write-only row per transaction
// item, kept for backward compatibility with downstream reporting. The
// engine appends these rows and never reads them back.
type Sale struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	StoreID       string    `json:"store_id"`
	Qty           int       `json:"qty"`
	PriceCents    int64     `json:"price_cents"`
	TotalCents    int64     `json:"total_cents"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
}

type Cart struct {
	StoreID   string     `json:"store_id"`
	Username  string     `json:"username"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CartSaveRequest struct {
	StoreID string     `json:"store_id"`
	Items   []CartItem `json:"items"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
