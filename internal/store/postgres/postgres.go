package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"aisla/backend/internal/domain"
	"aisla/backend/internal/store"
	"aisla/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, price_cents, active, created_at
		FROM products
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.PriceCents, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Code == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrValidation
	}

	product.Active = true
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, price_cents, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, product.ID, product.Code, product.Name, product.PriceCents, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, price_cents, active, created_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&product.ID, &product.Code, &product.Name, &product.PriceCents, &product.Active, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, price_cents, active, created_at
		FROM products
		WHERE active = true AND id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.PriceCents, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateProductPrice(ctx context.Context, productID string, priceCents int64) (*domain.Product, error) {
	if priceCents < 1 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET price_cents = $2, updated_at = now()
		WHERE id = $1
	`, productID, priceCents)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductByID(ctx, productID)
}

func (s *Store) CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error) {
	if st.ID == "" || st.OwnerUsername == "" {
		return nil, store.ErrValidation
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, owner_username, name, created_at)
		VALUES ($1,$2,$3,$4)
	`, st.ID, st.OwnerUsername, st.Name, st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := st
	return &created, nil
}

func (s *Store) GetStoreByID(ctx context.Context, storeID string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_username, name, created_at
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&st.ID, &st.OwnerUsername, &st.Name, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return &st, nil
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_username, name, created_at
		FROM stores
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 16)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.OwnerUsername, &st.Name, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.CreatedAt = st.CreatedAt.UTC()
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

// AdjustInventory applies delta as a single atomic arithmetic statement so
// concurrent adjustments to the same (store, product) row never lose
// updates. The insert branch only fires for positive deltas.
func (s *Store) AdjustInventory(ctx context.Context, storeID string, productID string, delta int, policy domain.AdjustPolicy, defaults domain.InventoryDefaults) (*domain.Inventory, error) {
	if storeID == "" || productID == "" {
		return nil, store.ErrValidation
	}
	return adjustInventory(ctx, s.db, storeID, productID, delta, policy, defaults)
}

// execer covers both *sql.DB and *sql.Tx so the ledger primitive can run
// standalone or inside a larger unit of work.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func adjustInventory(ctx context.Context, db execer, storeID string, productID string, delta int, policy domain.AdjustPolicy, defaults domain.InventoryDefaults) (*domain.Inventory, error) {
	row := domain.Inventory{StoreID: storeID, ProductID: productID}
	var received, expires sql.NullTime
	var location sql.NullString

	if delta >= 0 {
		err := db.QueryRowContext(ctx, `
			INSERT INTO inventories (store_id, product_id, qty, location, received_at, expires_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,now())
			ON CONFLICT (store_id, product_id)
			DO UPDATE SET qty = inventories.qty + EXCLUDED.qty, updated_at = now()
			RETURNING qty, location, received_at, expires_at
		`, storeID, productID, delta, nullIfEmpty(defaults.Location), nullTime(defaults.ReceivedAt), nullTime(defaults.ExpiresAt)).
			Scan(&row.Qty, &location, &received, &expires)
		if err != nil {
			return nil, err
		}
	} else {
		query := `
			UPDATE inventories
			SET qty = qty + $3, updated_at = now()
			WHERE store_id = $1 AND product_id = $2
			RETURNING qty, location, received_at, expires_at
		`
		if policy == domain.RejectNegative {
			query = `
				UPDATE inventories
				SET qty = qty + $3, updated_at = now()
				WHERE store_id = $1 AND product_id = $2 AND qty + $3 >= 0
				RETURNING qty, location, received_at, expires_at
			`
		}
		err := db.QueryRowContext(ctx, query, storeID, productID, delta).
			Scan(&row.Qty, &location, &received, &expires)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				if policy == domain.RejectNegative {
					// Distinguish "no row" from "row too small".
					var exists bool
					checkErr := db.QueryRowContext(ctx, `
						SELECT true FROM inventories WHERE store_id = $1 AND product_id = $2
					`, storeID, productID).Scan(&exists)
					if checkErr == nil {
						return nil, store.ErrInsufficientStock
					}
				}
				return nil, store.ErrNotFound
			}
			return nil, err
		}
	}

	if location.Valid {
		row.Location = location.String
	}
	if received.Valid {
		at := received.Time.UTC()
		row.ReceivedAt = &at
	}
	if expires.Valid {
		at := expires.Time.UTC()
		row.ExpiresAt = &at
	}
	return &row, nil
}

func (s *Store) GetInventory(ctx context.Context, storeID string, productID string) (*domain.Inventory, error) {
	var row domain.Inventory
	var received, expires sql.NullTime
	var location sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, product_id, qty, location, received_at, expires_at
		FROM inventories
		WHERE store_id = $1 AND product_id = $2
	`, storeID, productID).Scan(&row.StoreID, &row.ProductID, &row.Qty, &location, &received, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if location.Valid {
		row.Location = location.String
	}
	if received.Valid {
		at := received.Time.UTC()
		row.ReceivedAt = &at
	}
	if expires.Valid {
		at := expires.Time.UTC()
		row.ExpiresAt = &at
	}
	return &row, nil
}

func (s *Store) ListInventory(ctx context.Context, storeID string) ([]domain.Inventory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, product_id, qty, location, received_at, expires_at
		FROM inventories
		WHERE store_id = $1
		ORDER BY product_id
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Inventory, 0, 64)
	for rows.Next() {
		var row domain.Inventory
		var received, expires sql.NullTime
		var location sql.NullString
		if err := rows.Scan(&row.StoreID, &row.ProductID, &row.Qty, &location, &received, &expires); err != nil {
			return nil, err
		}
		if location.Valid {
			row.Location = location.String
		}
		if received.Valid {
			at := received.Time.UTC()
			row.ReceivedAt = &at
		}
		if expires.Valid {
			at := expires.Time.UTC()
			row.ExpiresAt = &at
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.StoreID == "" || len(order.Items) == 0 {
		return nil, store.ErrValidation
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, store_id, creator_username, order_type, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, order.ID, order.StoreID, order.CreatorUsername, order.Type, order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Qty < 1 {
			return nil, store.ErrValidation
		}
		if item.ID == "" {
			item.ID = xid.New("oitem")
		}
		item.OrderID = order.ID
		if item.Status == "" {
			item.Status = domain.OrderStatusPending
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, qty, price_cents, status)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.ID, item.OrderID, item.ProductID, item.Qty, item.PriceCents, item.Status)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: %s", store.ErrUnknownProduct, item.ProductID)
			}
			return nil, err
		}
		items = append(items, item)
	}
	order.Items = items

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := order
	return &saved, nil
}

func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, creator_username, order_type, status, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.StoreID, &order.CreatorUsername, &order.Type, &order.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	items, err := s.orderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (s *Store) orderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, qty, price_cents, status
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Qty, &item.PriceCents, &item.Status); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, creator_username, order_type, status, created_at, updated_at
		FROM orders
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, storeID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Order, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.StoreID, &order.CreatorUsername, &order.Type, &order.Status, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		order.CreatedAt = order.CreatedAt.UTC()
		order.UpdatedAt = order.UpdatedAt.UTC()
		result = append(result, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return result, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, qty, price_cents, status
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemMap := make(map[string][]domain.OrderItem, len(ids))
	for itemRows.Next() {
		var item domain.OrderItem
		if err := itemRows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Qty, &item.PriceCents, &item.Status); err != nil {
			return nil, err
		}
		itemMap[item.OrderID] = append(itemMap[item.OrderID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		result[i].Items = itemMap[result[i].ID]
	}
	return result, nil
}

// TransitionOrder runs the entire completion cascade as one serializable
// transaction: status CAS, item bulk update, robot task completion and the
// per-item restock increments. A concurrent transition on the same order
// blocks on the row lock and then fails the transition table check, so
// inventory is never double-credited.
func (s *Store) TransitionOrder(ctx context.Context, orderID string, next string, at time.Time) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var order domain.Order
	err = tx.QueryRowContext(ctx, `
		SELECT id, store_id, creator_username, order_type, status, created_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&order.ID, &order.StoreID, &order.CreatorUsername, &order.Type, &order.Status, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !domain.CanTransitionOrder(order.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, order.Status, next)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, orderID, next, at)
	if err != nil {
		return nil, err
	}

	switch next {
	case domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items
			SET status = $2
			WHERE order_id = $1
		`, orderID, next)
	case domain.OrderStatusProcessing:
		// Items already processing or terminal stay as they are, which
		// supports partial incremental processing.
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items
			SET status = $2
			WHERE order_id = $1 AND status = $3
		`, orderID, next, domain.OrderStatusPending)
	}
	if err != nil {
		return nil, err
	}

	if next == domain.OrderStatusCompleted {
		_, err = tx.ExecContext(ctx, `
			UPDATE robot_tasks
			SET status = $2, end_time = $3
			WHERE order_id = $1 AND status = ANY($4)
		`, orderID, domain.TaskStatusCompleted, at, []string{domain.TaskStatusPending, domain.TaskStatusProcessing})
		if err != nil {
			return nil, err
		}

		itemRows, err := tx.QueryContext(ctx, `
			SELECT product_id, qty
			FROM order_items
			WHERE order_id = $1
		`, orderID)
		if err != nil {
			return nil, err
		}
		type restock struct {
			productID string
			qty       int
		}
		restocks := make([]restock, 0, 8)
		for itemRows.Next() {
			var r restock
			if err := itemRows.Scan(&r.productID, &r.qty); err != nil {
				_ = itemRows.Close()
				return nil, err
			}
			restocks = append(restocks, r)
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		_ = itemRows.Close()

		for _, r := range restocks {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO inventories (store_id, product_id, qty, received_at, updated_at)
				VALUES ($1,$2,$3,$4,now())
				ON CONFLICT (store_id, product_id)
				DO UPDATE SET qty = inventories.qty + EXCLUDED.qty, updated_at = now()
			`, order.StoreID, r.productID, r.qty, at)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetOrderByID(ctx, orderID)
}

func (s *Store) CreateRobotTask(ctx context.Context, task domain.RobotTask) (*domain.RobotTask, error) {
	if task.OrderID == "" || task.RobotID == "" || task.Qty < 1 {
		return nil, store.ErrValidation
	}
	if task.ID == "" {
		task.ID = xid.New("task")
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO robot_tasks (id, order_id, robot_id, qty, status, start_time, end_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, task.ID, task.OrderID, task.RobotID, task.Qty, task.Status, nullTime(task.StartTime), nullTime(task.EndTime))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	created := task
	return &created, nil
}

func (s *Store) ListRobotTasksByOrder(ctx context.Context, orderID string) ([]domain.RobotTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, robot_id, qty, status, start_time, end_time
		FROM robot_tasks
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]domain.RobotTask, 0, 8)
	for rows.Next() {
		var task domain.RobotTask
		var start, end sql.NullTime
		if err := rows.Scan(&task.ID, &task.OrderID, &task.RobotID, &task.Qty, &task.Status, &start, &end); err != nil {
			return nil, err
		}
		if start.Valid {
			at := start.Time.UTC()
			task.StartTime = &at
		}
		if end.Valid {
			at := end.Time.UTC()
			task.EndTime = &at
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTransaction commits the sale, its items, the per-item inventory
// decrements and the legacy sale rows as one serializable transaction. A
// missing inventory row does not abort the sale; the historical system
// favors completing sales over blocking on bookkeeping gaps, so the row is
// reported back as a gap instead.
func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, []domain.InventoryGap, error) {
	if tx.StoreID == "" || len(tx.Items) == 0 || tx.PaymentMethod == "" {
		return nil, nil, store.ErrValidation
	}
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.TransactionTime.IsZero() {
		tx.TransactionTime = time.Now().UTC()
	}
	if tx.PaymentStatus == "" {
		tx.PaymentStatus = domain.PaymentStatusCompleted
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, store_id, cashier_username, total_cents, payment_method, payment_status, transaction_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tx.ID, tx.StoreID, tx.CashierUsername, tx.TotalCents, tx.PaymentMethod, tx.PaymentStatus, tx.TransactionTime)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	gaps := make([]domain.InventoryGap, 0)
	for _, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, product_id, qty, price_cents, amount_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, tx.ID, item.ProductID, item.Qty, item.PriceCents, item.AmountCents)
		if err != nil {
			return nil, nil, err
		}

		res, err := pgTx.ExecContext(ctx, `
			UPDATE inventories
			SET qty = qty - $3, updated_at = now()
			WHERE store_id = $1 AND product_id = $2
		`, tx.StoreID, item.ProductID, item.Qty)
		if err != nil {
			return nil, nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, nil, err
		}
		if affected == 0 {
			gaps = append(gaps, domain.InventoryGap{StoreID: tx.StoreID, ProductID: item.ProductID, Qty: item.Qty})
		}

		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO sales (id, product_id, store_id, qty, price_cents, total_cents, payment_method, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, xid.New("sale"), item.ProductID, tx.StoreID, item.Qty, item.PriceCents, item.AmountCents, tx.PaymentMethod, tx.TransactionTime)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	saved := tx
	return &saved, gaps, nil
}

func (s *Store) GetTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var cancelledAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, cashier_username, total_cents, payment_method, payment_status, transaction_time, cancelled_at
		FROM transactions
		WHERE id = $1
	`, transactionID).Scan(&tx.ID, &tx.StoreID, &tx.CashierUsername, &tx.TotalCents, &tx.PaymentMethod, &tx.PaymentStatus, &tx.TransactionTime, &cancelledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.TransactionTime = tx.TransactionTime.UTC()
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		tx.CancelledAt = &at
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty, price_cents, amount_cents
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, tx.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionItem, 0, 8)
	for rows.Next() {
		var item domain.TransactionItem
		if err := rows.Scan(&item.ProductID, &item.Qty, &item.PriceCents, &item.AmountCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tx.Items = items
	return &tx, nil
}

// CancelTransaction is the compensating write for a recorded sale: the
// status flip and every restoring increment commit together. The status
// precondition runs under the row lock, so a double cancel can never credit
// inventory twice.
func (s *Store) CancelTransaction(ctx context.Context, transactionID string, at time.Time) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var tx domain.Transaction
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, store_id, cashier_username, total_cents, payment_method, payment_status, transaction_time
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, transactionID).Scan(&tx.ID, &tx.StoreID, &tx.CashierUsername, &tx.TotalCents, &tx.PaymentMethod, &tx.PaymentStatus, &tx.TransactionTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if tx.PaymentStatus != domain.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: transaction already cancelled", store.ErrInvalidTransition)
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, qty, price_cents, amount_cents
		FROM transaction_items
		WHERE transaction_id = $1
	`, transactionID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.TransactionItem, 0, 8)
	for itemRows.Next() {
		var item domain.TransactionItem
		if err := itemRows.Scan(&item.ProductID, &item.Qty, &item.PriceCents, &item.AmountCents); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET payment_status = $2, cancelled_at = $3
		WHERE id = $1 AND payment_status = $4
	`, transactionID, domain.PaymentStatusCancelled, at, domain.PaymentStatusCompleted)
	if err != nil {
		return nil, err
	}

	// Restore exactly what the sale removed, creating rows that did not
	// exist at sale time.
	for _, item := range items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO inventories (store_id, product_id, qty, received_at, updated_at)
			VALUES ($1,$2,$3,$4,now())
			ON CONFLICT (store_id, product_id)
			DO UPDATE SET qty = inventories.qty + EXCLUDED.qty, updated_at = now()
		`, tx.StoreID, item.ProductID, item.Qty, at)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	tx.PaymentStatus = domain.PaymentStatusCancelled
	cancelled := at
	tx.CancelledAt = &cancelled
	tx.Items = items
	tx.TransactionTime = tx.TransactionTime.UTC()
	return &tx, nil
}

func (s *Store) ListSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, store_id, qty, price_cents, total_cents, payment_method, created_at
		FROM sales
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.ProductID, &sale.StoreID, &sale.Qty, &sale.PriceCents, &sale.TotalCents, &sale.PaymentMethod, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrValidation
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
