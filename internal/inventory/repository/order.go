package repository

import (
	"context"
	"time"

	"github.com/storefront/storefront-backend/pkg/database"
)

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Order is the header of a customer order
type Order struct {
	ID        string    `db:"id" json:"id"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// OrderItem is one product line of an order
type OrderItem struct {
	ID        string `db:"id" json:"id"`
	OrderID   string `db:"order_id" json:"orderId"`
	ProductID string `db:"product_id" json:"productId"`
	Quantity  int    `db:"quantity" json:"quantity"`
}

// OrderRepository reads orders owned by the order service
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Get gets an order header by ID
func (r *OrderRepository) Get(ctx context.Context, id string) (*Order, error) {
	var o Order
	query := `SELECT id, status, created_at, updated_at FROM orders WHERE id = $1`
	if err := r.db.Q(ctx).GetContext(ctx, &o, query, id); err != nil {
		return nil, database.Classify(err, "order", "load order")
	}
	return &o, nil
}

// ListItems lists the lines of an order in a stable order
func (r *OrderRepository) ListItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	items := []OrderItem{}
	query := `
		SELECT id, order_id, product_id, quantity
		FROM order_items WHERE order_id = $1
		ORDER BY id
	`
	if err := r.db.Q(ctx).SelectContext(ctx, &items, query, orderID); err != nil {
		return nil, database.Classify(err, "order", "list order items")
	}
	return items, nil
}

// SumPendingQuantity totals the quantity of a product reserved by pending orders
func (r *OrderRepository) SumPendingQuantity(ctx context.Context, productID string) (int, error) {
	var total int
	query := `
		SELECT COALESCE(SUM(oi.quantity), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.status = $1 AND oi.product_id = $2
	`
	if err := r.db.Q(ctx).GetContext(ctx, &total, query, OrderStatusPending, productID); err != nil {
		return 0, database.Classify(err, "order", "sum pending demand")
	}
	return total, nil
}
