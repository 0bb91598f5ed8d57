package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Inventory batch lifecycle
	EventBatchCreated  = "inventory.batch.created"
	EventBatchUpdated  = "inventory.batch.updated"
	EventBatchDeducted = "inventory.batch.deducted"
	EventBatchDeleted  = "inventory.batch.deleted"

	// Derived stock
	EventStockReconciled = "inventory.stock.reconciled"

	// Order events consumed by the inventory service
	EventOrderStatusChanged = "order.status.changed"
)

// Exchange names
const (
	ExchangeInventoryEvents = "inventory.events"
	ExchangeOrderEvents     = "order.events"
	ExchangeDeadLetter      = "dlx.events"
)

// Event is the envelope every message on the bus is wrapped in
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// BatchCreatedEvent is published when a batch is received into stock
type BatchCreatedEvent struct {
	BatchNumber string          `json:"batch_number"`
	ProductID   string          `json:"product_id"`
	Importer    string          `json:"importer"`
	Quantity    int             `json:"quantity"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	ExpiryDate  time.Time       `json:"expiry_date"`
}

// BatchUpdatedEvent is published when a batch quantity or expiry is changed
type BatchUpdatedEvent struct {
	BatchNumber       string    `json:"batch_number"`
	ProductID         string    `json:"product_id"`
	QuantityDelta     int       `json:"quantity_delta"`
	Quantity          int       `json:"quantity"`
	RemainingQuantity int       `json:"remaining_quantity"`
	ExpiryDate        time.Time `json:"expiry_date"`
}

// BatchDeductedEvent is published when stock is taken out of a batch
type BatchDeductedEvent struct {
	BatchNumber       string `json:"batch_number"`
	ProductID         string `json:"product_id"`
	Quantity          int    `json:"quantity"`
	RemainingQuantity int    `json:"remaining_quantity"`
	OrderID           string `json:"order_id,omitempty"`
}

// BatchDeletedEvent is published when an untouched batch is removed
type BatchDeletedEvent struct {
	BatchNumber string `json:"batch_number"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
}

// StockReconciledEvent is published after a product's stock is recomputed
type StockReconciledEvent struct {
	ProductID      string    `json:"product_id"`
	PreviousStock  int       `json:"previous_stock"`
	CurrentStock   int       `json:"current_stock"`
	TotalRemaining int       `json:"total_remaining"`
	TotalPending   int       `json:"total_pending"`
	ReconciledAt   time.Time `json:"reconciled_at"`
}

// OrderStatusChangedEvent is published by the order service
type OrderStatusChangedEvent struct {
	OrderID    string `json:"order_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}
