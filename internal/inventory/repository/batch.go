package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/storefront-backend/pkg/database"
)

// Batch is a received lot of a single product with its own expiry and cost
type Batch struct {
	ID                string          `db:"id" json:"id"`
	BatchNumber       string          `db:"batch_number" json:"batchNumber"`
	ProductID         string          `db:"product_id" json:"productId"`
	Importer          string          `db:"importer" json:"importer"`
	Quantity          int             `db:"quantity" json:"quantity"`
	RemainingQuantity int             `db:"remaining_quantity" json:"remainingQuantity"`
	CostPrice         decimal.Decimal `db:"cost_price" json:"costPrice"`
	ExpiryDate        time.Time       `db:"expiry_date" json:"expiryDate"`
	ReceivedDate      time.Time       `db:"received_date" json:"receivedDate"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// Untouched reports whether nothing has been taken out of the batch yet.
func (b *Batch) Untouched() bool {
	return b.RemainingQuantity == b.Quantity
}

// BatchFilter narrows and orders a batch listing
type BatchFilter struct {
	BatchNumber string
	ProductID   string
	Importer    string
	SortBy      string
	SortOrder   string
	Page        int
	Limit       int
}

const batchColumns = `id, batch_number, product_id, importer, quantity, remaining_quantity,
	cost_price, expiry_date, received_date, created_at, updated_at`

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a batch. ID and timestamps are filled in from the database.
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	query := `
		INSERT INTO inventory_batches (
			batch_number, product_id, importer, quantity, remaining_quantity,
			cost_price, expiry_date, received_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		RETURNING id, received_date, created_at, updated_at
	`

	var received *time.Time
	if !batch.ReceivedDate.IsZero() {
		received = &batch.ReceivedDate
	}

	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		batch.BatchNumber, batch.ProductID, batch.Importer, batch.Quantity,
		batch.RemainingQuantity, batch.CostPrice, batch.ExpiryDate, received,
	).Scan(&batch.ID, &batch.ReceivedDate, &batch.CreatedAt, &batch.UpdatedAt)

	return database.Classify(err, "product", "create batch")
}

// GetByNumber gets a batch by its batch number
func (r *BatchRepository) GetByNumber(ctx context.Context, batchNumber string) (*Batch, error) {
	return r.get(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE batch_number = $1`, batchNumber)
}

// GetByNumberForUpdate reads a batch and locks its row until the surrounding transaction ends
func (r *BatchRepository) GetByNumberForUpdate(ctx context.Context, batchNumber string) (*Batch, error) {
	return r.get(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE batch_number = $1 FOR UPDATE`, batchNumber)
}

func (r *BatchRepository) get(ctx context.Context, query, batchNumber string) (*Batch, error) {
	var batch Batch
	if err := r.db.Q(ctx).GetContext(ctx, &batch, query, batchNumber); err != nil {
		return nil, database.Classify(err, "batch", "load batch")
	}
	return &batch, nil
}

// ListByProduct lists every batch of a product, nearest expiry first
func (r *BatchRepository) ListByProduct(ctx context.Context, productID string) ([]Batch, error) {
	batches := []Batch{}
	query := `
		SELECT ` + batchColumns + ` FROM inventory_batches
		WHERE product_id = $1
		ORDER BY expiry_date ASC, received_date ASC, batch_number ASC
	`
	if err := r.db.Q(ctx).SelectContext(ctx, &batches, query, productID); err != nil {
		return nil, database.Classify(err, "product", "list product batches")
	}
	return batches, nil
}

// ListAvailableByProduct lists batches with stock left, nearest expiry first.
// Expired batches are included; whether to sell them is the caller's decision.
func (r *BatchRepository) ListAvailableByProduct(ctx context.Context, productID string) ([]Batch, error) {
	return r.listAvailable(ctx, availableByProductQuery, productID)
}

// ListAvailableByProductForUpdate is ListAvailableByProduct that also locks
// the listed rows until the surrounding transaction ends. A caller blocked on
// the lock sees rows drained in the meantime drop out of the result.
func (r *BatchRepository) ListAvailableByProductForUpdate(ctx context.Context, productID string) ([]Batch, error) {
	return r.listAvailable(ctx, availableByProductQuery+` FOR UPDATE`, productID)
}

const availableByProductQuery = `
		SELECT ` + batchColumns + ` FROM inventory_batches
		WHERE product_id = $1 AND remaining_quantity > 0
		ORDER BY expiry_date ASC, received_date ASC, batch_number ASC`

func (r *BatchRepository) listAvailable(ctx context.Context, query, productID string) ([]Batch, error) {
	batches := []Batch{}
	if err := r.db.Q(ctx).SelectContext(ctx, &batches, query, productID); err != nil {
		return nil, database.Classify(err, "product", "list available batches")
	}
	return batches, nil
}

// ListAll lists every batch, newest first
func (r *BatchRepository) ListAll(ctx context.Context) ([]Batch, error) {
	batches := []Batch{}
	query := `SELECT ` + batchColumns + ` FROM inventory_batches ORDER BY created_at DESC, batch_number DESC`
	if err := r.db.Q(ctx).SelectContext(ctx, &batches, query); err != nil {
		return nil, database.Classify(err, "batch", "list batches")
	}
	return batches, nil
}

// List returns one page of batches matching filter and the total match count
func (r *BatchRepository) List(ctx context.Context, filter BatchFilter) ([]Batch, int64, error) {
	where, args := filter.where()

	var total int64
	countQuery := `SELECT COUNT(*) FROM inventory_batches` + where
	if err := r.db.Q(ctx).GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, database.Classify(err, "batch", "count batches")
	}

	sortColumn := ValidateSortField(filter.SortBy, BatchSortFields, "createdAt")
	order := ValidateSortOrder(filter.SortOrder)
	offset := (filter.Page - 1) * filter.Limit

	query := fmt.Sprintf(`SELECT %s FROM inventory_batches%s ORDER BY %s %s, batch_number %s LIMIT $%d OFFSET $%d`,
		batchColumns, where, BatchSortFields[sortColumn], order, order, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, offset)

	batches := []Batch{}
	if err := r.db.Q(ctx).SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, database.Classify(err, "batch", "list batches")
	}
	return batches, total, nil
}

func (f BatchFilter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.BatchNumber != "" {
		args = append(args, "%"+escapeLike(f.BatchNumber)+"%")
		clauses = append(clauses, fmt.Sprintf("batch_number ILIKE $%d", len(args)))
	}
	if f.ProductID != "" {
		args = append(args, f.ProductID)
		clauses = append(clauses, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if f.Importer != "" {
		args = append(args, f.Importer)
		clauses = append(clauses, fmt.Sprintf("importer = $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ApplyQuantityDelta adds delta to both quantity and remaining_quantity and
// optionally replaces the expiry date. The caller computes delta under a row lock.
func (r *BatchRepository) ApplyQuantityDelta(ctx context.Context, batchNumber string, delta int, expiry *time.Time) (*Batch, error) {
	query := `
		UPDATE inventory_batches SET
			quantity = quantity + $2,
			remaining_quantity = remaining_quantity + $2,
			expiry_date = COALESCE($3, expiry_date),
			updated_at = NOW()
		WHERE batch_number = $1
		RETURNING ` + batchColumns

	var batch Batch
	if err := r.db.Q(ctx).GetContext(ctx, &batch, query, batchNumber, delta, expiry); err != nil {
		return nil, database.Classify(err, "batch", "update batch")
	}
	return &batch, nil
}

// Deduct atomically takes quantity out of a batch. It returns ErrNotDeducted
// when the batch is missing or has less than quantity left; the row is not changed.
func (r *BatchRepository) Deduct(ctx context.Context, batchNumber string, quantity int) (*Batch, error) {
	query := `
		UPDATE inventory_batches SET
			remaining_quantity = remaining_quantity - $2,
			updated_at = NOW()
		WHERE batch_number = $1 AND remaining_quantity >= $2
		RETURNING ` + batchColumns

	var batch Batch
	err := r.db.Q(ctx).GetContext(ctx, &batch, query, batchNumber, quantity)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotDeducted
	}
	if err != nil {
		return nil, database.Classify(err, "batch", "deduct from batch")
	}
	return &batch, nil
}

// DeleteUntouched removes a batch only if nothing has been taken out of it.
// It returns ErrNotDeleted when no such batch exists.
func (r *BatchRepository) DeleteUntouched(ctx context.Context, batchNumber string) (*Batch, error) {
	query := `
		DELETE FROM inventory_batches
		WHERE batch_number = $1 AND remaining_quantity = quantity
		RETURNING ` + batchColumns

	var batch Batch
	err := r.db.Q(ctx).GetContext(ctx, &batch, query, batchNumber)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotDeleted
	}
	if err != nil {
		return nil, database.Classify(err, "batch", "delete batch")
	}
	return &batch, nil
}

// SumUnexpiredRemaining totals what is left in a product's batches that expire after asOf
func (r *BatchRepository) SumUnexpiredRemaining(ctx context.Context, productID string, asOf time.Time) (int, error) {
	var total int
	query := `
		SELECT COALESCE(SUM(remaining_quantity), 0) FROM inventory_batches
		WHERE product_id = $1 AND remaining_quantity > 0 AND expiry_date > $2
	`
	if err := r.db.Q(ctx).GetContext(ctx, &total, query, productID, asOf); err != nil {
		return 0, database.Classify(err, "batch", "sum remaining stock")
	}
	return total, nil
}
