package repository

import "strings"

// BatchSortFields maps the sortBy values accepted by the API to columns
var BatchSortFields = map[string]string{
	"createdAt":         "created_at",
	"updatedAt":         "updated_at",
	"batchNumber":       "batch_number",
	"expiryDate":        "expiry_date",
	"receivedDate":      "received_date",
	"quantity":          "quantity",
	"remainingQuantity": "remaining_quantity",
	"costPrice":         "cost_price",
}

// ValidateSortOrder normalizes the sort order to ASC or DESC, defaulting to DESC.
func ValidateSortOrder(order string) string {
	if strings.EqualFold(strings.TrimSpace(order), "asc") {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField returns field if it is in allowed, otherwise defaultField.
func ValidateSortField(field string, allowed map[string]string, defaultField string) string {
	field = strings.TrimSpace(field)
	if _, ok := allowed[field]; ok {
		return field
	}
	return defaultField
}
