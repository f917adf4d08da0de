package domain

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// ValidationError reports malformed or incomplete product data.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// Product represents a product in the catalog. ID is zero until the
// repository assigns one.
type Product struct {
	ID          int64           `db:"id"`
	Name        string          `db:"name" validate:"required"`
	Stock       int             `db:"stock"`
	Price       decimal.Decimal `db:"price"`
	Description string          `db:"description"`
	Category    string          `db:"category" validate:"required"`
}

// requiredKeys are the payload keys a create/update body must carry, in
// the order they are reported when absent.
var requiredKeys = []string{"name", "stock", "price", "description", "category"}

// Deserialize populates the product from a decoded JSON body. The id is
// never taken from input, it stays server-controlled. Returns the
// product to allow chaining.
func (p *Product) Deserialize(data map[string]any) (*Product, error) {
	if data == nil {
		return nil, newValidationError("body of request contained bad or no data")
	}

	for _, key := range requiredKeys {
		if _, ok := data[key]; !ok {
			return nil, newValidationError("Invalid product: missing " + key)
		}
	}

	name, ok := data["name"].(string)
	if !ok {
		return nil, newValidationError("body of request contained bad or no data")
	}
	category, ok := data["category"].(string)
	if !ok {
		return nil, newValidationError("body of request contained bad or no data")
	}
	description, ok := data["description"].(string)
	if !ok {
		return nil, newValidationError("body of request contained bad or no data")
	}
	stock, ok := asNumber(data["stock"])
	if !ok {
		return nil, newValidationError("body of request contained bad or no data")
	}
	price, ok := asNumber(data["price"])
	if !ok {
		return nil, newValidationError("body of request contained bad or no data")
	}

	p.Name = name
	p.Stock = int(stock)
	p.Price = decimal.NewFromFloat(price).Round(2)
	p.Description = description
	p.Category = category

	if err := validate.Struct(p); err != nil {
		if _, ok := err.(validator.ValidationErrors); ok {
			return nil, newValidationError("Field cannot be empty string")
		}
		return nil, err
	}

	return p, nil
}

// Serialize produces the wire representation. Price goes out as a
// floating-point number regardless of the fixed-point storage.
func (p *Product) Serialize() map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"stock":       p.Stock,
		"price":       p.Price.InexactFloat64(),
		"description": p.Description,
		"category":    p.Category,
	}
}

// asNumber accepts the numeric shapes a decoded JSON body or a test
// fixture can carry.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
