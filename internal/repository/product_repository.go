package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"product-catalog/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrOutOfStock      = errors.New("product out of stock")
)

// ProductRepository defines the persistence operations over Product.
type ProductRepository interface {
	Save(ctx context.Context, product *domain.Product) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
	Find(ctx context.Context, id int64) (*domain.Product, error)
	FindByCategory(ctx context.Context, category string) ([]*domain.Product, error)
	FindByName(ctx context.Context, name string) ([]*domain.Product, error)
	FindByPrice(ctx context.Context, low, high decimal.Decimal) ([]*domain.Product, error)
	All(ctx context.Context) ([]*domain.Product, error)
	DecrementStock(ctx context.Context, id int64) (*domain.Product, error)
}

type productRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db *sql.DB, logger *zap.Logger) ProductRepository {
	return &productRepository{db: db, logger: logger}
}

const productColumns = "id, name, stock, price, description, category"

// Save inserts the product when it has no id yet, otherwise updates the
// existing row. The assigned id is visible on the entity as soon as
// Save returns.
func (r *productRepository) Save(ctx context.Context, product *domain.Product) error {
	if product.ID == 0 {
		r.logger.Info("Saving new product", zap.String("name", product.Name))

		query := `
			INSERT INTO products (name, stock, price, description, category)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`

		err := r.db.QueryRowContext(
			ctx,
			query,
			product.Name,
			product.Stock,
			product.Price,
			product.Description,
			product.Category,
		).Scan(&product.ID)

		if err != nil {
			return fmt.Errorf("failed to create product: %w", err)
		}

		return nil
	}

	r.logger.Info("Updating product", zap.Int64("id", product.ID), zap.String("name", product.Name))

	query := `
		UPDATE products
		SET name = $2, stock = $3, price = $4, description = $5, category = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		product.ID,
		product.Name,
		product.Stock,
		product.Price,
		product.Description,
		product.Category,
	)

	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrProductNotFound
	}

	return nil
}

// Delete removes the row matching the id. Deleting an absent id returns
// ErrProductNotFound; callers that want idempotent deletes check
// existence first.
func (r *productRepository) Delete(ctx context.Context, id int64) error {
	r.logger.Info("Deleting product", zap.Int64("id", id))

	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrProductNotFound
	}

	return nil
}

// DeleteAll removes every row unconditionally.
func (r *productRepository) DeleteAll(ctx context.Context) error {
	r.logger.Info("Deleting all products")

	if _, err := r.db.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("failed to delete all products: %w", err)
	}

	return nil
}

// Find retrieves a product by id. A missing id is not an error here:
// the result is nil, nil.
func (r *productRepository) Find(ctx context.Context, id int64) (*domain.Product, error) {
	r.logger.Info("Processing lookup", zap.Int64("id", id))

	query := fmt.Sprintf(`SELECT %s FROM products WHERE id = $1`, productColumns)

	product := &domain.Product{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.Name,
		&product.Stock,
		&product.Price,
		&product.Description,
		&product.Category,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find product by id: %w", err)
	}

	return product, nil
}

// FindByCategory returns products whose category matches exactly.
func (r *productRepository) FindByCategory(ctx context.Context, category string) ([]*domain.Product, error) {
	r.logger.Info("Processing category query", zap.String("category", category))

	query := fmt.Sprintf(`SELECT %s FROM products WHERE category = $1`, productColumns)
	return r.queryProducts(ctx, query, category)
}

// FindByName returns products whose name matches exactly.
func (r *productRepository) FindByName(ctx context.Context, name string) ([]*domain.Product, error) {
	r.logger.Info("Processing name query", zap.String("name", name))

	query := fmt.Sprintf(`SELECT %s FROM products WHERE name = $1`, productColumns)
	return r.queryProducts(ctx, query, name)
}

// FindByPrice returns products in the half-open range low < price <= high.
// The asymmetry is part of the contract.
func (r *productRepository) FindByPrice(ctx context.Context, low, high decimal.Decimal) ([]*domain.Product, error) {
	r.logger.Info("Processing price range query",
		zap.String("low", low.String()),
		zap.String("high", high.String()),
	)

	query := fmt.Sprintf(`SELECT %s FROM products WHERE price > $1 AND price <= $2`, productColumns)
	return r.queryProducts(ctx, query, low, high)
}

// All returns every row.
func (r *productRepository) All(ctx context.Context) ([]*domain.Product, error) {
	r.logger.Info("Processing all products")

	query := fmt.Sprintf(`SELECT %s FROM products`, productColumns)
	return r.queryProducts(ctx, query)
}

// DecrementStock performs the buy mutation as a single conditional
// update so concurrent buys can never drive stock below zero. Returns
// ErrOutOfStock when the product exists with zero stock and
// ErrProductNotFound when it does not exist.
func (r *productRepository) DecrementStock(ctx context.Context, id int64) (*domain.Product, error) {
	r.logger.Info("Processing buy", zap.Int64("id", id))

	query := fmt.Sprintf(`
		UPDATE products
		SET stock = stock - 1
		WHERE id = $1 AND stock > 0
		RETURNING %s
	`, productColumns)

	product := &domain.Product{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.Name,
		&product.Stock,
		&product.Price,
		&product.Description,
		&product.Category,
	)

	if err == nil {
		return product, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to decrement stock: %w", err)
	}

	// No row matched: either the product is absent or it is sold out.
	existing, findErr := r.Find(ctx, id)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, ErrProductNotFound
	}

	return nil, ErrOutOfStock
}

// queryProducts materializes a filter query into a concrete slice so no
// deferred store semantics leak past the repository boundary.
func (r *productRepository) queryProducts(ctx context.Context, query string, args ...any) ([]*domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product := &domain.Product{}
		err := rows.Scan(
			&product.ID,
			&product.Name,
			&product.Stock,
			&product.Price,
			&product.Description,
			&product.Category,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}
