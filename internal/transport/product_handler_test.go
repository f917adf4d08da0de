package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"product-catalog/internal/domain"
	"product-catalog/internal/middleware"
	"product-catalog/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryRepository is an in-memory ProductRepository for handler tests.
// Ids are assigned strictly increasing and never reused.
type memoryRepository struct {
	mu       sync.Mutex
	nextID   int64
	products map[int64]*domain.Product
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{nextID: 1, products: map[int64]*domain.Product{}}
}

func (r *memoryRepository) Save(_ context.Context, product *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if product.ID == 0 {
		product.ID = r.nextID
		r.nextID++
	} else if _, ok := r.products[product.ID]; !ok {
		return repository.ErrProductNotFound
	}
	clone := *product
	r.products[product.ID] = &clone
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *memoryRepository) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products = map[int64]*domain.Product{}
	return nil
}

func (r *memoryRepository) Find(_ context.Context, id int64) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	clone := *product
	return &clone, nil
}

func (r *memoryRepository) FindByCategory(_ context.Context, category string) ([]*domain.Product, error) {
	return r.filter(func(p *domain.Product) bool { return p.Category == category }), nil
}

func (r *memoryRepository) FindByName(_ context.Context, name string) ([]*domain.Product, error) {
	return r.filter(func(p *domain.Product) bool { return p.Name == name }), nil
}

func (r *memoryRepository) FindByPrice(_ context.Context, low, high decimal.Decimal) ([]*domain.Product, error) {
	return r.filter(func(p *domain.Product) bool {
		return p.Price.GreaterThan(low) && p.Price.LessThanOrEqual(high)
	}), nil
}

func (r *memoryRepository) All(_ context.Context) ([]*domain.Product, error) {
	return r.filter(func(*domain.Product) bool { return true }), nil
}

func (r *memoryRepository) DecrementStock(_ context.Context, id int64) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	if product.Stock == 0 {
		return nil, repository.ErrOutOfStock
	}
	product.Stock--
	clone := *product
	return &clone, nil
}

func (r *memoryRepository) filter(keep func(*domain.Product) bool) []*domain.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	results := []*domain.Product{}
	for _, product := range r.products {
		if keep(product) {
			clone := *product
			results = append(results, &clone)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// newTestRouter assembles the product routes with the same gates the
// real server mounts.
func newTestRouter(repo repository.ProductRepository) chi.Router {
	logger := zap.NewNop()
	router := chi.NewRouter()

	keys := middleware.NewKeyStore("issued-key")
	apiKeyGate := middleware.APIKeyMiddleware(keys, logger)
	jsonGate := middleware.RequireContentType("application/json", logger)

	handler := NewProductHandler(repo, logger)
	handler.RegisterRoutes(router, apiKeyGate, jsonGate)

	return router
}

func doRequest(t *testing.T, router chi.Router, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func authedJSON() map[string]string {
	return map[string]string{
		"X-Api-Key":    "test-key",
		"Content-Type": "application/json",
	}
}

func penPayload() map[string]any {
	return map[string]any{
		"name":        "Pen",
		"stock":       5,
		"price":       1.5,
		"description": "d",
		"category":    "office",
	}
}

func decodeObject(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreateThenFetchViaLocation(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	w := doRequest(t, router, "POST", "/products", penPayload(), authedJSON())
	require.Equal(t, http.StatusCreated, w.Code)

	created := decodeObject(t, w)
	assert.Equal(t, "Pen", created["name"])
	assert.Equal(t, float64(5), created["stock"])
	assert.Equal(t, 1.5, created["price"])
	assert.Equal(t, "office", created["category"])

	location := w.Header().Get("Location")
	require.NotEmpty(t, location)
	assert.Equal(t, fmt.Sprintf("/products/%v", created["id"]), location)

	w = doRequest(t, router, "GET", location, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created, decodeObject(t, w))
}

func TestCreateAssignsStrictlyIncreasingIDs(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	var lastID float64
	for i := 0; i < 5; i++ {
		w := doRequest(t, router, "POST", "/products", penPayload(), authedJSON())
		require.Equal(t, http.StatusCreated, w.Code)

		id := decodeObject(t, w)["id"].(float64)
		assert.Greater(t, id, lastID)
		lastID = id
	}

	// Deleting a product never frees its id for reuse
	w := doRequest(t, router, "DELETE", fmt.Sprintf("/products/%.0f", lastID), nil, authedJSON())
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, router, "POST", "/products", penPayload(), authedJSON())
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Greater(t, decodeObject(t, w)["id"].(float64), lastID)
}

func TestCreateRequiresAPIKey(t *testing.T) {
	repo := newMemoryRepository()
	router := newTestRouter(repo)

	w := doRequest(t, router, "POST", "/products", penPayload(), map[string]string{
		"Content-Type": "application/json",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"message":"Invalid or missing token"}`, w.Body.String())

	all, err := repo.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateRejectsWrongContentType(t *testing.T) {
	repo := newMemoryRepository()
	router := newTestRouter(repo)

	w := doRequest(t, router, "POST", "/products", penPayload(), map[string]string{
		"X-Api-Key":    "test-key",
		"Content-Type": "text/plain",
	})
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	all, err := repo.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "no row may be created on 415")
}

func TestCreateRejectsInvalidBodies(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"missing name", map[string]any{"stock": 5, "price": 1.5, "description": "d", "category": "office"}, "Invalid product: missing name"},
		{"empty category", map[string]any{"name": "Pen", "stock": 5, "price": 1.5, "description": "d", "category": ""}, "Field cannot be empty string"},
		{"array body", []int{1, 2, 3}, "body of request contained bad or no data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, "POST", "/products", tt.body, authedJSON())
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, decodeObject(t, w)["message"])
		})
	}
}

func TestGetMissingProductReturns404(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	w := doRequest(t, router, "GET", "/products/42", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Product with id '42' was not found.", decodeObject(t, w)["message"])

	// Unparsable ids are treated as not found too
	w = doRequest(t, router, "GET", "/products/not-a-number", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateReplacesMutableFields(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	w := doRequest(t, router, "POST", "/products", penPayload(), authedJSON())
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeObject(t, w)["id"].(float64)

	update := map[string]any{
		"name":        "Fountain Pen",
		"stock":       3,
		"price":       24.99,
		"description": "refillable",
		"category":    "stationery",
	}
	w = doRequest(t, router, "PUT", fmt.Sprintf("/products/%.0f", id), update, authedJSON())
	require.Equal(t, http.StatusOK, w.Code)

	updated := decodeObject(t, w)
	assert.Equal(t, id, updated["id"], "id is immutable across updates")
	assert.Equal(t, "Fountain Pen", updated["name"])
	assert.Equal(t, 24.99, updated["price"])
	assert.Equal(t, "stationery", updated["category"])
}

func TestUpdateMissingProductReturns404(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	w := doRequest(t, router, "PUT", "/products/42", penPayload(), authedJSON())
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateWithInvalidBodyLeavesRowUnchanged(t *testing.T) {
	repo := newMemoryRepository()
	router := newTestRouter(repo)

	w := doRequest(t, router, "POST", "/products", penPayload(), authedJSON())
	require.Equal(t, http.StatusCreated, w.Code)
	id := int64(decodeObject(t, w)["id"].(float64))

	// name removed from the body
	update := map[string]any{
		"stock":       1,
		"price":       9.99,
		"description": "changed",
		"category":    "changed",
	}
	w = doRequest(t, router, "PUT", fmt.Sprintf("/products/%d", id), update, authedJSON())
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid product: missing name", decodeObject(t, w)["message"])

	stored, err := repo.Find(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Pen", stored.Name)
	assert.Equal(t, 5, stored.Stock)
	assert.Equal(t, "office", stored.Category)
}

func TestDeleteIsIdempotent(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	w := doRequest(t, router, "POST", "/products", penPayload(), authedJSON())
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeObject(t, w)["id"].(float64)

	path := fmt.Sprintf("/products/%.0f", id)

	w = doRequest(t, router, "DELETE", path, nil, authedJSON())
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	// Fetching a deleted product is a 404
	w = doRequest(t, router, "GET", path, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Deleting again still succeeds silently
	w = doRequest(t, router, "DELETE", path, nil, authedJSON())
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteRequiresAPIKey(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	w := doRequest(t, router, "DELETE", "/products/1", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBuyDecrementsUntilSoldOut(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	w := doRequest(t, router, "POST", "/products", penPayload(), authedJSON())
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeObject(t, w)["id"].(float64)

	buyPath := fmt.Sprintf("/products/%.0f/buy", id)

	for want := 4; want >= 0; want-- {
		w = doRequest(t, router, "PUT", buyPath, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(want), decodeObject(t, w)["stock"])
	}

	// The sixth buy conflicts and stock stays at zero
	w = doRequest(t, router, "PUT", buyPath, nil, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeObject(t, w)["message"], "sold out")

	w = doRequest(t, router, "GET", fmt.Sprintf("/products/%.0f", id), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeObject(t, w)["stock"])
}

func TestBuyMissingProductReturns404(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	w := doRequest(t, router, "PUT", "/products/42/buy", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListFilters(t *testing.T) {
	repo := newMemoryRepository()
	router := newTestRouter(repo)

	seed := []map[string]any{
		{"name": "Pen", "stock": 5, "price": 1.5, "description": "d", "category": "office"},
		{"name": "Desk", "stock": 2, "price": 25.0, "description": "d", "category": "furniture"},
		{"name": "Chair", "stock": 4, "price": 25.01, "description": "d", "category": "furniture"},
		{"name": "Lamp", "stock": 3, "price": 50.0, "description": "d", "category": "lighting"},
		{"name": "Shelf", "stock": 1, "price": 60.0, "description": "d", "category": "furniture"},
	}
	for _, payload := range seed {
		w := doRequest(t, router, "POST", "/products", payload, authedJSON())
		require.Equal(t, http.StatusCreated, w.Code)
	}

	decodeList := func(w *httptest.ResponseRecorder) []map[string]any {
		var list []map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		return list
	}
	names := func(list []map[string]any) []string {
		out := []string{}
		for _, item := range list {
			out = append(out, item["name"].(string))
		}
		sort.Strings(out)
		return out
	}

	t.Run("all", func(t *testing.T) {
		w := doRequest(t, router, "GET", "/products", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeList(w), 5)
	})

	t.Run("by category", func(t *testing.T) {
		w := doRequest(t, router, "GET", "/products?category=furniture", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"Chair", "Desk", "Shelf"}, names(decodeList(w)))
	})

	t.Run("by name", func(t *testing.T) {
		w := doRequest(t, router, "GET", "/products?name=Pen", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"Pen"}, names(decodeList(w)))
	})

	t.Run("price bucket 2 is 25 exclusive to 50 inclusive", func(t *testing.T) {
		w := doRequest(t, router, "GET", "/products?price=2", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		// Desk at exactly 25 is excluded, Lamp at exactly 50 is included
		assert.Equal(t, []string{"Chair", "Lamp"}, names(decodeList(w)))
	})

	t.Run("price bucket 1", func(t *testing.T) {
		w := doRequest(t, router, "GET", "/products?price=1", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"Desk", "Pen"}, names(decodeList(w)))
	})

	t.Run("invalid price values fall through to all", func(t *testing.T) {
		for _, value := range []string{"0", "4", "-1", "cheap"} {
			w := doRequest(t, router, "GET", "/products?price="+value, nil, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Len(t, decodeList(w), 5, "price=%s", value)
		}
	})
}

func TestResetDeletesAllProducts(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	for i := 0; i < 3; i++ {
		w := doRequest(t, router, "POST", "/products", penPayload(), authedJSON())
		require.Equal(t, http.StatusCreated, w.Code)
	}

	// Reset is key-gated
	w := doRequest(t, router, "DELETE", "/products/reset", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, router, "DELETE", "/products/reset", nil, authedJSON())
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, router, "GET", "/products", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUndefinedVerbReturns405(t *testing.T) {
	router := newTestRouter(newMemoryRepository())

	w := doRequest(t, router, "PATCH", "/products", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
