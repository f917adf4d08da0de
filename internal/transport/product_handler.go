package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"product-catalog/internal/domain"
	"product-catalog/internal/middleware"
	"product-catalog/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Price buckets for the coarse ?price= filter. Bounds are exclusive-low,
// inclusive-high, matching the repository's FindByPrice contract.
var priceBuckets = map[int][2]int64{
	1: {0, 25},
	2: {25, 50},
	3: {50, 75},
}

// ProductHandler handles HTTP requests for product operations
type ProductHandler struct {
	repo   repository.ProductRepository
	logger *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(repo repository.ProductRepository, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		repo:   repo,
		logger: logger,
	}
}

// RegisterRoutes registers all product routes. Mutating routes go
// through the API-key gate; routes that read a body also go through the
// content-type gate, in that order.
func (h *ProductHandler) RegisterRoutes(r chi.Router, apiKeyGate, jsonGate func(http.Handler) http.Handler) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.List)
		r.With(apiKeyGate, jsonGate).Post("/", h.Create)
		r.With(apiKeyGate).Delete("/reset", h.Reset)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.With(apiKeyGate, jsonGate).Put("/", h.Update)
			r.With(apiKeyGate).Delete("/", h.Delete)
			r.Put("/buy", h.Buy)
		})
	})
}

// List returns all products, or the subset matching exactly one of the
// category, name, or price query parameters. A price value outside 1-3
// falls through to the full listing.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Request for product list")

	var (
		products []*domain.Product
		err      error
	)

	category := r.URL.Query().Get("category")
	name := r.URL.Query().Get("name")
	price := r.URL.Query().Get("price")

	switch {
	case category != "":
		products, err = h.repo.FindByCategory(r.Context(), category)
	case name != "":
		products, err = h.repo.FindByName(r.Context(), name)
	case price != "":
		bucket, bucketErr := strconv.Atoi(price)
		bounds, ok := priceBuckets[bucket]
		if bucketErr == nil && ok {
			products, err = h.repo.FindByPrice(r.Context(),
				decimal.NewFromInt(bounds[0]),
				decimal.NewFromInt(bounds[1]),
			)
		} else {
			products, err = h.repo.All(r.Context())
		}
	default:
		products, err = h.repo.All(r.Context())
	}

	if err != nil {
		h.logger.Error("Failed to list products", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	results := make([]map[string]any, 0, len(products))
	for _, product := range products {
		results = append(results, product.Serialize())
	}

	middleware.RespondWithJSON(w, http.StatusOK, results)
}

// Get returns a single product by id.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	h.logger.Info("Request for product", zap.String("id", idParam))

	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		h.respondNotFound(w, idParam)
		return
	}

	product, err := h.repo.Find(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to find product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to find product")
		return
	}
	if product == nil {
		h.respondNotFound(w, idParam)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product.Serialize())
}

// Create makes a new product from the request body and answers 201 with
// a Location header pointing at the stored resource.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Request to create a product")

	data, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	product := &domain.Product{}
	if _, err := product.Deserialize(data); err != nil {
		h.respondDomainError(w, err)
		return
	}

	if err := h.repo.Save(r.Context(), product); err != nil {
		h.logger.Error("Failed to create product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	h.logger.Info("Product created", zap.Int64("id", product.ID))

	w.Header().Set("Location", fmt.Sprintf("/products/%d", product.ID))
	middleware.RespondWithJSON(w, http.StatusCreated, product.Serialize())
}

// Update replaces the mutable fields of an existing product. Existence
// is checked before the body is read, so an absent id wins over a
// malformed body.
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	h.logger.Info("Request to update product", zap.String("id", idParam))

	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		h.respondNotFound(w, idParam)
		return
	}

	product, err := h.repo.Find(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to find product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to find product")
		return
	}
	if product == nil {
		h.respondNotFound(w, idParam)
		return
	}

	data, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	if _, err := product.Deserialize(data); err != nil {
		h.respondDomainError(w, err)
		return
	}
	product.ID = id

	if err := h.repo.Save(r.Context(), product); err != nil {
		h.logger.Error("Failed to update product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to update product")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product.Serialize())
}

// Delete removes a product if present. Deleting an absent or unparsable
// id still answers 204, deletes are idempotent at this boundary.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	h.logger.Info("Request to delete product", zap.String("id", idParam))

	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	product, err := h.repo.Find(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to find product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}

	if product != nil {
		if err := h.repo.Delete(r.Context(), id); err != nil && !errors.Is(err, repository.ErrProductNotFound) {
			h.logger.Error("Failed to delete product", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to delete product")
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Buy decrements the product's stock by one. A sold-out product answers
// 409 and keeps its stock at zero.
func (h *ProductHandler) Buy(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	h.logger.Info("Request to buy product", zap.String("id", idParam))

	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		h.respondNotFound(w, idParam)
		return
	}

	product, err := h.repo.DecrementStock(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrProductNotFound):
			h.respondNotFound(w, idParam)
		case errors.Is(err, repository.ErrOutOfStock):
			middleware.RespondWithError(w, http.StatusConflict,
				fmt.Sprintf("Product with id '%s' has been sold out!", idParam))
		default:
			h.logger.Error("Failed to buy product", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to buy product")
		}
		return
	}

	h.logger.Info("Product bought", zap.Int64("id", product.ID), zap.Int("stock", product.Stock))
	middleware.RespondWithJSON(w, http.StatusOK, product.Serialize())
}

// Reset deletes every product. Test and ops utility, still key-gated.
func (h *ProductHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Request to delete all products")

	if err := h.repo.DeleteAll(r.Context()); err != nil {
		h.logger.Error("Failed to delete all products", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to delete all products")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads the JSON body into a generic mapping. Any decode
// failure is reported the same way as a non-mapping body.
func (h *ProductHandler) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.logger.Debug("Body decode failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest,
			"body of request contained bad or no data")
		return nil, false
	}
	return data, true
}

func (h *ProductHandler) respondDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		h.logger.Debug("Validation failed", zap.String("message", validationErr.Message))
		middleware.RespondWithError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	h.logger.Error("Unexpected domain error", zap.Error(err))
	middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
}

func (h *ProductHandler) respondNotFound(w http.ResponseWriter, idParam string) {
	middleware.RespondWithError(w, http.StatusNotFound,
		fmt.Sprintf("Product with id '%s' was not found.", idParam))
}
