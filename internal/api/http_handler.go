package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"bar-catalog-service/internal/domain"
	"bar-catalog-service/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// CatalogViewer provides the uniform catalog read view.
type CatalogViewer interface {
	ListCatalogView(ctx context.Context, categoryType string) ([]domain.CatalogEntry, error)
}

// RepairRunner drives the one-shot escaped-quote repair migration.
type RepairRunner interface {
	Run(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Status(ctx context.Context) (*domain.MigrationState, error)
}

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	categoryStore store.CategoryStorer
	productStore  store.ProductStorer
	variantStore  store.VariantStorer
	attrStore     store.AttributeTypeStorer
	catalogView   CatalogViewer
	repair        RepairRunner
	validate      *validator.Validate
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(
	cs store.CategoryStorer,
	ps store.ProductStorer,
	vs store.VariantStorer,
	as store.AttributeTypeStorer,
	cv CatalogViewer,
	rr RepairRunner,
) *HTTPHandler {
	return &HTTPHandler{
		categoryStore: cs,
		productStore:  ps,
		variantStore:  vs,
		attrStore:     as,
		catalogView:   cv,
		repair:        rr,
		validate:      validator.New(),
	}
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error string                 `json:"error"`
	Usage *domain.AttributeUsage `json:"usage,omitempty"` // present on "type in use" conflicts
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil { // Avoid writing empty body for 204 No Content
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("ERROR: Failed to encode JSON response: %v", err)
			http.Error(w, `{"error": "Internal server error during JSON encoding"}`, http.StatusInternalServerError)
		}
	}
}

func parseIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// --- Category Handlers ---

// CategoryInput defines the expected input for creating or updating a category.
type CategoryInput struct {
	Name         string `json:"name" validate:"required,max=255"`
	Type         string `json:"type" validate:"required,max=50"`
	ServiceType  string `json:"service_type" validate:"required,max=50"`
	IsActive     *bool  `json:"is_active"`
	DisplayOrder int    `json:"display_order" validate:"gte=0"`
}

func (in *CategoryInput) toDomain(id int64) *domain.Category {
	isActive := true
	if in.IsActive != nil {
		isActive = *in.IsActive
	}
	return &domain.Category{
		ID:           id,
		Name:         in.Name,
		Type:         in.Type,
		ServiceType:  in.ServiceType,
		IsActive:     isActive,
		DisplayOrder: in.DisplayOrder,
	}
}

func (h *HTTPHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var input CategoryInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	created, err := h.categoryStore.CreateCategory(r.Context(), input.toDomain(0))
	if err != nil {
		log.Printf("ERROR: CreateCategory store operation failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create category")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	params := store.ListCategoriesParams{}
	if st := r.URL.Query().Get("service_type"); st != "" {
		params.ServiceType = &st
	}
	if activeStr := r.URL.Query().Get("is_active"); activeStr != "" {
		b, err := strconv.ParseBool(activeStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid is_active value: must be true or false")
			return
		}
		params.IsActive = &b
	}

	categories, err := h.categoryStore.ListCategories(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: ListCategories store operation failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve categories")
		return
	}
	respondWithJSON(w, http.StatusOK, categories)
}

func (h *HTTPHandler) GetCategoryByID(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := parseIDParam(r, "categoryId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid category ID format")
		return
	}

	category, err := h.categoryStore.GetCategoryByID(r.Context(), categoryID)
	if err != nil {
		log.Printf("ERROR: GetCategoryByID store operation for ID %d failed: %v", categoryID, err)
		if errors.Is(err, store.ErrCategoryNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrCategoryNotFound.Error())
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to retrieve category")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, category)
}

func (h *HTTPHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := parseIDParam(r, "categoryId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid category ID format")
		return
	}

	var input CategoryInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	updated, err := h.categoryStore.UpdateCategory(r.Context(), input.toDomain(categoryID))
	if err != nil {
		log.Printf("ERROR: UpdateCategory store operation for ID %d failed: %v", categoryID, err)
		if errors.Is(err, store.ErrCategoryNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrCategoryNotFound.Error())
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to update category")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

// --- Product Handlers ---

// ProductInput defines the expected input for creating or updating a product.
// Price and volume are only meaningful while has_multiple_sizes is false;
// multi-size pricing is saved through the sizes endpoint.
type ProductInput struct {
	CategoryID        int64           `json:"category_id" validate:"required,gt=0"`
	Name              string          `json:"name" validate:"required,max=255"`
	Description       *string         `json:"description" validate:"omitempty"`
	Price             decimal.Decimal `json:"price"`
	Volume            *float64        `json:"volume" validate:"omitempty,gt=0"`
	AttributeCategory *string         `json:"attribute_category" validate:"omitempty,max=100"`
	HasMultipleSizes  bool            `json:"has_multiple_sizes"`
	ImagePath         *string         `json:"image_path" validate:"omitempty,max=2048"`
	IsActive          *bool           `json:"is_active"`
	DisplayOrder      int             `json:"display_order" validate:"gte=0"`
}

func (in *ProductInput) toDomain(id int64) *domain.Product {
	isActive := true
	if in.IsActive != nil {
		isActive = *in.IsActive
	}
	return &domain.Product{
		ID:                id,
		CategoryID:        in.CategoryID,
		Name:              in.Name,
		Description:       in.Description,
		Price:             in.Price,
		Volume:            in.Volume,
		AttributeCategory: in.AttributeCategory,
		HasMultipleSizes:  in.HasMultipleSizes,
		ImagePath:         in.ImagePath,
		IsActive:          isActive,
		DisplayOrder:      in.DisplayOrder,
	}
}

func (h *HTTPHandler) decodeProductInput(w http.ResponseWriter, r *http.Request) (*ProductInput, bool) {
	var input ProductInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return nil, false
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return nil, false
	}
	if input.Price.IsNegative() {
		respondWithError(w, http.StatusBadRequest, "Validation failed: price cannot be negative")
		return nil, false
	}
	return &input, true
}

func (h *HTTPHandler) writeProductError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, store.ErrProductNotFound):
		respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
	case errors.Is(err, store.ErrCategoryNotFound):
		respondWithError(w, http.StatusBadRequest, "Invalid category_id: category does not exist.")
	case errors.Is(err, store.ErrProductInvalid):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "Failed to "+action+" product")
	}
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeProductInput(w, r)
	if !ok {
		return
	}

	created, err := h.productStore.CreateProduct(r.Context(), input.toDomain(0))
	if err != nil {
		log.Printf("ERROR: CreateProduct store operation failed: %v", err)
		h.writeProductError(w, err, "create")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	qParams := r.URL.Query()
	params := store.ListProductsParams{}

	if idStr := qParams.Get("category_id"); idStr != "" {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid category_id format")
			return
		}
		params.CategoryID = &id
	}
	if ct := qParams.Get("category_type"); ct != "" {
		params.CategoryType = &ct
	}
	if activeStr := qParams.Get("is_active"); activeStr != "" {
		b, err := strconv.ParseBool(activeStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid is_active value: must be true or false")
			return
		}
		params.IsActive = &b
	}

	products, err := h.productStore.ListProducts(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: ListProducts store operation failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve products")
		return
	}
	respondWithJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) GetProductByID(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseIDParam(r, "productId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	product, err := h.productStore.GetProductByID(r.Context(), productID)
	if err != nil {
		log.Printf("ERROR: GetProductByID store operation for ID %d failed: %v", productID, err)
		h.writeProductError(w, err, "retrieve")
		return
	}
	respondWithJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseIDParam(r, "productId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	input, ok := h.decodeProductInput(w, r)
	if !ok {
		return
	}

	updated, err := h.productStore.UpdateProduct(r.Context(), input.toDomain(productID))
	if err != nil {
		log.Printf("ERROR: UpdateProduct store operation for ID %d failed: %v", productID, err)
		h.writeProductError(w, err, "update")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseIDParam(r, "productId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	err := h.productStore.DeleteProduct(r.Context(), productID)
	if err != nil {
		log.Printf("ERROR: DeleteProduct store operation for ID %d failed: %v", productID, err)
		h.writeProductError(w, err, "delete")
		return
	}
	respondWithJSON(w, http.StatusNoContent, nil)
}

// --- Size Variant Handlers ---

// SizeVariantInput is one element of a whole-set variant replacement.
type SizeVariantInput struct {
	Volume       float64         `json:"volume" validate:"required,gt=0"`
	Price        decimal.Decimal `json:"price"`
	ImagePath    *string         `json:"image_path" validate:"omitempty,max=2048"`
	IsFeatured   bool            `json:"is_featured"`
	DisplayOrder int             `json:"display_order" validate:"gte=0"`
	IsActive     *bool           `json:"is_active"`
}

// ReplaceVariantsInput carries the full replacement set. Saving variants is
// always whole-set: the previous set is discarded atomically.
type ReplaceVariantsInput struct {
	Sizes []SizeVariantInput `json:"sizes" validate:"dive"`
}

func (h *HTTPHandler) ReplaceVariants(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseIDParam(r, "productId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	var input ReplaceVariantsInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	variants := make([]domain.SizeVariant, 0, len(input.Sizes))
	for _, in := range input.Sizes {
		isActive := true
		if in.IsActive != nil {
			isActive = *in.IsActive
		}
		variants = append(variants, domain.SizeVariant{
			Volume:       in.Volume,
			Price:        in.Price,
			ImagePath:    in.ImagePath,
			IsFeatured:   in.IsFeatured,
			DisplayOrder: in.DisplayOrder,
			IsActive:     isActive,
		})
	}

	saved, err := h.variantStore.ReplaceVariants(r.Context(), productID, variants)
	if err != nil {
		log.Printf("ERROR: ReplaceVariants store operation for product %d failed: %v", productID, err)
		switch {
		case errors.Is(err, store.ErrProductNotFound):
			respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
		case errors.Is(err, store.ErrVariantInvalid), errors.Is(err, store.ErrDuplicateVolume):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to save size variants")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

func (h *HTTPHandler) ListVariants(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseIDParam(r, "productId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	variants, err := h.variantStore.ListVariants(r.Context(), productID)
	if err != nil {
		log.Printf("ERROR: ListVariants store operation for product %d failed: %v", productID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve size variants")
		return
	}
	respondWithJSON(w, http.StatusOK, variants)
}

// --- Attribute Type Handlers ---

// AttributeTypeInput carries the display name; the slug is always derived
// server-side.
type AttributeTypeInput struct {
	Name string `json:"name" validate:"required,max=255"`
}

func (h *HTTPHandler) writeAttributeTypeError(w http.ResponseWriter, err error, action string) {
	var inUse *store.AttributeTypeInUseError
	switch {
	case errors.Is(err, store.ErrUnknownDomain):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &inUse):
		respondWithJSON(w, http.StatusConflict, ErrorResponse{Error: inUse.Error(), Usage: &inUse.Usage})
	case errors.Is(err, store.ErrAttributeTypeNotFound):
		respondWithError(w, http.StatusNotFound, store.ErrAttributeTypeNotFound.Error())
	case errors.Is(err, store.ErrAttributeTypeExists):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrAttributeTypeInvalid):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "Failed to "+action+" attribute type")
	}
}

func (h *HTTPHandler) ListAttributeTypes(w http.ResponseWriter, r *http.Request) {
	domainKey := chi.URLParam(r, "domain")

	types, err := h.attrStore.ListAttributeTypes(r.Context(), domainKey)
	if err != nil {
		log.Printf("ERROR: ListAttributeTypes store operation for domain %q failed: %v", domainKey, err)
		h.writeAttributeTypeError(w, err, "list")
		return
	}
	respondWithJSON(w, http.StatusOK, types)
}

func (h *HTTPHandler) CreateAttributeType(w http.ResponseWriter, r *http.Request) {
	domainKey := chi.URLParam(r, "domain")

	var input AttributeTypeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	created, err := h.attrStore.CreateAttributeType(r.Context(), domainKey, input.Name)
	if err != nil {
		log.Printf("ERROR: CreateAttributeType store operation for domain %q failed: %v", domainKey, err)
		h.writeAttributeTypeError(w, err, "create")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

// RenameAttributeTypeResponse reports the renamed type and how many products
// had their slug rewritten by the cascade.
type RenameAttributeTypeResponse struct {
	Type            *domain.AttributeType `json:"type"`
	ProductsUpdated int64                 `json:"products_updated"`
}

func (h *HTTPHandler) RenameAttributeType(w http.ResponseWriter, r *http.Request) {
	domainKey := chi.URLParam(r, "domain")
	oldSlug := chi.URLParam(r, "slug")

	var input AttributeTypeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	renamed, updated, err := h.attrStore.RenameAttributeType(r.Context(), domainKey, oldSlug, input.Name)
	if err != nil {
		log.Printf("ERROR: RenameAttributeType store operation for %q/%q failed: %v", domainKey, oldSlug, err)
		h.writeAttributeTypeError(w, err, "rename")
		return
	}
	respondWithJSON(w, http.StatusOK, RenameAttributeTypeResponse{Type: renamed, ProductsUpdated: updated})
}

func (h *HTTPHandler) DeleteAttributeType(w http.ResponseWriter, r *http.Request) {
	domainKey := chi.URLParam(r, "domain")
	slug := chi.URLParam(r, "slug")

	err := h.attrStore.DeleteAttributeType(r.Context(), domainKey, slug)
	if err != nil {
		log.Printf("ERROR: DeleteAttributeType store operation for %q/%q failed: %v", domainKey, slug, err)
		h.writeAttributeTypeError(w, err, "delete")
		return
	}
	respondWithJSON(w, http.StatusNoContent, nil)
}

// --- Catalog View Handler ---

func (h *HTTPHandler) GetCatalogView(w http.ResponseWriter, r *http.Request) {
	categoryType := chi.URLParam(r, "categoryType")

	entries, err := h.catalogView.ListCatalogView(r.Context(), categoryType)
	if err != nil {
		log.Printf("ERROR: ListCatalogView for category type %q failed: %v", categoryType, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve catalog")
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// --- Text Repair Handlers ---

// RepairRunResponse reports how many values the sweep rewrote.
type RepairRunResponse struct {
	Changed int `json:"changed"`
}

func (h *HTTPHandler) RunTextRepair(w http.ResponseWriter, r *http.Request) {
	changed, err := h.repair.Run(r.Context())
	if err != nil {
		log.Printf("ERROR: Text repair run failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Text repair run failed")
		return
	}
	respondWithJSON(w, http.StatusOK, RepairRunResponse{Changed: changed})
}

func (h *HTTPHandler) ResetTextRepair(w http.ResponseWriter, r *http.Request) {
	if err := h.repair.Reset(r.Context()); err != nil {
		log.Printf("ERROR: Text repair reset failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Text repair reset failed")
		return
	}
	respondWithJSON(w, http.StatusNoContent, nil)
}

func (h *HTTPHandler) GetTextRepairStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.repair.Status(r.Context())
	if err != nil {
		log.Printf("ERROR: Text repair status failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to read text repair status")
		return
	}
	respondWithJSON(w, http.StatusOK, state)
}

// --- Route Registration ---

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/categories", func(r chi.Router) {
		r.Post("/", h.CreateCategory)
		r.Get("/", h.ListCategories)
		r.Route("/{categoryId}", func(r chi.Router) {
			r.Get("/", h.GetCategoryByID)
			r.Put("/", h.UpdateCategory)
		})
	})

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Post("/", h.CreateProduct)
		r.Get("/", h.ListProducts)
		r.Route("/{productId}", func(r chi.Router) {
			r.Get("/", h.GetProductByID)
			r.Put("/", h.UpdateProduct)
			r.Delete("/", h.DeleteProduct)
			r.Get("/sizes", h.ListVariants)
			r.Put("/sizes", h.ReplaceVariants)
		})
	})

	r.Route("/api/v1/attribute-types/{domain}", func(r chi.Router) {
		r.Get("/", h.ListAttributeTypes)
		r.Post("/", h.CreateAttributeType)
		r.Route("/{slug}", func(r chi.Router) {
			r.Put("/", h.RenameAttributeType)
			r.Delete("/", h.DeleteAttributeType)
		})
	})

	r.Get("/api/v1/catalog/{categoryType}", h.GetCatalogView)

	r.Route("/api/v1/admin/text-repair", func(r chi.Router) {
		r.Post("/", h.RunTextRepair)
		r.Delete("/", h.ResetTextRepair)
		r.Get("/", h.GetTextRepairStatus)
	})
}
