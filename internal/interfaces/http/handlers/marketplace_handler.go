package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/internal/interfaces/http/response"
	"metamarket.backend/pkg/utils"
)

const defaultLeaderboardLimit = 10

// MarketplaceService is the product index surface used by MarketplaceHandler
type MarketplaceService interface {
	ListProducts(ctx context.Context, params utils.PaginationParams) ([]entities.Product, utils.PaginationMeta, error)
	GetProduct(ctx context.Context, id uint64) (*entities.Product, error)
	SellerProducts(ctx context.Context, seller string) ([]entities.Product, error)
	ListProduct(ctx context.Context, input *entities.ListProductInput) (*entities.ListProductResponse, error)
	Leaderboard(ctx context.Context, limit int) ([]entities.LeaderboardEntry, error)
	Chains() *entities.ChainCatalog
}

// MarketplaceHandler handles product, leaderboard and chain endpoints
type MarketplaceHandler struct {
	marketplace MarketplaceService
}

// NewMarketplaceHandler creates a new marketplace handler
func NewMarketplaceHandler(marketplace MarketplaceService) *MarketplaceHandler {
	return &MarketplaceHandler{marketplace: marketplace}
}

// ListProducts lists unpurchased products
// GET /api/v1/products
func (h *MarketplaceHandler) ListProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	pagination := utils.GetPaginationParams(page, limit)

	products, meta, err := h.marketplace.ListProducts(c.Request.Context(), pagination)
	if err != nil {
		response.Error(c, err)
		return
	}
	if products == nil {
		products = []entities.Product{}
	}
	response.Paginated(c, http.StatusOK, products, meta)
}

// GetProduct returns a single product
// GET /api/v1/products/:id
func (h *MarketplaceHandler) GetProduct(c *gin.Context) {
	id, ok := productIDParam(c)
	if !ok {
		return
	}
	product, err := h.marketplace.GetProduct(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"product": product})
}

// SellerProducts lists every product of a seller, purchased or not
// GET /api/v1/sellers/:address/products
func (h *MarketplaceHandler) SellerProducts(c *gin.Context) {
	products, err := h.marketplace.SellerProducts(c.Request.Context(), c.Param("address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if products == nil {
		products = []entities.Product{}
	}
	response.Success(c, http.StatusOK, gin.H{"products": products})
}

// ListProduct lists a product on the home chain with the service wallet
// POST /api/v1/products
func (h *MarketplaceHandler) ListProduct(c *gin.Context) {
	var input entities.ListProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	result, err := h.marketplace.ListProduct(c.Request.Context(), &input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// Leaderboard ranks buyers by total spend
// GET /api/v1/leaderboard
func (h *MarketplaceHandler) Leaderboard(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLeaderboardLimit)))
	if err != nil || limit < 0 {
		response.Error(c, domainerrors.BadRequest("limit must be a non-negative integer"))
		return
	}

	entries, err := h.marketplace.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	if entries == nil {
		entries = []entities.LeaderboardEntry{}
	}
	response.Success(c, http.StatusOK, gin.H{"leaderboard": entries})
}

// ListChains returns the configured chain catalog
// GET /api/v1/chains
func (h *MarketplaceHandler) ListChains(c *gin.Context) {
	catalog := h.marketplace.Chains()

	type chainResponse struct {
		entities.ChainSpec
		CAIP2  string `json:"caip2"`
		IsHome bool   `json:"isHome"`
	}

	chains := make([]chainResponse, 0, len(catalog.Chains))
	for _, chain := range catalog.Chains {
		chains = append(chains, chainResponse{
			ChainSpec: chain,
			CAIP2:     chain.GetCAIP2ID(),
			IsHome:    chain.ChainID == catalog.HomeChainID,
		})
	}
	response.Success(c, http.StatusOK, gin.H{
		"homeChainId": catalog.HomeChainID,
		"chains":      chains,
	})
}

func productIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, domainerrors.BadRequest("Invalid product ID"))
		return 0, false
	}
	return id, true
}
