package main

import (
	"github.com/gin-gonic/gin"

	"metamarket.backend/internal/interfaces/http/handlers"
	"metamarket.backend/internal/interfaces/http/middleware"
	"metamarket.backend/pkg/jwt"
)

type routeDeps struct {
	marketplaceHandler *handlers.MarketplaceHandler
	purchaseHandler    *handlers.PurchaseHandler
	authMiddleware     gin.HandlerFunc
	idempotency        gin.HandlerFunc
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	v1 := r.Group("/api/v1")
	{
		// Catalog reads (public)
		v1.GET("/chains", d.marketplaceHandler.ListChains)
		v1.GET("/leaderboard", d.marketplaceHandler.Leaderboard)
		v1.GET("/sellers/:address/products", d.marketplaceHandler.SellerProducts)

		products := v1.Group("/products")
		{
			products.GET("", d.marketplaceHandler.ListProducts)
			products.GET("/:id", d.marketplaceHandler.GetProduct)
		}

		// Everything that spends from the service wallet needs an operator token
		operator := v1.Group("")
		operator.Use(d.authMiddleware, middleware.RequireOperator())
		{
			operator.POST("/products", d.idempotency, d.marketplaceHandler.ListProduct)
			operator.POST("/products/:id/purchase", d.idempotency, d.purchaseHandler.Purchase)
			operator.GET("/products/:id/purchase/stream", d.purchaseHandler.StreamPurchase)
		}

		purchases := v1.Group("/purchases")
		purchases.Use(d.authMiddleware, middleware.RequireRole(jwt.RoleOperator, jwt.RoleViewer))
		{
			purchases.GET("", d.purchaseHandler.ListPurchases)
			purchases.GET("/:id", d.purchaseHandler.GetPurchase)
		}
	}
}
