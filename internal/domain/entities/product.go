package entities

import (
	"math/big"
	"strings"

	"github.com/volatiletech/null/v8"
)

// ProductCategory represents the listing category
type ProductCategory string

const (
	ProductCategoryElectronics ProductCategory = "electronics"
	ProductCategoryGrocery     ProductCategory = "grocery"
	ProductCategoryClothing    ProductCategory = "clothing"
)

// IsValid reports whether the category is one of the supported values
func (c ProductCategory) IsValid() bool {
	switch c {
	case ProductCategoryElectronics, ProductCategoryGrocery, ProductCategoryClothing:
		return true
	}
	return false
}

// Product is the client-side projection of a marketplace listing
type Product struct {
	ID          uint64          `json:"id"`
	Seller      string          `json:"seller"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    ProductCategory `json:"category"`
	Price       string          `json:"price"`
	PriceUnits  *big.Int        `json:"priceUnits"`
	Currency    string          `json:"currency"`
	ChainID     uint64          `json:"chainId"`
	ChainName   string          `json:"chainName,omitempty"`
	Purchased   bool            `json:"purchased"`
	Buyer       null.String     `json:"buyer"`
}

// IsSeller reports whether addr is the product's seller
func (p *Product) IsSeller(addr string) bool {
	return strings.EqualFold(strings.TrimSpace(p.Seller), strings.TrimSpace(addr))
}

// ListProductInput represents input for listing a product
type ListProductInput struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description" binding:"required"`
	Category    string `json:"category" binding:"required"`
	Price       string `json:"price" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
}

// ListProductResponse is returned after a listing transaction is confirmed
type ListProductResponse struct {
	TxHash   string `json:"txHash"`
	ChainID  uint64 `json:"chainId"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

// LeaderboardEntry ranks a buyer by total spend
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	Address        string `json:"address"`
	ProductsBought uint64 `json:"productsBought"`
	TotalSpent     string `json:"totalSpent"`
}
