package usecases

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/pkg/logger"
	"metamarket.backend/pkg/utils"
)

// MarketplaceUsecase serves the product index kept by the home chain marketplace
type MarketplaceUsecase struct {
	gateway        ChainGateway
	wallet         Wallet
	ensurer        *ChainEnsurer
	confirmTimeout time.Duration
}

func NewMarketplaceUsecase(gateway ChainGateway, wallet Wallet, ensurer *ChainEnsurer, confirmTimeout time.Duration) *MarketplaceUsecase {
	return &MarketplaceUsecase{
		gateway:        gateway,
		wallet:         wallet,
		ensurer:        ensurer,
		confirmTimeout: confirmTimeout,
	}
}

// ListProducts returns the unpurchased products, one page at a time
func (u *MarketplaceUsecase) ListProducts(ctx context.Context, params utils.PaginationParams) ([]entities.Product, utils.PaginationMeta, error) {
	marketplace, err := u.home(ctx)
	if err != nil {
		return nil, utils.PaginationMeta{}, err
	}
	all, err := marketplace.AllProducts(ctx)
	if err != nil {
		return nil, utils.PaginationMeta{}, domainerrors.ReadFailure("failed to read products", err)
	}

	available := make([]entities.Product, 0, len(all))
	for i := range all {
		if all[i].Purchased {
			continue
		}
		annotateChain(u.gateway.Catalog(), &all[i])
		available = append(available, all[i])
	}
	page, meta := utils.Paginate(available, params)
	return page, meta, nil
}

func (u *MarketplaceUsecase) GetProduct(ctx context.Context, id uint64) (*entities.Product, error) {
	marketplace, err := u.home(ctx)
	if err != nil {
		return nil, err
	}
	return readProduct(ctx, marketplace, u.gateway.Catalog(), id)
}

// SellerProducts lists every product a seller has listed, purchased or not.
// The chain name comes from the contract's own currency mapping.
func (u *MarketplaceUsecase) SellerProducts(ctx context.Context, seller string) ([]entities.Product, error) {
	if !common.IsHexAddress(seller) {
		return nil, domainerrors.BadRequest("invalid seller address")
	}
	marketplace, err := u.home(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := marketplace.ProductsBySeller(ctx, seller)
	if err != nil {
		return nil, domainerrors.ReadFailure("failed to read seller products", err)
	}

	chainNames := make(map[string]string)
	products := make([]entities.Product, 0, len(ids))
	for _, id := range ids {
		product, err := readProduct(ctx, marketplace, u.gateway.Catalog(), id)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(product.Currency)
		name, ok := chainNames[key]
		if !ok {
			name, err = marketplace.ChainFromCurrency(ctx, product.Currency)
			if err != nil {
				logger.Warn(ctx, "Failed to resolve chain from currency",
					zap.String("currency", product.Currency),
					zap.Error(err),
				)
			}
			chainNames[key] = name
		}
		if name != "" {
			product.ChainName = name
		}
		products = append(products, *product)
	}
	return products, nil
}

// ListProduct submits listProduct on the home chain and waits for it to be mined
func (u *MarketplaceUsecase) ListProduct(ctx context.Context, input *entities.ListProductInput) (*entities.ListProductResponse, error) {
	name := strings.TrimSpace(input.Name)
	description := strings.TrimSpace(input.Description)
	if name == "" || description == "" {
		return nil, domainerrors.Validation("name and description are required")
	}
	category := entities.ProductCategory(strings.ToLower(strings.TrimSpace(input.Category)))
	if !category.IsValid() {
		return nil, domainerrors.Validation(fmt.Sprintf("unsupported category %q", input.Category))
	}

	catalog := u.gateway.Catalog()
	spec, ok := catalog.BySettlementAsset(input.Currency)
	if !ok {
		return nil, domainerrors.Validation(fmt.Sprintf("currency %s is not a supported settlement asset", input.Currency))
	}
	price, err := ParseAmount(input.Price, int32(spec.SettlementDecimals))
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return nil, domainerrors.Validation("price must be greater than zero")
	}

	marketplace, err := u.home(ctx)
	if err != nil {
		return nil, err
	}
	if err := u.ensurer.EnsureChain(ctx, u.wallet, catalog.HomeChainID); err != nil {
		return nil, err
	}

	tx, err := u.wallet.Transact(ctx, catalog.HomeChainID, marketplace.Address(), marketplaceABI, "listProduct",
		name, description, string(category), price, common.HexToAddress(spec.SettlementAsset))
	if err != nil {
		if reason, ok := decodeRevertReason(err); ok {
			return nil, domainerrors.TransactionRevert(reason, err)
		}
		return nil, domainerrors.TransferFailure("failed to submit listing", err)
	}
	if _, err := awaitReceipt(ctx, u.wallet, tx, u.confirmTimeout, "listing"); err != nil {
		return nil, classify(err, func(cause error) *domainerrors.AppError {
			return domainerrors.TransferFailure("listing was not confirmed", cause)
		})
	}

	logger.Info(ctx, "Product listed",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("category", string(category)),
		zap.String("price", price.String()),
	)
	return &entities.ListProductResponse{
		TxHash:   tx.Hash().Hex(),
		ChainID:  catalog.HomeChainID,
		Price:    FormatAmount(price, int32(spec.SettlementDecimals)),
		Currency: spec.SettlementAsset,
	}, nil
}

// Leaderboard ranks every buyer of a purchased product by total spend.
// Ties break on products bought, then address.
func (u *MarketplaceUsecase) Leaderboard(ctx context.Context, limit int) ([]entities.LeaderboardEntry, error) {
	marketplace, err := u.home(ctx)
	if err != nil {
		return nil, err
	}
	all, err := marketplace.AllProducts(ctx)
	if err != nil {
		return nil, domainerrors.ReadFailure("failed to read products", err)
	}

	seen := make(map[string]bool)
	var buyers []string
	for _, product := range all {
		if !product.Purchased || !product.Buyer.Valid {
			continue
		}
		key := strings.ToLower(product.Buyer.String)
		if seen[key] {
			continue
		}
		seen[key] = true
		buyers = append(buyers, product.Buyer.String)
	}

	type ranked struct {
		entry entities.LeaderboardEntry
		spent *big.Int
	}
	rows := make([]ranked, 0, len(buyers))
	for _, buyer := range buyers {
		bought, spent, err := marketplace.UserStats(ctx, buyer)
		if err != nil {
			return nil, domainerrors.ReadFailure(fmt.Sprintf("failed to read stats for %s", buyer), err)
		}
		if spent == nil {
			spent = new(big.Int)
		}
		rows = append(rows, ranked{
			entry: entities.LeaderboardEntry{
				Address:        buyer,
				ProductsBought: bought,
				TotalSpent:     FormatAmount(spent, SettlementDecimals),
			},
			spent: spent,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].spent.Cmp(rows[j].spent); c != 0 {
			return c > 0
		}
		if rows[i].entry.ProductsBought != rows[j].entry.ProductsBought {
			return rows[i].entry.ProductsBought > rows[j].entry.ProductsBought
		}
		return strings.ToLower(rows[i].entry.Address) < strings.ToLower(rows[j].entry.Address)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	entries := make([]entities.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		row.entry.Rank = i + 1
		entries = append(entries, row.entry)
	}
	return entries, nil
}

// Chains returns the catalog in its configured order
func (u *MarketplaceUsecase) Chains() *entities.ChainCatalog {
	return u.gateway.Catalog()
}

func (u *MarketplaceUsecase) home(ctx context.Context) (MarketplaceReader, error) {
	return u.gateway.Marketplace(ctx, u.gateway.Catalog().HomeChainID)
}

// readProduct loads one product and resolves the chain it settles on.
// The contract answers unknown ids with a zero product.
func readProduct(ctx context.Context, marketplace MarketplaceReader, catalog *entities.ChainCatalog, id uint64) (*entities.Product, error) {
	product, err := marketplace.Product(ctx, id)
	if err != nil {
		return nil, domainerrors.ReadFailure(fmt.Sprintf("failed to read product %d", id), err)
	}
	if product == nil || product.ID == 0 {
		return nil, domainerrors.NotFound(fmt.Sprintf("product %d not found", id))
	}
	annotateChain(catalog, product)
	return product, nil
}

// annotateChain sets the chain on which the product's settlement asset lives
func annotateChain(catalog *entities.ChainCatalog, product *entities.Product) bool {
	spec, ok := catalog.BySettlementAsset(product.Currency)
	if !ok {
		return false
	}
	product.ChainID = spec.ChainID
	product.ChainName = spec.Name
	return true
}
