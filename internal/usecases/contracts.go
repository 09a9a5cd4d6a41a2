package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/volatiletech/null/v8"

	"metamarket.backend/internal/domain/entities"
)

var (
	errEmptyReturn = errors.New("contract returned no data")
	// ErrMethodNotExposed is returned when the deployed contract has no such method
	ErrMethodNotExposed = errors.New("method not exposed by contract")
)

// TokenReader reads ERC-20 state on one chain
type TokenReader interface {
	BalanceOf(ctx context.Context, token, owner string) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
}

// MarketplaceReader reads the marketplace contract deployed on one chain
type MarketplaceReader interface {
	Address() string
	AllProducts(ctx context.Context) ([]entities.Product, error)
	Product(ctx context.Context, id uint64) (*entities.Product, error)
	ProductCount(ctx context.Context) (uint64, error)
	ProductsBySeller(ctx context.Context, seller string) ([]uint64, error)
	ChainFromCurrency(ctx context.Context, currency string) (string, error)
	// CanPurchase returns ErrMethodNotExposed when the contract has no admission check.
	CanPurchase(ctx context.Context, id uint64, buyer string) (bool, string, error)
	UserStats(ctx context.Context, user string) (uint64, *big.Int, error)
}

type evmTokenReader struct {
	reader ChainReader
}

// NewTokenReader reads ERC-20 balances and allowances over reader
func NewTokenReader(reader ChainReader) TokenReader {
	return &evmTokenReader{reader: reader}
}

func (r *evmTokenReader) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	return callTypedView[*big.Int](ctx, r.reader, token, erc20ABI, "balanceOf", common.HexToAddress(owner))
}

func (r *evmTokenReader) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	return callTypedView[*big.Int](ctx, r.reader, token, erc20ABI, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
}

// productTuple mirrors the contract's product struct
type productTuple struct {
	Id          *big.Int
	Seller      common.Address
	Name        string
	Description string
	Category    string
	Price       *big.Int
	Currency    common.Address
	Purchased   bool
	Buyer       common.Address
}

func (p productTuple) toEntity(chainID uint64) entities.Product {
	product := entities.Product{
		Seller:      p.Seller.Hex(),
		Name:        p.Name,
		Description: p.Description,
		Category:    entities.ProductCategory(p.Category),
		PriceUnits:  new(big.Int),
		Currency:    p.Currency.Hex(),
		ChainID:     chainID,
		Purchased:   p.Purchased,
	}
	if p.Id != nil {
		product.ID = p.Id.Uint64()
	}
	if p.Price != nil {
		product.PriceUnits = new(big.Int).Set(p.Price)
	}
	product.Price = FormatAmount(product.PriceUnits, SettlementDecimals)
	if p.Buyer != (common.Address{}) {
		product.Buyer = null.StringFrom(p.Buyer.Hex())
	}
	return product
}

type evmMarketplace struct {
	reader  ChainReader
	address string
	chainID uint64
}

// NewMarketplaceReader binds the marketplace contract at address over reader
func NewMarketplaceReader(reader ChainReader, address string) MarketplaceReader {
	var chainID uint64
	if id := reader.ChainID(); id != nil {
		chainID = id.Uint64()
	}
	return &evmMarketplace{reader: reader, address: address, chainID: chainID}
}

func (m *evmMarketplace) Address() string {
	return m.address
}

func (m *evmMarketplace) AllProducts(ctx context.Context) ([]entities.Product, error) {
	vals, err := callViewValues(ctx, m.reader, m.address, marketplaceABI, "getAllProducts")
	if err != nil {
		return nil, err
	}
	var tuples []productTuple
	converted, ok := abi.ConvertType(vals[0], &tuples).(*[]productTuple)
	if !ok {
		return nil, fmt.Errorf("invalid getAllProducts return type")
	}

	products := make([]entities.Product, 0, len(*converted))
	for _, tuple := range *converted {
		products = append(products, tuple.toEntity(m.chainID))
	}
	return products, nil
}

func (m *evmMarketplace) Product(ctx context.Context, id uint64) (*entities.Product, error) {
	vals, err := callViewValues(ctx, m.reader, m.address, marketplaceABI, "getProduct", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	if len(vals) != 9 {
		return nil, fmt.Errorf("invalid getProduct return length %d", len(vals))
	}

	var tuple productTuple
	var ok [9]bool
	tuple.Id, ok[0] = vals[0].(*big.Int)
	tuple.Seller, ok[1] = vals[1].(common.Address)
	tuple.Name, ok[2] = vals[2].(string)
	tuple.Description, ok[3] = vals[3].(string)
	tuple.Category, ok[4] = vals[4].(string)
	tuple.Price, ok[5] = vals[5].(*big.Int)
	tuple.Currency, ok[6] = vals[6].(common.Address)
	tuple.Purchased, ok[7] = vals[7].(bool)
	tuple.Buyer, ok[8] = vals[8].(common.Address)
	for i := range ok {
		if !ok[i] {
			return nil, fmt.Errorf("invalid getProduct return type at %d", i)
		}
	}

	product := tuple.toEntity(m.chainID)
	return &product, nil
}

func (m *evmMarketplace) ProductCount(ctx context.Context) (uint64, error) {
	count, err := callTypedView[*big.Int](ctx, m.reader, m.address, marketplaceABI, "getProductCount")
	if err != nil {
		return 0, err
	}
	return count.Uint64(), nil
}

func (m *evmMarketplace) ProductsBySeller(ctx context.Context, seller string) ([]uint64, error) {
	ids, err := callTypedView[[]*big.Int](ctx, m.reader, m.address, marketplaceABI, "getProductsBySeller", common.HexToAddress(seller))
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Uint64())
	}
	return out, nil
}

func (m *evmMarketplace) ChainFromCurrency(ctx context.Context, currency string) (string, error) {
	return callTypedView[string](ctx, m.reader, m.address, marketplaceABI, "getChainFromCurrency", common.HexToAddress(currency))
}

func (m *evmMarketplace) CanPurchase(ctx context.Context, id uint64, buyer string) (bool, string, error) {
	vals, err := callViewValues(ctx, m.reader, m.address, marketplaceABI, "canPurchaseProduct", new(big.Int).SetUint64(id), common.HexToAddress(buyer))
	if err != nil {
		if errors.Is(err, errEmptyReturn) || isBareRevert(err) {
			return false, "", ErrMethodNotExposed
		}
		return false, "", err
	}
	if len(vals) != 2 {
		return false, "", fmt.Errorf("invalid canPurchaseProduct return length %d", len(vals))
	}
	allowed, ok := vals[0].(bool)
	if !ok {
		return false, "", fmt.Errorf("invalid canPurchaseProduct return type")
	}
	reason, _ := vals[1].(string)
	return allowed, reason, nil
}

func (m *evmMarketplace) UserStats(ctx context.Context, user string) (uint64, *big.Int, error) {
	vals, err := callViewValues(ctx, m.reader, m.address, marketplaceABI, "getUserStats", common.HexToAddress(user))
	if err != nil {
		return 0, nil, err
	}
	if len(vals) != 2 {
		return 0, nil, fmt.Errorf("invalid getUserStats return length %d", len(vals))
	}
	count, ok := vals[0].(*big.Int)
	if !ok {
		return 0, nil, fmt.Errorf("invalid getUserStats return type")
	}
	spent, ok := vals[1].(*big.Int)
	if !ok {
		return 0, nil, fmt.Errorf("invalid getUserStats return type")
	}
	return count.Uint64(), spent, nil
}
