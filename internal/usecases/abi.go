package usecases

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ChainReader is the read side of an RPC connection to one chain
type ChainReader interface {
	ChainID() *big.Int
	CallView(ctx context.Context, to string, data []byte) ([]byte, error)
}

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

const productComponents = `[
	{"name":"id","type":"uint256"},
	{"name":"seller","type":"address"},
	{"name":"name","type":"string"},
	{"name":"description","type":"string"},
	{"name":"category","type":"string"},
	{"name":"price","type":"uint256"},
	{"name":"currency","type":"address"},
	{"name":"purchased","type":"bool"},
	{"name":"buyer","type":"address"}
]`

var marketplaceABIJSON = `[
	{"inputs":[],"name":"getAllProducts","outputs":[{"name":"","type":"tuple[]","components":` + productComponents + `}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"_id","type":"uint256"}],"name":"getProduct","outputs":` + productComponents + `,"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getProductCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"_seller","type":"address"}],"name":"getProductsBySeller","outputs":[{"name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"_currency","type":"address"}],"name":"getChainFromCurrency","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"_id","type":"uint256"},{"name":"_buyer","type":"address"}],"name":"canPurchaseProduct","outputs":[{"name":"allowed","type":"bool"},{"name":"reason","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"_user","type":"address"}],"name":"getUserStats","outputs":[{"name":"purchaseCount","type":"uint256"},{"name":"totalSpent","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"_name","type":"string"},{"name":"_description","type":"string"},{"name":"_category","type":"string"},{"name":"_price","type":"uint256"},{"name":"_currency","type":"address"}],"name":"listProduct","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"_id","type":"uint256"}],"name":"purchaseProduct","outputs":[],"stateMutability":"payable","type":"function"}
]`

var (
	erc20ABI       = mustParseABI(erc20ABIJSON)
	marketplaceABI = mustParseABI(marketplaceABIJSON)
)

// ERC20ABI returns the parsed token interface used for approvals
func ERC20ABI() abi.ABI { return erc20ABI }

// MarketplaceABI returns the parsed marketplace contract interface
func MarketplaceABI() abi.ABI { return marketplaceABI }

func callViewValues(
	ctx context.Context,
	reader ChainReader,
	contractAddress string,
	parsedABI abi.ABI,
	method string,
	args ...interface{},
) ([]interface{}, error) {
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := reader.CallView(ctx, contractAddress, data)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errEmptyReturn
	}
	vals, err := parsedABI.Unpack(method, out)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("failed to decode %s", method)
	}
	return vals, nil
}

func callTypedView[T any](
	ctx context.Context,
	reader ChainReader,
	contractAddress string,
	parsedABI abi.ABI,
	method string,
	args ...interface{},
) (T, error) {
	var zero T

	vals, err := callViewValues(ctx, reader, contractAddress, parsedABI, method, args...)
	if err != nil {
		return zero, err
	}
	value, ok := vals[0].(T)
	if !ok {
		return zero, fmt.Errorf("invalid %s return type", method)
	}
	return value, nil
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
