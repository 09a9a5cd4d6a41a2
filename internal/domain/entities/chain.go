package entities

import (
	"strconv"
	"strings"
)

// NativeCurrency describes the gas token of a chain
type NativeCurrency struct {
	Name     string `json:"name" mapstructure:"name"`
	Symbol   string `json:"symbol" mapstructure:"symbol"`
	Decimals int    `json:"decimals" mapstructure:"decimals"`
}

// ChainSpec is the metadata needed to reach a chain and register it with a wallet
type ChainSpec struct {
	ChainID            uint64         `json:"chainId" mapstructure:"chain_id"`
	Name               string         `json:"name" mapstructure:"name"`
	NativeCurrency     NativeCurrency `json:"nativeCurrency" mapstructure:"native_currency"`
	RPCURL             string         `json:"rpcUrl" mapstructure:"rpc_url"`
	ExplorerURL        string         `json:"explorerUrl,omitempty" mapstructure:"explorer_url"`
	SettlementAsset    string         `json:"settlementAsset" mapstructure:"settlement_asset"`
	SettlementSymbol   string         `json:"settlementSymbol" mapstructure:"settlement_symbol"`
	SettlementDecimals int            `json:"settlementDecimals" mapstructure:"settlement_decimals"`
	MarketplaceAddress string         `json:"marketplaceAddress,omitempty" mapstructure:"marketplace_address"`
}

// GetCAIP2ID returns the CAIP-2 formatted chain ID
func (c *ChainSpec) GetCAIP2ID() string {
	return "eip155:" + strconv.FormatUint(c.ChainID, 10)
}

// HasMarketplace reports whether a marketplace contract is deployed on the chain
func (c *ChainSpec) HasMarketplace() bool {
	return strings.TrimSpace(c.MarketplaceAddress) != ""
}

// ChainCatalog is the ordered set of chains the service can operate on.
// HomeChainID is the chain whose marketplace serves the product index.
type ChainCatalog struct {
	HomeChainID uint64      `json:"homeChainId"`
	Chains      []ChainSpec `json:"chains"`
}

// Get returns the chain spec by id
func (c *ChainCatalog) Get(chainID uint64) (*ChainSpec, bool) {
	for i := range c.Chains {
		if c.Chains[i].ChainID == chainID {
			return &c.Chains[i], true
		}
	}
	return nil, false
}

// Home returns the chain hosting the product index
func (c *ChainCatalog) Home() (*ChainSpec, bool) {
	return c.Get(c.HomeChainID)
}

// BySettlementAsset resolves the chain on which the given settlement asset is deployed
func (c *ChainCatalog) BySettlementAsset(asset string) (*ChainSpec, bool) {
	for i := range c.Chains {
		if strings.EqualFold(c.Chains[i].SettlementAsset, strings.TrimSpace(asset)) {
			return &c.Chains[i], true
		}
	}
	return nil, false
}

// ByName resolves a chain by display name, case-insensitively
func (c *ChainCatalog) ByName(name string) (*ChainSpec, bool) {
	value := strings.TrimSpace(name)
	for i := range c.Chains {
		if strings.EqualFold(c.Chains[i].Name, value) {
			return &c.Chains[i], true
		}
	}
	return nil, false
}

// Others returns every chain except the given one, in catalog order
func (c *ChainCatalog) Others(chainID uint64) []ChainSpec {
	out := make([]ChainSpec, 0, len(c.Chains))
	for _, spec := range c.Chains {
		if spec.ChainID != chainID {
			out = append(out, spec)
		}
	}
	return out
}
