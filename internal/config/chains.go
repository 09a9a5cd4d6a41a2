package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"metamarket.backend/internal/domain/entities"
)

const (
	LineaChainID uint64 = 59144
	BaseChainID  uint64 = 8453

	DefaultHomeChainID        = LineaChainID
	DefaultMarketplaceAddress = "0x4309Eb90A37cfD0ecE450305B24a2DE68b73f312"
	// USDC has 6 decimals on every supported chain.
	DefaultSettlementDecimals = 6
)

// DefaultChains returns the built-in catalog, with RPC endpoints overridable from env
func DefaultChains() []entities.ChainSpec {
	eth := entities.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}
	return []entities.ChainSpec{
		{
			ChainID:            LineaChainID,
			Name:               "Linea",
			NativeCurrency:     eth,
			RPCURL:             getEnv("LINEA_RPC_URL", "https://rpc.linea.build"),
			ExplorerURL:        "https://lineascan.build",
			SettlementAsset:    "0x176211869cA2b568f2A7D4EE941E073a821EE1ff",
			SettlementSymbol:   "USDC",
			SettlementDecimals: DefaultSettlementDecimals,
			MarketplaceAddress: getEnv("LINEA_MARKETPLACE_ADDRESS", DefaultMarketplaceAddress),
		},
		{
			ChainID:            BaseChainID,
			Name:               "Base",
			NativeCurrency:     eth,
			RPCURL:             getEnv("BASE_RPC_URL", "https://mainnet.base.org"),
			ExplorerURL:        "https://basescan.org",
			SettlementAsset:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			SettlementSymbol:   "USDC",
			SettlementDecimals: DefaultSettlementDecimals,
			MarketplaceAddress: getEnv("BASE_MARKETPLACE_ADDRESS", DefaultMarketplaceAddress),
		},
	}
}

var newViper = viper.New

// LoadChainCatalog reads the chain catalog from path (yaml, json or toml).
// An empty path yields the built-in catalog.
func LoadChainCatalog(path string, homeChainID uint64) (*entities.ChainCatalog, error) {
	catalog := &entities.ChainCatalog{HomeChainID: homeChainID}

	if strings.TrimSpace(path) == "" {
		catalog.Chains = DefaultChains()
	} else {
		v := newViper()
		v.SetConfigFile(path)
		v.SetDefault("home_chain_id", homeChainID)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read chain catalog: %w", err)
		}
		var chains []entities.ChainSpec
		if err := v.UnmarshalKey("chains", &chains); err != nil {
			return nil, fmt.Errorf("decode chain catalog: %w", err)
		}
		catalog.HomeChainID = v.GetUint64("home_chain_id")
		catalog.Chains = chains
	}

	if catalog.HomeChainID == 0 {
		catalog.HomeChainID = DefaultHomeChainID
	}
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

func validateCatalog(catalog *entities.ChainCatalog) error {
	if len(catalog.Chains) == 0 {
		return fmt.Errorf("chain catalog is empty")
	}
	seen := make(map[uint64]struct{}, len(catalog.Chains))
	for i := range catalog.Chains {
		spec := &catalog.Chains[i]
		if spec.ChainID == 0 {
			return fmt.Errorf("chain %q: chain_id is required", spec.Name)
		}
		if _, dup := seen[spec.ChainID]; dup {
			return fmt.Errorf("chain %d: duplicate entry", spec.ChainID)
		}
		seen[spec.ChainID] = struct{}{}
		if strings.TrimSpace(spec.RPCURL) == "" {
			return fmt.Errorf("chain %d: rpc_url is required", spec.ChainID)
		}
		if !common.IsHexAddress(spec.SettlementAsset) {
			return fmt.Errorf("chain %d: invalid settlement_asset %q", spec.ChainID, spec.SettlementAsset)
		}
		if spec.HasMarketplace() && !common.IsHexAddress(spec.MarketplaceAddress) {
			return fmt.Errorf("chain %d: invalid marketplace_address %q", spec.ChainID, spec.MarketplaceAddress)
		}
		if spec.SettlementDecimals == 0 {
			spec.SettlementDecimals = DefaultSettlementDecimals
		}
		if spec.NativeCurrency.Decimals == 0 {
			spec.NativeCurrency.Decimals = 18
		}
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("chain-%d", spec.ChainID)
		}
	}
	home, ok := catalog.Home()
	if !ok {
		return fmt.Errorf("home chain %d is not in the catalog", catalog.HomeChainID)
	}
	if !home.HasMarketplace() {
		return fmt.Errorf("home chain %d has no marketplace_address", home.ChainID)
	}
	return nil
}
