package usecases

import (
	"context"
	"fmt"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/internal/infrastructure/blockchain"
)

// ChainGateway hands out readers bound to catalog chains
type ChainGateway interface {
	Catalog() *entities.ChainCatalog
	Tokens(ctx context.Context, chainID uint64) (TokenReader, error)
	Marketplace(ctx context.Context, chainID uint64) (MarketplaceReader, error)
}

type catalogGateway struct {
	catalog *entities.ChainCatalog
	factory *blockchain.ClientFactory
}

// NewChainGateway resolves chains through the catalog and dials them through factory
func NewChainGateway(catalog *entities.ChainCatalog, factory *blockchain.ClientFactory) ChainGateway {
	return &catalogGateway{catalog: catalog, factory: factory}
}

func (g *catalogGateway) Catalog() *entities.ChainCatalog {
	return g.catalog
}

func (g *catalogGateway) Tokens(_ context.Context, chainID uint64) (TokenReader, error) {
	_, client, err := g.client(chainID)
	if err != nil {
		return nil, err
	}
	return NewTokenReader(client), nil
}

func (g *catalogGateway) Marketplace(_ context.Context, chainID uint64) (MarketplaceReader, error) {
	spec, client, err := g.client(chainID)
	if err != nil {
		return nil, err
	}
	if !spec.HasMarketplace() {
		return nil, domainerrors.Validation(fmt.Sprintf("no marketplace deployed on chain %d", chainID))
	}
	return NewMarketplaceReader(client, spec.MarketplaceAddress), nil
}

func (g *catalogGateway) client(chainID uint64) (*entities.ChainSpec, *blockchain.EVMClient, error) {
	spec, ok := g.catalog.Get(chainID)
	if !ok {
		return nil, nil, domainerrors.Validation(fmt.Sprintf("chain %d is not supported", chainID))
	}
	client, err := g.factory.GetEVMClient(spec.RPCURL)
	if err != nil {
		return nil, nil, domainerrors.ReadFailure(fmt.Sprintf("failed to connect to chain %d", chainID), err)
	}
	return spec, client, nil
}
