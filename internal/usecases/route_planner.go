package usecases

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/pkg/logger"
)

// Aggregator is the third-party liquidity and bridge routing service
type Aggregator interface {
	GetRoutes(ctx context.Context, req entities.RouteRequest) ([]entities.Route, error)
	StepTransaction(ctx context.Context, step entities.RouteStep) (*entities.RouteStep, error)
	Status(ctx context.Context, txHash string, step entities.RouteStep) (*entities.TransferStatus, error)
}

// RoutePlanner asks the aggregator for a route restricted to one bridge protocol
type RoutePlanner struct {
	aggregator    Aggregator
	allowedBridge string
}

func NewRoutePlanner(aggregator Aggregator, allowedBridge string) *RoutePlanner {
	return &RoutePlanner{aggregator: aggregator, allowedBridge: allowedBridge}
}

// Plan returns the first route for moving exactly req.FromAmount
func (p *RoutePlanner) Plan(ctx context.Context, req entities.RouteRequest) (*entities.Route, error) {
	if req.FromAmount == nil || req.FromAmount.Sign() <= 0 {
		return nil, domainerrors.Validation("bridge amount must be positive")
	}
	if req.FromChainID == req.ToChainID {
		return nil, domainerrors.Validation("source and destination chain must differ")
	}
	if req.ToAddress == "" {
		req.ToAddress = req.FromAddress
	}
	if req.AllowedBridge == "" {
		req.AllowedBridge = p.allowedBridge
	}

	routes, err := p.aggregator.GetRoutes(ctx, req)
	if err != nil {
		return nil, classify(err, func(cause error) *domainerrors.AppError {
			return domainerrors.ReadFailure("failed to fetch routes", cause)
		})
	}
	if len(routes) == 0 {
		return nil, domainerrors.NoRouteFound(fmt.Sprintf("no route from chain %d to chain %d via %s", req.FromChainID, req.ToChainID, req.AllowedBridge))
	}

	route := routes[0]
	logger.Info(ctx, "Planned bridge route",
		zap.String("route_id", route.ID),
		zap.Uint64("from_chain", req.FromChainID),
		zap.Uint64("to_chain", req.ToChainID),
		zap.String("amount", req.FromAmount.String()),
		zap.Int("steps", len(route.Steps)),
	)
	return &route, nil
}
