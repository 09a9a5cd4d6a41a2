package usecases

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
)

func routeRequest(amount *big.Int) entities.RouteRequest {
	return entities.RouteRequest{
		FromChainID: testLineaChainID,
		ToChainID:   testBaseChainID,
		FromToken:   testLineaUSDC,
		ToToken:     testBaseUSDC,
		FromAmount:  amount,
		FromAddress: testBuyer,
	}
}

func TestRoutePlanner_Plan(t *testing.T) {
	ctx := context.Background()

	t.Run("first route with defaults filled", func(t *testing.T) {
		agg := &fakeAggregator{routes: []entities.Route{cctpRoute(usdc(25)), {ID: "route-2"}}}
		route, err := NewRoutePlanner(agg, "circle").Plan(ctx, routeRequest(usdc(25)))
		require.NoError(t, err)
		assert.Equal(t, "route-1", route.ID)
		require.Len(t, agg.requests, 1)
		assert.Equal(t, testBuyer, agg.requests[0].ToAddress)
		assert.Equal(t, "circle", agg.requests[0].AllowedBridge)
		assert.Equal(t, usdc(25), agg.requests[0].FromAmount)
	})

	t.Run("caller bridge wins", func(t *testing.T) {
		agg := &fakeAggregator{routes: []entities.Route{cctpRoute(usdc(1))}}
		req := routeRequest(usdc(1))
		req.AllowedBridge = "stargate"
		_, err := NewRoutePlanner(agg, "circle").Plan(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "stargate", agg.requests[0].AllowedBridge)
	})

	t.Run("no routes", func(t *testing.T) {
		_, err := NewRoutePlanner(&fakeAggregator{}, "circle").Plan(ctx, routeRequest(usdc(1)))
		assert.True(t, errors.Is(err, domainerrors.ErrNoRouteFound))
	})

	t.Run("aggregator unavailable", func(t *testing.T) {
		agg := &fakeAggregator{routesErr: errors.New("503 service unavailable")}
		_, err := NewRoutePlanner(agg, "circle").Plan(ctx, routeRequest(usdc(1)))
		assert.True(t, errors.Is(err, domainerrors.ErrReadFailure))
	})

	t.Run("invalid requests never reach the aggregator", func(t *testing.T) {
		agg := &fakeAggregator{}
		planner := NewRoutePlanner(agg, "circle")

		_, err := planner.Plan(ctx, routeRequest(big.NewInt(0)))
		assert.True(t, errors.Is(err, domainerrors.ErrValidation))

		same := routeRequest(usdc(1))
		same.ToChainID = same.FromChainID
		_, err = planner.Plan(ctx, same)
		assert.True(t, errors.Is(err, domainerrors.ErrValidation))

		assert.Zero(t, agg.requestCount())
	})
}
