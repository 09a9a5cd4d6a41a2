package usecases

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/internal/domain/repositories"
	"metamarket.backend/internal/infrastructure/statestore"
)

const (
	testLineaChainID = uint64(59144)
	testBaseChainID  = uint64(8453)
	testLineaUSDC    = "0x176211869cA2b568f2A7D4EE941E073a821EE1ff"
	testBaseUSDC     = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	testMarketplace  = "0x4309Eb90A37cfD0ecE450305B24a2DE68b73f312"
	testBuyer        = "0x9999999999999999999999999999999999999999"
	testSeller       = "0x1111111111111111111111111111111111111111"
	testBridgeRouter = "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE"
)

func testCatalog() *entities.ChainCatalog {
	return &entities.ChainCatalog{
		HomeChainID: testLineaChainID,
		Chains: []entities.ChainSpec{
			{
				ChainID:            testLineaChainID,
				Name:               "Linea",
				NativeCurrency:     entities.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
				RPCURL:             "http://linea.test",
				SettlementAsset:    testLineaUSDC,
				SettlementSymbol:   "USDC",
				SettlementDecimals: 6,
				MarketplaceAddress: testMarketplace,
			},
			{
				ChainID:            testBaseChainID,
				Name:               "Base",
				NativeCurrency:     entities.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
				RPCURL:             "http://base.test",
				SettlementAsset:    testBaseUSDC,
				SettlementSymbol:   "USDC",
				SettlementDecimals: 6,
				MarketplaceAddress: testMarketplace,
			},
		},
	}
}

func usdc(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000))
}

type transactCall struct {
	chainID  uint64
	contract string
	method   string
	args     []interface{}
}

type fakeWallet struct {
	mu sync.Mutex

	address string
	active  uint64
	known   map[uint64]bool
	added   []uint64

	transacts []transactCall
	sent      []entities.TransactionRequest
	calls     int
	nonce     uint64

	transactErr   error
	sendErr       error
	failReceipt   bool
	blockWait     bool
	replayErr     error
	onTransact    func(call transactCall)
	switchFailure error
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		address: common.HexToAddress(testBuyer).Hex(),
		active:  testLineaChainID,
		known:   map[uint64]bool{testLineaChainID: true},
	}
}

func (w *fakeWallet) Address() string { return w.address }

func (w *fakeWallet) ActiveChain() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func (w *fakeWallet) SwitchChain(_ context.Context, chainID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.switchFailure != nil {
		return w.switchFailure
	}
	if !w.known[chainID] {
		return domainerrors.ErrUnrecognizedChain
	}
	w.active = chainID
	return nil
}

func (w *fakeWallet) AddChain(_ context.Context, spec entities.ChainSpec) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.known[spec.ChainID] = true
	w.added = append(w.added, spec.ChainID)
	return nil
}

func (w *fakeWallet) Transact(_ context.Context, chainID uint64, contract string, _ abi.ABI, method string, args ...interface{}) (*types.Transaction, error) {
	w.mu.Lock()
	w.calls++
	if w.transactErr != nil {
		w.mu.Unlock()
		return nil, w.transactErr
	}
	if !w.known[chainID] {
		w.mu.Unlock()
		return nil, domainerrors.ErrUnrecognizedChain
	}
	call := transactCall{chainID: chainID, contract: contract, method: method, args: args}
	w.transacts = append(w.transacts, call)
	tx := w.newTx(contract)
	hook := w.onTransact
	w.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return tx, nil
}

func (w *fakeWallet) SendTransaction(_ context.Context, chainID uint64, req *entities.TransactionRequest) (*types.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.sendErr != nil {
		return nil, w.sendErr
	}
	if !w.known[chainID] {
		return nil, domainerrors.ErrUnrecognizedChain
	}
	sent := *req
	sent.ChainID = chainID
	w.sent = append(w.sent, sent)
	return w.newTx(req.To), nil
}

func (w *fakeWallet) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	w.mu.Lock()
	w.calls++
	block, fail := w.blockWait, w.failReceipt
	w.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	status := types.ReceiptStatusSuccessful
	if fail {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: big.NewInt(100)}, nil
}

func (w *fakeWallet) ReplayRevert(context.Context, *types.Transaction, *types.Receipt) error {
	return w.replayErr
}

func (w *fakeWallet) newTx(to string) *types.Transaction {
	w.nonce++
	addr := common.HexToAddress(to)
	return types.NewTx(&types.LegacyTx{Nonce: w.nonce, To: &addr, Gas: 21000, GasPrice: big.NewInt(1)})
}

func (w *fakeWallet) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *fakeWallet) transactCalls() []transactCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]transactCall(nil), w.transacts...)
}

func (w *fakeWallet) methods() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.transacts))
	for _, call := range w.transacts {
		out = append(out, call.method)
	}
	return out
}

type fakeChainState struct {
	balance    *big.Int
	allowance  *big.Int
	balanceErr error
}

type fakeGateway struct {
	mu      sync.Mutex
	catalog *entities.ChainCatalog
	chains  map[uint64]*fakeChainState
	market  *fakeMarketplace

	balanceCalls   map[uint64]int
	allowanceCalls map[uint64]int
	tokenCalls     int
}

func newFakeGateway(catalog *entities.ChainCatalog, market *fakeMarketplace) *fakeGateway {
	g := &fakeGateway{
		catalog:        catalog,
		chains:         make(map[uint64]*fakeChainState),
		market:         market,
		balanceCalls:   make(map[uint64]int),
		allowanceCalls: make(map[uint64]int),
	}
	for _, spec := range catalog.Chains {
		g.chains[spec.ChainID] = &fakeChainState{balance: new(big.Int), allowance: new(big.Int)}
	}
	return g
}

func (g *fakeGateway) Catalog() *entities.ChainCatalog { return g.catalog }

func (g *fakeGateway) Tokens(_ context.Context, chainID uint64) (TokenReader, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokenCalls++
	if _, ok := g.chains[chainID]; !ok {
		return nil, domainerrors.Validation("chain is not supported")
	}
	return &fakeTokens{gateway: g, chainID: chainID}, nil
}

func (g *fakeGateway) Marketplace(_ context.Context, chainID uint64) (MarketplaceReader, error) {
	if _, ok := g.catalog.Get(chainID); !ok {
		return nil, domainerrors.Validation("chain is not supported")
	}
	return g.market, nil
}

func (g *fakeGateway) setBalance(chainID uint64, amount *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chains[chainID].balance = amount
}

func (g *fakeGateway) setAllowance(chainID uint64, amount *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chains[chainID].allowance = amount
}

func (g *fakeGateway) balanceReads(chainID uint64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balanceCalls[chainID]
}

func (g *fakeGateway) tokenReads() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokenCalls
}

type fakeTokens struct {
	gateway *fakeGateway
	chainID uint64
}

func (t *fakeTokens) BalanceOf(context.Context, string, string) (*big.Int, error) {
	t.gateway.mu.Lock()
	defer t.gateway.mu.Unlock()
	t.gateway.balanceCalls[t.chainID]++
	state := t.gateway.chains[t.chainID]
	if state.balanceErr != nil {
		return nil, state.balanceErr
	}
	return new(big.Int).Set(state.balance), nil
}

func (t *fakeTokens) Allowance(context.Context, string, string, string) (*big.Int, error) {
	t.gateway.mu.Lock()
	defer t.gateway.mu.Unlock()
	t.gateway.allowanceCalls[t.chainID]++
	return new(big.Int).Set(t.gateway.chains[t.chainID].allowance), nil
}

type fakeMarketplace struct {
	mu       sync.Mutex
	products map[uint64]entities.Product
	stats    map[string][2]*big.Int
	chainFor map[string]string

	canPurchase   *bool
	denyReason    string
	productErr    error
	productReads  int
	allProductErr error
}

func newFakeMarketplace(products ...entities.Product) *fakeMarketplace {
	m := &fakeMarketplace{
		products: make(map[uint64]entities.Product),
		stats:    make(map[string][2]*big.Int),
		chainFor: make(map[string]string),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *fakeMarketplace) Address() string { return testMarketplace }

func (m *fakeMarketplace) AllProducts(context.Context) ([]entities.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allProductErr != nil {
		return nil, m.allProductErr
	}
	ids := make([]uint64, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]entities.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.copyProduct(id))
	}
	return out, nil
}

func (m *fakeMarketplace) Product(_ context.Context, id uint64) (*entities.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productReads++
	if m.productErr != nil {
		return nil, m.productErr
	}
	if _, ok := m.products[id]; !ok {
		return &entities.Product{PriceUnits: new(big.Int), Price: "0"}, nil
	}
	p := m.copyProduct(id)
	return &p, nil
}

func (m *fakeMarketplace) ProductCount(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.products)), nil
}

func (m *fakeMarketplace) ProductsBySeller(_ context.Context, seller string) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint64
	for id, p := range m.products {
		if strings.EqualFold(p.Seller, seller) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *fakeMarketplace) ChainFromCurrency(_ context.Context, currency string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainFor[strings.ToLower(currency)], nil
}

func (m *fakeMarketplace) CanPurchase(context.Context, uint64, string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.canPurchase == nil {
		return false, "", ErrMethodNotExposed
	}
	return *m.canPurchase, m.denyReason, nil
}

func (m *fakeMarketplace) UserStats(_ context.Context, user string) (uint64, *big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.stats[strings.ToLower(user)]
	if !ok {
		return 0, new(big.Int), nil
	}
	return stats[0].Uint64(), stats[1], nil
}

func (m *fakeMarketplace) markPurchased(id uint64, buyer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Purchased = true
	p.Buyer.SetValid(buyer)
	m.products[id] = p
}

func (m *fakeMarketplace) copyProduct(id uint64) entities.Product {
	p := m.products[id]
	if p.PriceUnits != nil {
		p.PriceUnits = new(big.Int).Set(p.PriceUnits)
	}
	return p
}

type fakeAggregator struct {
	mu sync.Mutex

	routes    []entities.Route
	routesErr error
	requests  []entities.RouteRequest

	refreshedMin *big.Int
	stepErr      error
	statuses     []entities.BridgeStatus
	statusCalls  int
}

func (a *fakeAggregator) GetRoutes(_ context.Context, req entities.RouteRequest) ([]entities.Route, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	return a.routes, a.routesErr
}

func (a *fakeAggregator) StepTransaction(_ context.Context, step entities.RouteStep) (*entities.RouteStep, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stepErr != nil {
		return nil, a.stepErr
	}
	out := step
	if a.refreshedMin != nil {
		out.Estimate.ToAmountMin = a.refreshedMin
	}
	out.TransactionRequest = &entities.TransactionRequest{
		ChainID: step.Action.FromChainID,
		From:    step.Action.FromAddress,
		To:      testBridgeRouter,
		Data:    []byte{0xde, 0xad},
		Value:   new(big.Int),
	}
	return &out, nil
}

func (a *fakeAggregator) Status(context.Context, string, entities.RouteStep) (*entities.TransferStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := entities.BridgeStatusDone
	if a.statusCalls < len(a.statuses) {
		status = a.statuses[a.statusCalls]
	} else if len(a.statuses) > 0 {
		status = a.statuses[len(a.statuses)-1]
	}
	a.statusCalls++
	return &entities.TransferStatus{Status: status, Message: "transfer " + strings.ToLower(string(status))}, nil
}

func (a *fakeAggregator) requestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func cctpRoute(amount *big.Int) entities.Route {
	return entities.Route{
		ID:          "route-1",
		FromChainID: testLineaChainID,
		ToChainID:   testBaseChainID,
		FromToken:   testLineaUSDC,
		ToToken:     testBaseUSDC,
		FromAmount:  amount,
		ToAmount:    amount,
		ToAmountMin: amount,
		FromAddress: testBuyer,
		ToAddress:   testBuyer,
		Steps: []entities.RouteStep{{
			ID:   "step-1",
			Type: entities.StepTypeCross,
			Tool: "cctp",
			Action: entities.StepAction{
				FromChainID: testLineaChainID,
				ToChainID:   testBaseChainID,
				FromToken:   testLineaUSDC,
				ToToken:     testBaseUSDC,
				FromAmount:  amount,
				FromAddress: testBuyer,
				ToAddress:   testBuyer,
			},
			Estimate: entities.StepEstimate{
				ApprovalAddress: testBridgeRouter,
				FromAmount:      amount,
				ToAmount:        amount,
				ToAmountMin:     amount,
			},
		}},
	}
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*entities.PurchaseAttempt
	states   []entities.PurchaseState
	txs      map[repositories.TxKind][]string
	createErr error
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{
		attempts: make(map[uuid.UUID]*entities.PurchaseAttempt),
		txs:      make(map[repositories.TxKind][]string),
	}
}

func (r *fakeAttemptRepo) Create(_ context.Context, attempt *entities.PurchaseAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *attempt
	r.attempts[attempt.ID] = &cp
	return nil
}

func (r *fakeAttemptRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

func (r *fakeAttemptRepo) GetByID(_ context.Context, id uuid.UUID) (*entities.PurchaseAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	cp := *attempt
	return &cp, nil
}

func (r *fakeAttemptRepo) ListBySession(_ context.Context, session string, limit, offset int) ([]*entities.PurchaseAttempt, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.PurchaseAttempt
	for _, attempt := range r.attempts {
		if attempt.SessionKey == session {
			cp := *attempt
			out = append(out, &cp)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return []*entities.PurchaseAttempt{}, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *fakeAttemptRepo) UpdateState(_ context.Context, id uuid.UUID, state entities.PurchaseState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	if attempt, ok := r.attempts[id]; ok {
		attempt.State = state
	}
	return nil
}

func (r *fakeAttemptRepo) RecordTx(_ context.Context, _ uuid.UUID, kind repositories.TxKind, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[kind] = append(r.txs[kind], txHash)
	return nil
}

func (r *fakeAttemptRepo) MarkFinished(_ context.Context, id uuid.UUID, state entities.PurchaseState, code, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if attempt, ok := r.attempts[id]; ok {
		attempt.State = state
		if code != "" {
			attempt.FailureCode.SetValid(code)
			attempt.FailureReason.SetValid(reason)
		}
	}
	return nil
}

func (r *fakeAttemptRepo) GetInFlightBefore(context.Context, time.Time, int) ([]*entities.PurchaseAttempt, error) {
	return nil, nil
}

func (r *fakeAttemptRepo) MarkStuck(context.Context, []uuid.UUID) error { return nil }

type purchaseEnv struct {
	catalog    *entities.ChainCatalog
	wallet     *fakeWallet
	gateway    *fakeGateway
	market     *fakeMarketplace
	aggregator *fakeAggregator
	store      *statestore.MemoryStore
	attempts   *fakeAttemptRepo
	orch       *PurchaseOrchestrator
}

func basePriceProduct(price string) entities.Product {
	units, err := ParseAmount(price, SettlementDecimals)
	if err != nil {
		panic(err)
	}
	return entities.Product{
		ID:          1,
		Seller:      testSeller,
		Name:        "Headphones",
		Description: "Noise cancelling",
		Category:    entities.ProductCategoryElectronics,
		Price:       FormatAmount(units, SettlementDecimals),
		PriceUnits:  units,
		Currency:    testBaseUSDC,
		ChainID:     testLineaChainID,
	}
}

func newPurchaseEnv(products ...entities.Product) *purchaseEnv {
	catalog := testCatalog()
	market := newFakeMarketplace(products...)
	env := &purchaseEnv{
		catalog:    catalog,
		wallet:     newFakeWallet(),
		gateway:    newFakeGateway(catalog, market),
		market:     market,
		aggregator: &fakeAggregator{},
		store:      statestore.NewMemoryStore(),
		attempts:   newFakeAttemptRepo(),
	}
	env.wallet.onTransact = func(call transactCall) {
		if call.method == "purchaseProduct" {
			env.market.markPurchased(call.args[0].(*big.Int).Uint64(), env.wallet.Address())
		}
	}
	env.orch = env.build(BridgeExecutorConfig{
		ConfirmationTimeout: time.Second,
		StatusPollInterval:  time.Millisecond,
	})
	return env
}

func (e *purchaseEnv) build(cfg BridgeExecutorConfig) *PurchaseOrchestrator {
	ensurer := NewChainEnsurer(e.catalog)
	return NewPurchaseOrchestrator(PurchaseOrchestratorDeps{
		Gateway:   e.gateway,
		Wallet:    e.wallet,
		Planner:   NewRoutePlanner(e.aggregator, "circle"),
		Executor:  NewBridgeExecutor(e.gateway, e.aggregator, ensurer, cfg),
		Finalizer: NewPurchaseFinalizer(e.gateway, ensurer, cfg.ConfirmationTimeout),
		Tracker:   NewStateTracker(e.store),
		Attempts:  e.attempts,
	})
}
