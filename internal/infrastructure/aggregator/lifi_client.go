package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"metamarket.backend/internal/domain/entities"
	"metamarket.backend/pkg/logger"
)

const (
	DefaultBaseURL    = "https://li.quest/v1"
	DefaultIntegrator = "metamarket"

	maxErrorBody = 4 << 10
)

// Config for the LI.FI REST client
type Config struct {
	BaseURL    string
	APIKey     string
	Integrator string
	Timeout    time.Duration
	// RatePerSecond throttles outbound calls; zero disables throttling
	RatePerSecond float64
	Burst         int
}

// APIError is a non-2xx answer from the aggregator
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aggregator returned %d: %s", e.StatusCode, e.Body)
}

// LiFiClient implements the route, step transaction and status endpoints
type LiFiClient struct {
	baseURL    string
	apiKey     string
	integrator string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewLiFiClient(cfg Config) *LiFiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Integrator == "" {
		cfg.Integrator = DefaultIntegrator
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &LiFiClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		integrator: cfg.Integrator,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

type routesRequest struct {
	FromChainID      uint64        `json:"fromChainId"`
	ToChainID        uint64        `json:"toChainId"`
	FromTokenAddress string        `json:"fromTokenAddress"`
	ToTokenAddress   string        `json:"toTokenAddress"`
	FromAmount       string        `json:"fromAmount"`
	FromAddress      string        `json:"fromAddress"`
	ToAddress        string        `json:"toAddress"`
	Options          routesOptions `json:"options"`
}

type routesOptions struct {
	Integrator string        `json:"integrator"`
	Bridges    *allowDenyList `json:"bridges,omitempty"`
}

type allowDenyList struct {
	Allow []string `json:"allow"`
}

type routesResponse struct {
	Routes []lifiRoute `json:"routes"`
}

type lifiToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals int    `json:"decimals,omitempty"`
	ChainID  uint64 `json:"chainId,omitempty"`
}

type lifiRoute struct {
	ID          string            `json:"id"`
	FromChainID uint64            `json:"fromChainId"`
	ToChainID   uint64            `json:"toChainId"`
	FromAmount  string            `json:"fromAmount"`
	ToAmount    string            `json:"toAmount"`
	ToAmountMin string            `json:"toAmountMin"`
	FromToken   lifiToken         `json:"fromToken"`
	ToToken     lifiToken         `json:"toToken"`
	FromAddress string            `json:"fromAddress"`
	ToAddress   string            `json:"toAddress"`
	Steps       []json.RawMessage `json:"steps"`
}

type lifiStep struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Tool   string `json:"tool"`
	Action struct {
		FromChainID uint64    `json:"fromChainId"`
		ToChainID   uint64    `json:"toChainId"`
		FromToken   lifiToken `json:"fromToken"`
		ToToken     lifiToken `json:"toToken"`
		FromAmount  string    `json:"fromAmount"`
		FromAddress string    `json:"fromAddress"`
		ToAddress   string    `json:"toAddress"`
	} `json:"action"`
	Estimate struct {
		ApprovalAddress string `json:"approvalAddress"`
		FromAmount      string `json:"fromAmount"`
		ToAmount        string `json:"toAmount"`
		ToAmountMin     string `json:"toAmountMin"`
	} `json:"estimate"`
	TransactionRequest *lifiTxRequest `json:"transactionRequest,omitempty"`
}

type lifiTxRequest struct {
	ChainID  uint64 `json:"chainId"`
	From     string `json:"from"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasLimit string `json:"gasLimit"`
}

type statusResponse struct {
	Status           string `json:"status"`
	Substatus        string `json:"substatus"`
	SubstatusMessage string `json:"substatusMessage"`
}

// GetRoutes calls POST /advanced/routes
func (c *LiFiClient) GetRoutes(ctx context.Context, req entities.RouteRequest) ([]entities.Route, error) {
	body := routesRequest{
		FromChainID:      req.FromChainID,
		ToChainID:        req.ToChainID,
		FromTokenAddress: req.FromToken,
		ToTokenAddress:   req.ToToken,
		FromAmount:       bigString(req.FromAmount),
		FromAddress:      req.FromAddress,
		ToAddress:        req.ToAddress,
		Options:          routesOptions{Integrator: c.integrator},
	}
	if req.AllowedBridge != "" {
		body.Options.Bridges = &allowDenyList{Allow: []string{req.AllowedBridge}}
	}

	var resp routesResponse
	if err := c.do(ctx, http.MethodPost, "/advanced/routes", nil, body, &resp); err != nil {
		return nil, err
	}

	routes := make([]entities.Route, 0, len(resp.Routes))
	for _, raw := range resp.Routes {
		route, err := toRoute(raw)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	logger.Debug(ctx, "Fetched aggregator routes",
		zap.Uint64("from_chain", req.FromChainID),
		zap.Uint64("to_chain", req.ToChainID),
		zap.Int("routes", len(routes)),
	)
	return routes, nil
}

// StepTransaction calls POST /advanced/stepTransaction with the step as the
// aggregator originally described it
func (c *LiFiClient) StepTransaction(ctx context.Context, step entities.RouteStep) (*entities.RouteStep, error) {
	var payload interface{} = json.RawMessage(step.Raw)
	if len(step.Raw) == 0 {
		payload = fromEntityStep(step)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/advanced/stepTransaction", nil, payload, &raw); err != nil {
		return nil, err
	}
	out, err := toStep(raw)
	if err != nil {
		return nil, err
	}
	if out.TransactionRequest == nil {
		return nil, fmt.Errorf("aggregator returned step %s without a transaction request", step.ID)
	}
	return &out, nil
}

// Status calls GET /status for a submitted bridge transaction
func (c *LiFiClient) Status(ctx context.Context, txHash string, step entities.RouteStep) (*entities.TransferStatus, error) {
	query := url.Values{}
	query.Set("txHash", txHash)
	if step.Tool != "" {
		query.Set("bridge", step.Tool)
	}
	if step.Action.FromChainID != 0 {
		query.Set("fromChain", strconv.FormatUint(step.Action.FromChainID, 10))
	}
	if step.Action.ToChainID != 0 {
		query.Set("toChain", strconv.FormatUint(step.Action.ToChainID, 10))
	}

	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/status", query, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return &entities.TransferStatus{Status: entities.BridgeStatusNotFound}, nil
		}
		return nil, err
	}
	return &entities.TransferStatus{
		Status:    entities.BridgeStatus(strings.ToUpper(resp.Status)),
		Substatus: resp.Substatus,
		Message:   resp.SubstatusMessage,
	}, nil
}

func (c *LiFiClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-lifi-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func toRoute(raw lifiRoute) (entities.Route, error) {
	route := entities.Route{
		ID:          raw.ID,
		FromChainID: raw.FromChainID,
		ToChainID:   raw.ToChainID,
		FromToken:   raw.FromToken.Address,
		ToToken:     raw.ToToken.Address,
		FromAmount:  parseBig(raw.FromAmount),
		ToAmount:    parseBig(raw.ToAmount),
		ToAmountMin: parseBig(raw.ToAmountMin),
		FromAddress: raw.FromAddress,
		ToAddress:   raw.ToAddress,
		Steps:       make([]entities.RouteStep, 0, len(raw.Steps)),
	}
	for _, rawStep := range raw.Steps {
		step, err := toStep(rawStep)
		if err != nil {
			return entities.Route{}, err
		}
		route.Steps = append(route.Steps, step)
	}
	return route, nil
}

func toStep(raw json.RawMessage) (entities.RouteStep, error) {
	var s lifiStep
	if err := json.Unmarshal(raw, &s); err != nil {
		return entities.RouteStep{}, fmt.Errorf("failed to decode route step: %w", err)
	}
	step := entities.RouteStep{
		ID:   s.ID,
		Type: entities.StepType(s.Type),
		Tool: s.Tool,
		Action: entities.StepAction{
			FromChainID: s.Action.FromChainID,
			ToChainID:   s.Action.ToChainID,
			FromToken:   s.Action.FromToken.Address,
			ToToken:     s.Action.ToToken.Address,
			FromAmount:  parseBig(s.Action.FromAmount),
			FromAddress: s.Action.FromAddress,
			ToAddress:   s.Action.ToAddress,
		},
		Estimate: entities.StepEstimate{
			ApprovalAddress: s.Estimate.ApprovalAddress,
			FromAmount:      parseBig(s.Estimate.FromAmount),
			ToAmount:        parseBig(s.Estimate.ToAmount),
			ToAmountMin:     parseBig(s.Estimate.ToAmountMin),
		},
		Raw: append(json.RawMessage(nil), raw...),
	}
	if s.TransactionRequest != nil {
		txReq, err := toTransactionRequest(s.TransactionRequest, s.Action.FromChainID)
		if err != nil {
			return entities.RouteStep{}, err
		}
		step.TransactionRequest = txReq
	}
	return step, nil
}

func toTransactionRequest(raw *lifiTxRequest, fallbackChain uint64) (*entities.TransactionRequest, error) {
	data, err := hexutil.Decode(normalizeHex(raw.Data))
	if err != nil {
		return nil, fmt.Errorf("invalid transaction data: %w", err)
	}
	gas := parseBig(raw.GasLimit)
	chainID := raw.ChainID
	if chainID == 0 {
		chainID = fallbackChain
	}
	return &entities.TransactionRequest{
		ChainID:  chainID,
		From:     raw.From,
		To:       raw.To,
		Data:     data,
		Value:    parseBig(raw.Value),
		GasLimit: gas.Uint64(),
	}, nil
}

func fromEntityStep(step entities.RouteStep) lifiStep {
	var s lifiStep
	s.ID = step.ID
	s.Type = string(step.Type)
	s.Tool = step.Tool
	s.Action.FromChainID = step.Action.FromChainID
	s.Action.ToChainID = step.Action.ToChainID
	s.Action.FromToken = lifiToken{Address: step.Action.FromToken, ChainID: step.Action.FromChainID}
	s.Action.ToToken = lifiToken{Address: step.Action.ToToken, ChainID: step.Action.ToChainID}
	s.Action.FromAmount = bigString(step.Action.FromAmount)
	s.Action.FromAddress = step.Action.FromAddress
	s.Action.ToAddress = step.Action.ToAddress
	s.Estimate.ApprovalAddress = step.Estimate.ApprovalAddress
	s.Estimate.FromAmount = bigString(step.Estimate.FromAmount)
	s.Estimate.ToAmount = bigString(step.Estimate.ToAmount)
	s.Estimate.ToAmountMin = bigString(step.Estimate.ToAmountMin)
	return s
}

// parseBig accepts decimal and 0x-prefixed hex; anything else is zero
func parseBig(value string) *big.Int {
	value = strings.TrimSpace(value)
	if value == "" {
		return new(big.Int)
	}
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		if n, ok := new(big.Int).SetString(value[2:], 16); ok {
			return n
		}
		return new(big.Int)
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

// normalizeHex lowercases the 0x prefix hexutil expects
func normalizeHex(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "0x"
	}
	if strings.HasPrefix(value, "0X") {
		value = "0x" + value[2:]
	}
	return value
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
