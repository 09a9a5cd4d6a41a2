package blockchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
)

var (
	newKeyedTransactor      = bind.NewKeyedTransactorWithChainID
	performContractTransact = func(backend *ethclient.Client, contractAddress string, parsedABI abi.ABI, auth *bind.TransactOpts, method string, args ...interface{}) (*types.Transaction, error) {
		contract := bind.NewBoundContract(common.HexToAddress(contractAddress), parsedABI, backend, backend, backend)
		return contract.Transact(auth, method, args...)
	}
	waitMined = func(ctx context.Context, backend *ethclient.Client, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, backend, tx)
	}
)

// SigningWallet is the service's own account. Like an injected browser wallet it
// only signs for chains registered with it. Every send names its chain, so
// concurrent attempts on different chains never sign for each other's chain.
type SigningWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	factory *ClientFactory

	mu        sync.RWMutex
	active    uint64
	chains    map[uint64]entities.ChainSpec
	sendLocks map[uint64]*sync.Mutex
}

// NewSigningWallet loads the private key and connects to the initial chain
func NewSigningWallet(ctx context.Context, privateKeyHex string, factory *ClientFactory, initial entities.ChainSpec) (*SigningWallet, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, domainerrors.BadRequest("invalid owner private key")
	}

	w := &SigningWallet{
		key:       privateKey,
		address:   crypto.PubkeyToAddress(privateKey.PublicKey),
		factory:   factory,
		chains:    make(map[uint64]entities.ChainSpec),
		sendLocks: make(map[uint64]*sync.Mutex),
	}
	if err := w.AddChain(ctx, initial); err != nil {
		return nil, err
	}
	w.active = initial.ChainID
	return w, nil
}

// Address returns the checksummed account address
func (w *SigningWallet) Address() string {
	return w.address.Hex()
}

// ActiveChain returns the chain the wallet was last switched to
func (w *SigningWallet) ActiveChain() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// SwitchChain makes chainID active. Unknown chains fail with ErrUnrecognizedChain.
func (w *SigningWallet) SwitchChain(_ context.Context, chainID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.chains[chainID]; !ok {
		return fmt.Errorf("%w: %d", domainerrors.ErrUnrecognizedChain, chainID)
	}
	w.active = chainID
	return nil
}

// AddChain registers a chain after checking its RPC endpoint reports the expected id
func (w *SigningWallet) AddChain(_ context.Context, spec entities.ChainSpec) error {
	if spec.ChainID == 0 || strings.TrimSpace(spec.RPCURL) == "" {
		return fmt.Errorf("chain id and rpc url are required")
	}
	client, err := w.factory.GetEVMClient(spec.RPCURL)
	if err != nil {
		return err
	}
	if got := client.ChainID(); got == nil || got.Uint64() != spec.ChainID {
		return fmt.Errorf("rpc %s reports chain %v, expected %d", spec.RPCURL, got, spec.ChainID)
	}

	w.mu.Lock()
	w.chains[spec.ChainID] = spec
	w.mu.Unlock()
	return nil
}

// Transact sends a contract call on chainID, which must be registered
func (w *SigningWallet) Transact(ctx context.Context, chainID uint64, contractAddress string, parsedABI abi.ABI, method string, args ...interface{}) (*types.Transaction, error) {
	client, err := w.clientFor(chainID)
	if err != nil {
		return nil, err
	}
	backend, err := client.Backend()
	if err != nil {
		return nil, err
	}
	auth, err := newKeyedTransactor(w.key, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, err
	}
	auth.Context = ctx

	unlock := w.lockSends(chainID)
	defer unlock()
	return performContractTransact(backend, contractAddress, parsedABI, auth, method, args...)
}

// SendTransaction signs and submits a prepared transaction on chainID
func (w *SigningWallet) SendTransaction(ctx context.Context, chainID uint64, req *entities.TransactionRequest) (*types.Transaction, error) {
	if req.ChainID != 0 && req.ChainID != chainID {
		return nil, fmt.Errorf("transaction targets chain %d but was sent on %d", req.ChainID, chainID)
	}
	if !common.IsHexAddress(req.To) {
		return nil, fmt.Errorf("invalid transaction target %q", req.To)
	}
	client, err := w.clientFor(chainID)
	if err != nil {
		return nil, err
	}
	backend, err := client.Backend()
	if err != nil {
		return nil, err
	}

	to := common.HexToAddress(req.To)
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	unlock := w.lockSends(chainID)
	defer unlock()

	nonce, err := backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip: %w", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas := req.GasLimit
	if gas == 0 {
		gas, err = backend.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Value: value, Data: req.Data})
		if err != nil {
			return nil, err
		}
	}

	signerChain := new(big.Int).SetUint64(chainID)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   signerChain,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: new(big.Int).Add(gasPrice, tip),
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(signerChain), w.key)
	if err != nil {
		return nil, err
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// WaitMined blocks until the transaction has a receipt or ctx is done
func (w *SigningWallet) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	client, err := w.clientFor(w.txChain(tx))
	if err != nil {
		return nil, err
	}
	backend, err := client.Backend()
	if err != nil {
		return nil, err
	}
	return waitMined(ctx, backend, tx)
}

// ReplayRevert re-executes a reverted transaction and returns the call error carrying revert data
func (w *SigningWallet) ReplayRevert(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) error {
	client, err := w.clientFor(w.txChain(tx))
	if err != nil {
		return err
	}
	var block *big.Int
	if receipt != nil {
		block = receipt.BlockNumber
	}
	_, err = client.ReplayCall(ctx, w.address, tx, block)
	return err
}

func (w *SigningWallet) txChain(tx *types.Transaction) uint64 {
	if id := tx.ChainId(); id != nil && id.Sign() > 0 {
		return id.Uint64()
	}
	return w.ActiveChain()
}

// lockSends serializes nonce use per chain
func (w *SigningWallet) lockSends(chainID uint64) func() {
	w.mu.Lock()
	lock, ok := w.sendLocks[chainID]
	if !ok {
		lock = &sync.Mutex{}
		w.sendLocks[chainID] = lock
	}
	w.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (w *SigningWallet) clientFor(chainID uint64) (*EVMClient, error) {
	w.mu.RLock()
	spec, ok := w.chains[chainID]
	w.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", domainerrors.ErrUnrecognizedChain, chainID)
	}
	return w.factory.GetEVMClient(spec.RPCURL)
}
