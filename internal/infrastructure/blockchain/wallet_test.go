package blockchain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
)

const testWalletKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func mockFactory(chains map[string]int64) *ClientFactory {
	f := NewClientFactory()
	for url, id := range chains {
		f.RegisterEVMClient(url, NewEVMClientWithCallView(big.NewInt(id), func(context.Context, string, []byte) ([]byte, error) {
			return nil, nil
		}))
	}
	return f
}

func TestNewSigningWallet(t *testing.T) {
	f := mockFactory(map[string]int64{"mock://linea": 59144})

	w, err := NewSigningWallet(context.Background(), testWalletKey, f, entities.ChainSpec{ChainID: 59144, RPCURL: "mock://linea"})
	require.NoError(t, err)
	assert.Equal(t, uint64(59144), w.ActiveChain())
	assert.True(t, common.IsHexAddress(w.Address()))

	_, err = NewSigningWallet(context.Background(), "not-a-key", f, entities.ChainSpec{ChainID: 59144, RPCURL: "mock://linea"})
	assert.Error(t, err)

	_, err = NewSigningWallet(context.Background(), testWalletKey, f, entities.ChainSpec{ChainID: 8453, RPCURL: "mock://linea"})
	assert.Error(t, err)
}

func TestSigningWallet_SwitchRequiresRegistration(t *testing.T) {
	f := mockFactory(map[string]int64{"mock://linea": 59144, "mock://base": 8453})
	ctx := context.Background()

	w, err := NewSigningWallet(ctx, testWalletKey, f, entities.ChainSpec{ChainID: 59144, RPCURL: "mock://linea"})
	require.NoError(t, err)

	err = w.SwitchChain(ctx, 8453)
	require.ErrorIs(t, err, domainerrors.ErrUnrecognizedChain)
	assert.Equal(t, uint64(59144), w.ActiveChain())

	require.Error(t, w.AddChain(ctx, entities.ChainSpec{ChainID: 8453}))
	require.Error(t, w.AddChain(ctx, entities.ChainSpec{ChainID: 10, RPCURL: "mock://base"}))

	require.NoError(t, w.AddChain(ctx, entities.ChainSpec{ChainID: 8453, Name: "Base", RPCURL: "mock://base"}))
	require.NoError(t, w.SwitchChain(ctx, 8453))
	assert.Equal(t, uint64(8453), w.ActiveChain())
}

func TestSigningWallet_TransactSignsForRequestedChain(t *testing.T) {
	lineaBackend, baseBackend := &ethclient.Client{}, &ethclient.Client{}
	f := NewClientFactory()
	f.RegisterEVMClient("mock://linea", &EVMClient{client: lineaBackend, chainID: big.NewInt(59144)})
	f.RegisterEVMClient("mock://base", &EVMClient{client: baseBackend, chainID: big.NewInt(8453)})
	ctx := context.Background()

	w, err := NewSigningWallet(ctx, testWalletKey, f, entities.ChainSpec{ChainID: 59144, RPCURL: "mock://linea"})
	require.NoError(t, err)
	require.NoError(t, w.AddChain(ctx, entities.ChainSpec{ChainID: 8453, RPCURL: "mock://base"}))

	orig := performContractTransact
	t.Cleanup(func() { performContractTransact = orig })

	var gotMethod, gotContract string
	var gotFrom common.Address
	var gotBackend *ethclient.Client
	performContractTransact = func(backend *ethclient.Client, contractAddress string, _ abi.ABI, auth *bind.TransactOpts, method string, _ ...interface{}) (*types.Transaction, error) {
		gotBackend = backend
		gotMethod = method
		gotContract = contractAddress
		gotFrom = auth.From
		return auth.Signer(auth.From, types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)}))
	}

	// the wallet is still switched to linea; the call names base
	tx, err := w.Transact(ctx, 8453, "0x4309Eb90A37cfD0ecE450305B24a2DE68b73f312", abi.ABI{}, "purchaseProduct", big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(59144), w.ActiveChain())
	assert.Same(t, baseBackend, gotBackend)
	assert.Equal(t, int64(8453), tx.ChainId().Int64())
	assert.Equal(t, "purchaseProduct", gotMethod)
	assert.Equal(t, "0x4309Eb90A37cfD0ecE450305B24a2DE68b73f312", gotContract)
	assert.Equal(t, w.Address(), gotFrom.Hex())

	tx, err = w.Transact(ctx, 59144, "0x4309Eb90A37cfD0ecE450305B24a2DE68b73f312", abi.ABI{}, "purchaseProduct", big.NewInt(2))
	require.NoError(t, err)
	assert.Same(t, lineaBackend, gotBackend)
	assert.Equal(t, int64(59144), tx.ChainId().Int64())

	_, err = w.Transact(ctx, 10, "0x4309Eb90A37cfD0ecE450305B24a2DE68b73f312", abi.ABI{}, "purchaseProduct", big.NewInt(1))
	assert.ErrorIs(t, err, domainerrors.ErrUnrecognizedChain)

	performContractTransact = func(*ethclient.Client, string, abi.ABI, *bind.TransactOpts, string, ...interface{}) (*types.Transaction, error) {
		return nil, errors.New("insufficient funds")
	}
	_, err = w.Transact(ctx, 59144, "0x4309Eb90A37cfD0ecE450305B24a2DE68b73f312", abi.ABI{}, "purchaseProduct", big.NewInt(1))
	assert.Error(t, err)
}

func TestSigningWallet_TransactWithoutBackend(t *testing.T) {
	f := mockFactory(map[string]int64{"mock://linea": 59144})
	w, err := NewSigningWallet(context.Background(), testWalletKey, f, entities.ChainSpec{ChainID: 59144, RPCURL: "mock://linea"})
	require.NoError(t, err)

	_, err = w.Transact(context.Background(), 59144, "0x4309Eb90A37cfD0ecE450305B24a2DE68b73f312", abi.ABI{}, "purchaseProduct")
	assert.ErrorIs(t, err, errNoBackend)
}

func TestSigningWallet_SendTransactionAndWait(t *testing.T) {
	srv := newEVMRPCServer(t)
	defer srv.Close()
	ctx := context.Background()

	w, err := NewSigningWallet(ctx, testWalletKey, NewClientFactory(), entities.ChainSpec{ChainID: 8453, RPCURL: srv.URL})
	require.NoError(t, err)

	tx, err := w.SendTransaction(ctx, 8453, &entities.TransactionRequest{
		ChainID: 8453,
		To:      "0x4444444444444444444444444444444444444444",
		Data:    []byte{0x01, 0x02},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8453), tx.ChainId().Int64())
	assert.Equal(t, uint64(5), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, big.NewInt(3000000000), tx.GasFeeCap())
	assert.Len(t, srv.rawTxs, 1)

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), sender.Hex())

	receipt, err := w.WaitMined(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	tx, err = w.SendTransaction(ctx, 8453, &entities.TransactionRequest{
		To:       "0x4444444444444444444444444444444444444444",
		GasLimit: 90000,
		Value:    big.NewInt(7),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(90000), tx.Gas())
	assert.Equal(t, big.NewInt(7), tx.Value())
}

func TestSigningWallet_SendTransactionRejectsBadRequests(t *testing.T) {
	srv := newEVMRPCServer(t)
	defer srv.Close()
	ctx := context.Background()

	w, err := NewSigningWallet(ctx, testWalletKey, NewClientFactory(), entities.ChainSpec{ChainID: 8453, RPCURL: srv.URL})
	require.NoError(t, err)

	_, err = w.SendTransaction(ctx, 8453, &entities.TransactionRequest{ChainID: 59144, To: "0x4444444444444444444444444444444444444444"})
	assert.Error(t, err)

	_, err = w.SendTransaction(ctx, 59144, &entities.TransactionRequest{To: "0x4444444444444444444444444444444444444444"})
	assert.ErrorIs(t, err, domainerrors.ErrUnrecognizedChain)

	_, err = w.SendTransaction(ctx, 8453, &entities.TransactionRequest{To: "router"})
	assert.Error(t, err)
}

func TestSigningWallet_ReplayRevertSurfacesRevertData(t *testing.T) {
	srv := newEVMRPCServer(t)
	defer srv.Close()
	ctx := context.Background()

	w, err := NewSigningWallet(ctx, testWalletKey, NewClientFactory(), entities.ChainSpec{ChainID: 8453, RPCURL: srv.URL})
	require.NoError(t, err)

	to := common.HexToAddress("0x4444444444444444444444444444444444444444")
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(8453), To: &to, Gas: 60000})

	require.NoError(t, w.ReplayRevert(ctx, tx, &types.Receipt{BlockNumber: big.NewInt(1)}))

	srv.mu.Lock()
	srv.revertCalls = true
	srv.mu.Unlock()

	err = w.ReplayRevert(ctx, tx, &types.Receipt{BlockNumber: big.NewInt(1)})
	require.Error(t, err)
	var dataErr rpc.DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Contains(t, dataErr.ErrorData(), "08c379a0")
}
