package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"propshare-backend/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var factory = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func TestDialRPC_RequiresURLAndFactory(t *testing.T) {
	_, err := DialRPC(context.Background(), RPCConfig{Factory: factory})
	assert.ErrorContains(t, err, "url")

	_, err = DialRPC(context.Background(), RPCConfig{URL: "http://127.0.0.1:8545"})
	assert.ErrorContains(t, err, "factory")
}

func TestDialRPC_RejectsBadSignerKey(t *testing.T) {
	_, err := DialRPC(context.Background(), RPCConfig{
		URL:        "http://127.0.0.1:8545",
		Factory:    factory,
		ChainID:    big.NewInt(31337),
		SignerKeys: []string{"0xnot-a-key"},
	})
	assert.ErrorContains(t, err, "invalid signer key")
}

func TestDialRPC_IndexesSignersByAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	raw := common.Bytes2Hex(crypto.FromECDSA(key))

	r, err := DialRPC(context.Background(), RPCConfig{
		URL:        "http://127.0.0.1:8545",
		Factory:    factory,
		ChainID:    big.NewInt(31337),
		SignerKeys: []string{"0x" + raw},
	})
	require.NoError(t, err)
	defer r.Close()

	assert.Contains(t, r.signers, crypto.PubkeyToAddress(key.PublicKey))
	assert.Equal(t, int64(31337), r.chainID.Int64())
}

// fakeNode answers the handful of JSON-RPC methods the backend uses.
type fakeNode struct {
	mu         sync.Mutex
	nonce      uint64
	nonceReads int
	sendErr    string
	txs        map[common.Hash]*types.Transaction
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, rpcErr := n.handle(req.Method, req.Params)
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != "" {
		resp["error"] = map[string]interface{}{"code": -32000, "message": rpcErr}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) handle(method string, params []json.RawMessage) (interface{}, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch method {
	case "eth_getTransactionCount":
		n.nonceReads++
		return hexutil.Uint64(n.nonce), ""
	case "eth_getBlockByNumber":
		zero := common.Hash{}.Hex()
		return map[string]interface{}{
			"parentHash":       zero,
			"sha3Uncles":       zero,
			"miner":            common.Address{}.Hex(),
			"stateRoot":        zero,
			"transactionsRoot": zero,
			"receiptsRoot":     zero,
			"logsBloom":        hexutil.Bytes(make([]byte, types.BloomByteLength)),
			"difficulty":       "0x1",
			"number":           "0x10",
			"gasLimit":         "0x1c9c380",
			"gasUsed":          "0x0",
			"timestamp":        "0x0",
			"extraData":        "0x",
		}, ""
	case "eth_gasPrice":
		return "0x3b9aca00", ""
	case "eth_getCode":
		return "0x6080604052", ""
	case "eth_estimateGas":
		return "0x30d40", ""
	case "eth_sendRawTransaction":
		if n.sendErr != "" {
			return nil, n.sendErr
		}
		var raw hexutil.Bytes
		if err := json.Unmarshal(params[0], &raw); err != nil {
			return nil, err.Error()
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, err.Error()
		}
		n.txs[tx.Hash()] = tx
		return tx.Hash(), ""
	case "eth_getTransactionByHash":
		var h common.Hash
		if err := json.Unmarshal(params[0], &h); err != nil {
			return nil, err.Error()
		}
		if tx, ok := n.txs[h]; ok {
			return tx, ""
		}
		return nil, ""
	default:
		return nil, "method not supported: " + method
	}
}

func (n *fakeNode) set(f func(n *fakeNode)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	f(n)
}

func setupRPCTest(t *testing.T) (*RPC, *fakeNode, *ecdsa.PrivateKey) {
	node := &fakeNode{txs: make(map[common.Hash]*types.Transaction)}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	r, err := DialRPC(context.Background(), RPCConfig{
		URL:        srv.URL,
		Factory:    factory,
		ChainID:    big.NewInt(31337),
		SignerKeys: []string{common.Bytes2Hex(crypto.FromECDSA(key))},
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, node, key
}

func TestRPC_NonceAdvancesAfterSuccessfulSend(t *testing.T) {
	r, node, key := setupRPCTest(t)
	ctx := context.Background()
	investor := crypto.PubkeyToAddress(key.PublicKey)
	node.set(func(n *fakeNode) { n.nonce = 5 })

	first, err := r.PrepareInvestment(ctx, 7, investor, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), first.Tx.Nonce())
	require.NoError(t, r.SendInvestment(ctx, first))

	second, err := r.PrepareInvestment(ctx, 7, investor, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), second.Tx.Nonce())
	node.set(func(n *fakeNode) { assert.Equal(t, 1, n.nonceReads) })
}

func TestRPC_FailedSendReusesNonce(t *testing.T) {
	r, node, key := setupRPCTest(t)
	ctx := context.Background()
	investor := crypto.PubkeyToAddress(key.PublicKey)
	node.set(func(n *fakeNode) {
		n.nonce = 5
		n.sendErr = "connection reset by peer"
	})

	first, err := r.PrepareInvestment(ctx, 7, investor, big.NewInt(1000))
	require.NoError(t, err)
	err = r.SendInvestment(ctx, first)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)

	// the node never saw nonce 5, so the next transaction must take it
	second, err := r.PrepareInvestment(ctx, 7, investor, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), second.Tx.Nonce())
	node.set(func(n *fakeNode) { assert.Equal(t, 2, n.nonceReads) })
}

func TestRPC_TransactionDecodesInvestment(t *testing.T) {
	r, _, key := setupRPCTest(t)
	ctx := context.Background()
	investor := crypto.PubkeyToAddress(key.PublicKey)

	inv, err := r.PrepareInvestment(ctx, 7, investor, big.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, r.SendInvestment(ctx, inv))

	call, err := r.Transaction(ctx, inv.Hash)
	require.NoError(t, err)
	assert.Equal(t, investor, call.From)
	assert.Equal(t, uint64(7), call.LedgerID)
	assert.Equal(t, "1000", call.Value.String())

	_, err = r.Transaction(ctx, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestRPC_TransactionRejectsOtherCalls(t *testing.T) {
	r, node, key := setupRPCTest(t)
	ctx := context.Background()
	signer := types.LatestSignerForChainID(big.NewInt(31337))
	elsewhere := common.HexToAddress("0x00000000000000000000000000000000000b0b00")

	transfer := types.MustSignNewTx(key, signer, &types.LegacyTx{
		Nonce: 1, To: &elsewhere, Value: big.NewInt(1000), Gas: 21000, GasPrice: big.NewInt(1),
	})
	bareCall := types.MustSignNewTx(key, signer, &types.LegacyTx{
		Nonce: 2, To: &factory, Value: big.NewInt(1000), Gas: 21000, GasPrice: big.NewInt(1),
	})
	node.set(func(n *fakeNode) {
		n.txs[transfer.Hash()] = transfer
		n.txs[bareCall.Hash()] = bareCall
	})

	for _, h := range []common.Hash{transfer.Hash(), bareCall.Hash()} {
		_, err := r.Transaction(ctx, h)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.ErrorIs(t, err, domain.ErrTransactionMismatch)
	}
}
