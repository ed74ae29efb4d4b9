package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"propshare-backend/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

type RPCConfig struct {
	URL        string
	Factory    common.Address
	ChainID    *big.Int
	SignerKeys []string
}

type signer struct {
	key  *ecdsa.PrivateKey
	mu   sync.Mutex
	next *uint64
}

// RPC talks to a deployed PropertyFactory through an Ethereum JSON-RPC node.
// Investors are signed for with the configured custodial keys; an investor
// without a key declines every transaction.
type RPC struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	factory  common.Address
	abi      abi.ABI
	chainID  *big.Int
	signers  map[common.Address]*signer
}

func DialRPC(ctx context.Context, cfg RPCConfig) (*RPC, error) {
	if cfg.URL == "" {
		return nil, errors.New("ledger rpc url is required")
	}
	if cfg.Factory == (common.Address{}) {
		return nil, errors.New("ledger factory address is required")
	}
	parsed, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	chainID := cfg.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: chain id: %w", domain.ErrLedgerUnavailable, err)
		}
	}

	signers := make(map[common.Address]*signer, len(cfg.SignerKeys))
	for _, raw := range cfg.SignerKeys {
		key, err := parsePrivateKey(raw)
		if err != nil {
			client.Close()
			return nil, err
		}
		signers[crypto.PubkeyToAddress(key.PublicKey)] = &signer{key: key}
	}

	log.Info().Str("factory", cfg.Factory.Hex()).Str("chain_id", chainID.String()).Int("signers", len(signers)).Msg("Ledger RPC backend ready")
	return &RPC{
		client:   client,
		contract: bind.NewBoundContract(cfg.Factory, parsed, client, client, client),
		factory:  cfg.Factory,
		abi:      parsed,
		chainID:  chainID,
		signers:  signers,
	}, nil
}

func (r *RPC) Close() { r.client.Close() }

func parsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("empty signer key")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return key, nil
}

// PrepareInvestment estimates gas (which runs the contract's guards) and
// signs without broadcasting. The signer's nonce is reserved until the
// transaction is sent or fails for good.
func (r *RPC) PrepareInvestment(ctx context.Context, ledgerID uint64, investor common.Address, amount *big.Int) (*SignedInvestment, error) {
	s := r.signers[investor]
	if s == nil {
		return nil, fmt.Errorf("%w: no signing key for %s", domain.ErrWalletDeclined, investor.Hex())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next == nil {
		n, err := r.client.PendingNonceAt(ctx, investor)
		if err != nil {
			return nil, classify(err)
		}
		s.next = &n
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, r.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	opts.NoSend = true
	opts.Value = new(big.Int).Set(amount)
	opts.Nonce = new(big.Int).SetUint64(*s.next)

	tx, err := r.contract.Transact(opts, "investInProperty", new(big.Int).SetUint64(ledgerID))
	if err != nil {
		return nil, classify(err)
	}
	*s.next++
	return &SignedInvestment{
		Hash:     tx.Hash(),
		LedgerID: ledgerID,
		Investor: investor,
		Amount:   new(big.Int).Set(amount),
		Tx:       tx,
	}, nil
}

// SendInvestment broadcasts a prepared transaction. Any failure drops the
// signer's cached nonce: PendingNonceAt on the next prepare counts the
// transaction if the node took it and reuses its nonce if it did not.
func (r *RPC) SendInvestment(ctx context.Context, inv *SignedInvestment) error {
	if inv.Tx == nil {
		return errors.New("signed investment carries no transaction")
	}
	err := r.client.SendTransaction(ctx, inv.Tx)
	if err == nil || strings.Contains(strings.ToLower(err.Error()), "already known") {
		return nil
	}
	if s := r.signers[inv.Investor]; s != nil {
		s.mu.Lock()
		s.next = nil
		s.mu.Unlock()
	}
	return classify(err)
}

func (r *RPC) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	rcpt, err := r.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &Receipt{
		TxHash:      hash,
		Succeeded:   rcpt.Status == types.ReceiptStatusSuccessful,
		BlockNumber: rcpt.BlockNumber.Uint64(),
		GasUsed:     rcpt.GasUsed,
	}, nil
}

func (r *RPC) Transaction(ctx context.Context, hash common.Hash) (*InvestmentCall, error) {
	tx, _, err := r.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return r.decodeInvestment(tx)
}

func (r *RPC) decodeInvestment(tx *types.Transaction) (*InvestmentCall, error) {
	hash := tx.Hash()
	if tx.To() == nil || *tx.To() != r.factory {
		return nil, fmt.Errorf("%w: %w: %s is not a call to the property factory", domain.ErrValidation, domain.ErrTransactionMismatch, hash.Hex())
	}
	data := tx.Data()
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %w: %s carries no call data", domain.ErrValidation, domain.ErrTransactionMismatch, hash.Hex())
	}
	method, err := r.abi.MethodById(data[:4])
	if err != nil || method.Name != "investInProperty" {
		return nil, fmt.Errorf("%w: %w: %s does not call investInProperty", domain.ErrValidation, domain.ErrTransactionMismatch, hash.Hex())
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 1 {
		return nil, fmt.Errorf("%w: %w: %s has malformed arguments", domain.ErrValidation, domain.ErrTransactionMismatch, hash.Hex())
	}
	ledgerID, ok := args[0].(*big.Int)
	if !ok || !ledgerID.IsUint64() {
		return nil, fmt.Errorf("%w: %w: %s names an invalid property id", domain.ErrValidation, domain.ErrTransactionMismatch, hash.Hex())
	}
	from, err := types.Sender(types.LatestSignerForChainID(r.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s sender: %v", domain.ErrValidation, domain.ErrTransactionMismatch, hash.Hex(), err)
	}
	return &InvestmentCall{
		Hash:     hash,
		From:     from,
		LedgerID: ledgerID.Uint64(),
		Value:    new(big.Int).Set(tx.Value()),
	}, nil
}

func (r *RPC) PropertyDetails(ctx context.Context, ledgerID uint64) (*PropertySnapshot, error) {
	block, opts, err := r.pinned(ctx)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := r.contract.Call(opts, &out, "getPropertyDetails", new(big.Int).SetUint64(ledgerID)); err != nil {
		return nil, classify(err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: getPropertyDetails returned %d values", domain.ErrDataIntegrity, len(out))
	}
	t := *abi.ConvertType(out[0], new(propertyTuple)).(*propertyTuple)
	if !t.TotalShares.IsInt64() || !t.AvailableShares.IsInt64() {
		return nil, fmt.Errorf("%w: share counts overflow int64", domain.ErrDataIntegrity)
	}
	return &PropertySnapshot{
		LedgerID:        t.PropertyId.Uint64(),
		TokenAddress:    t.TokenAddress,
		Name:            t.Name,
		Symbol:          t.Symbol,
		Value:           t.PropertyValue,
		TotalShares:     t.TotalShares.Int64(),
		AvailableShares: t.AvailableShares.Int64(),
		MinInvestment:   t.MinInvestment,
		MetadataURI:     t.PropertyURI,
		FundingComplete: t.IsFundingComplete,
		CreatedAt:       time.Unix(t.CreatedAt.Int64(), 0).UTC(),
		Block:           block,
	}, nil
}

func (r *RPC) InvestorDetails(ctx context.Context, ledgerID uint64, investor common.Address) (*PositionSnapshot, error) {
	block, opts, err := r.pinned(ctx)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := r.contract.Call(opts, &out, "getInvestorDetails", new(big.Int).SetUint64(ledgerID), investor); err != nil {
		return nil, classify(err)
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("%w: getInvestorDetails returned %d values", domain.ErrDataIntegrity, len(out))
	}
	vals := make([]*big.Int, 5)
	for i := range out {
		vals[i] = *abi.ConvertType(out[i], new(*big.Int)).(**big.Int)
	}
	return &PositionSnapshot{
		LedgerID:       ledgerID,
		Investor:       investor,
		Amount:         vals[0],
		Shares:         vals[1].Int64(),
		OwnershipBps:   vals[2].Int64(),
		UnclaimedYield: vals[3],
		ClaimedYield:   vals[4],
		Block:          block,
	}, nil
}

func (r *RPC) PropertyCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getPropertyCount"); err != nil {
		return 0, classify(err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: getPropertyCount returned %d values", domain.ErrDataIntegrity, len(out))
	}
	return (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Uint64(), nil
}

// pinned returns call options fixed at the current head so the snapshot's
// Block is exactly the state it reflects.
func (r *RPC) pinned(ctx context.Context) (uint64, *bind.CallOpts, error) {
	head, err := r.client.BlockNumber(ctx)
	if err != nil {
		return 0, nil, classify(err)
	}
	return head, &bind.CallOpts{Context: ctx, BlockNumber: new(big.Int).SetUint64(head)}, nil
}

// classify maps node and revert messages onto the domain error taxonomy.
// Anything unrecognised is treated as a transport fault and retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return fmt.Errorf("%w: %v", domain.ErrWalletDeclined, err)
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %w: %v", domain.ErrLedgerRejected, domain.ErrInsufficientFunds, err)
	case strings.Contains(msg, "property does not exist"):
		return fmt.Errorf("%w: %w: %v", domain.ErrLedgerRejected, domain.ErrPropertyNotOnLedger, err)
	case strings.Contains(msg, "funding is complete"), strings.Contains(msg, "no available shares"):
		return fmt.Errorf("%w: %w: %v", domain.ErrLedgerRejected, domain.ErrFundingComplete, err)
	case strings.Contains(msg, "not enough shares"), strings.Contains(msg, "insufficient shares"):
		return fmt.Errorf("%w: %w: %v", domain.ErrLedgerRejected, domain.ErrInsufficientSharesAvailable, err)
	case strings.Contains(msg, "minimum investment"), strings.Contains(msg, "investment amount must be"):
		return fmt.Errorf("%w: %w: %v", domain.ErrLedgerRejected, domain.ErrInsufficientContribution, err)
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "nonce too low"):
		return fmt.Errorf("%w: %v", domain.ErrLedgerRejected, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
}
