// Package chain sends payout transfers from the platform treasury signer
// over EVM JSON-RPC.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

const (
	// transferGasLimit is the fixed gas cost of a plain value transfer.
	transferGasLimit = uint64(21_000)
	nativeDecimals   = int32(18)
	signerLockTTL    = 2 * time.Minute
	signerLockPoll   = 250 * time.Millisecond
)

// Backend is the subset of ethclient.Client the treasury uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config controls reserve accounting and dispatch.
type Config struct {
	ChainID int64
	// BaseReserve is the native balance kept on the signer on top of the
	// fee for the transfer being sent.
	BaseReserve    decimal.Decimal
	MinTransfer    decimal.Decimal
	QueueSize      int
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
}

// Treasury implements domain.Treasury with one in-flight transaction at a
// time per signer.
type Treasury struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
	cfg     Config
	locks   domain.LockManager
	logger  *slog.Logger

	admit    chan struct{}
	inflight chan struct{}
	closeFn  func()
}

// Dial connects to rpcURL and returns a Treasury signing with keyHex.
// locks may be nil when only one process signs for the key.
func Dial(ctx context.Context, rpcURL, keyHex string, cfg Config, locks domain.LockManager, logger *slog.Logger) (*Treasury, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	t, err := New(client, keyHex, cfg, locks, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	t.closeFn = client.Close
	return t, nil
}

// New builds a Treasury over an existing backend.
func New(backend Backend, keyHex string, cfg Config, locks domain.LockManager, logger *slog.Logger) (*Treasury, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 60 * time.Second
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 3 * time.Second
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	return &Treasury{
		backend:  backend,
		key:      key,
		address:  addr,
		signer:   types.NewEIP155Signer(big.NewInt(cfg.ChainID)),
		cfg:      cfg,
		locks:    locks,
		logger:   logger.With(slog.String("component", "treasury"), slog.String("signer", addr.Hex())),
		admit:    make(chan struct{}, cfg.QueueSize),
		inflight: make(chan struct{}, 1),
	}, nil
}

// Close releases the RPC connection when the Treasury owns one.
func (t *Treasury) Close() {
	if t.closeFn != nil {
		t.closeFn()
	}
}

// Address returns the signer address.
func (t *Treasury) Address() string {
	return t.address.Hex()
}

// RequiredReserve returns the balance in wei that must remain on the signer
// after a transfer at gasPrice.
func (t *Treasury) RequiredReserve(gasPrice *big.Int) *big.Int {
	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(transferGasLimit))
	return fee.Add(fee, toWei(t.cfg.BaseReserve))
}

// Transfer sends amount native units to the recipient and returns the
// transaction hash. Callers beyond the admission queue get domain.ErrQueueFull.
func (t *Treasury) Transfer(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("chain: invalid recipient %q", to)
	}
	if amount.LessThan(t.cfg.MinTransfer) || toWei(amount).Sign() <= 0 {
		return "", fmt.Errorf("chain: transfer %s: %w", amount, domain.ErrBelowMinTransfer)
	}

	select {
	case t.admit <- struct{}{}:
		defer func() { <-t.admit }()
	default:
		return "", domain.ErrQueueFull
	}

	select {
	case t.inflight <- struct{}{}:
		defer func() { <-t.inflight }()
	case <-ctx.Done():
		return "", fmt.Errorf("chain: wait for signer: %w", ctx.Err())
	}

	if t.locks != nil {
		unlock, err := t.acquireSignerLock(ctx)
		if err != nil {
			return "", err
		}
		defer unlock()
	}

	return t.send(ctx, common.HexToAddress(to), toWei(amount))
}

func (t *Treasury) acquireSignerLock(ctx context.Context) (func(), error) {
	key := "signer:" + strings.ToLower(t.address.Hex())
	for {
		unlock, err := t.locks.Acquire(ctx, key, signerLockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("chain: signer lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: signer lock: %w", ctx.Err())
		case <-time.After(signerLockPoll):
		}
	}
}

func (t *Treasury) send(ctx context.Context, to common.Address, value *big.Int) (string, error) {
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w: %w", domain.ErrFetch, err)
	}
	balance, err := t.backend.BalanceAt(ctx, t.address, nil)
	if err != nil {
		return "", fmt.Errorf("chain: balance: %w: %w", domain.ErrFetch, err)
	}

	reserve := t.RequiredReserve(gasPrice)
	remaining := new(big.Int).Sub(balance, value)
	if remaining.Cmp(reserve) < 0 {
		return "", fmt.Errorf("chain: balance %s wei, transfer %s wei, reserve %s wei: %w",
			balance, value, reserve, domain.ErrInsufficientReserve)
	}

	nonce, err := t.backend.PendingNonceAt(ctx, t.address)
	if err != nil {
		return "", fmt.Errorf("chain: nonce: %w: %w", domain.ErrFetch, err)
	}

	tx := types.NewTransaction(nonce, to, value, transferGasLimit, gasPrice, nil)
	signed, err := types.SignTx(tx, t.signer, t.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign tx: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send tx: %w", err)
	}

	hash := signed.Hash()
	t.logger.InfoContext(ctx, "transfer sent",
		slog.String("tx", hash.Hex()),
		slog.String("to", to.Hex()),
		slog.String("wei", value.String()),
		slog.Uint64("nonce", nonce),
	)

	receiptCtx, cancel := context.WithTimeout(ctx, t.cfg.ReceiptTimeout)
	defer cancel()
	receipt, err := t.waitForReceipt(receiptCtx, hash)
	if err != nil {
		// Sent but unconfirmed; the nonce is consumed either way.
		t.logger.WarnContext(ctx, "could not confirm receipt, tx may still succeed",
			slog.String("tx", hash.Hex()),
			slog.String("error", err.Error()),
		)
		return hash.Hex(), nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("chain: tx %s reverted", hash.Hex())
	}
	return hash.Hex(), nil
}

func (t *Treasury) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(t.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(nativeDecimals).BigInt()
}

var _ domain.Treasury = (*Treasury)(nil)
