// Package evm submits EVM transactions to Hedera through the JSON-RPC relay.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/tvt/internal/account"
	"github.com/gateway-fm/tvt/internal/action"
	"github.com/gateway-fm/tvt/internal/rpc"
	"github.com/gateway-fm/tvt/pkg/types"
)

// WeibarsPerTinybar converts relay (18 decimal) amounts to tinybars.
const WeibarsPerTinybar = 10_000_000_000

// Relay endpoints and chain ids per network.
const (
	MainnetRelayURL  = "https://mainnet.hashio.io/api"
	TestnetRelayURL  = "https://testnet.hashio.io/api"
	LocalnetRelayURL = "http://localhost:7546/api"

	MainnetChainID  = 295
	TestnetChainID  = 296
	LocalnetChainID = 298
)

// Defaults for the test transfer.
var (
	DefaultValue    = big.NewInt(10_000_000_000_000_000) // 0.01 HBAR in weibars
	DefaultGasLimit = uint64(50_000)
)

// ErrReverted is returned when a transaction was mined with a failure status.
var ErrReverted = errors.New("transaction reverted")

// Client sends signed EIP-1559 transactions from the operator account.
type Client struct {
	rpc          rpc.Client
	account      *account.Account
	signer       ethtypes.Signer
	chainID      *big.Int
	recipient    common.Address
	value        *big.Int
	gasLimit     uint64
	pollInterval time.Duration
	pollAttempts uint64
	logger       *slog.Logger
}

// Config holds Client settings.
type Config struct {
	RPC            rpc.Client
	Account        *account.Account
	ChainID        *big.Int
	Recipient      common.Address
	Value          *big.Int      // defaults to DefaultValue
	GasLimit       uint64        // defaults to DefaultGasLimit
	PollInterval   time.Duration // receipt polling, defaults to 1s
	ReceiptTimeout time.Duration // defaults to 30s
	Logger         *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Value == nil {
		cfg.Value = DefaultValue
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 30 * time.Second
	}

	return &Client{
		rpc:          cfg.RPC,
		account:      cfg.Account,
		signer:       ethtypes.LatestSignerForChainID(cfg.ChainID),
		chainID:      cfg.ChainID,
		recipient:    cfg.Recipient,
		value:        cfg.Value,
		gasLimit:     cfg.GasLimit,
		pollInterval: cfg.PollInterval,
		pollAttempts: uint64(cfg.ReceiptTimeout / cfg.PollInterval),
		logger:       logger,
	}
}

// Resync replaces the local nonce with the relay's confirmed value.
func (c *Client) Resync(ctx context.Context) error {
	if err := c.account.Resync(ctx, c.rpc); err != nil {
		return err
	}
	c.logger.Info("nonce resynced",
		slog.String("address", c.account.Address.Hex()),
		slog.Uint64("nonce", c.account.NextNonce()))
	return nil
}

// Action returns the "Eth transaction" action backed by this client.
func (c *Client) Action() action.Action {
	return action.NewFunc(types.ActionEthTransaction, c.Transfer)
}

// Transfer sends value to the recipient and waits for the receipt.
func (c *Client) Transfer(ctx context.Context) ([]types.FeeRecord, error) {
	gasPrice, err := c.rpc.GetGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	lease := c.account.Lease()
	defer lease.Release()

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     lease.Nonce(),
		GasTipCap: gasPrice,
		GasFeeCap: gasPrice,
		Gas:       c.gasLimit,
		To:        &c.recipient,
		Value:     c.value,
	})

	signed, err := ethtypes.SignTx(tx, c.signer, c.account.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	data, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	hash, err := c.rpc.SendRawTransaction(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	// The relay accepted the transaction, so its nonce is spent even if it reverts.
	lease.Spend()
	if hash == "" {
		hash = signed.Hash().Hex()
	}

	receipt, err := c.waitReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != 1 {
		return nil, fmt.Errorf("%w: %s", ErrReverted, hash)
	}

	return []types.FeeRecord{FeeRecord(hash, receipt)}, nil
}

// FeeRecord converts a receipt to a fee record in tinybars.
func FeeRecord(hash string, receipt *rpc.TransactionReceipt) types.FeeRecord {
	price := new(big.Int)
	if receipt.EffectiveGasPrice != nil {
		price.Set(receipt.EffectiveGasPrice)
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(receipt.GasUsed))
	fee.Quo(fee, big.NewInt(WeibarsPerTinybar))

	gasUsed := receipt.GasUsed
	gasPrice := new(big.Int).Quo(price, big.NewInt(WeibarsPerTinybar)).Uint64()

	return types.FeeRecord{
		Type:          types.ResultEthereumTransaction,
		TransactionID: hash,
		FeeTinybars:   fee.Int64(),
		GasUsed:       &gasUsed,
		GasPrice:      &gasPrice,
		RecordedAt:    time.Now(),
	}
}

var errReceiptPending = errors.New("receipt not available yet")

func (c *Client) waitReceipt(ctx context.Context, hash string) (*rpc.TransactionReceipt, error) {
	var receipt *rpc.TransactionReceipt
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.pollInterval), c.pollAttempts),
		ctx,
	)
	err := backoff.Retry(func() error {
		r, err := c.rpc.GetTransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		if r == nil {
			return errReceiptPending
		}
		receipt = r
		return nil
	}, b)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", hash, err)
	}
	return receipt, nil
}
