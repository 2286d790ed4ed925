// Package account holds the operator's EVM signing key and hands out nonces
// to concurrent senders.
package account

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NonceSource reports the network's view of an account nonce.
type NonceSource interface {
	GetNonce(ctx context.Context, address string) (uint64, error)
}

// Account is the operator's EVM identity on the relay.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address

	mu   sync.Mutex
	next uint64

	// Leases hold syncMu for reading so a resync never interleaves with one.
	syncMu sync.RWMutex
}

// NewAccount wraps an ECDSA key.
func NewAccount(key *ecdsa.PrivateKey) *Account {
	return &Account{PrivateKey: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
}

// NewAccountFromHex parses a hex secp256k1 key, with or without 0x.
func NewAccountFromHex(hexKey string) (*Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid ECDSA key: %w", err)
	}
	return NewAccount(key), nil
}

// Lease is a nonce taken from the account. Spend it once the relay accepted
// a transaction carrying it; Release it otherwise. Whichever comes first wins.
type Lease struct {
	acc   *Account
	nonce uint64
	once  sync.Once
}

// Nonce is the leased value.
func (l *Lease) Nonce() uint64 { return l.nonce }

// Spend keeps the nonce consumed.
func (l *Lease) Spend() { l.once.Do(func() {}) }

// Release hands the nonce back when no later nonce has been leased since.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.acc.mu.Lock()
		if l.acc.next == l.nonce+1 {
			l.acc.next = l.nonce
		}
		l.acc.mu.Unlock()
	})
}

// Lease takes the next nonce. Callers defer Release and call Spend after a
// successful send. Lease waits for an in-flight Resync to finish.
func (a *Account) Lease() *Lease {
	a.syncMu.RLock()
	defer a.syncMu.RUnlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	l := &Lease{acc: a, nonce: a.next}
	a.next++
	return l
}

// NextNonce is the nonce the next Lease will return.
func (a *Account) NextNonce() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// SetNonce overwrites the local counter.
func (a *Account) SetNonce(n uint64) {
	a.mu.Lock()
	a.next = n
	a.mu.Unlock()
}

// Resync overwrites the local counter with the network's value, moving it
// backwards too when rejected sends left it ahead. Resyncs run one at a time
// and no lease is handed out between the network read and the overwrite.
func (a *Account) Resync(ctx context.Context, src NonceSource) error {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	n, err := src.GetNonce(ctx, a.Address.Hex())
	if err != nil {
		return fmt.Errorf("fetch nonce for %s: %w", a.Address.Hex(), err)
	}
	a.SetNonce(n)
	return nil
}
