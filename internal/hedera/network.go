// Package hedera executes native Hedera transactions with the Go SDK.
package hedera

import (
	"fmt"
	"net"
	"strings"

	hsdk "github.com/hashgraph/hedera-sdk-go/v2"

	"github.com/gateway-fm/tvt/pkg/types"
)

// Local node ports.
const (
	ConsensusPort = 50211
	MirrorPort    = 5600
)

// KeyType selects how the operator key string is decoded.
type KeyType string

const (
	KeyECDSA   KeyType = "ecdsa"
	KeyED25519 KeyType = "ed25519"
)

// ParseKeyType validates a key type name.
func ParseKeyType(s string) (KeyType, error) {
	switch KeyType(strings.ToLower(s)) {
	case KeyECDSA:
		return KeyECDSA, nil
	case KeyED25519:
		return KeyED25519, nil
	}
	return "", fmt.Errorf("unknown key type %q (want ecdsa or ed25519)", s)
}

// ParsePrivateKey decodes an operator key of the given type. DER and raw hex
// encodings are accepted.
func ParsePrivateKey(s string, kt KeyType) (hsdk.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	var (
		key hsdk.PrivateKey
		err error
	)
	switch kt {
	case KeyECDSA:
		key, err = hsdk.PrivateKeyFromStringECDSA(s)
	case KeyED25519:
		key, err = hsdk.PrivateKeyFromStringEd25519(s)
	default:
		return hsdk.PrivateKey{}, fmt.Errorf("unknown key type %q", kt)
	}
	if err != nil {
		return hsdk.PrivateKey{}, fmt.Errorf("parse %s operator key: %w", kt, err)
	}
	return key, nil
}

// HostOnly strips a URL scheme, port and path from a local node address.
func HostOnly(address string) string {
	address = strings.TrimPrefix(address, "http://")
	address = strings.TrimPrefix(address, "https://")
	if i := strings.IndexByte(address, '/'); i >= 0 {
		address = address[:i]
	}
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return address
}

// LocalNodes returns the consensus node map of a local network. The single
// local node is always account 0.0.3.
func LocalNodes(address string) map[string]hsdk.AccountID {
	return map[string]hsdk.AccountID{
		fmt.Sprintf("%s:%d", HostOnly(address), ConsensusPort): {Account: 3},
	}
}

// LocalMirror returns the mirror node gRPC address of a local network.
func LocalMirror(address string) string {
	return fmt.Sprintf("%s:%d", HostOnly(address), MirrorPort)
}

// Operator is the account that pays for every transaction.
type Operator struct {
	ID  hsdk.AccountID
	Key hsdk.PrivateKey
}

// ParseOperator decodes an operator account id and key.
func ParseOperator(id, key string, kt KeyType) (Operator, error) {
	accountID, err := hsdk.AccountIDFromString(id)
	if err != nil {
		return Operator{}, fmt.Errorf("parse operator id %q: %w", id, err)
	}
	pk, err := ParsePrivateKey(key, kt)
	if err != nil {
		return Operator{}, err
	}
	return Operator{ID: accountID, Key: pk}, nil
}

// NewClient returns an SDK client for network with op set as the operator.
// address is only used for localnet.
func NewClient(network types.Network, address string, op Operator) (*hsdk.Client, error) {
	var client *hsdk.Client
	switch network {
	case types.NetworkMainnet:
		client = hsdk.ClientForMainnet()
	case types.NetworkTestnet:
		client = hsdk.ClientForTestnet()
	case types.NetworkLocalnet:
		if address == "" {
			return nil, fmt.Errorf("localnet requires a network address")
		}
		client = hsdk.ClientForNetwork(LocalNodes(address))
		client.SetMirrorNetwork([]string{LocalMirror(address)})
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
	client.SetOperator(op.ID, op.Key)
	return client, nil
}
