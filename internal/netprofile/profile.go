// Package netprofile describes the service endpoints of each Hedera network,
// so callers select endpoints by profile instead of scattered conditionals.
package netprofile

import (
	"fmt"

	"github.com/gateway-fm/tvt/internal/evm"
	"github.com/gateway-fm/tvt/internal/hedera"
	"github.com/gateway-fm/tvt/internal/mirror"
	"github.com/gateway-fm/tvt/pkg/types"
)

// Local network service ports.
const (
	LocalRelayPort  = 7546
	LocalMirrorPort = 5551
)

// Profile holds the endpoints a session talks to besides consensus nodes.
type Profile struct {
	Network types.Network

	// RelayURL is the JSON-RPC relay used for EVM transactions.
	RelayURL string
	ChainID  int64

	// MirrorURL is the mirror node REST API used for gas details.
	MirrorURL string

	// Local marks a profile built from an operator supplied address.
	Local bool
}

// String returns the network name.
func (p *Profile) String() string {
	if p == nil {
		return "unknown"
	}
	return string(p.Network)
}

// Mainnet returns the public mainnet profile.
func Mainnet() *Profile {
	return &Profile{
		Network:   types.NetworkMainnet,
		RelayURL:  evm.MainnetRelayURL,
		ChainID:   evm.MainnetChainID,
		MirrorURL: mirror.MainnetURL,
	}
}

// Testnet returns the public testnet profile.
func Testnet() *Profile {
	return &Profile{
		Network:   types.NetworkTestnet,
		RelayURL:  evm.TestnetRelayURL,
		ChainID:   evm.TestnetChainID,
		MirrorURL: mirror.TestnetURL,
	}
}

// Local returns the profile of a local network reachable at address, which
// may be a bare host or an http(s) URL.
func Local(address string) *Profile {
	host := hedera.HostOnly(address)
	return &Profile{
		Network:   types.NetworkLocalnet,
		RelayURL:  fmt.Sprintf("http://%s:%d/api", host, LocalRelayPort),
		ChainID:   evm.LocalnetChainID,
		MirrorURL: fmt.Sprintf("http://%s:%d", host, LocalMirrorPort),
		Local:     true,
	}
}
