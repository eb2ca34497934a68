// Package bridgetest builds a two-chain devnet with in-memory repositories for service tests.
package bridgetest

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/devnet"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/repository"
)

const (
	SourceChainID = 11155111
	DestChainID   = 44787
)

var (
	Start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	SourceOperator = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	DestOperator   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	SourceRegistry = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	DestRegistry   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	SourceToken    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	DestToken      = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	Recipient      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	Stranger       = common.HexToAddress("0x0000000000000000000000000000000000000003")
	Blacklisted    = common.HexToAddress("0x0000000000000000000000000000000000000004")

	InitiatorKey = mustKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	Initiator    = crypto.PubkeyToAddress(InitiatorKey.PublicKey)
	ResolverKeyA = mustKey("8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63")
	ResolverKeyB = mustKey("c87509a1c067bbde78beb793e6fa76530b6382a4c0241e5e4a9ec0a0f44dc0d3")
	ResolverA    = crypto.PubkeyToAddress(ResolverKeyA.PublicKey)
	ResolverB    = crypto.PubkeyToAddress(ResolverKeyB.PublicKey)
)

func mustKey(hex string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(hex)
	if err != nil {
		panic(err)
	}
	return key
}

// Sign produces an EIP-191 signature of msg with a 27/28 recovery id, the way wallets do.
func Sign(key *ecdsa.PrivateKey, msg []byte) []byte {
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		panic(err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig
}

const configTemplate = `
chains:
  sepolia:
    chain_id: %[1]d
    owner: %[3]s
    registry_address: %[5]s
    tokens:
      - symbol: X
        address: %[7]s
        decimals: 18
    genesis:
      - holder: %[9]s
        token: X
        amount: "10"
      - holder: %[3]s
        token: X
        amount: "1000"
    authorized_resolvers: [%[10]s, %[11]s]
  alfajores:
    chain_id: %[2]d
    owner: %[4]s
    registry_address: %[6]s
    tokens:
      - symbol: X
        address: %[8]s
        decimals: 18
    genesis:
      - holder: %[4]s
        token: X
        amount: "1000"
    authorized_resolvers: [%[10]s, %[11]s]
auction:
  min_stake: "1000"
  blacklist: [%[12]s]
execution:
  fee_bps: 10
coordinator:
  default_timeout: 1h
  setup_timeout: 10m
`

// ConfigYAML is the devnet configuration every Env is built from.
func ConfigYAML() string {
	return fmt.Sprintf(configTemplate,
		SourceChainID, DestChainID,
		SourceOperator.Hex(), DestOperator.Hex(),
		SourceRegistry.Hex(), DestRegistry.Hex(),
		SourceToken.Hex(), DestToken.Hex(),
		Initiator.Hex(),
		ResolverA.Hex(), ResolverB.Hex(),
		Blacklisted.Hex(),
	)
}

type Env struct {
	Cfg     *config.Config
	Clock   *ledger.ManualClock
	Logger  logging.Logger
	Network *devnet.Network
	Clients chainclient.Clients
	Repo    *repository.Repo
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	cfg, err := config.ReadConfig([]byte(ConfigYAML()))
	require.NoError(t, err)
	clock := ledger.NewManualClock(Start)
	logger := logging.Discard()
	net, err := devnet.Build(logger, cfg, clock, time.Second)
	require.NoError(t, err)
	return &Env{
		Cfg:     cfg,
		Clock:   clock,
		Logger:  logger,
		Network: net,
		Clients: net.Clients,
		Repo:    repository.NewMemoryRepo(),
	}
}

func (e *Env) Source() *ledger.Ledger {
	return e.Network.Ledgers[SourceChainID]
}

func (e *Env) Dest() *ledger.Ledger {
	return e.Network.Ledgers[DestChainID]
}

// Units converts whole tokens into 18-decimal base units.
func Units(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}
