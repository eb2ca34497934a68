package devnet

import (
	"fmt"
	"sort"
	"time"

	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/logging"
)

// Network is a set of in-process chains built from the chains section of the config.
type Network struct {
	Ledgers map[uint64]*ledger.Ledger
	Clients chainclient.Clients
}

// Build deploys the programs on every configured chain, registers every other chain as a
// supported destination, authorizes the configured resolvers and mints genesis balances.
// Genesis holders pre-approve the escrow program for their whole balance.
func Build(logger logging.Logger, cfg *config.Config, clock ledger.Clock, requestTimeout time.Duration) (*Network, error) {
	net := &Network{
		Ledgers: make(map[uint64]*ledger.Ledger, len(cfg.Chains)),
		Clients: make(chainclient.Clients, len(cfg.Chains)),
	}
	chains := sortedChains(cfg)
	for _, chain := range chains {
		net.Ledgers[chain.ChainID] = ledger.New(ledger.Options{
			ChainID:         chain.ChainID,
			Owner:           chain.Owner,
			RegistryAddress: chain.RegistryAddress,
			Clock:           clock,
			BlockTime:       chain.BlockTime,
		})
	}

	for _, chain := range chains {
		l := net.Ledgers[chain.ChainID]
		chainLogger := logger.WithField("chain_id", chain.ChainID)
		for _, other := range chains {
			if other.ChainID == chain.ChainID {
				continue
			}
			if _, err := l.AddSupportedChain(chain.Owner, other.ChainID, other.RegistryAddress); err != nil {
				return nil, fmt.Errorf("can't add chain %d to %s: %w", other.ChainID, chain.Name, err)
			}
		}
		for _, resolver := range chain.AuthorizedResolvers {
			if _, err := l.AddAuthorizedResolver(chain.Owner, resolver); err != nil {
				return nil, fmt.Errorf("can't authorize resolver %s on %s: %w", resolver, chain.Name, err)
			}
		}
		for _, balance := range chain.Genesis {
			token, _ := chain.TokenBySymbol(balance.Token)
			amount, err := token.ParseAmount(balance.Amount)
			if err != nil {
				return nil, fmt.Errorf("can't parse genesis balance on %s: %w", chain.Name, err)
			}
			if _, err = l.Mint(chain.Owner, token.Address, balance.Holder, amount); err != nil {
				return nil, fmt.Errorf("can't mint genesis balance on %s: %w", chain.Name, err)
			}
			total := l.BalanceOf(token.Address, balance.Holder)
			if _, err = l.Approve(balance.Holder, token.Address, l.EscrowAddress(), total); err != nil {
				return nil, fmt.Errorf("can't approve genesis balance on %s: %w", chain.Name, err)
			}
		}
		net.Clients[chain.ChainID] = chainclient.NewLocalClient(l, requestTimeout)
		chainLogger.WithField("supported_chains", l.SupportedChains()).Info("deployed bridge programs")
	}
	return net, nil
}

func sortedChains(cfg *config.Config) []*config.ChainConfig {
	chains := make([]*config.ChainConfig, 0, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].ChainID < chains[j].ChainID
	})
	return chains
}
