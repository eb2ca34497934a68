package contract

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/contract/abi"
	"github.com/omni/htlc-bridge/entity"
)

// Contract binds the bridge programs deployed on one chain: the registry and the escrow custody
// account share one ABI.
type Contract struct {
	addresses []common.Address
	abi       abi.ABI
}

func NewContract(abi abi.ABI, addresses ...common.Address) *Contract {
	return &Contract{
		addresses: addresses,
		abi:       abi,
	}
}

func (c *Contract) Addresses() []common.Address {
	return c.addresses
}

func (c *Contract) AllEvents() map[string]bool {
	return c.abi.AllEvents()
}

// FilterQuery selects every log emitted by the bound programs within the inclusive block range.
func (c *Contract) FilterQuery(fromBlock, toBlock uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: c.addresses,
	}
}

func (c *Contract) ParseLog(log *entity.Log) (string, map[string]interface{}, error) {
	return c.abi.ParseLog(log.Topics(), log.Data)
}
