package abi

//nolint:golint
import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed htlc_bridge.json
var htlcBridgeJSONABI string

var ErrInvalidEvent = errors.New("invalid event")

var HTLCBridgeABI = MustReadABI(htlcBridgeJSONABI)

const (
	EscrowInitiated             = "event EscrowInitiated(bytes32 indexed escrowId, address indexed initiator, address indexed recipient, address asset, uint256 amount, bytes32 secretHash, uint256 timelockDuration, uint256 initTimestamp)"
	EscrowClaimed               = "event EscrowClaimed(bytes32 indexed escrowId, address indexed recipient, bytes32 secret, uint256 amount)"
	EscrowRefunded              = "event EscrowRefunded(bytes32 indexed escrowId, address indexed initiator, uint256 amount)"
	EscrowCreated               = "event EscrowCreated(bytes32 indexed escrowId, address indexed creator, uint256 indexed destChainId)"
	CrossChainTransferInitiated = "event CrossChainTransferInitiated(bytes32 indexed transferId, bytes32 indexed sourceEscrowId, bytes32 indexed destEscrowId, uint256 sourceChainId, uint256 destChainId, address initiator, address recipient, uint256 amount, bytes32 secretHash)"
	CrossChainTransferCompleted = "event CrossChainTransferCompleted(bytes32 indexed transferId, bytes32 indexed destEscrowId, address indexed completedBy)"
	ChainSupportAdded           = "event ChainSupportAdded(uint256 indexed chainId, address bridgeFactory)"
	ChainSupportRemoved         = "event ChainSupportRemoved(uint256 indexed chainId)"
	ResolverAuthorized          = "event ResolverAuthorized(address indexed resolver)"
	ResolverRevoked             = "event ResolverRevoked(address indexed resolver)"
	AssetTransfer               = "event Transfer(address indexed from, address indexed to, address asset, uint256 value)"
)

type ABI struct {
	abi.ABI
}

func MustReadABI(rawJSON string) ABI {
	res, err := abi.JSON(strings.NewReader(rawJSON))
	if err != nil {
		panic(err)
	}
	return ABI{res}
}

func (a ABI) AllEvents() map[string]bool {
	events := make(map[string]bool, len(a.Events))
	for _, event := range a.Events {
		events[event.String()] = true
	}
	return events
}

func (a ABI) FindMatchingEventABI(topics []common.Hash) *abi.Event {
	for _, e := range a.Events {
		if e.ID == topics[0] {
			indexed := Indexed(e.Inputs)
			if len(indexed) == len(topics)-1 {
				return &e
			}
		}
	}
	return nil
}

// ParseLog decodes a raw log into the full event signature and a map of its named arguments.
// Unknown events are skipped with empty results and no error.
func (a ABI) ParseLog(topics []common.Hash, data []byte) (string, map[string]interface{}, error) {
	if len(topics) == 0 {
		return "", nil, fmt.Errorf("cannot process event without topics: %w", ErrInvalidEvent)
	}
	event := a.FindMatchingEventABI(topics)
	if event == nil {
		return "", nil, nil
	}

	res, err := DecodeEventLog(event, topics, data)
	if err != nil {
		return "", nil, fmt.Errorf("can't decode event log: %w", err)
	}
	return event.String(), res, nil
}

// EncodeLog is the inverse of ParseLog: it builds topics and data for the named event,
// args follow the event's input order.
func (a ABI) EncodeLog(name string, args ...interface{}) ([]common.Hash, []byte, error) {
	event, ok := a.Events[name]
	if !ok {
		return nil, nil, fmt.Errorf("event %s is not in abi: %w", name, ErrInvalidEvent)
	}
	if len(args) != len(event.Inputs) {
		return nil, nil, fmt.Errorf("event %s expects %d arguments, got %d: %w", name, len(event.Inputs), len(args), ErrInvalidEvent)
	}
	topics := []common.Hash{event.ID}
	var nonIndexed []interface{}
	for i, input := range event.Inputs {
		if !input.Indexed {
			nonIndexed = append(nonIndexed, args[i])
			continue
		}
		topic, err := abi.MakeTopics([]interface{}{args[i]})
		if err != nil {
			return nil, nil, fmt.Errorf("can't encode topic %s: %w", input.Name, err)
		}
		topics = append(topics, topic[0][0])
	}
	data, err := event.Inputs.NonIndexed().Pack(nonIndexed...)
	if err != nil {
		return nil, nil, fmt.Errorf("can't pack event data: %w", err)
	}
	return topics, data, nil
}

func Indexed(args abi.Arguments) abi.Arguments {
	var indexed abi.Arguments
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func DecodeEventLog(event *abi.Event, topics []common.Hash, data []byte) (map[string]interface{}, error) {
	indexed := Indexed(event.Inputs)
	values := make(map[string]interface{})
	if len(indexed) < len(event.Inputs) {
		if err := event.Inputs.UnpackIntoMap(values, data); err != nil {
			return nil, fmt.Errorf("can't unpack data: %w", err)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, topics[1:]); err != nil {
		return nil, fmt.Errorf("can't unpack topics: %w", err)
	}
	return values, nil
}
