package binding

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0xmhha/event-collector/pkg/types"
)

var (
	// ErrABI is returned when an ABI cannot be parsed or lacks the requested event
	ErrABI = errors.New("invalid contract ABI")

	// ErrFilter is returned when an event filter cannot be built
	ErrFilter = errors.New("invalid event filter")
)

// Binding is a decoded ABI attached to one contract address on one chain
type Binding struct {
	ChainID uint64
	Address common.Address

	abi abi.ABI
}

// New parses abiJSON and binds it to address. The named event must be present.
func New(chainID uint64, address string, abiJSON []byte, eventName string) (*Binding, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: bad contract address %q", ErrFilter, address)
	}

	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrABI, err)
	}

	if _, ok := parsed.Events[eventName]; !ok {
		return nil, fmt.Errorf("%w: event %s not found in ABI", ErrABI, eventName)
	}

	return &Binding{
		ChainID: chainID,
		Address: common.HexToAddress(address),
		abi:     parsed,
	}, nil
}

// HasEvent reports whether the bound ABI declares eventName
func (b *Binding) HasEvent(eventName string) bool {
	_, ok := b.abi.Events[eventName]
	return ok
}

// BuildEventFilter returns a log filter matching eventName emitted by the bound address.
// The block range is left open for the caller to set.
func (b *Binding) BuildEventFilter(eventName string) (ethereum.FilterQuery, error) {
	event, ok := b.abi.Events[eventName]
	if !ok {
		return ethereum.FilterQuery{}, fmt.Errorf("%w: event %s not in ABI bound to %s",
			ErrFilter, eventName, b.Address.Hex())
	}

	q := ethereum.FilterQuery{
		Addresses: []common.Address{b.Address},
	}
	// Anonymous events carry no signature topic
	if !event.Anonymous {
		q.Topics = [][]common.Hash{{event.ID}}
	}
	return q, nil
}

// Decode decodes a log of eventName into rendered argument values.
// Indexed inputs come from topics, the rest from data.
func (b *Binding) Decode(eventName string, topics []common.Hash, data []byte) (map[string]string, error) {
	event, ok := b.abi.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("event %s not in ABI", eventName)
	}

	argTopics := topics
	if !event.Anonymous {
		if len(topics) == 0 {
			return nil, fmt.Errorf("log has no topics")
		}
		if topics[0] != event.ID {
			return nil, fmt.Errorf("topic %s does not match event %s", topics[0].Hex(), event.Sig)
		}
		argTopics = topics[1:]
	}

	var indexed, nonIndexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		} else {
			nonIndexed = append(nonIndexed, input)
		}
	}

	args := make(map[string]interface{}, len(event.Inputs))

	if len(indexed) > 0 || len(argTopics) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, argTopics); err != nil {
			return nil, fmt.Errorf("failed to parse indexed parameters: %w", err)
		}
	}

	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, data); err != nil {
			return nil, fmt.Errorf("failed to parse non-indexed parameters: %w", err)
		}
	}

	out := make(map[string]string, len(args))
	for _, input := range event.Inputs {
		if v, ok := args[input.Name]; ok {
			out[input.Name] = render(v)
		}
	}
	return out, nil
}

// DecodeOrRaw is Decode with a fallback to the raw hex payload.
// The returned error is the decode failure, if any.
func (b *Binding) DecodeOrRaw(eventName string, topics []common.Hash, data []byte) (map[string]string, error) {
	decoded, err := b.Decode(eventName, topics, data)
	if err != nil {
		return RawData(data), err
	}
	return decoded, nil
}

// RawData is the undecoded representation stored when decoding fails
func RawData(data []byte) map[string]string {
	return map[string]string{types.RawDataKey: hexutil.Encode(data)}
}
