// Package evm decodes raw EVM logs into the JSON-serializable parameter
// maps stored in chaindexing_events.log_params, using one parsed ABI per
// contract name registered at startup.
package evm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrDecodeFailed means the log's first topic does not match any event in
// the contract's ABI. Per spec.md §4.D this is per-log and must not fail
// the rest of the batch.
var ErrDecodeFailed = errors.New("evm: decode failed")

// Decoder holds one parsed ABI per contract name.
type Decoder struct {
	mu   sync.RWMutex
	abis map[string]abi.ABI
}

// NewDecoder returns an empty decoder; call RegisterABI for each contract
// name before Decode is used against its logs.
func NewDecoder() *Decoder {
	return &Decoder{abis: make(map[string]abi.ABI)}
}

// RegisterABI parses jsonABI once and stores it under contractName.
func (d *Decoder) RegisterABI(contractName, jsonABI string) error {
	parsed, err := abi.JSON(strings.NewReader(jsonABI))
	if err != nil {
		return fmt.Errorf("evm: parse ABI for %s: %w", contractName, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.abis[contractName] = parsed
	return nil
}

// Decoded is the result of successfully decoding one log.
type Decoded struct {
	ABISignature string
	Params       []byte // JSON object of event parameters
	Topics       []string
}

// Decode looks up contractName's ABI, matches log.Topics[0] against its
// event set, and unpacks both indexed and non-indexed parameters into a
// single JSON object.
func (d *Decoder) Decode(contractName string, log types.Log) (Decoded, error) {
	d.mu.RLock()
	contractABI, ok := d.abis[contractName]
	d.mu.RUnlock()
	if !ok {
		return Decoded{}, fmt.Errorf("%w: no ABI registered for %s", ErrDecodeFailed, contractName)
	}
	if len(log.Topics) == 0 {
		return Decoded{}, fmt.Errorf("%w: log has no topics", ErrDecodeFailed)
	}

	event, err := contractABI.EventByID(log.Topics[0])
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	out := make(map[string]any, len(event.Inputs))
	if err := contractABI.UnpackIntoMap(out, event.Name, log.Data); err != nil {
		return Decoded{}, fmt.Errorf("%w: unpack data: %v", ErrDecodeFailed, err)
	}

	indexedArgs := make(abi.Arguments, 0)
	for _, in := range event.Inputs {
		if in.Indexed {
			indexedArgs = append(indexedArgs, in)
		}
	}
	if len(indexedArgs) > 0 {
		if err := abi.ParseTopicsIntoMap(out, indexedArgs, log.Topics[1:]); err != nil {
			return Decoded{}, fmt.Errorf("%w: unpack topics: %v", ErrDecodeFailed, err)
		}
	}

	params, err := json.Marshal(out)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: marshal params: %v", ErrDecodeFailed, err)
	}

	topics := make([]string, len(log.Topics))
	for i, t := range log.Topics {
		topics[i] = t.Hex()
	}

	return Decoded{
		ABISignature: event.Sig,
		Params:       params,
		Topics:       topics,
	}, nil
}
