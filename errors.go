package chaindexer

import "errors"

// ErrNoContract is returned by IndexStates when Config.Contracts is empty.
var ErrNoContract = errors.New("chaindexer: config has no contracts")

// ErrNoChain is returned by IndexStates when Config.Chains is empty.
var ErrNoChain = errors.New("chaindexer: config has no chains")
