package evm

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const transferABI = `[{"anonymous":false,"inputs":[
	{"indexed":true,"name":"from","type":"address"},
	{"indexed":true,"name":"to","type":"address"},
	{"indexed":false,"name":"value","type":"uint256"}
],"name":"Transfer","type":"event"}]`

func mustTopic(sig string) common.Hash {
	return crypto.Keccak256Hash([]byte(sig))
}

func TestDecode_UnpacksIndexedAndDataFields(t *testing.T) {
	d := NewDecoder()
	require.NoError(t, d.RegisterABI("token", transferABI))

	from := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to := common.HexToAddress("0x0000000000000000000000000000000000000002")
	value := make([]byte, 32)
	value[31] = 42

	log := types.Log{
		Topics: []common.Hash{
			mustTopic("Transfer(address,address,uint256)"),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: value,
	}

	decoded, err := d.Decode("token", log)
	require.NoError(t, err)
	require.Equal(t, "Transfer(address,address,uint256)", decoded.ABISignature)
	require.Len(t, decoded.Topics, 3)

	var params map[string]any
	require.NoError(t, json.Unmarshal(decoded.Params, &params))
	require.Contains(t, params, "from")
	require.Contains(t, params, "value")
}

func TestDecode_UnknownContractReturnsErrDecodeFailed(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode("missing", types.Log{Topics: []common.Hash{mustTopic("Transfer(address,address,uint256)")}})
	require.ErrorIs(t, err, ErrDecodeFailed)
}

func TestDecode_UnmatchedTopicReturnsErrDecodeFailed(t *testing.T) {
	d := NewDecoder()
	require.NoError(t, d.RegisterABI("token", transferABI))

	_, err := d.Decode("token", types.Log{Topics: []common.Hash{mustTopic("Approval(address,address,uint256)")}})
	require.ErrorIs(t, err, ErrDecodeFailed)
}

func TestDecode_NoTopicsReturnsErrDecodeFailed(t *testing.T) {
	d := NewDecoder()
	require.NoError(t, d.RegisterABI("token", transferABI))

	_, err := d.Decode("token", types.Log{})
	require.ErrorIs(t, err, ErrDecodeFailed)
}
