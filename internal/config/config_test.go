package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaindexer/chaindexer/internal/testutil"
)

func TestMsOrZero(t *testing.T) {
	require.Equal(t, time.Duration(0), msOrZero(0))
	require.Equal(t, time.Duration(0), msOrZero(-5))
	require.Equal(t, 250*time.Millisecond, msOrZero(250))
}

func TestReadABI_EmptyPathReturnsEmptyString(t *testing.T) {
	got, err := readABI("")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadABI_ReadsFileContents(t *testing.T) {
	sb, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sb.Cleanup()

	require.NoError(t, sb.WriteFile("token.abi.json", []byte(`[{"type":"event"}]`), 0600))

	got, err := readABI(sb.Path("token.abi.json"))
	require.NoError(t, err)
	require.JSONEq(t, `[{"type":"event"}]`, got)
}
