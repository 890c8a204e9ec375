package contract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPromptABI(t *testing.T) {
	parsed, err := PromptABI()
	require.NoError(t, err)

	require.Contains(t, parsed.Methods, MethodEstimateFee)
	require.Contains(t, parsed.Methods, MethodCalculateAIResult)
	require.Contains(t, parsed.Methods, MethodGetAIResult)
	require.Contains(t, parsed.Events, EventPromptRequest)
	require.True(t, parsed.Methods[MethodCalculateAIResult].IsPayable())
	require.True(t, parsed.Methods[MethodGetAIResult].IsConstant())
}

func TestLoadABI(t *testing.T) {
	dir := t.TempDir()

	embedded, err := LoadABI("")
	require.NoError(t, err)
	require.Len(t, embedded.Methods, 5)

	path := filepath.Join(dir, "Prompt.json")
	require.NoError(t, os.WriteFile(path, promptABI, 0o600))
	fromFile, err := LoadABI(path)
	require.NoError(t, err)
	require.Equal(t, embedded.Methods[MethodGetAIResult].ID, fromFile.Methods[MethodGetAIResult].ID)

	incomplete := filepath.Join(dir, "Incomplete.json")
	require.NoError(t, os.WriteFile(incomplete, []byte(`[{"type":"function","name":"estimateFee","inputs":[],"outputs":[]}]`), 0o600))
	_, err = LoadABI(incomplete)
	require.ErrorContains(t, err, "missing method calculateAIResult")

	_, err = LoadABI(filepath.Join(dir, "missing.json"))
	require.ErrorContains(t, err, "failed to read abi file")
}
