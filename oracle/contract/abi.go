package contract

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method and event names used by the OAO Prompt contract.
const (
	MethodEstimateFee       = "estimateFee"
	MethodCalculateAIResult = "calculateAIResult"
	MethodGetAIResult       = "getAIResult"
	EventPromptRequest      = "promptRequest"
	EventPromptsUpdated     = "promptsUpdated"
)

//go:embed abi/Prompt.json
var promptABI []byte

// PromptABI parses the embedded Prompt contract ABI.
func PromptABI() (abi.ABI, error) {
	return parseABI(promptABI)
}

// LoadABI reads an ABI JSON file, falling back to the embedded one when path
// is empty.
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return PromptABI()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to read abi file: %w", err)
	}

	return parseABI(data)
}

func parseABI(data []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse abi: %w", err)
	}

	for _, name := range []string{MethodEstimateFee, MethodCalculateAIResult, MethodGetAIResult} {
		if _, ok := parsed.Methods[name]; !ok {
			return abi.ABI{}, fmt.Errorf("abi is missing method %s", name)
		}
	}

	return parsed, nil
}
