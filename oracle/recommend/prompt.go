package recommend

import (
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"

	"github.com/GPTx-global/oao-assistant/oracle/pricefeed"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

type RiskProfile string

const (
	Conservative RiskProfile = "Conservative"
	Moderate     RiskProfile = "Moderate"
	Aggressive   RiskProfile = "Aggressive"
)

var RiskProfiles = []RiskProfile{Conservative, Moderate, Aggressive}

// ParseRiskProfile is case-insensitive. Empty input means Conservative.
func ParseRiskProfile(s string) (RiskProfile, error) {
	if strings.TrimSpace(s) == "" {
		return Conservative, nil
	}

	for _, p := range RiskProfiles {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, nil
		}
	}

	return "", errorsmod.Wrapf(types.ErrInvalidRequest, "unknown risk profile %q", s)
}

// OraclePrompt is the text submitted on chain and later used as the lookup
// key for the result, so it is built once and never normalized.
func OraclePrompt(request string, risk RiskProfile) string {
	return fmt.Sprintf("Analyze yield optimization for %s with %s risk profile", request, risk)
}

func recommendationPrompt(request string, risk RiskProfile, quote *pricefeed.Quote) string {
	var sb strings.Builder
	sb.WriteString("You are a DeFi assistant helping users optimize their yield strategies.\n")
	fmt.Fprintf(&sb, "User risk profile: %s\n", risk)
	fmt.Fprintf(&sb, "User request: %s\n", request)
	if quote != nil {
		fmt.Fprintf(&sb, "Current ETH price: %s\n", quote)
	}
	sb.WriteString("Provide a detailed recommendation for the best DeFi strategy based on the request and risk profile.\n")
	sb.WriteString("Include specific protocols, expected yields, and risk factors.")

	return sb.String()
}
