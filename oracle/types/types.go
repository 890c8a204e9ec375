package types

import (
	"math/big"
	"slices"
)

// DefaultModelID selects Llama3 on the OAO network.
const DefaultModelID uint64 = 11

type Status string

const (
	StatusDrafted         Status = "drafted"
	StatusFeeEstimated    Status = "fee_estimated"
	StatusSubmitted       Status = "submitted"
	StatusMined           Status = "mined"
	StatusResultAvailable Status = "result_available"
	StatusFailed          Status = "failed"
)

// order ranks the forward-only lifecycle. Failed sits outside it.
var order = []Status{
	StatusDrafted,
	StatusFeeEstimated,
	StatusSubmitted,
	StatusMined,
	StatusResultAvailable,
}

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusResultAvailable
}

// HasTx reports whether a request in this status carries a transaction hash.
func (s Status) HasTx() bool {
	return s == StatusSubmitted || s == StatusMined || s == StatusResultAvailable
}

// Before reports whether s precedes other in the lifecycle.
func (s Status) Before(other Status) bool {
	i, j := slices.Index(order, s), slices.Index(order, other)
	if i < 0 || j < 0 {
		return false
	}
	return i < j
}

// OracleRequest tracks one user submission to the AI oracle. It is identified
// on chain by (ModelID, Prompt); Prompt must never be rewritten after creation.
type OracleRequest struct {
	ModelID   uint64   `json:"model_id"`
	Prompt    string   `json:"prompt"`
	Fee       *big.Int `json:"fee_wei,omitempty"`
	TxHash    string   `json:"tx_hash,omitempty"`
	RequestID *big.Int `json:"oracle_request_id,omitempty"`
	Status    Status   `json:"status"`
	Err       string   `json:"error,omitempty"`
}

func NewOracleRequest(modelID uint64, prompt string) *OracleRequest {
	return &OracleRequest{
		ModelID: modelID,
		Prompt:  prompt,
		Status:  StatusDrafted,
	}
}

// Copy returns a deep copy safe to hand to another goroutine.
func (r *OracleRequest) Copy() OracleRequest {
	c := *r
	if r.Fee != nil {
		c.Fee = new(big.Int).Set(r.Fee)
	}
	if r.RequestID != nil {
		c.RequestID = new(big.Int).Set(r.RequestID)
	}
	return c
}

// OracleResult is what getAIResult returned for (ModelID, Prompt). An empty
// answer is reported as Available=false, which is also what a never submitted
// prompt looks like.
type OracleResult struct {
	ModelID   uint64 `json:"model_id"`
	Prompt    string `json:"prompt"`
	Text      string `json:"result,omitempty"`
	Available bool   `json:"available"`
}

func NewOracleResult(modelID uint64, prompt, text string) OracleResult {
	return OracleResult{
		ModelID:   modelID,
		Prompt:    prompt,
		Text:      text,
		Available: text != "",
	}
}
