package types

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

const Codespace = "oao"

// errors
var (
	ErrChainRead         = errorsmod.Register(Codespace, 2, "chain read failed")
	ErrSubmission        = errorsmod.Register(Codespace, 3, "transaction submission failed")
	ErrProvider          = errorsmod.Register(Codespace, 4, "provider call failed")
	ErrInvalidTransition = errorsmod.Register(Codespace, 5, "invalid request state transition")
	ErrInvalidConfig     = errorsmod.Register(Codespace, 6, "invalid configuration")
	ErrNotFound          = errorsmod.Register(Codespace, 7, "not found")
	ErrInvalidRequest    = errorsmod.Register(Codespace, 8, "invalid request")
)

// ErrorCode maps an error onto the short label used in API responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChainRead):
		return "chain_read"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_state"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}
