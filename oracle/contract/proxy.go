package contract

import (
	"context"
	"errors"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/retry"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

// Sender signs and broadcasts a contract call. *tx.Manager implements it.
type Sender interface {
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
}

// Receipt is the part of a transaction receipt the coordinator cares about.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	Success     bool        `json:"success"`
	GasUsed     uint64      `json:"gas_used"`
	RequestID   *big.Int    `json:"oracle_request_id,omitempty"`
}

// Proxy is a typed wrapper around the OAO Prompt contract.
type Proxy struct {
	client  ChainClient
	abi     abi.ABI
	address common.Address
	sender  Sender
	reads   *retry.Config
}

func NewProxy(client ChainClient, contractABI abi.ABI, address common.Address, sender Sender) *Proxy {
	return &Proxy{
		client:  client,
		abi:     contractABI,
		address: address,
		sender:  sender,
		reads:   retry.ReadConfig(),
	}
}

// SetReadRetry replaces the backoff used for eth_call reads.
func (p *Proxy) SetReadRetry(config *retry.Config) {
	p.reads = config
}

func (p *Proxy) Address() common.Address {
	return p.address
}

// EstimateFee returns the fee in wei the oracle charges for modelID.
func (p *Proxy) EstimateFee(ctx context.Context, modelID uint64) (*big.Int, error) {
	out, err := p.call(ctx, MethodEstimateFee, new(big.Int).SetUint64(modelID))
	if err != nil {
		return nil, err
	}

	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrChainRead, "unexpected %s output type %T", MethodEstimateFee, out[0])
	}

	return fee, nil
}

// Submit sends calculateAIResult(modelID, prompt) with fee attached and returns
// as soon as the node accepted the transaction.
func (p *Proxy) Submit(ctx context.Context, modelID uint64, prompt string, fee *big.Int) (common.Hash, error) {
	if fee == nil || fee.Sign() < 0 {
		return common.Hash{}, errorsmod.Wrap(types.ErrSubmission, "fee must be estimated first")
	}

	data, err := p.abi.Pack(MethodCalculateAIResult, new(big.Int).SetUint64(modelID), prompt)
	if err != nil {
		return common.Hash{}, errorsmod.Wrapf(types.ErrSubmission, "failed to pack %s: %v", MethodCalculateAIResult, err)
	}

	hash, err := p.sender.Send(ctx, p.address, fee, data)
	if err != nil {
		return common.Hash{}, err
	}

	log.Infof("Submitted prompt to model %d: tx=%s fee=%s", modelID, hash.Hex(), fee)
	return hash, nil
}

// GetResult reads the oracle answer for the exact (modelID, prompt) pair.
func (p *Proxy) GetResult(ctx context.Context, modelID uint64, prompt string) (types.OracleResult, error) {
	out, err := p.call(ctx, MethodGetAIResult, new(big.Int).SetUint64(modelID), prompt)
	if err != nil {
		return types.OracleResult{}, err
	}

	text, ok := out[0].(string)
	if !ok {
		return types.OracleResult{}, errorsmod.Wrapf(types.ErrChainRead, "unexpected %s output type %T", MethodGetAIResult, out[0])
	}

	return types.NewOracleResult(modelID, prompt, text), nil
}

// Receipt returns nil without error while the transaction is not mined.
func (p *Proxy) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	receipt, err := p.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrChainRead, "failed to get receipt for %s: %v", hash.Hex(), err)
	}

	r := &Receipt{
		TxHash:  receipt.TxHash,
		Success: receipt.Status == ethtypes.ReceiptStatusSuccessful,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	r.RequestID = p.requestID(receipt.Logs)

	return r, nil
}

// requestID picks the oracle request id out of the promptRequest event.
func (p *Proxy) requestID(logs []*ethtypes.Log) *big.Int {
	event, ok := p.abi.Events[EventPromptRequest]
	if !ok {
		return nil
	}

	for _, l := range logs {
		if l.Address != p.address || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}

		values, err := p.abi.Unpack(EventPromptRequest, l.Data)
		if err != nil || len(values) == 0 {
			log.Debugf("failed to decode %s log: %v", EventPromptRequest, err)
			continue
		}

		if id, ok := values[0].(*big.Int); ok {
			return id
		}
	}

	return nil
}

func (p *Proxy) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := p.abi.Pack(method, args...)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrChainRead, "failed to pack %s: %v", method, err)
	}

	var out []byte
	err = retry.Do(ctx, p.reads, func() error {
		var callErr error
		out, callErr = p.client.CallContract(ctx, ethereum.CallMsg{To: &p.address, Data: data}, nil)
		return callErr
	}, retry.DefaultIsRetryable)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrChainRead, "%s call failed: %v", method, err)
	}

	if len(out) == 0 {
		return nil, errorsmod.Wrapf(types.ErrChainRead, "%s returned no data, is %s a Prompt contract?", method, p.address.Hex())
	}

	values, err := p.abi.Unpack(method, out)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrChainRead, "failed to unpack %s: %v", method, err)
	}
	if len(values) == 0 {
		return nil, errorsmod.Wrapf(types.ErrChainRead, "%s returned no values", method)
	}

	return values, nil
}
