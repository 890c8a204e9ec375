package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	metrics "github.com/armon/go-metrics"
	"github.com/ethereum/go-ethereum/common"

	"github.com/GPTx-global/oao-assistant/oracle/contract"
	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

// Oracle is the contract surface a coordinator drives. *contract.Proxy implements it.
type Oracle interface {
	EstimateFee(ctx context.Context, modelID uint64) (*big.Int, error)
	Submit(ctx context.Context, modelID uint64, prompt string, fee *big.Int) (common.Hash, error)
	GetResult(ctx context.Context, modelID uint64, prompt string) (types.OracleResult, error)
	Receipt(ctx context.Context, hash common.Hash) (*contract.Receipt, error)
}

// Coordinator walks one oracle request through
// Drafted -> FeeEstimated -> Submitted -> Mined -> ResultAvailable.
// Every call is a blocking round trip; nothing runs in the background and
// polling stops whenever the caller stops calling.
type Coordinator struct {
	mu          sync.Mutex
	oracle      Oracle
	req         *types.OracleRequest
	result      types.OracleResult
	submittedAt time.Time
}

func New(oracle Oracle, modelID uint64, prompt string) *Coordinator {
	return &Coordinator{
		oracle: oracle,
		req:    types.NewOracleRequest(modelID, prompt),
		result: types.NewOracleResult(modelID, prompt, ""),
	}
}

// EstimateFee reads and caches the fee. It is allowed once; a failed read
// keeps the request in Drafted so the caller can try again.
func (c *Coordinator) EstimateFee(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("estimate fee", types.StatusDrafted); err != nil {
		return nil, err
	}

	fee, err := c.oracle.EstimateFee(ctx, c.req.ModelID)
	if err != nil {
		metrics.IncrCounter([]string{"oracle", "fee", "failures"}, 1)
		return nil, err
	}

	if err := c.transition(types.StatusFeeEstimated); err != nil {
		return nil, err
	}
	c.req.Fee = fee
	metrics.IncrCounter([]string{"oracle", "fee", "estimates"}, 1)

	return new(big.Int).Set(fee), nil
}

// Submit sends the request with the cached fee. Only one submission per
// request is possible; a failed submission fails the request.
func (c *Coordinator) Submit(ctx context.Context) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("submit", types.StatusFeeEstimated); err != nil {
		return common.Hash{}, err
	}

	hash, err := c.oracle.Submit(ctx, c.req.ModelID, c.req.Prompt, c.req.Fee)
	if err != nil {
		metrics.IncrCounter([]string{"oracle", "submit", "failures"}, 1)
		c.fail(err.Error())
		return common.Hash{}, err
	}

	if err := c.transition(types.StatusSubmitted); err != nil {
		return common.Hash{}, err
	}
	c.req.TxHash = hash.Hex()
	c.submittedAt = time.Now()
	metrics.IncrCounter([]string{"oracle", "submit", "success"}, 1)

	return hash, nil
}

// Confirm reads the transaction receipt once. A nil receipt means the
// transaction is not mined yet and leaves the request unchanged.
func (c *Coordinator) Confirm(ctx context.Context) (*contract.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("confirm", types.StatusSubmitted, types.StatusMined, types.StatusResultAvailable); err != nil {
		return nil, err
	}

	receipt, err := c.oracle.Receipt(ctx, common.HexToHash(c.req.TxHash))
	if err != nil || receipt == nil {
		return nil, err
	}

	if c.req.Status != types.StatusSubmitted {
		return receipt, nil
	}

	if !receipt.Success {
		metrics.IncrCounter([]string{"oracle", "tx", "reverted"}, 1)
		c.fail(fmt.Sprintf("reverted in block %d", receipt.BlockNumber))
		return receipt, nil
	}

	if err := c.transition(types.StatusMined); err != nil {
		return nil, err
	}
	c.req.RequestID = receipt.RequestID
	metrics.MeasureSince([]string{"oracle", "tx", "mine_latency"}, c.submittedAt)

	return receipt, nil
}

// CheckResult reads the contract for the exact prompt that was submitted.
// Every call hits the chain; "not available" is never cached.
func (c *Coordinator) CheckResult(ctx context.Context) (types.OracleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("check result", types.StatusSubmitted, types.StatusMined, types.StatusResultAvailable); err != nil {
		return types.OracleResult{}, err
	}

	metrics.IncrCounter([]string{"oracle", "result", "polls"}, 1)
	result, err := c.oracle.GetResult(ctx, c.req.ModelID, c.req.Prompt)
	if err != nil {
		return types.OracleResult{}, err
	}

	c.result = result
	if result.Available && c.req.Status != types.StatusResultAvailable {
		if err := c.transition(types.StatusResultAvailable); err != nil {
			return types.OracleResult{}, err
		}
		metrics.IncrCounter([]string{"oracle", "result", "available"}, 1)
		metrics.MeasureSince([]string{"oracle", "result", "latency"}, c.submittedAt)
	}

	return result, nil
}

// Abandon fails a request that has not finished yet.
func (c *Coordinator) Abandon(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.req.Status.Terminal() {
		return errorsmod.Wrapf(types.ErrInvalidTransition, "cannot abandon a request in status %s", c.req.Status)
	}

	if reason == "" {
		reason = "abandoned"
	}
	c.fail(reason)

	return nil
}

// Snapshot returns a copy of the request.
func (c *Coordinator) Snapshot() types.OracleRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.req.Copy()
}

// Result returns the last result read from the chain.
func (c *Coordinator) Result() types.OracleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.result
}

func (c *Coordinator) expect(action string, allowed ...types.Status) error {
	for _, s := range allowed {
		if c.req.Status == s {
			return nil
		}
	}

	return errorsmod.Wrapf(types.ErrInvalidTransition, "cannot %s a request in status %s", action, c.req.Status)
}

// transition moves the request forward along the lifecycle. Failed is
// reached only through fail.
func (c *Coordinator) transition(to types.Status) error {
	if !c.req.Status.Before(to) {
		return errorsmod.Wrapf(types.ErrInvalidTransition, "%s -> %s", c.req.Status, to)
	}

	log.Debugf("oracle request (model %d): %s -> %s", c.req.ModelID, c.req.Status, to)
	c.req.Status = to
	return nil
}

// fail moves the request to Failed. A failed request carries no tx hash; a
// hash already broadcast is kept in the reason instead.
func (c *Coordinator) fail(reason string) {
	if c.req.TxHash != "" {
		reason = fmt.Sprintf("transaction %s: %s", c.req.TxHash, reason)
		c.req.TxHash = ""
	}

	log.Warnf("oracle request (model %d) failed in %s: %s", c.req.ModelID, c.req.Status, reason)
	c.req.Err = reason
	c.req.Status = types.StatusFailed
}
