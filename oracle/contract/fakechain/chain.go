// Package fakechain is an in-memory stand-in for an Ethereum node running the
// OAO Prompt contract. Transactions stay pending until Commit and results
// appear only after Fulfill, so both phases of an oracle round trip can be
// driven step by step.
package fakechain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/oao-assistant/oracle/contract"
)

// DefaultChainID is Sepolia's.
var DefaultChainID = big.NewInt(11155111)

const callGas = 150_000

var errRevert = errors.New("execution reverted")

// Request is one calculateAIResult call that made it into a block.
type Request struct {
	ID      *big.Int
	Sender  common.Address
	ModelID uint64
	Prompt  string
	Fee     *big.Int
	TxHash  common.Hash
}

type resultKey struct {
	modelID uint64
	prompt  string
}

// Chain implements contract.ChainClient.
type Chain struct {
	mu sync.Mutex

	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	gasPrice *big.Int
	block    uint64

	fees     map[uint64]*big.Int
	results  map[resultKey]string
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	pending  []*ethtypes.Transaction
	receipts map[common.Hash]*ethtypes.Receipt
	requests []Request
	logs     []ethtypes.Log

	// CallErr and SendErr, when set, are returned by every read or broadcast.
	CallErr error
	SendErr error
}

var _ contract.ChainClient = (*Chain)(nil)

func New(contractABI abi.ABI, address common.Address) *Chain {
	return &Chain{
		abi:      contractABI,
		address:  address,
		chainID:  new(big.Int).Set(DefaultChainID),
		gasPrice: big.NewInt(1_000_000_000),
		fees:     make(map[uint64]*big.Int),
		results:  make(map[resultKey]string),
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
	}
}

// SetFee makes modelID a known model charging fee wei.
func (c *Chain) SetFee(modelID uint64, fee *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fees[modelID] = new(big.Int).Set(fee)
}

func (c *Chain) SetGasPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gasPrice = new(big.Int).Set(price)
}

// Fund credits account with wei.
func (c *Chain) Fund(account common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.balances[account] = new(big.Int).Add(c.balanceOf(account), wei)
}

// Fulfill plays the oracle node: it stores output for (modelID, prompt) and
// emits promptsUpdated in a new block. The event carries the id of the latest
// matching request, or zero when the prompt was never requested.
func (c *Chain) Fulfill(modelID uint64, prompt, output string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[resultKey{modelID, prompt}] = output

	id := new(big.Int)
	for i := len(c.requests) - 1; i >= 0; i-- {
		if r := c.requests[i]; r.ModelID == modelID && r.Prompt == prompt {
			id.Set(r.ID)
			break
		}
	}

	event := c.abi.Events[contract.EventPromptsUpdated]
	data, err := event.Inputs.Pack(id, new(big.Int).SetUint64(modelID), prompt, output, []byte{})
	if err != nil {
		panic(fmt.Sprintf("fakechain: pack %s: %v", contract.EventPromptsUpdated, err))
	}

	c.block++
	c.logs = append(c.logs, ethtypes.Log{
		Address:     c.address,
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: c.block,
		Index:       uint(len(c.logs)),
	})
}

// Requests lists the mined oracle requests in order.
func (c *Chain) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Request(nil), c.requests...)
}

func (c *Chain) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Commit mines every pending transaction into a new block and returns how
// many were included.
func (c *Chain) Commit() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return 0
	}

	c.block++
	mined := len(c.pending)
	signer := ethtypes.LatestSignerForChainID(c.chainID)
	for i, tx := range c.pending {
		sender, _ := ethtypes.Sender(signer, tx)
		receipt := &ethtypes.Receipt{
			Type:             tx.Type(),
			Status:           ethtypes.ReceiptStatusSuccessful,
			TxHash:           tx.Hash(),
			BlockNumber:      new(big.Int).SetUint64(c.block),
			TransactionIndex: uint(i),
		}

		if l, err := c.execute(sender, tx); err != nil {
			receipt.Status = ethtypes.ReceiptStatusFailed
		} else if l != nil {
			l.TxHash = tx.Hash()
			l.BlockNumber = c.block
			l.TxIndex = uint(i)
			l.Index = uint(len(c.logs))
			receipt.Logs = []*ethtypes.Log{l}
			c.logs = append(c.logs, *l)
		}

		// unused gas is refunded
		used := min(tx.Gas(), callGas)
		receipt.GasUsed = used
		refund := new(big.Int).Mul(tx.GasPrice(), new(big.Int).SetUint64(tx.Gas()-used))
		if receipt.Status == ethtypes.ReceiptStatusFailed {
			refund.Add(refund, tx.Value())
		}
		c.balances[sender] = new(big.Int).Add(c.balanceOf(sender), refund)

		c.receipts[tx.Hash()] = receipt
	}
	c.pending = nil

	return mined
}

// execute applies a mined transaction to the contract and returns the event
// it emitted, if any.
func (c *Chain) execute(sender common.Address, tx *ethtypes.Transaction) (*ethtypes.Log, error) {
	if tx.To() == nil || *tx.To() != c.address {
		return nil, nil
	}

	method, args, err := c.decode(tx.Data())
	if err != nil {
		return nil, err
	}
	if method.Name != contract.MethodCalculateAIResult {
		return nil, fmt.Errorf("%w: %s is not payable", errRevert, method.Name)
	}

	modelID, prompt := args[0].(*big.Int), args[1].(string)
	fee, ok := c.fees[modelID.Uint64()]
	if !ok || tx.Value().Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: insufficient fee", errRevert)
	}

	id := big.NewInt(int64(len(c.requests) + 1))
	c.requests = append(c.requests, Request{
		ID:      id,
		Sender:  sender,
		ModelID: modelID.Uint64(),
		Prompt:  prompt,
		Fee:     new(big.Int).Set(tx.Value()),
		TxHash:  tx.Hash(),
	})

	event := c.abi.Events[contract.EventPromptRequest]
	data, err := event.Inputs.Pack(id, sender, modelID, prompt)
	if err != nil {
		return nil, err
	}

	return &ethtypes.Log{
		Address: c.address,
		Topics:  []common.Hash{event.ID},
		Data:    data,
	}, nil
}

func (c *Chain) decode(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: missing selector", errRevert)
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errRevert, err)
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errRevert, err)
	}

	return method, args, nil
}

func (c *Chain) balanceOf(account common.Address) *big.Int {
	if b, ok := c.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CallErr != nil {
		return 0, c.CallErr
	}
	return c.nonces[account], nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CallErr != nil {
		return nil, c.CallErr
	}
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *Chain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CallErr != nil {
		return nil, c.CallErr
	}
	return new(big.Int).Set(c.balanceOf(account)), nil
}

func (c *Chain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CallErr != nil {
		return nil, c.CallErr
	}
	if account != c.address {
		return nil, nil
	}
	return []byte{0x60, 0x80, 0x60, 0x40}, nil
}

func (c *Chain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CallErr != nil {
		return nil, c.CallErr
	}
	if msg.To == nil || *msg.To != c.address {
		return nil, nil
	}

	method, args, err := c.decode(msg.Data)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case contract.MethodEstimateFee:
		fee, ok := c.fees[args[0].(*big.Int).Uint64()]
		if !ok {
			return nil, fmt.Errorf("%w: unknown model", errRevert)
		}
		return method.Outputs.Pack(fee)
	case contract.MethodGetAIResult:
		key := resultKey{args[0].(*big.Int).Uint64(), args[1].(string)}
		return method.Outputs.Pack(c.results[key])
	default:
		return nil, fmt.Errorf("%w: %s is not a view", errRevert, method.Name)
	}
}

func (c *Chain) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return c.SendErr
	}

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	switch nonce := c.nonces[sender]; {
	case tx.Nonce() < nonce:
		return fmt.Errorf("nonce too low: address %s, tx: %d state: %d", sender.Hex(), tx.Nonce(), nonce)
	case tx.Nonce() > nonce:
		return fmt.Errorf("nonce too high: address %s, tx: %d state: %d", sender.Hex(), tx.Nonce(), nonce)
	}

	balance := c.balanceOf(sender)
	if balance.Cmp(tx.Cost()) < 0 {
		return fmt.Errorf("insufficient funds for gas * price + value: address %s have %s want %s", sender.Hex(), balance, tx.Cost())
	}

	c.balances[sender] = new(big.Int).Sub(balance, tx.Cost())
	c.nonces[sender]++
	c.pending = append(c.pending, tx)

	return nil
}

func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CallErr != nil {
		return 0, c.CallErr
	}
	return c.block, nil
}

// FilterLogs honours the block range, the address list and the first topic
// position of q. Block hashes are not supported.
func (c *Chain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CallErr != nil {
		return nil, c.CallErr
	}

	from, to := uint64(0), c.block
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}

	var out []ethtypes.Log
	for _, l := range c.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && !slices.Contains(q.Addresses, l.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && !slices.Contains(q.Topics[0], l.Topics[0]) {
			continue
		}
		out = append(out, l)
	}

	return out, nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CallErr != nil {
		return nil, c.CallErr
	}

	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}
