package subscribe

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/oao-assistant/oracle/contract"
	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

// LogReader is the log query surface of an Ethereum RPC client.
type LogReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
}

// Fulfillment is one promptsUpdated callback written by the oracle node.
type Fulfillment struct {
	RequestID   *big.Int    `json:"oracle_request_id"`
	ModelID     uint64      `json:"model_id"`
	Prompt      string      `json:"prompt"`
	Output      string      `json:"output"`
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
}

// Watcher follows promptsUpdated events of one Prompt contract. Each Poll
// scans the blocks mined since the previous one, so every event is delivered
// once per Watcher.
type Watcher struct {
	client  LogReader
	event   abi.Event
	address common.Address

	mu          sync.Mutex
	next        uint64
	started     bool
	channelSize int
}

func NewWatcher(client LogReader, contractABI abi.ABI, address common.Address) (*Watcher, error) {
	event, ok := contractABI.Events[contract.EventPromptsUpdated]
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "abi is missing event %s", contract.EventPromptsUpdated)
	}

	return &Watcher{
		client:      client,
		event:       event,
		address:     address,
		channelSize: 2 << 10,
	}, nil
}

// From makes the next Poll start at block, including history the watcher
// would otherwise skip. Without it only blocks mined after the first Poll
// are scanned.
func (w *Watcher) From(block uint64) *Watcher {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next, w.started = block, true
	return w
}

// Poll returns the fulfillments mined since the last call, oldest first.
func (w *Watcher) Poll(ctx context.Context) ([]Fulfillment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrChainRead, "failed to get block number: %v", err)
	}

	if !w.started {
		w.next, w.started = head+1, true
	}
	if head < w.next {
		return nil, nil
	}

	logs, err := w.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.next),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{w.address},
		Topics:    [][]common.Hash{{w.event.ID}},
	})
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrChainRead, "failed to filter logs: %v", err)
	}

	out := make([]Fulfillment, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		f, err := w.decode(l)
		if err != nil {
			log.Warnf("skipping malformed %s log in tx %s: %v", w.event.Name, l.TxHash.Hex(), err)
			continue
		}
		out = append(out, f)
	}

	w.next = head + 1
	log.Debugf("scanned blocks up to %d, %d fulfillments", head, len(out))

	return out, nil
}

// Run polls every interval and delivers fulfillments on the returned channel
// until ctx is done. Poll errors are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) <-chan Fulfillment {
	ch := make(chan Fulfillment, w.channelSize)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			found, err := w.Poll(ctx)
			if err != nil {
				log.Errorf("watch %s: %v", w.address.Hex(), err)
			}
			for _, f := range found {
				select {
				case ch <- f:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

func (w *Watcher) decode(l ethtypes.Log) (Fulfillment, error) {
	values, err := w.event.Inputs.Unpack(l.Data)
	if err != nil {
		return Fulfillment{}, err
	}
	if len(values) != 5 {
		return Fulfillment{}, fmt.Errorf("expected 5 fields, got %d", len(values))
	}

	id, ok1 := values[0].(*big.Int)
	modelID, ok2 := values[1].(*big.Int)
	prompt, ok3 := values[2].(string)
	output, ok4 := values[3].(string)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Fulfillment{}, fmt.Errorf("unexpected field types %T %T %T %T", values[0], values[1], values[2], values[3])
	}

	return Fulfillment{
		RequestID:   id,
		ModelID:     modelID.Uint64(),
		Prompt:      prompt,
		Output:      output,
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
	}, nil
}
