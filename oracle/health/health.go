package health

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GPTx-global/oao-assistant/oracle/log"
)

// Check is one named probe of an external dependency.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// Status is the outcome of the last run of a check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
}

// Checker runs a set of checks, either on demand or periodically.
type Checker struct {
	mu       sync.RWMutex
	checks   map[string]Check
	status   map[string]Status
	interval time.Duration
	timeout  time.Duration
}

func NewChecker(interval time.Duration) *Checker {
	return &Checker{
		checks:   make(map[string]Check),
		status:   make(map[string]Status),
		interval: interval,
		timeout:  5 * time.Second,
	}
}

// AddCheck registers check. A check is unhealthy until it has run once.
func (hc *Checker) AddCheck(check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.checks[check.Name()] = check
	hc.status[check.Name()] = Status{Name: check.Name()}
}

// Start runs the checks every interval until ctx is done.
func (hc *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	hc.Run(ctx)
	for {
		select {
		case <-ticker.C:
			hc.Run(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Run executes every check concurrently, waits for all of them and returns
// the resulting statuses sorted by name.
func (hc *Checker) Run(ctx context.Context) []Status {
	hc.mu.RLock()
	checks := make([]Check, 0, len(hc.checks))
	for _, check := range hc.checks {
		checks = append(checks, check)
	}
	hc.mu.RUnlock()

	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()

			cctx, cancel := context.WithTimeout(ctx, hc.timeout)
			defer cancel()

			err := check.Check(cctx)
			status := Status{
				Name:      check.Name(),
				Healthy:   err == nil,
				LastCheck: time.Now(),
			}
			if err != nil {
				status.Error = err.Error()
				log.Warnf("health check %s failed: %v", check.Name(), err)
			}

			hc.mu.Lock()
			hc.status[check.Name()] = status
			hc.mu.Unlock()
		}(check)
	}
	wg.Wait()

	return hc.Statuses()
}

// Statuses returns the last known statuses sorted by name.
func (hc *Checker) Statuses() []Status {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	result := make([]Status, 0, len(hc.status))
	for _, status := range hc.status {
		result = append(result, status)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	return result
}

func (hc *Checker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	for _, status := range hc.status {
		if !status.Healthy {
			return false
		}
	}

	return true
}

// FuncCheck adapts a function to Check.
type FuncCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func NewFuncCheck(name string, fn func(ctx context.Context) error) *FuncCheck {
	return &FuncCheck{name: name, fn: fn}
}

func (c *FuncCheck) Name() string {
	return c.name
}

func (c *FuncCheck) Check(ctx context.Context) error {
	return c.fn(ctx)
}

// ChainReader is what the chain checks need from an RPC client.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// RPCCheck passes when the node answers eth_chainId.
func RPCCheck(client ChainReader) Check {
	return NewFuncCheck("rpc", func(ctx context.Context) error {
		_, err := client.ChainID(ctx)
		return err
	})
}

// ContractCheck passes when code is deployed at address.
func ContractCheck(client ChainReader, address common.Address) Check {
	return NewFuncCheck("contract", func(ctx context.Context) error {
		code, err := client.CodeAt(ctx, address, nil)
		if err != nil {
			return err
		}
		if len(code) == 0 {
			return fmt.Errorf("no contract code at %s", address.Hex())
		}
		return nil
	})
}

// BalanceCheck passes when account holds at least minimum wei.
func BalanceCheck(client ChainReader, account common.Address, minimum *big.Int) Check {
	return NewFuncCheck("balance", func(ctx context.Context) error {
		balance, err := client.BalanceAt(ctx, account, nil)
		if err != nil {
			return err
		}
		if balance.Cmp(minimum) < 0 {
			return fmt.Errorf("signer balance %s wei is below %s wei", balance, minimum)
		}
		return nil
	})
}
