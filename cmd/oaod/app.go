package main

import (
	"context"
	"math/big"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/GPTx-global/oao-assistant/oracle/config"
	"github.com/GPTx-global/oao-assistant/oracle/contract"
	"github.com/GPTx-global/oao-assistant/oracle/health"
	"github.com/GPTx-global/oao-assistant/oracle/pricefeed"
	"github.com/GPTx-global/oao-assistant/oracle/recommend"
	"github.com/GPTx-global/oao-assistant/oracle/retry"
	"github.com/GPTx-global/oao-assistant/oracle/tx"
)

// app holds every component built from one config. Nothing here is global:
// commands build an app, use it and close it.
type app struct {
	cfg     *config.Config
	client  *ethclient.Client
	chainID *big.Int
	abi     abi.ABI
	txm     *tx.Manager
	proxy   *contract.Proxy
}

func newApp(ctx context.Context, cfg *config.Config, dial *retry.Config) (*app, error) {
	key, err := tx.ParsePrivateKey(cfg.Key.PrivateKey)
	if err != nil {
		return nil, err
	}

	contractABI, err := contract.LoadABI(cfg.Contract.ABIPath)
	if err != nil {
		return nil, err
	}

	client, chainID, err := contract.Dial(ctx, cfg.Chain.Endpoint, dial)
	if err != nil {
		return nil, err
	}

	txm := tx.NewManager(client, key, chainID, cfg.Contract.GasLimit)
	return &app{
		cfg:     cfg,
		client:  client,
		chainID: chainID,
		abi:     contractABI,
		txm:     txm,
		proxy:   contract.NewProxy(client, contractABI, cfg.ContractAddress(), txm),
	}, nil
}

func (a *app) Close() {
	a.client.Close()
}

// newEngine builds the recommendation engine. It does not need a chain
// connection, so `oaod recommend` works without one.
func newEngine(cfg *config.Config) (*recommend.Engine, *pricefeed.Client, error) {
	provider, err := recommend.NewProvider(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	var prices *pricefeed.Client
	var source recommend.PriceSource
	if cfg.Price.Enabled {
		if prices, err = pricefeed.NewClient(cfg.Price); err != nil {
			return nil, nil, err
		}
		source = prices
	}

	return recommend.NewEngine(provider, source, cfg.LLM), prices, nil
}

func (a *app) healthChecker(interval time.Duration) *health.Checker {
	checker := health.NewChecker(interval)
	checker.AddCheck(health.RPCCheck(a.client))
	checker.AddCheck(health.ContractCheck(a.client, a.cfg.ContractAddress()))
	checker.AddCheck(health.BalanceCheck(a.client, a.txm.From(), big.NewInt(1)))

	return checker
}

// initMetrics installs an in-memory sink as the global go-metrics sink.
func initMetrics() (*metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)

	cfg := metrics.DefaultConfig("oaod")
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = true
	if _, err := metrics.NewGlobal(cfg, sink); err != nil {
		return nil, err
	}

	return sink, nil
}

// formatEther renders wei as ether without losing precision.
func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
