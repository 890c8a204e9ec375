package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/retry"
	"github.com/GPTx-global/oao-assistant/oracle/tx"
)

// ChainClient is the subset of an Ethereum JSON-RPC client used by the proxy,
// the transaction manager and the health checks. *ethclient.Client satisfies it.
type ChainClient interface {
	tx.Backend

	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

// Dial connects to endpoint and makes sure the node answers eth_chainId before
// returning. Connection failures are retried with backoff.
func Dial(ctx context.Context, endpoint string, config *retry.Config) (*ethclient.Client, *big.Int, error) {
	var (
		client  *ethclient.Client
		chainID *big.Int
	)

	err := retry.Do(ctx, config, func() error {
		c, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			return err
		}

		id, err := c.ChainID(ctx)
		if err != nil {
			c.Close()
			return err
		}

		client, chainID = c, id
		return nil
	}, retry.DefaultIsRetryable)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	log.Infof("Connected to %s (chain id %s)", endpoint, chainID)
	return client, chainID, nil
}
