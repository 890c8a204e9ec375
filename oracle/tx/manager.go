package tx

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

// Backend is the part of an Ethereum RPC client the manager needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// Manager builds, signs and broadcasts transactions for a single key. Sends
// are serialized so two submissions never race for the same nonce.
type Manager struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   ethtypes.Signer
	gasLimit uint64
	sendLock sync.Mutex
}

func NewManager(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, gasLimit uint64) *Manager {
	return &Manager{
		backend:  backend,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		signer:   ethtypes.LatestSignerForChainID(chainID),
		gasLimit: gasLimit,
	}
}

// ParsePrivateKey accepts a hex secp256k1 key with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "private key: %v", err)
	}

	return key, nil
}

func (m *Manager) From() common.Address {
	return m.from
}

func (m *Manager) GasLimit() uint64 {
	return m.gasLimit
}

// BuildTransaction creates an unsigned legacy transaction using the account's
// pending nonce, the node's suggested gas price and the fixed gas limit. It
// fails early when the balance cannot cover value plus the maximum gas cost.
func (m *Manager) BuildTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (*ethtypes.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := m.backend.PendingNonceAt(ctx, m.from)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmission, "failed to get nonce: %v", err)
	}

	gasPrice, err := m.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmission, "failed to get gas price: %v", err)
	}

	balance, err := m.backend.BalanceAt(ctx, m.from, nil)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmission, "failed to get balance: %v", err)
	}

	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(m.gasLimit))
	cost.Add(cost, value)
	if balance.Cmp(cost) < 0 {
		return nil, errorsmod.Wrapf(types.ErrSubmission, "insufficient funds: balance %s wei, need %s wei", balance, cost)
	}

	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      m.gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	}), nil
}

// SignTransaction signs with the configured key for the configured chain id.
func (m *Manager) SignTransaction(tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	signed, err := ethtypes.SignTx(tx, m.signer, m.key)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmission, "failed to sign transaction: %v", err)
	}

	return signed, nil
}

// BroadcastTransaction hands the signed transaction to the node without
// waiting for it to be mined.
func (m *Manager) BroadcastTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if err := m.backend.SendTransaction(ctx, tx); err != nil {
		return errorsmod.Wrapf(types.ErrSubmission, "failed to broadcast transaction: %v", err)
	}

	log.Debugf("transaction broadcasted: hash=%s nonce=%d", tx.Hash().Hex(), tx.Nonce())
	return nil
}

// Send builds, signs and broadcasts a call to `to`, returning the tx hash.
func (m *Manager) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	m.sendLock.Lock()
	defer m.sendLock.Unlock()

	unsigned, err := m.BuildTransaction(ctx, to, value, data)
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := m.SignTransaction(unsigned)
	if err != nil {
		return common.Hash{}, err
	}

	if err := m.BroadcastTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}

	return signed.Hash(), nil
}

func (m *Manager) String() string {
	return fmt.Sprintf("tx.Manager{from=%s gas=%d}", m.from.Hex(), m.gasLimit)
}
