package tx

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GPTx-global/oao-assistant/oracle/types"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// mockBackend is a mock for the Backend interface
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	price, _ := args.Get(0).(*big.Int)
	return price, args.Error(1)
}

func (m *mockBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	args := m.Called(ctx, account, blockNumber)
	balance, _ := args.Get(0).(*big.Int)
	return balance, args.Error(1)
}

func (m *mockBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

var (
	chainID  = big.NewInt(11155111)
	contract = common.HexToAddress("0x64BF816c3b90861a489A8eDf3FEA277cE1Fa0E82")
)

func setupManagerTest(t *testing.T) (*Manager, *mockBackend) {
	key, err := ParsePrivateKey("0x" + testKeyHex)
	require.NoError(t, err)

	backend := new(mockBackend)
	return NewManager(backend, key, chainID, 3_000_000), backend
}

func TestParsePrivateKey(t *testing.T) {
	withPrefix, err := ParsePrivateKey("0x" + testKeyHex)
	require.NoError(t, err)
	withoutPrefix, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(withPrefix.PublicKey), crypto.PubkeyToAddress(withoutPrefix.PublicKey))

	_, err = ParsePrivateKey("not-a-key")
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestSend(t *testing.T) {
	m, backend := setupManagerTest(t)
	fee := big.NewInt(1_000_000)
	data := []byte{0xde, 0xad, 0xbe, 0xef}

	backend.On("PendingNonceAt", mock.Anything, m.From()).Return(uint64(7), nil).Once()
	backend.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(2), nil).Once()
	backend.On("BalanceAt", mock.Anything, m.From(), (*big.Int)(nil)).Return(big.NewInt(1e18), nil).Once()

	var sent *ethtypes.Transaction
	backend.On("SendTransaction", mock.Anything, mock.AnythingOfType("*types.Transaction")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*ethtypes.Transaction) }).
		Return(nil).Once()

	hash, err := m.Send(context.Background(), contract, fee, data)
	require.NoError(t, err)
	backend.AssertExpectations(t)

	require.NotNil(t, sent)
	require.Equal(t, sent.Hash(), hash)
	require.Equal(t, uint64(7), sent.Nonce())
	require.Equal(t, uint64(3_000_000), sent.Gas())
	require.Equal(t, big.NewInt(2), sent.GasPrice())
	require.Equal(t, fee, sent.Value())
	require.Equal(t, contract, *sent.To())
	require.Equal(t, data, sent.Data())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), sent)
	require.NoError(t, err)
	require.Equal(t, m.From(), sender)
}

func TestSend_InsufficientFunds(t *testing.T) {
	m, backend := setupManagerTest(t)

	backend.On("PendingNonceAt", mock.Anything, m.From()).Return(uint64(0), nil)
	backend.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(10), nil)
	// 3_000_000 * 10 + 1 wei is one more than the balance
	backend.On("BalanceAt", mock.Anything, m.From(), (*big.Int)(nil)).Return(big.NewInt(30_000_000), nil)

	_, err := m.Send(context.Background(), contract, big.NewInt(1), nil)
	require.ErrorIs(t, err, types.ErrSubmission)
	require.Contains(t, err.Error(), "insufficient funds")
	backend.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
}

func TestSend_BackendFailures(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(m *Manager, b *mockBackend)
	}{
		{
			name: "nonce lookup fails",
			setup: func(m *Manager, b *mockBackend) {
				b.On("PendingNonceAt", mock.Anything, m.From()).Return(uint64(0), errors.New("connection refused"))
			},
		},
		{
			name: "gas price lookup fails",
			setup: func(m *Manager, b *mockBackend) {
				b.On("PendingNonceAt", mock.Anything, m.From()).Return(uint64(0), nil)
				b.On("SuggestGasPrice", mock.Anything).Return(nil, errors.New("timeout"))
			},
		},
		{
			name: "broadcast rejected",
			setup: func(m *Manager, b *mockBackend) {
				b.On("PendingNonceAt", mock.Anything, m.From()).Return(uint64(0), nil)
				b.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1), nil)
				b.On("BalanceAt", mock.Anything, m.From(), (*big.Int)(nil)).Return(big.NewInt(1e18), nil)
				b.On("SendTransaction", mock.Anything, mock.Anything).Return(errors.New("nonce too low"))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, backend := setupManagerTest(t)
			tc.setup(m, backend)

			hash, err := m.Send(context.Background(), contract, big.NewInt(1), nil)
			require.ErrorIs(t, err, types.ErrSubmission)
			require.Equal(t, common.Hash{}, hash)
		})
	}
}
