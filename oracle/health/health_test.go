package health

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
)

type stubChain struct {
	chainErr error
	code     []byte
	balance  *big.Int
}

func (s *stubChain) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(1), s.chainErr
}

func (s *stubChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return s.code, nil
}

func (s *stubChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return s.balance, nil
}

type HealthTestSuite struct {
	suite.Suite
}

func TestHealthSuite(t *testing.T) {
	suite.Run(t, new(HealthTestSuite))
}

func (suite *HealthTestSuite) TestRun_AllHealthy() {
	chain := &stubChain{code: []byte{0x60}, balance: big.NewInt(100)}
	hc := NewChecker(time.Minute)
	hc.AddCheck(RPCCheck(chain))
	hc.AddCheck(ContractCheck(chain, common.HexToAddress("0x01")))
	hc.AddCheck(BalanceCheck(chain, common.HexToAddress("0x02"), big.NewInt(10)))

	suite.False(hc.IsHealthy(), "checks start unhealthy")

	statuses := hc.Run(context.Background())
	suite.Len(statuses, 3)
	suite.Equal("balance", statuses[0].Name)
	suite.Equal("contract", statuses[1].Name)
	suite.Equal("rpc", statuses[2].Name)
	suite.True(hc.IsHealthy())
}

func (suite *HealthTestSuite) TestRun_Failures() {
	chain := &stubChain{chainErr: errors.New("connection refused"), balance: big.NewInt(1)}
	hc := NewChecker(time.Minute)
	hc.AddCheck(RPCCheck(chain))
	hc.AddCheck(ContractCheck(chain, common.HexToAddress("0x01")))
	hc.AddCheck(BalanceCheck(chain, common.HexToAddress("0x02"), big.NewInt(10)))

	for _, status := range hc.Run(context.Background()) {
		suite.False(status.Healthy, status.Name)
		suite.NotEmpty(status.Error)
	}
	suite.False(hc.IsHealthy())
}

func (suite *HealthTestSuite) TestStart_StopsWithContext() {
	runs := make(chan struct{}, 10)
	hc := NewChecker(5 * time.Millisecond)
	hc.AddCheck(NewFuncCheck("tick", func(context.Context) error {
		select {
		case runs <- struct{}{}:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hc.Start(ctx)
		close(done)
	}()

	<-runs
	<-runs
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		suite.Fail("Start did not return after cancel")
	}
}
