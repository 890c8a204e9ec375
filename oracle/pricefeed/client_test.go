package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/oao-assistant/oracle/config"
	"github.com/GPTx-global/oao-assistant/oracle/retry"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

type ClientTestSuite struct {
	suite.Suite

	server  *httptest.Server
	handler http.HandlerFunc
	hits    atomic.Int32
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (suite *ClientTestSuite) SetupTest() {
	suite.hits.Store(0)
	suite.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		suite.hits.Add(1)
		suite.handler(w, r)
	}))
}

func (suite *ClientTestSuite) TearDownTest() {
	suite.server.Close()
}

func (suite *ClientTestSuite) newClient(ttl time.Duration) *Client {
	c, err := NewClient(config.PriceConfig{Enabled: true, URL: suite.server.URL + "/", TTL: ttl, Timeout: time.Second})
	suite.Require().NoError(err)
	c.SetRetry(&retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1})
	suite.T().Cleanup(c.Close)
	return c
}

func (suite *ClientTestSuite) TestETH() {
	suite.handler = func(w http.ResponseWriter, r *http.Request) {
		suite.Equal("/simple/price", r.URL.Path)
		suite.Equal("ethereum", r.URL.Query().Get("ids"))
		suite.Equal("usd", r.URL.Query().Get("vs_currencies"))
		suite.Equal("true", r.URL.Query().Get("include_24hr_change"))
		w.Write([]byte(`{"ethereum":{"usd":3120.55,"usd_24h_change":-1.234}}`))
	}

	quote, err := suite.newClient(0).ETH(context.Background())
	suite.Require().NoError(err)
	suite.Equal(3120.55, quote.USD)
	suite.InDelta(-1.234, quote.Change24h, 1e-9)
	suite.Equal("$3120.55 (-1.23% 24h)", quote.String())
}

func (suite *ClientTestSuite) TestETH_Cached() {
	suite.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ethereum":{"usd":3000,"usd_24h_change":2}}`))
	}
	c := suite.newClient(time.Minute)

	for i := 0; i < 3; i++ {
		quote, err := c.ETH(context.Background())
		suite.Require().NoError(err)
		suite.Equal(3000.0, quote.USD)
	}
	suite.Equal(int32(1), suite.hits.Load())
}

func (suite *ClientTestSuite) TestETH_RetriesServerErrors() {
	suite.handler = func(w http.ResponseWriter, r *http.Request) {
		if suite.hits.Load() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ethereum":{"usd":1,"usd_24h_change":0}}`))
	}

	_, err := suite.newClient(0).ETH(context.Background())
	suite.NoError(err)
	suite.Equal(int32(3), suite.hits.Load())
}

func (suite *ClientTestSuite) TestETH_ClientErrorNotRetried() {
	suite.handler = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}

	_, err := suite.newClient(0).ETH(context.Background())
	suite.ErrorIs(err, types.ErrProvider)
	suite.Contains(err.Error(), "400")
	suite.Equal(int32(1), suite.hits.Load())
}

func (suite *ClientTestSuite) TestETH_MalformedResponses() {
	for name, body := range map[string]string{
		"not json":      `<html>`,
		"missing coin":  `{"bitcoin":{"usd":1}}`,
		"missing price": `{"ethereum":{"eur":1}}`,
	} {
		suite.Run(name, func() {
			suite.handler = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}

			_, err := suite.newClient(0).ETH(context.Background())
			suite.ErrorIs(err, types.ErrProvider)
		})
	}
}

func (suite *ClientTestSuite) TestETH_CircuitOpensAfterOutage() {
	suite.handler = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}
	c := suite.newClient(0)
	c.SetCircuitBreaker(retry.NewCircuitBreaker(2, time.Hour))

	for i := 0; i < 2; i++ {
		_, err := c.ETH(context.Background())
		suite.ErrorIs(err, types.ErrProvider)
	}
	suite.Equal(int32(6), suite.hits.Load())

	_, err := c.ETH(context.Background())
	suite.ErrorIs(err, types.ErrProvider)
	suite.Contains(err.Error(), retry.ErrCircuitOpen.Error())
	suite.Equal(int32(6), suite.hits.Load())
}

func (suite *ClientTestSuite) TestETH_CircuitRecovers() {
	var healthy atomic.Bool
	suite.handler = func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ethereum":{"usd":2500,"usd_24h_change":0}}`))
	}
	c := suite.newClient(0)
	c.SetCircuitBreaker(retry.NewCircuitBreaker(1, 200*time.Millisecond))

	_, err := c.ETH(context.Background())
	suite.Require().Error(err)
	_, err = c.ETH(context.Background())
	suite.Contains(err.Error(), retry.ErrCircuitOpen.Error())

	healthy.Store(true)
	suite.Eventually(func() bool {
		quote, err := c.ETH(context.Background())
		return err == nil && quote.USD == 2500
	}, 2*time.Second, 20*time.Millisecond)
}
