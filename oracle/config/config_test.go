package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/oao-assistant/oracle/types"
)

const (
	testKey      = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testContract = "0x64BF816c3b90861a489A8eDf3FEA277cE1Fa0E82"
)

type ConfigTestSuite struct {
	suite.Suite
	home string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	suite.home = suite.T().TempDir()

	for _, bindings := range []map[string][]string{envBindings, apiKeyEnvs} {
		for _, envs := range bindings {
			for _, env := range envs {
				suite.T().Setenv(env, "")
			}
		}
	}
}

func (suite *ConfigTestSuite) writeConfig(content string) {
	err := os.WriteFile(filepath.Join(suite.home, FileName), []byte(content), 0o600)
	suite.Require().NoError(err)
}

func (suite *ConfigTestSuite) TestLoad_ValidConfig() {
	suite.writeConfig(`
[chain]
endpoint = "https://sepolia.example.org"

[key]
private_key = "` + testKey + `"

[contract]
address = "` + testContract + `"
model_id = 50
gas_limit = 500000

[llm]
provider = "OpenAI"
model = "gpt-4o-mini"
max_tokens = 256
`)

	cfg, err := Load(suite.home)
	suite.Require().NoError(err)

	suite.Equal("https://sepolia.example.org", cfg.Chain.Endpoint)
	suite.Equal(testKey, cfg.Key.PrivateKey)
	suite.Equal(uint64(50), cfg.Contract.ModelID)
	suite.Equal(uint64(500000), cfg.Contract.GasLimit)
	suite.Equal("openai", cfg.LLM.Provider)
	suite.Equal(int64(256), cfg.LLM.MaxTokens)
	suite.Equal(suite.home, cfg.Home())
	suite.Equal(testContract, cfg.ContractAddress().Hex())
}

func (suite *ConfigTestSuite) TestLoad_PartialConfigKeepsDefaults() {
	suite.writeConfig(`
[key]
private_key = "` + testKey + `"

[contract]
address = "` + testContract + `"
`)

	cfg, err := Load(suite.home)
	suite.Require().NoError(err)

	suite.Equal("http://localhost:8545", cfg.Chain.Endpoint)
	suite.Equal(types.DefaultModelID, cfg.Contract.ModelID)
	suite.Equal(uint64(3_000_000), cfg.Contract.GasLimit)
	suite.Equal("anthropic", cfg.LLM.Provider)
	suite.Equal(0.2, cfg.LLM.Temperature)
	suite.Equal(int64(1000), cfg.LLM.MaxTokens)
	suite.Equal(time.Minute, cfg.Price.TTL)
}

func (suite *ConfigTestSuite) TestLoad_CreatesDefaultFile() {
	_, err := Load(suite.home)

	// the default file has no key or contract, so validation fails
	suite.Error(err)
	suite.True(errors.Is(err, types.ErrInvalidConfig))
	suite.FileExists(filepath.Join(suite.home, FileName))
}

func (suite *ConfigTestSuite) TestLoad_EnvOverrides() {
	suite.writeConfig(`
[chain]
endpoint = "http://file:8545"
`)
	suite.T().Setenv("WEB3_PROVIDER_URI", "http://env:8545")
	suite.T().Setenv("WALLET_PRIVATE_KEY", testKey)
	suite.T().Setenv("CONTRACT_ADDRESS", testContract)
	suite.T().Setenv("OAO_MODEL_ID", "13")
	suite.T().Setenv("CLAUDE_API_KEY", "sk-ant-test")

	cfg, err := Load(suite.home)
	suite.Require().NoError(err)

	suite.Equal("http://env:8545", cfg.Chain.Endpoint)
	suite.Equal(testKey, cfg.Key.PrivateKey)
	suite.Equal(uint64(13), cfg.Contract.ModelID)
	suite.Equal("sk-ant-test", cfg.LLM.APIKey)
}

func (suite *ConfigTestSuite) TestLoad_APIKeyFollowsProvider() {
	base := `
[key]
private_key = "` + testKey + `"

[contract]
address = "` + testContract + `"
`
	testCases := []struct {
		name     string
		provider string
		envs     map[string]string
		expKey   string
	}{
		{"openai ignores claude key", "openai", map[string]string{"CLAUDE_API_KEY": "sk-ant-claude", "OPENAI_API_KEY": "sk-openai"}, "sk-openai"},
		{"anthropic ignores openai key", "anthropic", map[string]string{"CLAUDE_API_KEY": "sk-ant-claude", "OPENAI_API_KEY": "sk-openai"}, "sk-ant-claude"},
		{"anthropic alternate name", "Anthropic", map[string]string{"ANTHROPIC_API_KEY": "sk-ant-alt"}, "sk-ant-alt"},
		{"openai without its key keeps file value", "openai", map[string]string{"CLAUDE_API_KEY": "sk-ant-claude"}, "from-file"},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			suite.writeConfig(base + `
[llm]
provider = "` + tc.provider + `"
api_key = "from-file"
`)
			for _, envs := range apiKeyEnvs {
				for _, env := range envs {
					suite.T().Setenv(env, "")
				}
			}
			for k, v := range tc.envs {
				suite.T().Setenv(k, v)
			}

			cfg, err := Load(suite.home)
			suite.Require().NoError(err)
			suite.Equal(tc.expKey, cfg.LLM.APIKey)
		})
	}
}

func (suite *ConfigTestSuite) TestLoad_InvalidModelIDEnv() {
	suite.writeConfig("")
	suite.T().Setenv("OAO_MODEL_ID", "eleven")

	_, err := Load(suite.home)
	suite.Error(err)
	suite.True(errors.Is(err, types.ErrInvalidConfig))
}

func (suite *ConfigTestSuite) TestLoad_InvalidFile() {
	suite.writeConfig(`invalid toml content [[[`)

	_, err := Load(suite.home)
	suite.Error(err)
	suite.Contains(err.Error(), "failed to parse TOML")
}

func (suite *ConfigTestSuite) TestInit_DoesNotOverwrite() {
	suite.writeConfig(`# mine`)

	path, created, err := Init(suite.home)
	suite.Require().NoError(err)
	suite.False(created)

	data, err := os.ReadFile(path)
	suite.Require().NoError(err)
	suite.Equal("# mine", string(data))
}

func (suite *ConfigTestSuite) TestValidate() {
	valid := func() *Config {
		cfg := Default(suite.home)
		cfg.Key.PrivateKey = testKey
		cfg.Contract.Address = testContract
		return cfg
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing endpoint", func(c *Config) { c.Chain.Endpoint = "" }, false},
		{"missing key", func(c *Config) { c.Key.PrivateKey = "" }, false},
		{"missing contract", func(c *Config) { c.Contract.Address = "" }, false},
		{"bad contract", func(c *Config) { c.Contract.Address = "0x1234" }, false},
		{"zero gas limit", func(c *Config) { c.Contract.GasLimit = 0 }, false},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "llama.cpp" }, false},
		{"zero max tokens", func(c *Config) { c.LLM.MaxTokens = 0 }, false},
		{"price without url", func(c *Config) { c.Price.URL = "" }, false},
		{"price disabled without url", func(c *Config) { c.Price.URL = ""; c.Price.Enabled = false }, true},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				suite.NoError(err)
			} else {
				suite.True(errors.Is(err, types.ErrInvalidConfig), "%v", err)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	if got := redact(""); got != "<unset>" {
		t.Fatalf("unexpected redaction %q", got)
	}
	if got := redact("short"); got != "****" {
		t.Fatalf("unexpected redaction %q", got)
	}
	if got := redact(testKey); got != "4c08…2318" {
		t.Fatalf("unexpected redaction %q", got)
	}
}
