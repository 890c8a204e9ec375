package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

const FileName = "config.toml"

var providers = []string{"anthropic", "openai"}

// Config is built once at start-up and passed to every component that needs it.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Key      KeyConfig      `toml:"key"`
	Contract ContractConfig `toml:"contract"`
	LLM      LLMConfig      `toml:"llm"`
	Price    PriceConfig    `toml:"price"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`

	home string
}

type ChainConfig struct {
	Endpoint string `toml:"endpoint"`
}

type KeyConfig struct {
	PrivateKey string `toml:"private_key"`
}

type ContractConfig struct {
	Address  string `toml:"address"`
	ABIPath  string `toml:"abi_path"`
	ModelID  uint64 `toml:"model_id"`
	GasLimit uint64 `toml:"gas_limit"`
}

type LLMConfig struct {
	Provider    string  `toml:"provider"`
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	System      string  `toml:"system"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int64   `toml:"max_tokens"`
}

type PriceConfig struct {
	Enabled bool          `toml:"enabled"`
	URL     string        `toml:"url"`
	TTL     time.Duration `toml:"ttl"`
	Timeout time.Duration `toml:"timeout"`
}

type ServerConfig struct {
	Listen         string   `toml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  bool   `toml:"file"`
}

// envBindings maps config keys onto the environment variables that override them.
var envBindings = map[string][]string{
	"chain.endpoint":    {"WEB3_PROVIDER_URI"},
	"key.private_key":   {"WALLET_PRIVATE_KEY"},
	"contract.address":  {"CONTRACT_ADDRESS"},
	"contract.model_id": {"OAO_MODEL_ID"},
	"llm.provider":      {"OAO_LLM_PROVIDER"},
	"log.level":         {"OAO_LOG_LEVEL"},
}

// apiKeyEnvs lists, per provider, the variables that may carry its API key.
// llm.api_key is bound only after the provider is known.
var apiKeyEnvs = map[string][]string{
	"anthropic": {"CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
}

func Default(home string) *Config {
	return &Config{
		Chain: ChainConfig{
			Endpoint: "http://localhost:8545",
		},
		Contract: ContractConfig{
			ModelID:  types.DefaultModelID,
			GasLimit: 3_000_000,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-3-5-sonnet-20240620",
			System:      "You are an expert in DeFi protocols and yield optimization strategies.",
			Temperature: 0.2,
			MaxTokens:   1000,
		},
		Price: PriceConfig{
			Enabled: true,
			URL:     "https://api.coingecko.com/api/v3",
			TTL:     time.Minute,
			Timeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8080",
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level: "info",
		},
		home: home,
	}
}

// DefaultHome is ~/.oaod.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".oaod"
	}

	return filepath.Join(home, ".oaod")
}

// Load reads <home>/config.toml, creating it with defaults on first run, then
// applies .env and environment overrides and validates the result.
func Load(home string) (*Config, error) {
	if home == "" {
		home = DefaultHome()
	}
	path := filepath.Join(home, FileName)

	if _, created, err := Init(home); err != nil {
		return nil, fmt.Errorf("failed to create default config: %w", err)
	} else if created {
		log.Infof("Created default config at %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default(home)
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Infof("Loaded config from %s", path)
	return cfg, nil
}

// Init writes a default config file under home unless one exists and returns its path.
func Init(home string) (string, bool, error) {
	if home == "" {
		home = DefaultHome()
	}
	path := filepath.Join(home, FileName)

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}

	if err := createDefaultConfig(path, home); err != nil {
		return "", false, err
	}

	return path, true, nil
}

func createDefaultConfig(path, home string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := toml.Marshal(Default(home))
	if err != nil {
		return fmt.Errorf("failed to marshal TOML: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	v := viper.New()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if v.IsSet("chain.endpoint") {
		c.Chain.Endpoint = v.GetString("chain.endpoint")
	}
	if v.IsSet("key.private_key") {
		c.Key.PrivateKey = v.GetString("key.private_key")
	}
	if v.IsSet("contract.address") {
		c.Contract.Address = v.GetString("contract.address")
	}
	if v.IsSet("contract.model_id") {
		id, err := cast.ToUint64E(v.Get("contract.model_id"))
		if err != nil {
			return errorsmod.Wrapf(types.ErrInvalidConfig, "model id: %v", err)
		}
		c.Contract.ModelID = id
	}
	if v.IsSet("llm.provider") {
		c.LLM.Provider = v.GetString("llm.provider")
	}
	provider := strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if provider == "" {
		provider = "anthropic"
	}
	if envs, ok := apiKeyEnvs[provider]; ok {
		if err := v.BindEnv(append([]string{"llm.api_key"}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind env for llm.api_key: %w", err)
		}
		if v.IsSet("llm.api_key") {
			c.LLM.APIKey = v.GetString("llm.api_key")
		}
	}
	if v.IsSet("log.level") {
		c.Log.Level = v.GetString("log.level")
	}

	return nil
}

// Validate checks the three required chain values and the ranges the rest of
// the program relies on.
func (c *Config) Validate() error {
	if c.Chain.Endpoint == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "chain endpoint is required")
	}

	if c.Key.PrivateKey == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "private key is required")
	}

	if c.Contract.Address == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "contract address is required")
	}

	if !common.IsHexAddress(c.Contract.Address) {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "contract address %q is not a hex address", c.Contract.Address)
	}

	if c.Contract.GasLimit == 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "gas limit is required")
	}

	provider := strings.ToLower(c.LLM.Provider)
	if !slices.Contains(providers, provider) {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "unknown llm provider %q", c.LLM.Provider)
	}
	c.LLM.Provider = provider

	if c.LLM.MaxTokens <= 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "llm max tokens must be positive")
	}

	if c.Price.Enabled && c.Price.URL == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "price url is required when the price feed is enabled")
	}

	return nil
}

func (c *Config) Home() string {
	return c.home
}

func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract.Address)
}

// Print logs the effective configuration. Secrets are redacted.
func (c *Config) Print() {
	log.Infof("%-16s: %s", "Home", c.home)
	log.Infof("%-16s: %s", "Chain Endpoint", c.Chain.Endpoint)
	log.Infof("%-16s: %s", "Private Key", redact(c.Key.PrivateKey))
	log.Infof("%-16s: %s", "Contract", c.Contract.Address)
	log.Infof("%-16s: %d", "Model ID", c.Contract.ModelID)
	log.Infof("%-16s: %d", "Gas Limit", c.Contract.GasLimit)
	log.Infof("%-16s: %s/%s", "LLM", c.LLM.Provider, c.LLM.Model)
	log.Infof("%-16s: %s", "LLM API Key", redact(c.LLM.APIKey))
	log.Infof("%-16s: %t", "Price Feed", c.Price.Enabled)
	log.Infof("%-16s: %s", "Listen", c.Server.Listen)
}

func redact(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	if len(secret) <= 8 {
		return "****"
	}

	return secret[:4] + "…" + secret[len(secret)-4:]
}

// SetHomeForTesting lets tests build a Config without touching the filesystem.
func (c *Config) SetHomeForTesting(home string) {
	c.home = home
}
