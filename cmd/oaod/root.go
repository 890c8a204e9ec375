package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GPTx-global/oao-assistant/oracle/config"
	"github.com/GPTx-global/oao-assistant/oracle/log"
)

const (
	flagHome     = "home"
	flagLogLevel = "log-level"
)

// NewRootCmd returns the oaod command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oaod",
		Short: "DeFi yield assistant backed by an LLM and the OAO on-chain AI oracle",
		Long: `oaod asks a language model for DeFi yield strategies and submits prompts to
the OAO Prompt contract, then polls the contract for the oracle's answer.

Configuration is read from <home>/config.toml. WEB3_PROVIDER_URI, WALLET_PRIVATE_KEY,
CONTRACT_ADDRESS, CLAUDE_API_KEY and OPENAI_API_KEY override the file, and a .env file
in the working directory is loaded first.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String(flagHome, config.DefaultHome(), "directory holding config.toml and logs")
	cmd.PersistentFlags().String(flagLogLevel, "", "override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(
		GetRecommendCmd(),
		GetFeeCmd(),
		GetSubmitCmd(),
		GetResultCmd(),
		GetReceiptCmd(),
		GetStatusCmd(),
		GetWatchCmd(),
		GetServeCmd(),
		GetConfigCmd(),
	)

	return cmd
}

// loadConfig reads the config selected by --home and applies the logging
// settings it carries.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	home, err := cmd.Flags().GetString(flagHome)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if override, _ := cmd.Flags().GetString(flagLogLevel); override != "" {
		level = override
	}
	if err := log.SetLevel(level); err != nil {
		return nil, err
	}
	if cfg.Log.File {
		log.ResetLogger(cfg.Home())
	}

	return cfg, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
