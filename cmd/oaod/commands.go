package main

import (
	"context"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/GPTx-global/oao-assistant/oracle/config"
	"github.com/GPTx-global/oao-assistant/oracle/coordinator"
	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/recommend"
	"github.com/GPTx-global/oao-assistant/oracle/retry"
	"github.com/GPTx-global/oao-assistant/oracle/server"
	"github.com/GPTx-global/oao-assistant/oracle/subscribe"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

const (
	flagModel    = "model"
	flagPrompt   = "prompt"
	flagRequest  = "request"
	flagRisk     = "risk"
	flagWait     = "wait"
	flagInterval = "interval"
	flagHealth   = "health-interval"
	flagFrom     = "from-block"
)

func addPromptFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64(flagModel, 0, "oracle model id (default from config)")
	cmd.Flags().String(flagPrompt, "", "exact prompt text; used byte for byte")
	cmd.Flags().String(flagRequest, "", "user request; the prompt is built from it and --risk")
	cmd.Flags().String(flagRisk, string(recommend.Conservative), "risk profile: Conservative, Moderate or Aggressive")
}

// promptFromFlags returns the model id and the exact prompt text to use.
func promptFromFlags(cmd *cobra.Command, cfg *config.Config) (uint64, string, error) {
	modelID, _ := cmd.Flags().GetUint64(flagModel)
	if modelID == 0 {
		modelID = cfg.Contract.ModelID
	}

	prompt, _ := cmd.Flags().GetString(flagPrompt)
	if prompt != "" {
		return modelID, prompt, nil
	}

	request, _ := cmd.Flags().GetString(flagRequest)
	if request == "" {
		return 0, "", errorsmod.Wrap(types.ErrInvalidRequest, "either --prompt or --request is required")
	}

	riskFlag, _ := cmd.Flags().GetString(flagRisk)
	risk, err := recommend.ParseRiskProfile(riskFlag)
	if err != nil {
		return 0, "", err
	}

	return modelID, recommend.OraclePrompt(request, risk), nil
}

// GetRecommendCmd asks the configured LLM for a strategy.
func GetRecommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend [request]",
		Short: "Get a DeFi yield recommendation from the configured LLM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			riskFlag, _ := cmd.Flags().GetString(flagRisk)
			risk, err := recommend.ParseRiskProfile(riskFlag)
			if err != nil {
				return err
			}

			engine, prices, err := newEngine(cfg)
			if err != nil {
				return err
			}
			if prices != nil {
				defer prices.Close()
			}

			rec, err := engine.Recommend(cmd.Context(), args[0], risk)
			if err != nil {
				return err
			}

			return printJSON(cmd, rec)
		},
	}

	cmd.Flags().String(flagRisk, string(recommend.Conservative), "risk profile: Conservative, Moderate or Aggressive")
	return cmd
}

// GetFeeCmd prints the oracle fee for a model.
func GetFeeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Estimate the oracle fee for a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, retry.ReadConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			modelID, _ := cmd.Flags().GetUint64(flagModel)
			if modelID == 0 {
				modelID = cfg.Contract.ModelID
			}

			fee, err := a.proxy.EstimateFee(cmd.Context(), modelID)
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]any{
				"model_id": modelID,
				"fee_wei":  fee.String(),
				"fee_eth":  formatEther(fee),
			})
		},
	}

	cmd.Flags().Uint64(flagModel, 0, "oracle model id (default from config)")
	return cmd
}

// GetSubmitCmd estimates the fee and submits a prompt. It returns once the
// node accepted the transaction unless --wait is given.
func GetSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a prompt to the AI oracle contract",
		Example: `  oaod submit --request "10,000 USDC" --risk Moderate
  oaod submit --prompt "Analyze yield optimization for 10,000 USDC with Moderate risk profile" --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			modelID, prompt, err := promptFromFlags(cmd, cfg)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, retry.ReadConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			c := coordinator.New(a.proxy, modelID, prompt)
			if _, err := c.EstimateFee(cmd.Context()); err != nil {
				return err
			}
			if _, err := c.Submit(cmd.Context()); err != nil {
				return err
			}

			if wait, _ := cmd.Flags().GetBool(flagWait); wait {
				interval, _ := cmd.Flags().GetDuration(flagInterval)
				if err := waitMined(cmd.Context(), c, interval); err != nil {
					return err
				}
			}

			return printJSON(cmd, c.Snapshot())
		},
	}

	addPromptFlags(cmd)
	cmd.Flags().Bool(flagWait, false, "poll until the transaction is mined")
	cmd.Flags().Duration(flagInterval, 5*time.Second, "polling interval for --wait")
	return cmd
}

// waitMined polls the receipt until the request leaves Submitted or ctx ends.
func waitMined(ctx context.Context, c *coordinator.Coordinator, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for c.Snapshot().Status == types.StatusSubmitted {
		if _, err := c.Confirm(ctx); err != nil {
			log.Warnf("receipt read failed, will retry: %v", err)
		}
		if c.Snapshot().Status != types.StatusSubmitted {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if req := c.Snapshot(); req.Status == types.StatusFailed {
		return errorsmod.Wrap(types.ErrSubmission, req.Err)
	}
	return nil
}

// GetResultCmd reads the oracle answer for a prompt.
func GetResultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "result",
		Short: "Read the oracle result for a prompt",
		Long: `Reads getAIResult for the exact prompt text. A prompt that was never submitted
and one the oracle has not answered yet both report "available": false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			modelID, prompt, err := promptFromFlags(cmd, cfg)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, retry.ReadConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			wait, _ := cmd.Flags().GetBool(flagWait)
			interval, _ := cmd.Flags().GetDuration(flagInterval)

			for {
				result, err := a.proxy.GetResult(cmd.Context(), modelID, prompt)
				if err != nil {
					return err
				}
				if result.Available || !wait {
					return printJSON(cmd, result)
				}

				log.Infof("result not available yet, checking again in %v", interval)
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(interval):
				}
			}
		},
	}

	addPromptFlags(cmd)
	cmd.Flags().Bool(flagWait, false, "poll until a result is available")
	cmd.Flags().Duration(flagInterval, 15*time.Second, "polling interval for --wait")
	return cmd
}

// GetReceiptCmd prints the receipt of a submitted transaction.
func GetReceiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt [tx-hash]",
		Short: "Show whether a submitted transaction was mined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			hash, err := hexToHash(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, retry.ReadConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			receipt, err := a.proxy.Receipt(cmd.Context(), hash)
			if err != nil {
				return err
			}
			if receipt == nil {
				return printJSON(cmd, map[string]any{"tx_hash": hash.Hex(), "mined": false})
			}

			return printJSON(cmd, receipt)
		},
	}

	return cmd
}

func hexToHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errorsmod.Wrapf(types.ErrInvalidRequest, "%q is not a transaction hash", s)
	}
	return common.BytesToHash(b), nil
}

// GetStatusCmd runs the health checks once and prints the signer's balance.
func GetStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the RPC node, the contract and the signer account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, retry.ReadConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			statuses := a.healthChecker(time.Minute).Run(cmd.Context())

			balance, err := a.client.BalanceAt(cmd.Context(), a.txm.From(), nil)
			if err != nil {
				return errorsmod.Wrapf(types.ErrChainRead, "balance: %v", err)
			}

			return printJSON(cmd, map[string]any{
				"chain_id":    a.chainID.String(),
				"contract":    cfg.ContractAddress().Hex(),
				"signer":      a.txm.From().Hex(),
				"balance_eth": formatEther(balance),
				"checks":      statuses,
			})
		},
	}

	return cmd
}

// GetWatchCmd streams oracle callbacks for the configured contract.
func GetWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print promptsUpdated events as the oracle answers",
		Long: `Follows the contract's promptsUpdated events and prints one JSON object per
oracle answer until interrupted. By default only blocks mined after start are
scanned; --from-block replays history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, retry.NetworkConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := subscribe.NewWatcher(a.client, a.abi, cfg.ContractAddress())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed(flagFrom) {
				from, _ := cmd.Flags().GetUint64(flagFrom)
				w.From(from)
			}

			interval, _ := cmd.Flags().GetDuration(flagInterval)
			log.Infof("watching %s every %v", cfg.ContractAddress().Hex(), interval)

			for f := range w.Run(cmd.Context(), interval) {
				if err := printJSON(cmd, f); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().Uint64(flagFrom, 0, "first block to scan")
	cmd.Flags().Duration(flagInterval, 15*time.Second, "polling interval")
	return cmd
}

// GetServeCmd runs the HTTP API until interrupted.
func GetServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the recommendation and oracle request API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Print()

			sink, err := initMetrics()
			if err != nil {
				return fmt.Errorf("failed to init metrics: %w", err)
			}

			a, err := newApp(cmd.Context(), cfg, retry.NetworkConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			engine, prices, err := newEngine(cfg)
			if err != nil {
				return err
			}
			if prices != nil {
				defer prices.Close()
			}

			interval, _ := cmd.Flags().GetDuration(flagHealth)
			checker := a.healthChecker(interval)
			go checker.Start(cmd.Context())

			s := server.New(cfg.Server, server.Deps{
				Oracle:  a.proxy,
				Engine:  engine,
				Health:  checker,
				Metrics: sink,
				ModelID: cfg.Contract.ModelID,
			})

			return s.Run(cmd.Context())
		},
	}

	cmd.Flags().Duration(flagHealth, 30*time.Second, "interval between background health checks")
	return cmd
}

// GetConfigCmd groups config helpers.
func GetConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write a default config.toml unless one exists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				home, _ := cmd.Flags().GetString(flagHome)
				path, created, err := config.Init(home)
				if err != nil {
					return err
				}

				if created {
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Validate the configuration and log it with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}

				cfg.Print()
				return nil
			},
		},
	)

	return cmd
}
