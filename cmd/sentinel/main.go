package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TreasurySentinel/internal/allocator"
	"TreasurySentinel/internal/channel"
	"TreasurySentinel/internal/config"
	"TreasurySentinel/internal/scheduler"
	"TreasurySentinel/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "TreasurySentinel - DAO treasury risk monitor and rebalance planner",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	defaultPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultPath, "configuration file path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newAnalyzeCmd(flags))
	root.AddCommand(newRelayCmd(flags))
	return root
}

// loadConfig logs to the command's stderr so stdout stays machine readable.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	log := logger.NewWithWriter(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}, cmd.ErrOrStderr())
	logger.SetGlobalLogger(log)
	return cfg, log, nil
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon: scheduled analysis, Telegram reports and commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := cfg.ValidateTelegram(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			log.Info().Str("transport", cfg.Transport.Kind).Msg("TreasurySentinel starting")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := build(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.sched.Register(cfg.Schedule.AnalysisCron); err != nil {
				return err
			}
			app.sched.Start()
			defer app.sched.Stop()

			go app.telegram.StartPolling(ctx, app.sched.HandleCommand)
			log.Info().Msg("telegram polling started")

			if runNow || os.Getenv("RUN_ON_START") == "true" {
				log.Info().Msg("running analysis on start")
				go func() {
					if _, err := app.sched.RunCycle(ctx, scheduler.SourceCron); err != nil {
						log.Error().Err(err).Msg("analysis on start")
					}
				}()
			}

			log.Info().Msg("TreasurySentinel is running. Press Ctrl+C to stop.")
			<-ctx.Done()
			log.Info().Msg("shutdown signal received, stopping")
			return nil
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run one analysis immediately after start")
	return cmd
}

func newAnalyzeCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis cycle and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := build(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer app.close()

			res, err := app.sched.RunCycle(ctx, scheduler.SourceCLI)
			if res == nil {
				return err
			}

			out := cmd.OutOrStdout()
			m := res.Assessment.Metrics
			if asJSON {
				var doc interface{} = res.Assessment
				if res.Proposal != nil {
					doc = allocator.BuildProposal(res.Proposal.Actions, m, cfg.Policy, time.Now())
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(doc); encErr != nil {
					return encErr
				}
				return err
			}

			fmt.Fprintf(out, "TVL: %s\n", allocator.FormatUSD(m.TVL))
			fmt.Fprintf(out, "Stables Ratio: %.1f%%\n", m.StablesRatio*100)
			fmt.Fprintf(out, "Concentration Risk: %.1f%%\n", m.ConcentrationRisk*100)
			fmt.Fprintf(out, "Runway: %s\n", allocator.FormatRunway(m.Runway))
			fmt.Fprintf(out, "Risk Score: %.1f/100\n", m.RiskScore*100)
			fmt.Fprintf(out, "Breached: %v\n\n", res.Assessment.Breached)
			if res.Proposal != nil {
				fmt.Fprint(out, res.Proposal.Proposal)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the proposal document (or the assessment) as JSON")
	return cmd
}

func newRelayCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the WebSocket relay agents connect to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Transport.ListenAddr
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return channel.NewRelay(cfg.Transport.RelayBacklog, log).Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to transport.listen_addr)")
	return cmd
}
