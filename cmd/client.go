package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"udpbench/affinity"
	"udpbench/client"
	"udpbench/config"
	"udpbench/experiment"
	"udpbench/logging"
	"udpbench/report"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run a benchmark against a server.",
	Long: "`client` runs the configured mode (duration, duration_custom_bitrate, " +
		"packet_count or ping) once, or loops over servers and payload sizes " +
		"when experiment_mode is set. RTT summaries are appended to CSV files " +
		"under results_dir.",
	Args: cobra.NoArgs,
	RunE: runClient,
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.Flags().String("config", "client.yaml", "client config file")
	clientCmd.Flags().String("mode", "", "benchmark mode (overrides speedtest_mode)")
	clientCmd.Flags().String("server", "", "server address (overrides server_addr)")
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClient(configPath(cmd))
	if err != nil {
		return err
	}
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		cfg.Mode = mode
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.ServerAddr = server
		cfg.Experiment.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(pickLevel(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sinks := report.Sinks{report.CSVSink{Dir: cfg.ResultsDir}}
	if cfg.SQLitePath != "" {
		db, err := report.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("close result database", zap.Error(err))
			}
		}()
		sinks = append(sinks, db)
	}

	runner := &experiment.Runner{
		Bench: experiment.EngineBenchmark{Base: client.Engine{
			ClientAddr: cfg.ClientAddr,
			Cores:      affinity.System(),
			Logger:     log,
		}},
		Params: client.Params{
			Mode:         client.ParseMode(cfg.Mode),
			Duration:     cfg.Duration.Duration(),
			PacketCount:  cfg.PacketCount,
			Bitrate:      cfg.Bitrate,
			Scale:        client.ParseBitrateScale(cfg.BitrateScale),
			PingInterval: cfg.PingInterval.Duration(),
		},
		Sink:    sinks,
		RawPath: cfg.RawOutput,
		Logger:  log,
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !cfg.Experiment.Enabled {
		o, err := runner.Single(ctx, experiment.Target{ServerAddr: cfg.ServerAddr, PayloadSize: cfg.PayloadSize})
		if err != nil {
			return err
		}
		printOutcome(cmd, o)
		return nil
	}

	e := cfg.Experiment
	outcomes, err := runner.Experiment(ctx, experiment.Plan{
		Count:        e.Count,
		Interval:     e.Interval.Duration(),
		Servers:      e.Servers,
		PayloadSizes: e.PayloadSizes,
	})
	for _, o := range outcomes {
		printOutcome(cmd, o)
	}
	fmt.Fprintf(out, "%d runs finished\n", len(outcomes))
	return err
}

func printOutcome(cmd *cobra.Command, o experiment.Outcome) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, o.Result.Report(o.ServerAddr))
	if s := o.Summary; s != nil {
		fmt.Fprintf(out, "  rtt us: avg %.2f median %d min %d max %d stddev %.2f p95 %d (%d/%d completed)\n",
			s.Stats.Mean, s.Stats.Median, s.Stats.Min, s.Stats.Max, s.Stats.StdDev, s.Stats.P95,
			s.Completed, s.Samples)
	}
}
