package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"udpbench/affinity"
	"udpbench/config"
	"udpbench/logging"
	"udpbench/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Echo benchmark frames, optionally impaired.",
	Long: "`server` answers every request with a response carrying the same " +
		"session id and payload. qos_profile selects default, loss, jitter, " +
		"delay, duplicate or reorder.",
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().String("config", "server.yaml", "server config file")
	serverCmd.Flags().String("profile", "", "impairment profile (overrides server.qos_profile)")
	serverCmd.Flags().String("metrics", "", "address for the Prometheus endpoint (overrides server.metrics_addr)")
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer(configPath(cmd))
	if err != nil {
		return err
	}
	if p, _ := cmd.Flags().GetString("profile"); p != "" {
		cfg.Server.QoSProfile = p
	}
	if m, _ := cmd.Flags().GetString("metrics"); m != "" {
		cfg.Server.MetricsAddr = m
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(pickLevel(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	g, ctx := errgroup.WithContext(cmd.Context())

	var metrics *server.Metrics
	if addr := cfg.Server.MetricsAddr; addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = server.NewMetrics(reg); err != nil {
			return err
		}
		g.Go(func() error { return server.ServeMetrics(ctx, addr, reg, log) })
	}

	srv, err := server.Listen(cfg.Server.Address, server.Options{
		Policy:  cfg.Policy(),
		Workers: cfg.Server.Workers,
		Cores:   affinity.System(),
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	log.Info("impairment profile", zap.String("profile", cfg.Server.QoSProfile), zap.Any("config", cfg.Profile))

	g.Go(func() error { return srv.Serve(ctx) })
	return g.Wait()
}
