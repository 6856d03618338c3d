package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/utopia-dart/utopia-loadbalancer/internal/cluster"
	"github.com/utopia-dart/utopia-loadbalancer/internal/config"
	"github.com/utopia-dart/utopia-loadbalancer/internal/metrics"
	"github.com/utopia-dart/utopia-loadbalancer/internal/proxy"
)

var (
	flagConfig      string
	flagProcesses   int
	flagBasePort    int
	flagProxy       bool
	flagProxyPort   int
	flagStrategy    string
	flagMode        string
	flagMetricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "scaler",
	Short: "Multi-process scaling toolkit for HTTP services",
	Long: `scaler supervises a fixed pool of worker server processes bound to
adjacent TCP ports and optionally fronts them with a reverse proxy that
distributes traffic by round-robin, least-connections or random
selection.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Supervise a worker cluster, optionally fronted by the proxy",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagConfig, "config", "", "YAML config file")
	serveCmd.Flags().IntVar(&flagProcesses, "processes", 0, "number of worker processes (default: CPU count)")
	serveCmd.Flags().IntVar(&flagBasePort, "base-port", 0, "port of worker 0; worker i binds base-port+i")
	serveCmd.Flags().BoolVar(&flagProxy, "proxy", false, "front the workers with the reverse proxy")
	serveCmd.Flags().IntVar(&flagProxyPort, "proxy-port", 0, "proxy listen port")
	serveCmd.Flags().StringVar(&flagStrategy, "strategy", "", "selection strategy: roundrobin, leastconnections or random")
	serveCmd.Flags().StringVar(&flagMode, "mode", "", "cluster or single")
	serveCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "standalone /metrics listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	// Flags override file and environment values.
	if cmd.Flags().Changed("processes") {
		cfg.Processes = flagProcesses
	}
	if cmd.Flags().Changed("base-port") {
		cfg.BasePort = flagBasePort
	}
	if cmd.Flags().Changed("proxy") {
		cfg.EnableProxy = flagProxy
	}
	if cmd.Flags().Changed("proxy-port") {
		cfg.ProxyPort = flagProxyPort
	}
	if cmd.Flags().Changed("strategy") {
		s, err := config.ParseStrategy(flagStrategy)
		if err != nil {
			return err
		}
		cfg.Strategy = s
	}
	if cmd.Flags().Changed("mode") {
		cfg.Mode = config.Mode(flagMode)
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = flagMetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Mode == config.ModeSingle {
		log.Printf("scaler: single mode, serving in-process on port %d", cfg.BasePort)
		runWorkerAt(0, cfg.BasePort, cfg.ComputeExecutors)
		return nil
	}

	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.MetricsAddr)
		log.Printf("scaler: metrics listening on %s", cfg.MetricsAddr)
	}

	sup := cluster.NewSupervisor(cfg, os.Args[1:])
	if err := sup.Start(); err != nil {
		log.Fatalf("scaler: %v", err)
	}

	if cfg.EnableProxy {
		px := proxy.New(cfg, sup.Roster())
		go func() {
			if err := px.Start(); err != nil {
				log.Printf("proxy: %v", err)
			}
		}()
	} else {
		for _, u := range sup.WorkerURLs() {
			log.Printf("scaler: worker available at %s", u)
		}
	}

	sup.Wait()
	os.Exit(0)
	return nil
}
