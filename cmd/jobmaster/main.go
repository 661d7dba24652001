// Command jobmaster is the elastic job master's composition root: it wires
// a Kubernetes client, scheduler, watcher, optimizer and event reporter
// into a jobmanager.Manager and runs it until an OS signal or the job's
// own exit condition asks it to stop. Structurally grounded on the
// teacher's cmd/controller/main.go (Config-from-flags, buildKubeConfig,
// setupSignalHandler, a run loop over a ticker), with flag parsing
// substituted for cobra+viper per the pack's cuemby-warren/cmd/warren and
// chenpu17-k8s_monitor/internal/app conventions.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/elasticjob/master/pkg/hangdetect"
	"github.com/elasticjob/master/pkg/jobevents"
	"github.com/elasticjob/master/pkg/jobmanager"
	"github.com/elasticjob/master/pkg/logging"
	"github.com/elasticjob/master/pkg/metrics"
	"github.com/elasticjob/master/pkg/node"
	"github.com/elasticjob/master/pkg/optimizer"
	"github.com/elasticjob/master/pkg/pipeline"
	"github.com/elasticjob/master/pkg/scheduler"
	"github.com/elasticjob/master/pkg/watcher"
)

var (
	// Version information, set via ldflags during build.
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "jobmaster",
		Short:   "Elastic job master: manages one distributed training job's node lifecycle",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().String("config", "", "path to a YAML/JSON config file (flags and env override it)")
	if err := bindFlags(cmd, v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func run(ctx context.Context, cfg *Config) error {
	logger, err := logging.NewLogger(cfg.LogLevel == "debug")
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	k8sConfig, err := buildKubeConfig(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("building kubeconfig: %w", err)
	}
	client, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return fmt.Errorf("creating kubernetes client: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	metricsSrv := startMetricsServer(cfg.MetricsAddr, registry, logger)
	defer metricsSrv.Shutdown(context.Background())

	sched := scheduler.NewK8sScheduler(client, scheduler.Config{
		Namespace:   cfg.Namespace,
		JobName:     cfg.JobName,
		JobUID:      cfg.JobUID,
		Port:        cfg.Port,
		HostPorts:   cfg.HostPorts,
		PodTemplate: newPodTemplate(cfg.Image, cfg.commandArgs()),
	}, logger)

	nodeWatcher := watcher.NewKubernetesWatcher(client, cfg.Namespace, cfg.JobName)
	reporter := jobevents.NewK8sReporter(client, cfg.Namespace, cfg.JobName, "jobmaster")

	baseline := map[node.Type]node.GroupResource{
		node.TypeWorker: {Count: cfg.WorkerCount, Resource: node.ResourceSpec{CPU: cfg.WorkerCPU, MemoryMB: cfg.WorkerMemMB}},
	}
	requiredInfo := map[node.Type]hangdetect.RequiredInfo{
		node.TypeWorker: {Min: cfg.WorkerMin, Max: cfg.WorkerMax, TimeoutMinutes: int32(cfg.WorkerHangTimeoutMin)},
	}
	if cfg.PSCount > 0 {
		baseline[node.TypePS] = node.GroupResource{Count: cfg.PSCount, Resource: node.ResourceSpec{CPU: cfg.PSCPU, MemoryMB: cfg.PSMemMB}}
	}

	manager := jobmanager.New(jobmanager.Config{
		JobName: cfg.JobName,
		JobConfig: node.JobConfig{
			Strategy:                  node.DistributionStrategy(cfg.Strategy),
			RelaunchAlways:            cfg.RelaunchAlways,
			MaxMemoryMB:               cfg.MaxMemoryMB,
			PendingFailStrategy:       cfg.PendingFailStrategy,
			InsufficientWorkerTimeout: cfg.InsufficientTimeout,
		},
		RequiredInfo:        requiredInfo,
		HangCPUUsagePercent: cfg.HangCPUUsagePercent,
		PipelineConfig:      pipeline.Config{JobName: cfg.JobName},
	}, nodeWatcher, sched, optimizer.NewDefaultOptimizer(baseline), reporter, logger)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(runCtx); err != nil {
		return fmt.Errorf("starting job manager: %w", err)
	}
	logger.Info("job master running", zap.String("job_name", cfg.JobName), zap.String("strategy", cfg.Strategy))

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			logger.Info("shutdown signal received, stopping job master")
			manager.Stop()
			return nil
		case <-ticker.C:
			if manager.ShouldEarlyStop().Stop {
				logger.Info("early-stop condition met, closing job")
				if err := manager.CloseJob(context.Background()); err != nil {
					logger.Warn("close job", zap.Error(err))
				}
				return nil
			}
		}
	}
}

// buildKubeConfig returns an out-of-cluster config when kubeconfig names a
// file, and falls back to in-cluster config otherwise.
func buildKubeConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("in-cluster config: %w", err)
	}
	return cfg, nil
}

func startMetricsServer(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}
