package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/elasticjob/master/pkg/node"
)

// Config carries every setting the job master needs to construct its
// Kubernetes client, scheduler, watcher and JobManager. Bound from cobra
// flags through viper so the same keys can be supplied via
// ELASTICJOB_MASTER_-prefixed environment variables or a config file,
// mirroring the chenpu17 k8s-monitor app.LoadConfig nested-key convention.
type Config struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	Namespace  string `mapstructure:"namespace"`
	JobName    string `mapstructure:"job_name"`
	JobUID     string `mapstructure:"job_uid"`

	Strategy            string        `mapstructure:"strategy"`
	RelaunchAlways      bool          `mapstructure:"relaunch_always"`
	MaxMemoryMB         int64         `mapstructure:"max_memory_mb"`
	PendingFailStrategy int           `mapstructure:"pending_fail_strategy"`
	InsufficientTimeout time.Duration `mapstructure:"insufficient_worker_timeout"`
	HangCPUUsagePercent float64       `mapstructure:"hang_cpu_usage_percent"`

	WorkerCount int32   `mapstructure:"worker_count"`
	WorkerCPU   float64 `mapstructure:"worker_cpu"`
	WorkerMemMB int64   `mapstructure:"worker_memory_mb"`
	PSCount     int32   `mapstructure:"ps_count"`
	PSCPU       float64 `mapstructure:"ps_cpu"`
	PSMemMB     int64   `mapstructure:"ps_memory_mb"`

	WorkerMin            int32 `mapstructure:"worker_min"`
	WorkerMax            int32 `mapstructure:"worker_max"`
	WorkerHangTimeoutMin int   `mapstructure:"worker_hang_timeout_minutes"`

	Image   string `mapstructure:"image"`
	Command string `mapstructure:"command"`

	Port      int32  `mapstructure:"port"`
	HostPorts string `mapstructure:"host_ports"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

// bindFlags registers every Config field as a persistent flag on cmd and
// binds it through viper, so ELASTICJOB_MASTER_JOB_NAME etc. override the
// flag default without callers needing to pass it explicitly.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()

	flags.String("kubeconfig", "", "path to kubeconfig file (empty uses in-cluster config)")
	flags.String("namespace", "default", "namespace the job's pods run in")
	flags.String("job-name", "", "elastic job name (required)")
	flags.String("job-uid", "", "elastic job UID, used for owner references")

	flags.String("strategy", string(node.StrategyAllReduce), "distribution strategy: allreduce or parameter_server")
	flags.Bool("relaunch-always", false, "permit relaunch of a fatal_error exit that would otherwise be denied")
	flags.Int64("max-memory-mb", 0, "ceiling an OOM-recovered node's bumped memory request may not reach (0 disables the ceiling)")
	flags.Int("pending-fail-strategy", 1, "pending-hang rule: 1 relaxed for allreduce, 2 uniform deficit check")
	flags.Duration("insufficient-worker-timeout", 0, "how long running worker count may stay below the required minimum before an allreduce job is declared unrecoverable (0 disables)")
	flags.Float64("hang-cpu-usage-percent", 0, "CPU usage fraction below which a running node is considered potentially hung (0 disables CPU-hang bookkeeping)")

	flags.Int32("worker-count", 1, "initial worker replica count")
	flags.Float64("worker-cpu", 1, "CPU request per worker")
	flags.Int64("worker-memory-mb", 1024, "memory request per worker, in MiB")
	flags.Int32("ps-count", 0, "initial parameter-server replica count")
	flags.Float64("ps-cpu", 1, "CPU request per parameter server")
	flags.Int64("ps-memory-mb", 1024, "memory request per parameter server, in MiB")

	flags.Int32("worker-min", 1, "minimum running worker count the hang detector requires")
	flags.Int32("worker-max", 0, "maximum running worker count the hang detector expects (0 uses worker-count)")
	flags.Int("worker-hang-timeout-minutes", 0, "minutes a worker may stay pending before it counts as hung (0 disables)")

	flags.String("image", "", "container image launched for every node (required)")
	flags.String("command", "", "comma-separated container command and arguments")

	flags.Int32("port", 2222, "service port rendered into TF_CONFIG addresses")
	flags.String("host-ports", "", "HOST_PORTS env value, verbatim")

	flags.String("metrics-addr", ":9090", "address the Prometheus /metrics endpoint listens on")
	flags.String("log-level", "info", "log level: debug or info")

	// Flags are hyphenated but Config's mapstructure tags use underscores,
	// so each flag is bound under its underscored key.
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return fmt.Errorf("binding flags: %w", bindErr)
	}
	return nil
}

func loadConfig(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("elasticjob_master")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.JobName == "" {
		return nil, fmt.Errorf("job-name is required")
	}
	if cfg.Image == "" {
		return nil, fmt.Errorf("image is required")
	}
	if cfg.WorkerMax <= 0 {
		cfg.WorkerMax = cfg.WorkerCount
	}
	return cfg, nil
}

func (c *Config) commandArgs() []string {
	if c.Command == "" {
		return nil
	}
	parts := strings.Split(c.Command, ",")
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			args = append(args, p)
		}
	}
	return args
}
