//go:build linux
// +build linux

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"netcfg/internal/config"
	"netcfg/internal/daemon"
	"netcfg/internal/engine"
	"netcfg/internal/log"
	"netcfg/internal/metrics"
	"netcfg/internal/network"
	"netcfg/internal/state"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon [OPTIONS]",
	Short: "运行 netcfg daemon",
	Long: `运行 netcfg daemon。

daemon 启动时加载持久化配置（不存在时写入空配置），对所有运行中的容器应用网络配置，
然后同时处理控制请求和容器启停事件。需要 root 权限。

示例:
  netcfg daemon
  netcfg daemon --options /etc/netcfg/netcfg.yaml
  NETCFG_ROOT=/tmp/netcfg netcfg daemon --metrics-addr 127.0.0.1:9323`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	config.AddFlags(daemonCmd.Flags())
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if unix.Geteuid() != 0 {
		return fmt.Errorf("netcfg daemon must be run as root")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 同一配置目录只允许一个 daemon
	lock, err := state.TryAcquireLock(options.ConfigDir())
	if err != nil {
		return err
	}
	defer lock.Release()

	runtime, err := engine.NewDocker(options.DockerHost)
	if err != nil {
		return err
	}
	defer runtime.Close()

	exec, err := network.NewNetlinkExecutor()
	if err != nil {
		return err
	}

	factory := network.NewFactory(network.Env{
		Executor:     exec,
		NamespaceDir: options.NetnsDir,
		ProcRoot:     options.ProcRoot,
		MTU:          options.VethMTU,
	})

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	listener, err := daemon.Listen(options.Socket, options.MaxConnections)
	if err != nil {
		return err
	}

	d := daemon.New(daemon.Config{
		Store:          state.NewStore(factory, runtime),
		Persister:      state.NewPersister(options.ConfigPath),
		Runtime:        runtime,
		Listener:       listener,
		EventBackoff:   options.EventBackoff,
		RequestTimeout: options.RequestTimeout,
		WatchConfig:    options.WatchConfig,
		MetricsAddr:    options.MetricsAddr,
		Gatherer:       reg,
	})

	log.G(ctx).WithFields(logrus.Fields{
		"pid":    os.Getpid(),
		"config": options.ConfigPath,
		"lock":   lock.Path(),
	}).Info("starting netcfg daemon")
	return d.Run(ctx)
}
