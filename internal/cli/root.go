package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"netcfg/internal/config"
	"netcfg/internal/log"
)

var (
	// 版本信息
	Version = "0.1.0"

	// 全局标志
	// optionsPath 是 YAML 选项文件路径，为空时只使用默认值、环境变量和命令行标志
	optionsPath string

	// options 是合并后的运行选项，在子命令执行前解析
	options config.Options
)

var rootCmd = &cobra.Command{
	Use:   "netcfg",
	Short: "容器网络配置 daemon",
	Long: `netcfg 把容器的网络拓扑定义与容器生命周期解耦。

声明网络和容器附加后，daemon 会在容器启动时自动创建并配置：
  - 宿主机上与网络同名的 bridge 设备
  - 连接 bridge 与容器命名空间的 veth pair
  - 容器内接口的地址

控制命令通过 unix socket 与运行中的 daemon 通信。`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	Version:           Version,
	PersistentPreRunE: resolveOptions,
}

// Execute 运行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(getConfigCmd)
	rootCmd.AddCommand(setConfigCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(createNetworkCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(detachCmd)

	rootCmd.PersistentFlags().StringVar(&optionsPath, "options", "", "YAML 选项文件路径")
	config.AddGlobalFlags(rootCmd.PersistentFlags())
}

// resolveOptions 合并选项并配置日志
func resolveOptions(cmd *cobra.Command, args []string) error {
	opts, err := config.Resolve(optionsPath, nil, cmd.Flags())
	if err != nil {
		return err
	}

	if err := log.Configure(opts.LogLevel, opts.LogFormat); err != nil {
		return err
	}

	options = opts
	return nil
}
