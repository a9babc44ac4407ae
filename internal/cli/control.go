package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"netcfg/internal/client"
	"netcfg/internal/daemon"
	"netcfg/internal/network"
	"netcfg/internal/state"
)

var (
	// create-network / attach 的配置标志
	configPairs []string
	configJSON  string

	// create-network 标志
	destroyOnStop bool
)

var getConfigCmd = &cobra.Command{
	Use:   "get-config",
	Short: "输出 daemon 的完整配置",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callDaemon(cmd, func(ctx context.Context, c *client.Client) (daemon.Response, error) {
			return c.GetConfig(ctx)
		})
	},
}

var setConfigCmd = &cobra.Command{
	Use:   "set-config FILE",
	Short: "用配置文档整体替换 daemon 的配置",
	Long: `用配置文档整体替换 daemon 的配置（不是合并）。

FILE 为 - 时从标准输入读取。只更新配置和持久化文件，不会立即对运行中的容器应用。

示例:
  netcfg get-config > backup.json
  netcfg set-config backup.json`,
	Args: cobra.ExactArgs(1),
	RunE: setConfig,
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "清空 daemon 的全部网络和容器配置",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callDaemon(cmd, func(ctx context.Context, c *client.Client) (daemon.Response, error) {
			return c.Flush(ctx)
		})
	},
}

var createNetworkCmd = &cobra.Command{
	Use:   "create-network TYPE NAME",
	Short: "创建网络",
	Long: `创建网络。同名网络已存在时原样返回，不做修改。

bridge 网络选项（--config）:
  address=CIDR       bridge 设备的地址，可重复
  masquerade=CIDR    为该子网配置出网 NAT
  mtu=N              veth pair 的 MTU

示例:
  netcfg create-network bridge net0
  netcfg create-network bridge net0 --config address=10.0.0.1/24 --config masquerade=10.0.0.0/24`,
	Args: cobra.ExactArgs(2),
	RunE: createNetwork,
}

var attachCmd = &cobra.Command{
	Use:   "attach CONTAINER NETWORK",
	Short: "将网络附加到容器",
	Long: `将网络附加到容器。容器运行中时立即配置，否则在容器启动时配置。

bridge 附加选项（--config）:
  address=IP[/PREFIX]  容器内接口的地址，可重复
  ifname=NAME          容器内接口名（默认与网络同名）

示例:
  netcfg attach web net0 --config address=10.0.0.2/24
  netcfg attach web net0 --config-json '{"address": ["10.0.0.2/24"], "ifname": "eth1"}'`,
	Args: cobra.ExactArgs(2),
	RunE: attach,
}

var detachCmd = &cobra.Command{
	Use:   "detach CONTAINER NETWORK",
	Short: "将网络从容器上移除",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callDaemon(cmd, func(ctx context.Context, c *client.Client) (daemon.Response, error) {
			return c.Detach(ctx, args[0], args[1])
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{createNetworkCmd, attachCmd} {
		cmd.Flags().StringArrayVar(&configPairs, "config", nil, "配置项 key=value，可重复")
		cmd.Flags().StringVar(&configJSON, "config-json", "", "JSON 格式的完整配置")
	}
	createNetworkCmd.Flags().BoolVar(&destroyOnStop, "destroy-on-stop", false, "容器停止时销毁网络（仅记录）")
}

func setConfig(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	doc, err := state.DecodeDocument(data)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	return callDaemon(cmd, func(ctx context.Context, c *client.Client) (daemon.Response, error) {
		return c.SetConfig(ctx, doc)
	})
}

func createNetwork(cmd *cobra.Command, args []string) error {
	cfg, err := parseConfig(configPairs, configJSON)
	if err != nil {
		return err
	}

	return callDaemon(cmd, func(ctx context.Context, c *client.Client) (daemon.Response, error) {
		return c.CreateNetwork(ctx, args[0], args[1], destroyOnStop, cfg)
	})
}

func attach(cmd *cobra.Command, args []string) error {
	cfg, err := parseConfig(configPairs, configJSON)
	if err != nil {
		return err
	}

	return callDaemon(cmd, func(ctx context.Context, c *client.Client) (daemon.Response, error) {
		return c.Attach(ctx, args[0], args[1], cfg)
	})
}

// callDaemon 调用 daemon 并以 JSON 输出响应，响应包含 error 时返回错误
func callDaemon(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) (daemon.Response, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if options.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.RequestTimeout)
		defer cancel()
	}

	resp, err := fn(ctx, client.New(options.Socket))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if resp.Error != "" {
		return fmt.Errorf("daemon: %s", resp.Error)
	}
	return nil
}

// parseConfig 合并 --config-json 和 --config 指定的配置。
// address 可重复并组成列表；整数值按数字处理，其余按字符串处理。
func parseConfig(pairs []string, raw string) (network.Config, error) {
	var cfg network.Config

	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("invalid --config-json: %w", err)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --config %q: expected key=value", pair)
		}
		if cfg == nil {
			cfg = network.Config{}
		}

		if key == "address" {
			list, _ := cfg[key].([]interface{})
			cfg[key] = append(list, value)
			continue
		}

		if n, err := strconv.Atoi(value); err == nil {
			cfg[key] = n
		} else {
			cfg[key] = value
		}
	}

	return cfg, nil
}
