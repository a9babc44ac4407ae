// Package config 解析 netcfg daemon 的运行选项。
//
// 选项按以下优先级逐层覆盖：内置默认值 < YAML 选项文件 < 环境变量 < 命令行标志。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"netcfg/pkg/envutil"
)

// 默认值
const (
	DefaultSocket         = "/var/run/netcfg.sock"
	DefaultDockerHost     = "unix:///var/run/docker.sock"
	DefaultConfigPath     = "/var/lib/netcfg/config.json"
	DefaultNetnsDir       = "/var/run/netns"
	DefaultProcRoot       = "/proc"
	DefaultEventBackoff   = time.Second
	DefaultVethMTU        = 1500
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultMaxConnections = 1
	DefaultRequestTimeout = 30 * time.Second
)

// 命令行标志名
const (
	FlagSocket         = "socket"
	FlagDockerHost     = "docker-host"
	FlagConfigPath     = "config-path"
	FlagNetnsDir       = "netns-dir"
	FlagProcRoot       = "proc-root"
	FlagEventBackoff   = "event-backoff"
	FlagVethMTU        = "veth-mtu"
	FlagLogLevel       = "log-level"
	FlagLogFormat      = "log-format"
	FlagMetricsAddr    = "metrics-addr"
	FlagWatchConfig    = "watch-config"
	FlagMaxConnections = "max-connections"
	FlagRequestTimeout = "request-timeout"
)

// Options 是 daemon 的全部运行选项
type Options struct {
	// Socket 是控制接口的 unix socket 路径
	Socket string `yaml:"socket"`

	// DockerHost 是容器运行时（Docker Engine）地址
	DockerHost string `yaml:"docker_host"`

	// ConfigPath 是持久化配置文档路径，所在目录同时存放 daemon 锁文件
	ConfigPath string `yaml:"config_path"`

	// NetnsDir 是命名空间记账符号链接目录
	NetnsDir string `yaml:"netns_dir"`

	// ProcRoot 是 proc 文件系统挂载点
	ProcRoot string `yaml:"proc_root"`

	// EventBackoff 是事件流断开后重新订阅前的固定等待时间
	EventBackoff time.Duration `yaml:"event_backoff"`

	// VethMTU 是 veth pair 的默认 MTU
	VethMTU int `yaml:"veth_mtu"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// MetricsAddr 是 /metrics HTTP 监听地址，为空表示不启用
	MetricsAddr string `yaml:"metrics_addr"`

	// WatchConfig 启用后，配置文件被外部修改时自动重新加载
	WatchConfig bool `yaml:"watch_config"`

	// MaxConnections 是同时接受的控制连接数
	MaxConnections int `yaml:"max_connections"`

	// RequestTimeout 是控制连接的空闲读超时
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default 返回内置默认选项
func Default() Options {
	return Options{
		Socket:         DefaultSocket,
		DockerHost:     DefaultDockerHost,
		ConfigPath:     DefaultConfigPath,
		NetnsDir:       DefaultNetnsDir,
		ProcRoot:       DefaultProcRoot,
		EventBackoff:   DefaultEventBackoff,
		VethMTU:        DefaultVethMTU,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
		MaxConnections: DefaultMaxConnections,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// ConfigDir 返回配置文档所在目录
func (o Options) ConfigDir() string {
	return filepath.Dir(o.ConfigPath)
}

// LoadFile 读取 YAML 选项文件并覆盖到 o 上，文件中未出现的字段保持不变。
// 未知字段视为错误。
func (o *Options) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read options file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil {
		// 空文件
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse options file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv 用环境变量覆盖选项。
// NETCFG_ROOT 把配置文档和命名空间目录一起迁移到指定根目录下。
func (o *Options) ApplyEnv(getenv envutil.Getenv) {
	if root, ok := envutil.Lookup(getenv, envutil.RootEnvVar); ok {
		o.ConfigPath = filepath.Join(root, "config.json")
		o.NetnsDir = filepath.Join(root, "netns")
	}
	if socket, ok := envutil.Lookup(getenv, envutil.SocketEnvVar); ok {
		o.Socket = socket
	}
	if host, ok := envutil.Lookup(getenv, envutil.DockerHostEnvVar); ok {
		o.DockerHost = host
	}
}

// AddFlags 注册 daemon 选项对应的命令行标志，默认值取自 Default
func AddFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String(FlagDockerHost, d.DockerHost, "容器运行时地址（默认: $DOCKER_HOST 或 "+d.DockerHost+"）")
	fs.String(FlagConfigPath, d.ConfigPath, "持久化配置文档路径（默认: $NETCFG_ROOT/config.json）")
	fs.String(FlagNetnsDir, d.NetnsDir, "命名空间记账目录（默认: $NETCFG_ROOT/netns）")
	fs.String(FlagProcRoot, d.ProcRoot, "proc 文件系统挂载点")
	fs.Duration(FlagEventBackoff, d.EventBackoff, "事件流断开后的重试间隔")
	fs.Int(FlagVethMTU, d.VethMTU, "veth pair 的默认 MTU")
	fs.String(FlagMetricsAddr, d.MetricsAddr, "Prometheus 指标监听地址，为空则不启用")
	fs.Bool(FlagWatchConfig, d.WatchConfig, "配置文件被外部修改时自动重新加载")
	fs.Int(FlagMaxConnections, d.MaxConnections, "同时接受的控制连接数")
	fs.Duration(FlagRequestTimeout, d.RequestTimeout, "控制连接的空闲读超时")
}

// AddGlobalFlags 注册 daemon 和客户端命令共用的标志
func AddGlobalFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String(FlagSocket, d.Socket, "控制接口 socket 路径（默认: $NETCFG_SOCKET 或 "+d.Socket+"）")
	fs.String(FlagLogLevel, d.LogLevel, "日志级别（debug, info, warn, error）")
	fs.String(FlagLogFormat, d.LogFormat, "日志格式（text, json）")
}

// ApplyFlags 用命令行中显式设置的标志覆盖选项
func (o *Options) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = o.applyFlag(fs, f.Name)
	})
	return err
}

func (o *Options) applyFlag(fs *pflag.FlagSet, name string) error {
	var err error
	switch name {
	case FlagSocket:
		o.Socket, err = fs.GetString(name)
	case FlagDockerHost:
		o.DockerHost, err = fs.GetString(name)
	case FlagConfigPath:
		o.ConfigPath, err = fs.GetString(name)
	case FlagNetnsDir:
		o.NetnsDir, err = fs.GetString(name)
	case FlagProcRoot:
		o.ProcRoot, err = fs.GetString(name)
	case FlagEventBackoff:
		o.EventBackoff, err = fs.GetDuration(name)
	case FlagVethMTU:
		o.VethMTU, err = fs.GetInt(name)
	case FlagLogLevel:
		o.LogLevel, err = fs.GetString(name)
	case FlagLogFormat:
		o.LogFormat, err = fs.GetString(name)
	case FlagMetricsAddr:
		o.MetricsAddr, err = fs.GetString(name)
	case FlagWatchConfig:
		o.WatchConfig, err = fs.GetBool(name)
	case FlagMaxConnections:
		o.MaxConnections, err = fs.GetInt(name)
	case FlagRequestTimeout:
		o.RequestTimeout, err = fs.GetDuration(name)
	}
	if err != nil {
		return fmt.Errorf("flag --%s: %w", name, err)
	}
	return nil
}

// Resolve 按优先级合并默认值、选项文件、环境变量和命令行标志，并校验结果。
// optionsPath 为空表示不读取选项文件。
func Resolve(optionsPath string, getenv envutil.Getenv, fs *pflag.FlagSet) (Options, error) {
	o := Default()

	if optionsPath != "" {
		if err := o.LoadFile(optionsPath); err != nil {
			return Options{}, err
		}
	}

	o.ApplyEnv(getenv)

	if fs != nil {
		if err := o.ApplyFlags(fs); err != nil {
			return Options{}, err
		}
	}

	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Validate 检查选项是否可用
func (o Options) Validate() error {
	switch {
	case o.Socket == "":
		return fmt.Errorf("socket path must not be empty")
	case o.ConfigPath == "":
		return fmt.Errorf("config path must not be empty")
	case o.NetnsDir == "":
		return fmt.Errorf("netns directory must not be empty")
	case o.ProcRoot == "":
		return fmt.Errorf("proc root must not be empty")
	case o.VethMTU <= 0:
		return fmt.Errorf("invalid veth MTU: %d", o.VethMTU)
	case o.EventBackoff < 0:
		return fmt.Errorf("invalid event backoff: %s", o.EventBackoff)
	case o.MaxConnections <= 0:
		return fmt.Errorf("invalid max connections: %d", o.MaxConnections)
	case o.RequestTimeout < 0:
		return fmt.Errorf("invalid request timeout: %s", o.RequestTimeout)
	}

	switch o.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", o.LogFormat)
	}

	return nil
}
