package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netcfg/pkg/envutil"
)

func writeOptions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netcfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("daemon", pflag.ContinueOnError)
	AddGlobalFlags(fs)
	AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefaultIsValid(t *testing.T) {
	o := Default()
	require.NoError(t, o.Validate())
	assert.Equal(t, "/var/lib/netcfg", o.ConfigDir())
	assert.Equal(t, time.Second, o.EventBackoff)
	assert.Equal(t, 1, o.MaxConnections)
	assert.Empty(t, o.MetricsAddr)
}

func TestLoadFile(t *testing.T) {
	path := writeOptions(t, `
socket: /run/netcfg/control.sock
event_backoff: 250ms
veth_mtu: 9000
watch_config: true
metrics_addr: 127.0.0.1:9323
`)

	o := Default()
	require.NoError(t, o.LoadFile(path))
	assert.Equal(t, "/run/netcfg/control.sock", o.Socket)
	assert.Equal(t, 250*time.Millisecond, o.EventBackoff)
	assert.Equal(t, 9000, o.VethMTU)
	assert.True(t, o.WatchConfig)
	assert.Equal(t, "127.0.0.1:9323", o.MetricsAddr)

	// 未出现的字段保持默认
	assert.Equal(t, DefaultConfigPath, o.ConfigPath)
	assert.Equal(t, DefaultRequestTimeout, o.RequestTimeout)
}

func TestLoadFileEmpty(t *testing.T) {
	o := Default()
	require.NoError(t, o.LoadFile(writeOptions(t, "")))
	assert.Equal(t, Default(), o)
}

func TestLoadFileUnknownField(t *testing.T) {
	o := Default()
	err := o.LoadFile(writeOptions(t, "sockett: /tmp/x.sock\n"))
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	o := Default()
	assert.Error(t, o.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestApplyEnv(t *testing.T) {
	o := Default()
	o.ApplyEnv(envutil.FromMap(map[string]string{
		envutil.RootEnvVar:       "/tmp/netcfg",
		envutil.DockerHostEnvVar: "tcp://10.0.0.1:2375",
	}))

	assert.Equal(t, "/tmp/netcfg/config.json", o.ConfigPath)
	assert.Equal(t, "/tmp/netcfg/netns", o.NetnsDir)
	assert.Equal(t, "tcp://10.0.0.1:2375", o.DockerHost)
	assert.Equal(t, DefaultSocket, o.Socket)
}

func TestResolvePrecedence(t *testing.T) {
	path := writeOptions(t, `
socket: /from/file.sock
config_path: /from/file/config.json
veth_mtu: 1400
`)
	env := envutil.FromMap(map[string]string{
		envutil.SocketEnvVar: "/from/env.sock",
	})
	fs := newFlagSet(t, "--socket", "/from/flag.sock", "--max-connections", "4")

	o, err := Resolve(path, env, fs)
	require.NoError(t, err)

	assert.Equal(t, "/from/flag.sock", o.Socket)
	assert.Equal(t, "/from/file/config.json", o.ConfigPath)
	assert.Equal(t, 1400, o.VethMTU, "unset flags must not override the file")
	assert.Equal(t, 4, o.MaxConnections)
}

func TestResolveWithoutFile(t *testing.T) {
	o, err := Resolve("", envutil.FromMap(nil), newFlagSet(t, "--watch-config", "--event-backoff", "2s"))
	require.NoError(t, err)
	assert.True(t, o.WatchConfig)
	assert.Equal(t, 2*time.Second, o.EventBackoff)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(o *Options)
	}{
		{"empty socket", func(o *Options) { o.Socket = "" }},
		{"empty config path", func(o *Options) { o.ConfigPath = "" }},
		{"empty netns dir", func(o *Options) { o.NetnsDir = "" }},
		{"empty proc root", func(o *Options) { o.ProcRoot = "" }},
		{"zero mtu", func(o *Options) { o.VethMTU = 0 }},
		{"negative backoff", func(o *Options) { o.EventBackoff = -time.Second }},
		{"no connections", func(o *Options) { o.MaxConnections = 0 }},
		{"negative timeout", func(o *Options) { o.RequestTimeout = -1 }},
		{"bad log format", func(o *Options) { o.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Default()
			tt.modify(&o)
			assert.Error(t, o.Validate())
		})
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	_, err := Resolve("", envutil.FromMap(nil), newFlagSet(t, "--veth-mtu", "0"))
	assert.Error(t, err)
}
