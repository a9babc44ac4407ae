package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/akutz/memconn"
	"github.com/stretchr/testify/require"

	"netcfg/internal/engine/enginetest"
	"netcfg/internal/network"
	"netcfg/internal/network/networktest"
	"netcfg/internal/state"
)

type harness struct {
	dir       string
	procRoot  string
	runtime   *enginetest.Runtime
	exec      *networktest.Executor
	store     *state.Store
	persister *state.Persister
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		dir:      dir,
		procRoot: filepath.Join(dir, "proc"),
		runtime:  enginetest.New(),
		exec:     networktest.New(),
	}

	factory := network.NewFactory(network.Env{
		Executor:     h.exec,
		NamespaceDir: filepath.Join(dir, "netns"),
		ProcRoot:     h.procRoot,
	})
	h.store = state.NewStore(factory, h.runtime)
	h.persister = state.NewPersister(filepath.Join(dir, "lib", "config.json"))
	return h
}

// start 将容器标记为运行中并准备其命名空间文件
func (h *harness) start(t *testing.T, name string, pid int) {
	t.Helper()

	nsDir := filepath.Join(h.procRoot, strconv.Itoa(pid), "ns")
	require.NoError(t, os.MkdirAll(nsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, "net"), nil, 0644))
	h.runtime.SetRunning(name, pid)
}

// handle 直接调用协议处理并返回 JSON 编码的响应
func (h *harness) handle(t *testing.T, raw string) string {
	t.Helper()

	hd := &handler{store: h.store, persister: h.persister}
	data, err := json.Marshal(hd.Handle(context.Background(), []byte(raw)))
	require.NoError(t, err)
	return string(data)
}

// writeConfig 以外部写入的方式准备配置文件
func (h *harness) writeConfig(t *testing.T, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(h.persister.Path()), 0755))
	require.NoError(t, os.WriteFile(h.persister.Path(), []byte(content), 0644))
}

// run 在内存 listener 上启动 daemon，返回 listener 名称
func (h *harness) run(t *testing.T, modify func(cfg *Config)) string {
	t.Helper()

	name := "netcfg-" + strings.ReplaceAll(t.Name(), "/", "-")
	l, err := memconn.Listen("memu", name)
	require.NoError(t, err)

	cfg := Config{
		Store:        h.store,
		Persister:    h.persister,
		Runtime:      h.runtime,
		Listener:     l,
		EventBackoff: 10 * time.Millisecond,
	}
	if modify != nil {
		modify(&cfg)
	}

	d := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- d.Run(ctx)
	}()

	select {
	case <-d.Ready():
	case err := <-errc:
		cancel()
		t.Fatalf("daemon exited during startup: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	return name
}

// call 通过控制连接发送一条请求并读取响应行
func call(t *testing.T, name, raw string) string {
	t.Helper()

	conn, err := memconn.Dial("memu", name)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(raw + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func contains(cmds []string, cmd string) bool {
	for _, c := range cmds {
		if c == cmd {
			return true
		}
	}
	return false
}

func contextWithCleanup(t *testing.T) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}
