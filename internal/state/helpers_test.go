package state

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"netcfg/internal/engine/enginetest"
	"netcfg/internal/network"
	"netcfg/internal/network/networktest"
)

type fixture struct {
	store    *Store
	runtime  *enginetest.Runtime
	exec     *networktest.Executor
	procRoot string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	f := &fixture{
		runtime:  enginetest.New(),
		exec:     networktest.New(),
		procRoot: filepath.Join(root, "proc"),
	}

	factory := network.NewFactory(network.Env{
		Executor:     f.exec,
		NamespaceDir: filepath.Join(root, "netns"),
		ProcRoot:     f.procRoot,
	})
	f.store = NewStore(factory, f.runtime)
	return f
}

// start 将容器标记为运行中并准备其命名空间文件
func (f *fixture) start(t *testing.T, name string, pid int) {
	t.Helper()

	nsDir := filepath.Join(f.procRoot, strconv.Itoa(pid), "ns")
	require.NoError(t, os.MkdirAll(nsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, "net"), nil, 0644))
	f.runtime.SetRunning(name, pid)
}

func (f *fixture) addBridge(t *testing.T, name string) network.Network {
	t.Helper()

	net, created, err := f.store.AddNetwork(network.TypeBridge, name, false, nil)
	require.NoError(t, err)
	require.True(t, created)
	return net
}

// requireIntegrity 检查容器附加映射与网络反向引用一致
func requireIntegrity(t *testing.T, s *Store) {
	t.Helper()

	for _, c := range s.Containers() {
		for netName := range c.Networks() {
			net, err := s.GetNetwork(netName)
			require.NoError(t, err)
			require.True(t, net.IsAttached(c.Name()), "network %s misses container %s", netName, c.Name())
		}
	}

	for _, net := range s.Networks() {
		for _, name := range net.Containers() {
			c, err := s.GetContainer(name)
			require.NoError(t, err)
			_, ok := c.Attachment(net.Name())
			require.True(t, ok, "container %s misses network %s", name, net.Name())
		}
	}
}
