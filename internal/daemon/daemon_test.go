package daemon

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/akutz/memconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netcfg/internal/engine"
	"netcfg/internal/network"
	"netcfg/internal/state"
)

const waitFor = 5 * time.Second
const tick = 10 * time.Millisecond

const attachedDoc = `{
	"networks": {"net0": {"name": "net0", "type": "bridge", "destroy_on_stop": false}},
	"containers": {
		"c1": {"name": "c1", "networks": {"net0": {"address": ["10.0.0.2/24"]}}},
		"c2": {"name": "c2", "networks": {"net0": {"address": ["10.0.0.3/24"]}}}
	}
}`

func TestStartupWritesEmptyConfig(t *testing.T) {
	h := newHarness(t)
	name := h.run(t, nil)

	data, err := os.ReadFile(h.persister.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"networks": {}, "containers": {}}`, string(data))

	assert.JSONEq(t, `{"config": {"networks": {}, "containers": {}}}`, call(t, name, `{"method": "get_config"}`))
}

func TestStartupAppliesRunningContainers(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, attachedDoc)
	h.start(t, "c1", 101)

	h.run(t, nil)

	host, _ := network.VethNames("c1", "net0", "101")
	cmds := h.exec.Commands()
	assert.Contains(t, cmds, "ip link set "+host+" up")
	assert.Contains(t, cmds, "ip netns exec 101 ip addr add 10.0.0.2/24 dev net0")
	assert.NotContains(t, cmds, "ip netns exec 102 ip addr add 10.0.0.3/24 dev net0")
}

func TestStartupRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `{"containers": {"c1": {"name": "c1", "networks": {"missing": {}}}}}`)

	l, err := memconn.Listen("memu", "netcfg-invalid-config")
	require.NoError(t, err)

	d := New(Config{Store: h.store, Persister: h.persister, Runtime: h.runtime, Listener: l})
	err = d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestStartEventAppliesAttachments(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, attachedDoc)
	h.run(t, nil)
	assert.Empty(t, h.exec.Commands())

	h.start(t, "c1", 4242)
	h.runtime.Emit(engine.Event{Status: engine.StatusStart, Name: "c1"})

	require.Eventually(t, func() bool {
		return contains(h.exec.Commands(), "ip netns exec 4242 ip link set net0 up")
	}, waitFor, tick)

	cmds := h.exec.Commands()
	assert.Equal(t, "ip link add dev net0 type bridge", cmds[0])
	assert.Contains(t, cmds, "ip netns exec 4242 ip addr add 10.0.0.2/24 dev net0")
}

func TestStopAndUnknownEventsIssueNoCommands(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, attachedDoc)
	h.run(t, nil)

	h.runtime.Emit(engine.Event{Status: engine.StatusStop, Name: "c1"})
	h.runtime.Emit(engine.Event{Status: engine.StatusStart, Name: "stranger"})

	// 事件按顺序处理，c2 的配置完成时前两个事件必然已处理
	h.start(t, "c2", 102)
	h.runtime.Emit(engine.Event{Status: engine.StatusStart, Name: "c2"})
	require.Eventually(t, func() bool {
		return contains(h.exec.Commands(), "ip netns exec 102 ip link set net0 up")
	}, waitFor, tick)

	for _, cmd := range h.exec.Commands() {
		assert.NotContains(t, cmd, "10.0.0.2/24", "stop must not provision c1")
	}
	assert.NotContains(t, h.runtime.Inspected(), "stranger")
}

func TestEventsAreAppliedInOrder(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, attachedDoc)
	h.run(t, nil)

	h.start(t, "c1", 101)
	h.start(t, "c2", 102)
	h.runtime.Emit(engine.Event{Status: engine.StatusStart, Name: "c2"})
	h.runtime.Emit(engine.Event{Status: engine.StatusStart, Name: "c1"})

	require.Eventually(t, func() bool {
		return contains(h.exec.Commands(), "ip netns exec 101 ip link set net0 up")
	}, waitFor, tick)

	// c2 的全部命令先于 c1 的任何命令，不交错
	host1, _ := network.VethNames("c1", "net0", "101")
	cmds := h.exec.Commands()
	lastC2, firstC1 := -1, -1
	for i, cmd := range cmds {
		if cmd == "ip netns exec 102 ip link set net0 up" {
			lastC2 = i
		}
		if firstC1 < 0 && cmd == "ip link add name "+host1+" mtu 1500 type veth peer name "+vethGuest(host1)+" mtu 1500" {
			firstC1 = i
		}
	}
	require.NotEqual(t, -1, lastC2)
	require.NotEqual(t, -1, firstC1)
	assert.Less(t, lastC2, firstC1)
}

func TestEventsAndControlRequestsAreSerialized(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, attachedDoc)
	name := h.run(t, nil)

	h.start(t, "c1", 101)
	h.start(t, "c2", 102)
	h.start(t, "c3", 103)

	h.runtime.Emit(engine.Event{Status: engine.StatusStart, Name: "c2"})
	assert.JSONEq(t, `{"success": "Network attached."}`,
		call(t, name, `{"method": "attach", "container": "c3", "network": "net0", "config": {"address": ["10.0.0.4/24"]}}`))
	h.runtime.Emit(engine.Event{Status: engine.StatusStart, Name: "c1"})

	require.Eventually(t, func() bool {
		cmds := h.exec.Commands()
		return contains(cmds, "ip netns exec 101 ip link set net0 up") &&
			contains(cmds, "ip netns exec 102 ip link set net0 up")
	}, waitFor, tick)

	cmds := h.exec.Commands()
	first1, _ := commandSpan(cmds, "c1", 101)
	first2, last2 := commandSpan(cmds, "c2", 102)
	first3, last3 := commandSpan(cmds, "c3", 103)
	require.NotEqual(t, -1, first1)
	require.NotEqual(t, -1, first2)
	require.NotEqual(t, -1, first3)

	// 应答返回时请求已处理完，之后发出的 c1 事件只能排在它后面
	assert.Less(t, last3, first1)
	// c2 事件和控制请求各自完整执行，不交错
	assert.True(t, last2 < first3 || last3 < first2, "c2 event and attach request interleaved: %v", cmds)
	assert.Contains(t, cmds, "ip netns exec 103 ip addr add 10.0.0.4/24 dev net0")
}

func TestEventStreamFailureResubscribes(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, attachedDoc)
	h.run(t, nil)

	require.Eventually(t, func() bool { return h.runtime.Subscriptions() == 1 }, waitFor, tick)
	h.runtime.Break(assert.AnError)
	require.Eventually(t, func() bool { return h.runtime.Subscriptions() == 2 }, waitFor, tick)

	h.start(t, "c1", 4242)
	h.runtime.Emit(engine.Event{Status: engine.StatusStart, Name: "c1"})
	require.Eventually(t, func() bool {
		return contains(h.exec.Commands(), "ip netns exec 4242 ip link set net0 up")
	}, waitFor, tick)
}

func TestControlRequestsOverConnection(t *testing.T) {
	h := newHarness(t)
	name := h.run(t, nil)

	assert.JSONEq(t, `{"success": "Network created.", "network": `+net0Doc+`}`,
		call(t, name, `{"method": "create_network", "type": "bridge", "name": "net0"}`))
	assert.JSONEq(t, `{"success": "Network attached."}`,
		call(t, name, `{"method": "attach", "container": "c1", "network": "net0"}`))
	assert.JSONEq(t, `{"error": "Malformed message received."}`, call(t, name, `{`))

	doc, found, err := state.NewPersister(h.persister.Path()).Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, doc.Containers, "c1")
}

func TestConfigReloadFromFile(t *testing.T) {
	h := newHarness(t)
	name := h.run(t, func(cfg *Config) { cfg.WatchConfig = true })

	h.start(t, "c1", 4242)
	h.writeConfig(t, attachedDoc)

	require.Eventually(t, func() bool {
		return contains(h.exec.Commands(), "ip netns exec 4242 ip link set net0 up")
	}, waitFor, tick)

	resp := call(t, name, `{"method": "get_config"}`)
	assert.Contains(t, resp, `"c2"`)
}

func TestConfigReloadIgnoresInvalidFile(t *testing.T) {
	h := newHarness(t)
	name := h.run(t, func(cfg *Config) { cfg.WatchConfig = true })
	call(t, name, `{"method": "create_network", "type": "bridge", "name": "net0"}`)

	h.writeConfig(t, `{"containers": {"c1": {"networks": {"gone": {}}}}}`)
	time.Sleep(100 * time.Millisecond)

	assert.JSONEq(t, `{"config": {"networks": {"net0": `+net0Doc+`}, "containers": {}}}`,
		call(t, name, `{"method": "get_config"}`))
}

func TestReloadAfterControlMutationKeepsPersistedState(t *testing.T) {
	h := newHarness(t)
	d := New(Config{Store: h.store, Persister: h.persister, Runtime: h.runtime})
	ctx := context.Background()
	require.NoError(t, d.loadConfig(ctx))

	// 外部写入先发生，通知在控制请求持久化之后才被处理
	h.writeConfig(t, `{"networks": {"ext": {"name": "ext", "type": "bridge", "destroy_on_stop": false}}, "containers": {}}`)
	resp := d.handler.Handle(ctx, []byte(`{"method": "create_network", "type": "bridge", "name": "net0"}`))
	require.Equal(t, MsgNetworkCreated, resp.Success)

	d.reload(ctx)

	_, err := h.store.GetNetwork("net0")
	require.NoError(t, err, "acknowledged network must survive the reload")
	_, err = h.store.GetNetwork("ext")
	assert.Error(t, err)

	doc, found, err := state.NewPersister(h.persister.Path()).Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, doc.Networks, "net0")
	assert.NotContains(t, doc.Networks, "ext")
}

func TestReloadReadsCurrentFile(t *testing.T) {
	h := newHarness(t)
	d := New(Config{Store: h.store, Persister: h.persister, Runtime: h.runtime})
	ctx := context.Background()
	require.NoError(t, d.loadConfig(ctx))

	resp := d.handler.Handle(ctx, []byte(`{"method": "create_network", "type": "bridge", "name": "net0"}`))
	require.Equal(t, MsgNetworkCreated, resp.Success)

	h.writeConfig(t, attachedDoc)
	d.reload(ctx)

	_, err := h.store.GetContainer("c2")
	require.NoError(t, err)

	// 同一份内容不会被重复应用
	h.exec.Reset()
	h.start(t, "c1", 4242)
	d.reload(ctx)
	assert.Empty(t, h.exec.Commands())
}

// commandSpan 返回某个容器相关命令在记录中的首尾位置，没有时为 -1
func commandSpan(cmds []string, container string, pid int) (first, last int) {
	handle := strconv.Itoa(pid)
	host, guest := network.VethNames(container, "net0", handle)
	first, last = -1, -1
	for i, cmd := range cmds {
		if strings.Contains(cmd, host) || strings.Contains(cmd, guest) ||
			strings.HasPrefix(cmd, "ip netns exec "+handle+" ") {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last
}

// vethGuest 由宿主端名称推出容器端名称
func vethGuest(host string) string {
	return host[:len(host)-1] + "2"
}
