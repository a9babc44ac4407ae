package state

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netcfg/internal/network"
	nerrors "netcfg/pkg/errors"
)

func TestAttachNotRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	net := f.addBridge(t, "net0")

	c := f.store.AddContainer("c1")
	require.NoError(t, c.Attach(ctx, net, network.Config{"address": []interface{}{"10.0.0.2/24"}}))

	assert.Empty(t, f.exec.Commands())
	cfg, ok := c.Attachment("net0")
	require.True(t, ok)
	assert.Equal(t, []interface{}{"10.0.0.2/24"}, cfg["address"])
	assert.True(t, net.IsAttached("c1"))
}

func TestAttachRunningApplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	net := f.addBridge(t, "net0")
	f.start(t, "c1", 4242)

	c := f.store.AddContainer("c1")
	require.NoError(t, c.Attach(ctx, net, network.Config{"address": []interface{}{"10.0.0.2/24"}}))

	cmds := f.exec.Commands()
	assert.Contains(t, cmds, "ip link add dev net0 type bridge")
	assert.Contains(t, cmds, "ip netns exec 4242 ip addr add 10.0.0.2/24 dev net0")
	assert.Equal(t, "ip netns exec 4242 ip link set net0 up", cmds[len(cmds)-1])
}

func TestAttachProvisioningFailureKeepsAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	net := f.addBridge(t, "net0")
	f.start(t, "c1", 4242)
	f.exec.FailOn("ip link add dev net0 type bridge")

	c := f.store.AddContainer("c1")
	require.NoError(t, c.Attach(ctx, net, nil))

	_, ok := c.Attachment("net0")
	assert.True(t, ok)
	assert.True(t, net.IsAttached("c1"))
}

func TestAttachValidationIsPure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	net := f.addBridge(t, "net0")
	f.start(t, "c1", 4242)

	c := f.store.AddContainer("c1")
	require.NoError(t, c.Attach(ctx, net, network.Config{"address": []interface{}{"10.0.0.2/24"}}))
	f.exec.Reset()

	before, err := json.Marshal(f.store.Serialize())
	require.NoError(t, err)

	err = c.Attach(ctx, net, network.Config{"address": []interface{}{"not-an-ip"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, nerrors.ErrNetworkConfiguration))
	assert.Equal(t, "Invalid IPv4/IPv6 address: not-an-ip", err.Error())

	after, err := json.Marshal(f.store.Serialize())
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.Empty(t, f.exec.Commands())
}

func TestDetach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	net := f.addBridge(t, "net0")
	f.start(t, "c1", 4242)

	c := f.store.AddContainer("c1")
	require.NoError(t, c.Attach(ctx, net, nil))
	f.exec.Reset()

	require.NoError(t, c.Detach(ctx, net))
	_, ok := c.Attachment("net0")
	assert.False(t, ok)
	assert.False(t, net.IsAttached("c1"))
	assert.Empty(t, f.exec.Commands(), "detach only logs at this layer")
}

func TestDetachNotAttached(t *testing.T) {
	f := newFixture(t)
	net := f.addBridge(t, "net0")

	err := f.store.AddContainer("c1").Detach(context.Background(), net)
	require.Error(t, err)
	assert.True(t, errors.Is(err, nerrors.ErrNotAttached))
	assert.Equal(t, "Container 'c1' is not attached to network 'net0'!", err.Error())
}

func TestAttachDetachIntegrity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	nets := []network.Network{f.addBridge(t, "net0"), f.addBridge(t, "net1")}

	ops := []struct {
		container string
		network   int
		attach    bool
	}{
		{"c1", 0, true},
		{"c2", 0, true},
		{"c1", 1, true},
		{"c1", 0, false},
		{"c2", 1, true},
		{"c2", 0, false},
		{"c1", 0, true},
		{"c1", 1, false},
		{"c2", 1, false},
	}

	for _, op := range ops {
		c := f.store.AddContainer(op.container)
		if op.attach {
			require.NoError(t, c.Attach(ctx, nets[op.network], nil))
		} else {
			require.NoError(t, c.Detach(ctx, nets[op.network]))
		}
		requireIntegrity(t, f.store)
	}

	assert.Equal(t, []string{"c1"}, nets[0].Containers())
	assert.Empty(t, nets[1].Containers())
}

func TestIsRunningDegrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.store.AddContainer("c1")

	assert.False(t, c.IsRunning(ctx))

	f.start(t, "c1", 7)
	assert.True(t, c.IsRunning(ctx))
	ns, ok := c.Namespace(ctx)
	assert.True(t, ok)
	assert.Equal(t, "7", ns)

	f.runtime.FailInspect("c1", errors.New("boom"))
	assert.False(t, c.IsRunning(ctx))
	_, ok = c.Namespace(ctx)
	assert.False(t, ok)
}

func TestContainerApplyIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	net0 := f.addBridge(t, "net0")
	net1 := f.addBridge(t, "net1")

	c := f.store.AddContainer("c1")
	require.NoError(t, c.Attach(ctx, net0, nil))
	require.NoError(t, c.Attach(ctx, net1, nil))
	f.start(t, "c1", 4242)
	f.exec.FailOn("ip link add dev net0 type bridge")

	err := c.Apply(ctx, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, nerrors.ErrProvisioningStep))
	assert.Contains(t, f.exec.Commands(), "ip netns exec 4242 ip link set net1 up")
}
