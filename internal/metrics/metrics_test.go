package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	// 同一 registry 重复注册应失败
	assert.Error(t, Register(reg))

	before := testutil.ToFloat64(ProvisionFailures.WithLabelValues("net0", "link-pair"))
	ProvisionFailures.WithLabelValues("net0", "link-pair").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ProvisionFailures.WithLabelValues("net0", "link-pair")))
}
