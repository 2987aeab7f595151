package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherPool(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestPoolCollector_ExportsStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPoolCollector(SystemPostgres, func() PoolStats {
		return PoolStats{Total: 4, Idle: 1, InUse: 3, Max: 10, Waits: 7, Timeouts: 2}
	})
	_, err := RegisterPoolMetrics(reg, c)
	require.NoError(t, err)

	got := gatherPool(t, reg)
	require.Len(t, got, 6)

	inUse := got["storage_pool_in_use_connections"].GetMetric()[0]
	assert.Equal(t, float64(3), inUse.GetGauge().GetValue())
	assert.Equal(t, "system", inUse.GetLabel()[0].GetName())
	assert.Equal(t, SystemPostgres, inUse.GetLabel()[0].GetValue())

	waits := got["storage_pool_waits_total"].GetMetric()[0]
	assert.Equal(t, float64(7), waits.GetCounter().GetValue())
}

func TestRegisterPoolMetrics_UnregisterAllowsReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := func() PoolStats { return PoolStats{} }

	unregister, err := RegisterPoolMetrics(reg, NewPoolCollector(SystemRedis, stats))
	require.NoError(t, err)

	_, err = RegisterPoolMetrics(reg, NewPoolCollector(SystemRedis, stats))
	require.Error(t, err)

	unregister()
	_, err = RegisterPoolMetrics(reg, NewPoolCollector(SystemRedis, stats))
	assert.NoError(t, err)
}

func TestRedisPoolStats(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr(), PoolSize: 5}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := RedisPoolStats(client)()
	assert.Equal(t, uint32(5), s.Max)
	assert.GreaterOrEqual(t, s.Total, uint32(1))
	assert.Equal(t, s.Total-s.Idle, s.InUse)
}
