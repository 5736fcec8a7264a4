package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	rc, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	return rc, mr
}

func TestRedisCache(t *testing.T) {
	rc, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		require.NoError(t, rc.Set(ctx, "k1", []byte("v1"), time.Minute))

		val, err := rc.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "v1", string(val))
		assert.True(t, mr.Exists("chargeflow:k1"))
	})

	t.Run("Miss returns nil", func(t *testing.T) {
		val, err := rc.Get(ctx, "absent")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("TTL expiry", func(t *testing.T) {
		require.NoError(t, rc.Set(ctx, "short", []byte("x"), time.Second))
		mr.FastForward(2 * time.Second)

		val, err := rc.Get(ctx, "short")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("Customer round trip", func(t *testing.T) {
		customer := &domain.Customer{Code: "CUST002", Name: "Jane Smith", Type: domain.CustomerCorporate}
		require.NoError(t, rc.SetCustomer(ctx, customer, time.Minute))

		got, err := rc.GetCustomer(ctx, "CUST002")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, customer.Name, got.Name)
		assert.Equal(t, domain.CustomerCorporate, got.Type)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, rc.Set(ctx, "gone", []byte("x"), time.Minute))
		mr.FastForward(time.Minute)

		val, err := rc.Get(ctx, "gone")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("Windowed counter", func(t *testing.T) {
		n, err := rc.IncrementCounter(ctx, "calc", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = rc.IncrementCounter(ctx, "calc", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		mr.FastForward(2 * time.Minute)

		n, err = rc.IncrementCounter(ctx, "calc", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, rc.Ping(ctx))
	})
}

func TestTwoPhaseCache(t *testing.T) {
	rc, mr := setupTestRedis(t)
	ctx := context.Background()

	tp := newTwoPhase(NewLRUCache(10), rc, time.Minute)

	t.Run("Write reaches both tiers", func(t *testing.T) {
		require.NoError(t, tp.Set(ctx, "k", []byte("v"), time.Hour))

		local, _ := tp.local.Get(ctx, "k")
		assert.Equal(t, "v", string(local))
		assert.True(t, mr.Exists("chargeflow:k"))
	})

	t.Run("L2 hit populates L1", func(t *testing.T) {
		require.NoError(t, mr.Set("chargeflow:remote-only", "r"))

		val, err := tp.Get(ctx, "remote-only")
		require.NoError(t, err)
		assert.Equal(t, "r", string(val))

		local, _ := tp.local.Get(ctx, "remote-only")
		assert.Equal(t, "r", string(local))
	})

	t.Run("Customer served from L1 after L2 loss", func(t *testing.T) {
		customer := &domain.Customer{Code: "CUST003", Name: "Bob Wilson", Type: domain.CustomerPremium}
		require.NoError(t, tp.SetCustomer(ctx, customer, time.Hour))

		mr.FlushAll()

		got, err := tp.GetCustomer(ctx, "CUST003")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.CustomerPremium, got.Type)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, tp.Ping(ctx))
	})
}

func TestTwoPhaseCacheRedisOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rc, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer rc.Close()

	tp := newTwoPhase(NewLRUCache(10), rc, time.Minute)
	ctx := context.Background()

	customer := &domain.Customer{Code: "CUST001", Name: "John Doe", Type: domain.CustomerRetail}
	require.NoError(t, tp.SetCustomer(ctx, customer, time.Hour))

	mr.Close()

	got, err := tp.GetCustomer(ctx, "CUST001")
	require.NoError(t, err)
	require.NotNil(t, got, "L1 keeps serving while Redis is down")

	missing, err := tp.GetCustomer(ctx, "CUST404")
	assert.NoError(t, err, "L2 failures surface as misses")
	assert.Nil(t, missing)

	assert.Error(t, tp.Ping(ctx))
	assert.Error(t, tp.Set(ctx, "k", []byte("v"), time.Minute))
}
