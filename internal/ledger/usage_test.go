// AngelaMos | 2026
// usage_test.go

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageKey(t *testing.T) {
	day := time.Date(2026, 4, 9, 23, 59, 0, 0, time.FixedZone("X", -5*3600))
	assert.Equal(t, "usage:u1:2026-04-10", usageKey("u1", day))
}

func TestWindowNewestFirst(t *testing.T) {
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

	days := window(now, 3)
	require.Len(t, days, 3)
	assert.Equal(t, time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), days[0])
	assert.Equal(t, time.Date(2026, 4, 8, 0, 0, 0, 0, time.UTC), days[2])
}

func TestRedisUsageRecord(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisUsage(client, time.Hour)
	day := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectTxPipeline()
	mock.ExpectIncrBy("usage:u1:2026-04-10", 25).SetVal(25)
	mock.ExpectExpire("usage:u1:2026-04-10", time.Hour).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, store.Record(context.Background(), "u1", day, 25))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisUsageSum(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisUsage(client, time.Hour)
	days := window(time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC), 3)

	mock.ExpectMGet("usage:u1:2026-04-10", "usage:u1:2026-04-09", "usage:u1:2026-04-08").
		SetVal([]any{"10", nil, "7"})

	total, err := store.Sum(context.Background(), "u1", days)
	require.NoError(t, err)
	assert.Equal(t, int64(17), total)
}

func TestRedisUsageSumError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisUsage(client, time.Hour)
	days := window(time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC), 1)

	mock.ExpectMGet("usage:u1:2026-04-10").SetErr(errors.New("connection refused"))

	_, err := store.Sum(context.Background(), "u1", days)
	require.Error(t, err)
}

func TestRedisUsageSumEmpty(t *testing.T) {
	client, _ := redismock.NewClientMock()
	store := NewRedisUsage(client, time.Hour)

	total, err := store.Sum(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.Zero(t, total)
}
