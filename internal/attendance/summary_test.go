package attendance

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryCountsByFlowAndState(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	s := NewSummary(client, "test:summary:"+uuid.NewString())
	for _, evt := range []RecordedEvent{
		{Flow: FlowEmployee, State: StatePresent, Date: today},
		{Flow: FlowEmployee, State: StateLate, Date: today},
		{Flow: FlowEmployee, State: StateLate, Date: today},
		{Flow: FlowMember, State: StatePresent, Date: today},
		{Flow: FlowMember, State: StatePresent, Date: "2026-10-17"},
	} {
		require.NoError(t, s.Apply(ctx, evt))
	}
	defer client.Del(ctx, s.key(today), s.key("2026-10-17"))

	got, err := s.Get(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Total)
	assert.Equal(t, int64(2), got.Counts[FlowEmployee][StateLate])
	assert.Equal(t, int64(1), got.Counts[FlowMember][StatePresent])

	empty, err := s.Get(ctx, "2020-01-01")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}
