package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swimschool/internal/attendance"
	"swimschool/internal/queue"
)

type recorder struct {
	mu   sync.Mutex
	seen []attendance.RecordedEvent
	fail string
}

func (r *recorder) Apply(_ context.Context, evt attendance.RecordedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if evt.RecordID == r.fail {
		return errors.New("redis down")
	}
	r.seen = append(r.seen, evt)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func event(t *testing.T, id string) queue.Message {
	t.Helper()
	body, err := json.Marshal(attendance.RecordedEvent{
		RecordID: id,
		Flow:     attendance.FlowEmployee,
		State:    attendance.StateLate,
		Date:     "2026-10-16",
	})
	require.NoError(t, err)
	return queue.Message{Type: attendance.EventRecorded, Body: body}
}

func TestRunAppliesRecordedEvents(t *testing.T) {
	q := queue.NewInMemory(8)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, event(t, "r1")))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "other", Body: []byte("x")}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: attendance.EventRecorded, Body: []byte("{not json")}))
	require.NoError(t, q.Publish(ctx, event(t, "r2")))
	require.NoError(t, q.Publish(ctx, event(t, "r3")))

	sink := &recorder{fail: "r2"}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan int)
	go func() {
		n, err := Run(runCtx, q, sink, nil)
		assert.NoError(t, err)
		done <- n
	}()

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	assert.Equal(t, 2, <-done)
	assert.Equal(t, "r1", sink.seen[0].RecordID)
	assert.Equal(t, attendance.StateLate, sink.seen[0].State)
	assert.Equal(t, "r3", sink.seen[1].RecordID)
}
