package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: "attendance.recorded", Body: []byte(`{"a":"b|c"}`)}
	got := deserialize(serialize(msg))
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, string(msg.Body), string(got.Body))
}

func TestDeserializeWithoutType(t *testing.T) {
	got := deserialize("plain")
	assert.Empty(t, got.Type)
	assert.Equal(t, "plain", string(got.Body))
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	out, err := q.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, Message{Type: "t", Body: []byte("1")}))

	select {
	case msg := <-out:
		assert.Equal(t, "t", msg.Type)
		assert.Equal(t, "1", string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	_, open := <-out
	for open {
		_, open = <-out
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "t"}), context.Canceled)
}
