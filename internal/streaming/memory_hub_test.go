package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rendis/drawmaid/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan schema.StageEvent) schema.StageEvent {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return schema.StageEvent{}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := schema.StageEvent{
		RequestID: "req-1",
		Type:      schema.EventStageEntered,
		From:      schema.StageReceived,
		To:        schema.StageValidated,
	}
	require.NoError(t, hub.Publish(ctx, event))

	got := receive(t, ch)
	assert.Equal(t, event, got)
}

func TestFilterByRequestID(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RequestID: "req-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, schema.StageEvent{RequestID: "req-2", Type: schema.EventStageEntered}))
	require.NoError(t, hub.Publish(ctx, schema.StageEvent{RequestID: "req-1", Type: schema.EventStageEntered}))

	assert.Equal(t, "req-1", receive(t, ch).RequestID)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestFilterByStageAndType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		EventTypes: []string{schema.EventStageEntered},
		Stages:     []schema.Stage{schema.StageXMLBuilt},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, schema.StageEvent{Type: schema.EventStageEntered, To: schema.StageValidated}))
	require.NoError(t, hub.Publish(ctx, schema.StageEvent{Type: schema.EventConversionDone, To: schema.StageXMLBuilt}))
	require.NoError(t, hub.Publish(ctx, schema.StageEvent{Type: schema.EventStageEntered, To: schema.StageXMLBuilt}))

	got := receive(t, ch)
	assert.Equal(t, schema.StageXMLBuilt, got.To)
	assert.Equal(t, schema.EventStageEntered, got.Type)
}

func TestAppendEventPublishes(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.AppendEvent(ctx, &schema.StageEvent{RequestID: "r", To: schema.StageDone}))
	require.NoError(t, hub.AppendEvent(ctx, nil))
	assert.Equal(t, schema.StageDone, receive(t, ch).To)
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, hub.Publish(ctx, schema.StageEvent{RequestID: "after"}))
}

func TestSlowSubscriberDrops(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, schema.StageEvent{RequestID: "r"}))
	}
	assert.Equal(t, uint64(10), hub.Dropped())
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, hub.Publish(ctx, schema.StageEvent{}))
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.Error(t, err)
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hub.Publish(ctx, schema.StageEvent{RequestID: "r"})
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 20)
}
