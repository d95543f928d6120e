package pubsub_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chaats/internal/logging"
	"github.com/nfrund/chaats/internal/pubsub"
)

type greeting struct {
	Text string `json:"text"`
}

var greetingEvent = pubsub.NewEvent[greeting]("test.greeting", "A greeting")

func newBridge(t *testing.T) *pubsub.WatermillBridge {
	t.Helper()
	b := pubsub.NewWatermillBridge(pubsub.WithLogger(logging.Discard()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestWatermillBridge_PublishSubscribe(t *testing.T) {
	b := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []pubsub.Message
	require.NoError(t, b.Subscribe(ctx, "test.raw", func(ctx context.Context, msg pubsub.Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
		return nil
	}))

	require.NoError(t, b.Publish(ctx, pubsub.Message{
		Topic:    "test.raw",
		UserID:   "7",
		Payload:  []byte(`{"a":1}`),
		Metadata: map[string]string{"k": "v"},
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "test.raw", got[0].Topic)
	assert.Equal(t, "7", got[0].UserID)
	assert.JSONEq(t, `{"a":1}`, string(got[0].Payload))
	assert.Equal(t, "v", got[0].Metadata["k"])
	assert.NotEmpty(t, got[0].Metadata["sent_at"])
}

func TestTypedEvent_RoundTrip(t *testing.T) {
	b := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan greeting, 1)
	require.NoError(t, pubsub.Subscribe(ctx, b, greetingEvent, func(ctx context.Context, g greeting) error {
		received <- g
		return nil
	}))
	require.NoError(t, pubsub.Publish(ctx, b, greetingEvent, "1", greeting{Text: "hi"}))

	select {
	case g := <-received:
		assert.Equal(t, "hi", g.Text)
	case <-time.After(time.Second):
		t.Fatal("typed event not delivered")
	}
}

func TestWatermillBridge_HandlerErrorDoesNotStopSubscription(t *testing.T) {
	b := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 2)
	require.NoError(t, b.Subscribe(ctx, "test.flaky", func(ctx context.Context, msg pubsub.Message) error {
		calls <- struct{}{}
		return errors.New("boom")
	}))

	require.NoError(t, b.Publish(ctx, pubsub.Message{Topic: "test.flaky"}))
	require.NoError(t, b.Publish(ctx, pubsub.Message{Topic: "test.flaky"}))

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatalf("call %d not delivered", i+1)
		}
	}
}
