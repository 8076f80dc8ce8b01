package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/smallbiznis/rentflow/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type keyedPayload struct {
	Lease string `json:"lease"`
}

func (k keyedPayload) BroadcastKey() string { return k.Lease }

type failingSink struct {
	calls int
	panic bool
}

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) Send(context.Context, Event) error {
	f.calls++
	if f.panic {
		panic("boom")
	}
	return errors.New("observer gone")
}

func testClock() *clock.FakeClock {
	return clock.NewFakeClock(time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
}

func TestHubDeliversAndKeepsBacklog(t *testing.T) {
	hub := NewHub()
	b := New(zap.NewNop(), testClock(), nil, hub)

	b.Broadcast(context.Background(), KindPaymentCreated, keyedPayload{Lease: "1"})

	sub, backlog, err := hub.Subscribe()
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, backlog, 1)
	assert.Equal(t, KindPaymentCreated, backlog[0].Kind)
	assert.Equal(t, "1", backlog[0].Key)
	assert.NotEmpty(t, backlog[0].ID)

	b.Broadcast(context.Background(), KindPaymentReconciled, keyedPayload{Lease: "2"})
	select {
	case event := <-sub.Events():
		assert.Equal(t, KindPaymentReconciled, event.Kind)
		assert.Equal(t, b.Origin(), event.Origin)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe()
	require.NoError(t, err)

	for i := 0; i < DefaultSubscriberBuffer+10; i++ {
		hub.Publish(Event{ID: "e", Kind: KindPaymentUpdated})
	}
	assert.Len(t, sub.Events(), DefaultSubscriberBuffer)

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHubBacklogIsBounded(t *testing.T) {
	hub := NewHub()
	for i := 0; i < DefaultBufferSize*2; i++ {
		hub.Publish(Event{Kind: KindPaymentCreated})
	}
	_, backlog, err := hub.Subscribe()
	require.NoError(t, err)
	assert.Len(t, backlog, DefaultBufferSize)

	var nilHub *Hub
	_, _, err = nilHub.Subscribe()
	assert.ErrorIs(t, err, ErrHubUnavailable)
}

func TestBroadcastSwallowsSinkFailures(t *testing.T) {
	hub := NewHub()
	failing := &failingSink{}
	panicking := &failingSink{panic: true}
	b := New(zap.NewNop(), testClock(), nil, failing, panicking, hub)

	assert.NotPanics(t, func() {
		b.Broadcast(context.Background(), KindPaymentCreated, map[string]string{"id": "1"})
	})
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, panicking.calls)

	_, backlog, err := hub.Subscribe()
	require.NoError(t, err)
	assert.Len(t, backlog, 1)

	var nilBroadcaster *Broadcaster
	assert.NotPanics(t, func() { nilBroadcaster.Broadcast(context.Background(), KindPaymentCreated, nil) })
}

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event Event
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.Kind != KindPaymentCreated || event.Key != "42" {
			return errors.New("unexpected event")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSink(producer, "rentflow.payments")
	b := New(zap.NewNop(), testClock(), nil, sink)
	b.Broadcast(context.Background(), KindPaymentCreated, keyedPayload{Lease: "42"})

	err := sink.Send(context.Background(), Event{Kind: KindPaymentUpdated})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestRelayIgnoresOwnEvents(t *testing.T) {
	hub := NewHub()
	r := newRelay(nil, RedisChannel, "self", hub, zap.NewNop())

	own, _ := json.Marshal(Event{ID: "1", Kind: KindPaymentCreated, Origin: "self"})
	other, _ := json.Marshal(Event{ID: "2", Kind: KindPaymentCreated, Origin: "peer"})
	r.handle(own)
	r.handle(other)
	r.handle([]byte("not json"))

	_, backlog, err := hub.Subscribe()
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	assert.Equal(t, "2", backlog[0].ID)
}

// blockingSink never completes a send until released.
type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Send(context.Context, Event) error {
	<-b.release
	return nil
}

func TestBroadcastGivesUpOnStuckSink(t *testing.T) {
	hub := NewHub()
	stuck := &blockingSink{release: make(chan struct{})}
	defer close(stuck.release)
	b := New(zap.NewNop(), testClock(), nil, stuck, hub)
	b.SetSendTimeout(50 * time.Millisecond)

	start := time.Now()
	b.Broadcast(context.Background(), KindPaymentCreated, keyedPayload{Lease: "7"})
	assert.Less(t, time.Since(start), time.Second)

	_, backlog, err := hub.Subscribe()
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	assert.Equal(t, "7", backlog[0].Key)
}

func TestSetSendTimeoutRestoresDefault(t *testing.T) {
	b := New(zap.NewNop(), testClock(), nil)
	b.SetSendTimeout(time.Millisecond)
	assert.Equal(t, time.Millisecond, b.timeout)
	b.SetSendTimeout(0)
	assert.Equal(t, DefaultSendTimeout, b.timeout)
}

func TestKafkaProducerConfigIsBounded(t *testing.T) {
	cfg := kafkaProducerConfig("rentflow-test")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, kafkaNetTimeout, cfg.Net.DialTimeout)
	assert.Equal(t, kafkaNetTimeout, cfg.Net.ReadTimeout)
	assert.Equal(t, kafkaNetTimeout, cfg.Net.WriteTimeout)
	assert.Equal(t, kafkaNetTimeout, cfg.Producer.Timeout)
	assert.True(t, cfg.Producer.Return.Successes)
}
