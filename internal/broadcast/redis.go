package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const RedisChannel = "rentflow:payments"

// RedisSink relays events to other replicas over pub/sub.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// relay feeds events published by other replicas into the local hub.
type relay struct {
	client  *redis.Client
	channel string
	origin  string
	hub     *Hub
	log     *zap.Logger

	pubsub *redis.PubSub
	done   chan struct{}
}

func newRelay(client *redis.Client, channel, origin string, hub *Hub, log *zap.Logger) *relay {
	return &relay{
		client:  client,
		channel: channel,
		origin:  origin,
		hub:     hub,
		log:     log,
		done:    make(chan struct{}),
	}
}

func (r *relay) start(ctx context.Context) {
	r.pubsub = r.client.Subscribe(ctx, r.channel)
	go r.run()
}

func (r *relay) run() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		r.handle([]byte(msg.Payload))
	}
}

func (r *relay) handle(data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		r.log.Warn("dropping malformed relayed event", zap.Error(err))
		return
	}
	if event.Origin == r.origin {
		return
	}
	r.hub.Publish(event)
}

func (r *relay) stop() error {
	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	<-r.done
	return err
}
