package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink publishes events as JSON, keyed by Event.Key.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Send(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_kind"), Value: []byte(event.Kind)},
			{Key: []byte("event_id"), Value: []byte(event.ID)},
		},
	}
	if event.Key != "" {
		msg.Key = sarama.StringEncoder(event.Key)
	}

	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", event.Kind, k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}

// kafkaNetTimeout caps each broker round trip.
const kafkaNetTimeout = 3 * time.Second

func newKafkaProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, kafkaProducerConfig(clientID))
}

func kafkaProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Net.DialTimeout = kafkaNetTimeout
	cfg.Net.ReadTimeout = kafkaNetTimeout
	cfg.Net.WriteTimeout = kafkaNetTimeout
	cfg.Metadata.Retry.Max = 1
	cfg.Producer.Timeout = kafkaNetTimeout
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 1
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Idempotent = false
	return cfg
}
