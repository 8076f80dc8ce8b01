package broadcast

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rentflow/internal/clock"
	"github.com/smallbiznis/rentflow/internal/config"
	obsmetrics "github.com/smallbiznis/rentflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("broadcast",
	fx.Provide(NewHub),
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Lc         fx.Lifecycle
	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Hub        *Hub
	Redis      *redis.Client       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// NewFromConfig wires the hub plus the Kafka and redis sinks that are
// configured. A broker that cannot be reached disables the Kafka sink.
func NewFromConfig(p Params) *Broadcaster {
	log := p.Log.Named("broadcast")
	sinks := []Sink{p.Hub}

	var kafka *KafkaSink
	if len(p.Cfg.Kafka.Brokers) > 0 {
		producer, err := newKafkaProducer(p.Cfg.Kafka.Brokers, p.Cfg.Kafka.ClientID)
		if err != nil {
			log.Warn("kafka sink disabled", zap.Strings("brokers", p.Cfg.Kafka.Brokers), zap.Error(err))
		} else {
			kafka = NewKafkaSink(producer, p.Cfg.Kafka.PaymentTopic)
			sinks = append(sinks, kafka)
		}
	}

	if p.Redis != nil {
		sinks = append(sinks, NewRedisSink(p.Redis, RedisChannel))
	}

	b := New(p.Log, p.Clock, p.ObsMetrics, sinks...)
	b.SetSendTimeout(time.Duration(p.Cfg.BroadcastTimeoutMillis) * time.Millisecond)

	var rl *relay
	if p.Redis != nil {
		rl = newRelay(p.Redis, RedisChannel, b.Origin(), p.Hub, log)
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if rl != nil {
				rl.start(context.Background())
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			var errs []error
			if rl != nil {
				errs = append(errs, rl.stop())
			}
			if kafka != nil {
				errs = append(errs, kafka.Close())
			}
			return errors.Join(errs...)
		},
	})
	return b
}
