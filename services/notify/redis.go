package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/metrics"
	"github.com/trezcool/classboard/core/presence"
)

const publishTimeout = 2 * time.Second

// envelope is what travels through the Redis channel.
type envelope struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RedisEmitter fans events out to every API instance through Redis pub/sub.
// Each instance runs Listen and delivers the events to its own Hub.
type RedisEmitter struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     core.Logger
}

var _ presence.Emitter = (*RedisEmitter)(nil)

func NewRedisEmitter(client *redis.Client, channel string, hub *Hub, logger core.Logger) *RedisEmitter {
	return &RedisEmitter{client: client, channel: channel, hub: hub, log: logger}
}

// NewRedisClient connects to Redis and checks it answers.
func NewRedisClient(ctx context.Context, conf core.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return client, nil
}

// Emit publishes the event once. A failed publish is logged and the event is dropped.
func (e *RedisEmitter) Emit(event string, payload interface{}, room string) {
	data, err := json.Marshal(payload)
	if err == nil {
		var msg []byte
		msg, err = json.Marshal(envelope{Room: room, Event: event, Data: data})
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err = e.client.Publish(ctx, e.channel, msg).Err()
			cancel()
		}
	}
	if err != nil {
		metrics.EmitsTotal.WithLabelValues(event, "error").Inc()
		e.log.Error("publishing "+event, errors.WithStack(err), map[string]interface{}{"room": room})
		return
	}
	metrics.EmitsTotal.WithLabelValues(event, "ok").Inc()
}

// Listen delivers the events published on the channel to the local Hub until ctx is done.
func (e *RedisEmitter) Listen(ctx context.Context) error {
	sub := e.client.Subscribe(ctx, e.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribing to "+e.channel)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				e.log.Warn("dropping malformed event", errors.WithStack(err))
				continue
			}
			frame, err := json.Marshal(Frame{Event: env.Event, Data: env.Data})
			if err != nil {
				continue
			}
			e.hub.Broadcast(env.Room, frame)
		}
	}
}
