package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultRelayChannel = "qms.events"

const (
	relayMinBackoff = 500 * time.Millisecond
	relayMaxBackoff = 30 * time.Second
)

// RedisRelay publishes events through a Redis channel so that every process
// sharing the channel delivers them to its own local hub.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	local   *Hub
	logger  zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRedisRelay(client redis.UniversalClient, channel string, local *Hub, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:     client,
		channel:    channel,
		local:      local,
		logger:     logger,
		minBackoff: relayMinBackoff,
		maxBackoff: relayMaxBackoff,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, string(payload)).Err()
}

// Run subscribes to the relay channel and feeds the local hub until ctx is
// done or the subscription closes.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info().Str("channel", r.channel).Msg("subscribed to event relay")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.Deliver([]byte(msg.Payload))
		}
	}
}

// Supervise keeps the subscription alive until ctx is done. Every failed or
// dropped subscription is retried after a doubling delay capped at maxBackoff;
// a subscription that stayed up longer than maxBackoff resets the delay.
func (r *RedisRelay) Supervise(ctx context.Context) {
	r.supervise(ctx, r.Run)
}

func (r *RedisRelay) supervise(ctx context.Context, run func(context.Context) error) {
	delay := r.minBackoff
	for {
		started := time.Now()
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > r.maxBackoff {
			delay = r.minBackoff
		}
		r.logger.Warn().Err(err).Dur("retry_in", delay).Msg("event relay interrupted")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
		if delay > r.maxBackoff {
			delay = r.maxBackoff
		}
	}
}

// Deliver hands one relayed message to the local hub.
func (r *RedisRelay) Deliver(data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		r.logger.Warn().Err(err).Msg("invalid relayed event")
		return
	}
	if event.Topic == "" {
		r.logger.Warn().Msg("relayed event without topic")
		return
	}
	r.local.Broadcast(event.Topic, data)
}
