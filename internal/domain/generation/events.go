package generation

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// EventsChannel carries job events from workers to every API instance.
const EventsChannel = "generation:events"

// RedisPublisher fans job events out through Redis pub/sub.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(redisClient *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: redisClient}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	if p == nil || p.redis == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal generation event")
		return
	}
	if err := p.redis.Publish(ctx, EventsChannel, data).Err(); err != nil {
		log.Warn().Err(err).Str("job_id", event.JobID.String()).Msg("Generation event publish failed")
	}
}
