package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

const (
	keyPrefix   = "presence:"
	readTimeout = 250 * time.Millisecond
)

// RedisSource reads live availability published by the presence subsystem.
// Reads carry a short timeout; a slow or failing read reports the user
// offline rather than failing open into an invalid assignment.
type RedisSource struct {
	client   *redis.Client
	fallback Source
	logger   zerolog.Logger
}

// NewRedisSource creates a presence source over an existing Redis client.
// When fallback is non-nil, missing keys defer to it before resolving to
// offline, so locally ingested reports still count.
func NewRedisSource(client *redis.Client, fallback Source, logger zerolog.Logger) *RedisSource {
	return &RedisSource{
		client:   client,
		fallback: fallback,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// Availability resolves a user's presence from Redis
func (s *RedisSource) Availability(ctx context.Context, userID string) types.UserAvailability {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, keyPrefix+userID).Bytes()
	if err == redis.Nil {
		if s.fallback != nil {
			return s.fallback.Availability(ctx, userID)
		}
		return offline(userID)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("presence read failed, treating user as offline")
		return offline(userID)
	}

	var ua types.UserAvailability
	if err := json.Unmarshal(data, &ua); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("malformed presence record")
		return offline(userID)
	}
	if time.Since(ua.UpdatedAt) > StaleThreshold {
		return offline(userID)
	}
	ua.UserID = userID
	return ua
}

// Publish writes a presence report so other engine instances see it
func (s *RedisSource) Publish(ctx context.Context, ua types.UserAvailability) error {
	data, err := json.Marshal(ua)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+ua.UserID, data, StaleThreshold).Err()
}

func offline(userID string) types.UserAvailability {
	return types.UserAvailability{UserID: userID, CurrentStatus: types.AvailabilityOffline}
}
