package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultReservationTTL is how long a scope's high-water mark outlives its last reservation.
	DefaultReservationTTL = 10 * time.Minute

	reservationKeyPrefix = "studyfolders:code:"
)

// reserveScript returns max(observed, last+1) and stores it as the new
// high-water mark, atomically per key.
var reserveScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]) or '-1')
local issued = tonumber(ARGV[1])
if last + 1 > issued then
	issued = last + 1
end
redis.call('SET', KEYS[1], issued, 'PX', ARGV[2])
return issued
`)

// RedisReserver serializes code issuance per scope across service replicas.
type RedisReserver struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// NewRedisReserver creates a reserver. A non-positive ttl uses DefaultReservationTTL.
func NewRedisReserver(client *redis.Client, ttl time.Duration) *RedisReserver {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &RedisReserver{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (r *RedisReserver) Close() error {
	return r.client.Close()
}

// Reserve implements naming.Reserver.
func (r *RedisReserver) Reserve(ctx context.Context, scope string, observed int) (int, error) {
	ctx, span := tracer.Start(ctx, "redis.reserve_code",
		trace.WithAttributes(
			attribute.String("scope", scope),
			attribute.Int("observed", observed),
		),
	)
	defer span.End()

	next, err := reserveScript.Run(ctx, r.client, []string{reservationKeyPrefix + scope},
		observed, r.ttl.Milliseconds()).Int()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to reserve code for %s: %w", scope, err)
	}
	span.SetAttributes(attribute.Int("reserved", next))
	return next, nil
}
