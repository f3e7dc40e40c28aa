package app

import (
	"context"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Dependencies enumerates core services shared across modules to make wiring
// explicit.
type Dependencies struct {
	Context         context.Context
	DB              *pgxpool.Pool
	Redis           *redis.Client
	Validator       *validator.Validate
	Limiter         *limiter.Limiter
	LimiterStore    limiter.Store
	MetricsRegistry *prometheus.Registry
	TracerProvider  trace.TracerProvider
}

// NewLimiterStore wires a rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "testkart:ratelimit",
	})
}

// NewLimiter parses a rate like "60-M" and builds a limiter over the store.
func NewLimiter(store limiter.Store, rate string) (*limiter.Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(strings.TrimSpace(rate))
	if err != nil {
		return nil, err
	}
	return limiter.New(store, parsed), nil
}

// Tracer returns the default OpenTelemetry tracer for instrumentation hooks.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
