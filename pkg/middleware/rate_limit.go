package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "maintenance:ratelimit"

type RateLimitConfig struct {
	RequestsPerPeriod  int
	Period             time.Duration
	Store              limiter.Store
	TrustForwardHeader bool
}

func NewMemoryStore() limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          rateLimitPrefix,
		CleanUpInterval: time.Minute,
	})
}

func NewRedisStore(url string) (limiter.Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return sredis.NewStoreWithOptions(redis.NewClient(opts), limiter.StoreOptions{
		Prefix: rateLimitPrefix,
	})
}

// RateLimit limits requests per client IP. A non-positive rate disables it.
func RateLimit(cfg RateLimitConfig) mux.MiddlewareFunc {
	if cfg.RequestsPerPeriod <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	rate := limiter.Rate{Period: cfg.Period, Limit: int64(cfg.RequestsPerPeriod)}
	instance := limiter.New(cfg.Store, rate, limiter.WithTrustForwardHeader(cfg.TrustForwardHeader))
	return stdlib.NewMiddleware(instance).Handler
}
