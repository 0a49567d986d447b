package constants

import (
	"github.com/go-playground/validator/v10"
)

type ContextKey string

const (
	TxKey        ContextKey = "tx"
	PoolKey      ContextKey = "pool"
	LoggerKey    ContextKey = "logger"
	RequestIDKey ContextKey = "request_id"
	ActorKey     ContextKey = "actor"
	LocaleKey    ContextKey = "locale"
)

// Validate is the shared validator instance; it caches struct metadata.
var Validate = validator.New(validator.WithRequiredStructEnabled())
