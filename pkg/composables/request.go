package composables

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/constants"
)

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the request-scoped logger, or the standard logger when
// the call did not come through the HTTP middleware.
func UseLogger(ctx context.Context) *logrus.Entry {
	if logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry); ok && logger != nil {
		return logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, id)
}

func UseRequestID(ctx context.Context) string {
	id, _ := ctx.Value(constants.RequestIDKey).(string)
	return id
}
