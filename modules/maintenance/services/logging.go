package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
)

func logWithFields(ctx context.Context, level logrus.Level, msg string, fields logrus.Fields) {
	composables.UseLogger(ctx).WithFields(fields).Log(level, msg)
}

// logRejected records a refused mutation with the stable error code.
func logRejected(ctx context.Context, msg string, err error, fields logrus.Fields) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		fields["error_code"] = svcErr.Code
	}
	level := logrus.InfoLevel
	if svcErr != nil && svcErr.Status >= 500 {
		level = logrus.ErrorLevel
	}
	fields["error"] = err.Error()
	logWithFields(ctx, level, msg, fields)
}
