package util

import (
	"fmt"

	"go.uber.org/zap"
)

// LogError logs an error with component and operation context.
// This helper standardizes error logging across the codebase.
//
// Example:
//
//	LogError(logger, "websocket", "upgrade connection", err, "remote", addr)
func LogError(logger *zap.SugaredLogger, component, operation string, err error, fields ...interface{}) {
	allFields := []interface{}{"error", err, "component", component}
	allFields = append(allFields, fields...)
	logger.Errorw(fmt.Sprintf("Failed to %s", operation), allFields...)
}
