package factory

import (
	"os"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

var (
	baseLogger *logrus.Logger
	baseOnce   sync.Once
)

// ConfigureLogger sets the level and format of every module logger. It is
// safe to call before or after NewModuleLogger.
func ConfigureLogger(level, format string) {
	logger := root()

	if parsed, err := logrus.ParseLevel(strings.TrimSpace(level)); err == nil {
		logger.SetLevel(parsed)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func NewModuleLogger(module string) logrus.FieldLogger {
	return root().WithField("module", module)
}

// LoggerWithContext tags logger with the request id of the current HTTP request.
func LoggerWithContext(logger logrus.FieldLogger, ctx echo.Context) logrus.FieldLogger {
	requestID := ctx.Request().Header.Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = ctx.Response().Header().Get(echo.HeaderXRequestID)
	}
	if requestID == "" {
		return logger
	}
	return logger.WithField("request_id", requestID)
}

func root() *logrus.Logger {
	baseOnce.Do(func() {
		baseLogger = logrus.New()
		baseLogger.SetOutput(os.Stdout)
		baseLogger.SetFormatter(&logrus.JSONFormatter{})
		baseLogger.SetLevel(logrus.InfoLevel)
	})
	return baseLogger
}
