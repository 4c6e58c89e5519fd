package factory

import (
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

func TestNewModuleLogger(t *testing.T) {
	logger := NewModuleLogger("callback-service")
	if logger == nil {
		t.Fatal("expected logger")
	}
	entry, ok := logger.(*logrus.Entry)
	if !ok || entry.Data["module"] != "callback-service" {
		t.Fatalf("expected module field, got %+v", logger)
	}
}

func TestLoggerWithContextAddsRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	logger := LoggerWithContext(NewModuleLogger("payments-controller"), ctx)
	entry, ok := logger.(*logrus.Entry)
	if !ok || entry.Data["request_id"] != "req-123" {
		t.Fatalf("expected request_id field, got %+v", logger)
	}
}

func TestConfigureLoggerLevel(t *testing.T) {
	ConfigureLogger("debug", "text")
	defer ConfigureLogger("info", "json")

	if root().GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", root().GetLevel())
	}
}
