package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/freeminer/freeminer-sub007/internal/logging"
)

const (
	traceIDKey = "trace_id"
	// resultCountKey - сколько блоков или объектов вернул обработчик
	resultCountKey = "result_count"
)

// SetResultCount сообщает журналу запросов размер выдачи (блоки, объекты)
func SetResultCount(c *gin.Context, n int) { c.Set(resultCountKey, n) }

// resourceOf отображает маршрут на ресурс окружения: /api/v1/blocks/active -> blocks
func resourceOf(route string) string {
	switch {
	case strings.HasPrefix(route, "/ws/events"):
		return "events"
	case strings.HasPrefix(route, "/api/v1/"):
		rest := strings.TrimPrefix(route, "/api/v1/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		return rest
	case route == "/health", route == "/metrics":
		return strings.TrimPrefix(route, "/")
	default:
		return "other"
	}
}

// RequestLogger пишет в журнал обращения к административному API:
// какой ресурс окружения запрошен, сколько элементов отдано и за какое время
type RequestLogger struct {
	logger *logging.Logger
}

func NewRequestLogger(logger *logging.Logger) *RequestLogger { return &RequestLogger{logger: logger} }

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(traceIDKey, traceID)

		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		resource := resourceOf(route)

		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)

		// Поток событий живет долго: пишем только факт закрытия
		if resource == "events" {
			rl.logger.Info("[admin] events stream from %s closed after %s trace=%s", c.ClientIP(), elapsed, traceID)
			return
		}

		if n, ok := c.Get(resultCountKey); ok {
			rl.logger.Info("[admin] %s %s %s -> %d in %s (%v items) trace=%s",
				resource, c.Request.Method, route, status, elapsed, n, traceID)
			return
		}
		if resource == "health" || resource == "metrics" {
			rl.logger.Debug("[admin] %s %s -> %d in %s", resource, c.Request.Method, status, elapsed)
			return
		}
		rl.logger.Info("[admin] %s %s %s -> %d in %s trace=%s",
			resource, c.Request.Method, route, status, elapsed, traceID)
	}
}
