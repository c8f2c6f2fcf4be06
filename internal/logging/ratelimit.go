package logging

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited пропускает не больше burst сообщений за период every.
// Подавленные сообщения считаются и упоминаются в следующем пропущенном.
type RateLimited struct {
	logger     *Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewRateLimited создает ограничитель для логгера компонента
func NewRateLimited(logger *Logger, every time.Duration, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(every), burst),
	}
}

// Warn пишет предупреждение, если лимит позволяет. Возвращает true, если сообщение записано.
func (r *RateLimited) Warn(format string, args ...interface{}) bool {
	if !r.limiter.Allow() {
		r.suppressed.Add(1)
		return false
	}
	if n := r.suppressed.Swap(0); n > 0 {
		format += " (suppressed %d similar)"
		args = append(args, n)
	}
	r.logger.Warn(format, args...)
	return true
}

// Suppressed возвращает число подавленных с последней записи сообщений
func (r *RateLimited) Suppressed() int64 {
	return r.suppressed.Load()
}
