package eventbus

import (
	"context"

	"github.com/freeminer/freeminer-sub007/internal/logging"
)

// StartLoggingListener пишет все события шины в лог на уровне TRACE
func StartLoggingListener(ctx context.Context, bus EventBus) (Subscription, error) {
	logger := logging.GetEventBusLogger()
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		logger.Trace("%s %s src=%s reliable=%t size=%dB", ev.ID, ev.EventType, ev.Source, ev.Reliable, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Logging listener subscribed to all events")
	return sub, nil
}
