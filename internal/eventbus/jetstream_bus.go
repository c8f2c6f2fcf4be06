package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/freeminer/freeminer-sub007/internal/logging"
)

// subjectPrefix - события публикуются в subject'ы freeminer.<type>
const subjectPrefix = "freeminer."

// JetStreamBus реализует EventBus поверх NATS JetStream
type JetStreamBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	stream    string
	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewJetStreamBus подключается к NATS и создает стрим, если его нет
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if stream == "" {
		stream = "FREEMINER_EVENTS"
	}

	nc, err := nats.Connect(url, nats.Name("freeminer-server"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subjectPrefix + "*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("add stream %s: %w", stream, err)
		}
	}

	logging.GetEventBusLogger().Info("JetStream bus connected to %s, stream %s", url, stream)
	return &JetStreamBus{nc: nc, js: js, stream: stream}, nil
}

// Publish сериализует Envelope в JSON и публикует в freeminer.<type>
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("сериализация события %s: %w", ev.ID, err)
	}
	if _, err := jb.js.Publish(subjectPrefix+ev.EventType, data, nats.Context(ctx), nats.MsgId(ev.ID)); err != nil {
		if !ev.Reliable {
			jb.dropped.Add(1)
			return nil
		}
		return fmt.Errorf("публикация события %s: %w", ev.ID, err)
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создает эфемерного потребителя; обработчик вызывается из горутины NATS
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := subjectPrefix + "*"
	if len(f.Types) == 1 {
		subj = subjectPrefix + f.Types[0]
	}

	sub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err == nil && f.match(&ev) {
			h(ctx, &ev)
			jb.consumed.Add(1)
		}
		_ = msg.Ack()
	}, nats.ManualAck(), nats.DeliverNew(), nats.AckWait(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("подписка на %s: %w", subj, err)
	}
	return &jetSub{sub}, nil
}

type jetSub struct {
	s *nats.Subscription
}

func (j *jetSub) Unsubscribe() {
	_ = j.s.Unsubscribe()
}

// Metrics возвращает счетчики; очередь JetStream ведет сам
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
	}
}

// Close сбрасывает буферы и закрывает соединение
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
