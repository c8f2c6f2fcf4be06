package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/freeminer/freeminer-sub007/internal/logging"
)

// InvalidatorConfig - параметры NATS
type InvalidatorConfig struct {
	NATSURL       string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// InvalidationMessage - сообщение об изменении ключа на другом узле
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NATSInvalidator рассылает инвалидации через NATS; собственные сообщения узла игнорируются
type NATSInvalidator struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	logger  *logging.Logger

	mu           sync.Mutex
	subscription *nats.Subscription
	handler      InvalidationHandler

	published atomic.Int64
	received  atomic.Int64
	errors    atomic.Int64
}

// NewNATSInvalidator подключается к NATS
func NewNATSInvalidator(cfg InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if cfg.Subject == "" {
		cfg.Subject = "freeminer.cache.invalidate"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	logger := logging.GetStorageLogger()

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("freeminer-"+nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS отключен: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS переподключен к %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("подключение к NATS %s: %w", cfg.NATSURL, err)
	}

	logger.Info("Инвалидация кэша через NATS: %s (subject %s, узел %s)", cfg.NATSURL, cfg.Subject, nodeID)
	return &NATSInvalidator{conn: conn, subject: cfg.Subject, nodeID: nodeID, logger: logger}, nil
}

func (n *NATSInvalidator) PublishInvalidation(_ context.Context, key string) error {
	data, err := json.Marshal(InvalidationMessage{Key: key, Timestamp: time.Now(), NodeID: n.nodeID})
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		n.errors.Add(1)
		return fmt.Errorf("публикация инвалидации %s: %w", key, err)
	}
	n.published.Add(1)
	return nil
}

// SubscribeInvalidations заменяет предыдущую подписку; она снимается при отмене ctx
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subscription != nil {
		_ = n.subscription.Unsubscribe()
	}
	sub, err := n.conn.Subscribe(n.subject, n.handleMessage)
	if err != nil {
		return fmt.Errorf("подписка на %s: %w", n.subject, err)
	}
	n.subscription = sub
	n.handler = handler

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.subscription == sub {
			_ = sub.Unsubscribe()
			n.subscription = nil
		}
	}()
	return nil
}

func (n *NATSInvalidator) handleMessage(msg *nats.Msg) {
	var m InvalidationMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		n.errors.Add(1)
		n.logger.Warn("Некорректное сообщение инвалидации: %v\n%s", err, logging.HexDump(msg.Data))
		return
	}
	if m.NodeID == n.nodeID {
		return
	}
	n.received.Add(1)

	n.mu.Lock()
	h := n.handler
	n.mu.Unlock()
	if h == nil {
		return
	}
	if err := h(m.Key); err != nil {
		n.errors.Add(1)
		n.logger.Warn("Инвалидация %s от узла %s: %v", m.Key, m.NodeID, err)
	}
}

// Stats возвращает счетчики опубликованных, принятых и ошибочных сообщений
func (n *NATSInvalidator) Stats() (published, received, errs int64) {
	return n.published.Load(), n.received.Load(), n.errors.Load()
}

func (n *NATSInvalidator) Close() error {
	n.mu.Lock()
	if n.subscription != nil {
		_ = n.subscription.Unsubscribe()
		n.subscription = nil
	}
	n.mu.Unlock()
	n.conn.Close()
	return nil
}
