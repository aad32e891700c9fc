package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stan "github.com/nats-io/stan.go"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

const (
	DefaultStanSubject    = "order-changes"
	DefaultStanQueueGroup = "order-notifiers"
	DefaultStanDurable    = "order-notifiers-durable"
)

// StanConfig addresses a NATS Streaming cluster.
type StanConfig struct {
	ClusterID string
	ClientID  string
	URL       string
	Subject   string
	Durable   string
	Queue     string
	AckWait   time.Duration
}

func (c StanConfig) withDefaults() StanConfig {
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("order-svc-%d", time.Now().UnixNano())
	}
	if c.Subject == "" {
		c.Subject = DefaultStanSubject
	}
	if c.Durable == "" {
		c.Durable = DefaultStanDurable
	}
	if c.Queue == "" {
		c.Queue = DefaultStanQueueGroup
	}
	if c.AckWait <= 0 {
		c.AckWait = 10 * time.Second
	}
	return c
}

func (c StanConfig) connect(suffix string) (stan.Conn, error) {
	c = c.withDefaults()
	sc, err := stan.Connect(c.ClusterID, c.ClientID+suffix, stan.NatsURL(c.URL))
	if err != nil {
		return nil, fmt.Errorf("feed: failed to connect to nats streaming %s: %w", c.URL, err)
	}
	return sc, nil
}

// StanSource is a durable queue subscription. A message is acked once its
// event reached the reactor; undecodable messages are acked and dropped.
type StanSource struct {
	Config StanConfig
}

func (s *StanSource) Stream(ctx context.Context, out chan<- order.Change) error {
	cfg := s.Config.withDefaults()
	sc, err := cfg.connect("-sub")
	if err != nil {
		return err
	}
	defer sc.Close()

	sub, err := sc.QueueSubscribe(cfg.Subject, cfg.Queue, func(m *stan.Msg) {
		change, err := DecodeChange(m.Data)
		if err != nil {
			log.Error().Err(err).Uint64("sequence", m.Sequence).Msg("feed: dropping change event")
			ack(m)
			return
		}
		if err := deliver(ctx, out, change); err != nil {
			// left unacked for redelivery
			return
		}
		ack(m)
	}, stan.DurableName(cfg.Durable), stan.SetManualAckMode(), stan.AckWait(cfg.AckWait), stan.DeliverAllAvailable())
	if err != nil {
		return fmt.Errorf("feed: failed to subscribe to %s: %w", cfg.Subject, err)
	}
	log.Info().Str("subject", cfg.Subject).Str("queue", cfg.Queue).Msg("feed: consuming order changes from nats streaming")

	<-ctx.Done()
	if err := sub.Close(); err != nil {
		log.Warn().Err(err).Msg("feed: failed to close subscription")
	}
	return ctx.Err()
}

func ack(m *stan.Msg) {
	if err := m.Ack(); err != nil {
		log.Warn().Err(err).Uint64("sequence", m.Sequence).Msg("feed: ack failed")
	}
}

// StanPublisher sends the service's changes to the subject StanSource reads.
type StanPublisher struct {
	conn    stan.Conn
	subject string
}

func NewStanPublisher(cfg StanConfig) (*StanPublisher, error) {
	cfg = cfg.withDefaults()
	sc, err := cfg.connect("-pub")
	if err != nil {
		return nil, err
	}
	return &StanPublisher{conn: sc, subject: cfg.Subject}, nil
}

func (p *StanPublisher) PublishChange(_ context.Context, c order.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("feed: failed to encode change: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("feed: failed to publish change for order %s: %w", c.Current.ID, err)
	}
	return nil
}

func (p *StanPublisher) Close() error {
	return p.conn.Close()
}
