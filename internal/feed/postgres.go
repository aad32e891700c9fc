package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

const DefaultChannel = "order_changes"

// PostgresSource listens for the notifications raised by the orders trigger.
type PostgresSource struct {
	DSN          string
	Channel      string
	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration

	// OnReconnect runs after the connection was re-established. Events raised
	// while disconnected are lost.
	OnReconnect func()
}

func (s *PostgresSource) Stream(ctx context.Context, out chan<- order.Change) error {
	channel := s.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	minReconnect, maxReconnect := s.MinReconnect, s.MaxReconnect
	if minReconnect <= 0 {
		minReconnect = time.Second
	}
	if maxReconnect < minReconnect {
		maxReconnect = time.Minute
	}
	ping := s.PingInterval
	if ping <= 0 {
		ping = 90 * time.Second
	}

	listener := pq.NewListener(s.DSN, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("feed: postgres listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(channel); err != nil {
		return fmt.Errorf("feed: failed to listen on %s: %w", channel, err)
	}
	log.Info().Str("channel", channel).Msg("feed: listening for order changes")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n := <-listener.Notify:
			if n == nil {
				log.Warn().Str("channel", channel).Msg("feed: listener reconnected")
				if s.OnReconnect != nil {
					s.OnReconnect()
				}
				continue
			}
			change, err := DecodeChange([]byte(n.Extra))
			if err != nil {
				log.Error().Err(err).Str("payload", n.Extra).Msg("feed: dropping change event")
				continue
			}
			if err := deliver(ctx, out, change); err != nil {
				return err
			}

		case <-time.After(ping):
			go func() {
				if err := listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("feed: listener ping failed")
				}
			}()
		}
	}
}
