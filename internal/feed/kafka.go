package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
	"github.com/vasiliy-maslov/food-ordering/pkg/kafka"
)

// KafkaSource consumes change events from a topic. An offset is committed
// only once its event was handed to the reactor.
type KafkaSource struct {
	Reader kafka.Reader
}

func (s *KafkaSource) Stream(ctx context.Context, out chan<- order.Change) error {
	log.Info().Msg("feed: consuming order changes from kafka")
	for {
		msg, err := s.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: failed to fetch change event: %w", err)
		}

		change, err := DecodeChange(msg.Value)
		if err != nil {
			log.Error().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("feed: dropping change event")
		} else if err := deliver(ctx, out, change); err != nil {
			return err
		}

		if err := s.Reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("feed: failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

// KafkaPublisher sends the service's changes to the topic KafkaSource reads,
// keyed by order id.
type KafkaPublisher struct {
	Writer kafka.Writer
}

func (p *KafkaPublisher) PublishChange(ctx context.Context, c order.Change) error {
	if err := kafka.PublishJSON(ctx, p.Writer, c.Current.ID.String(), c); err != nil {
		return fmt.Errorf("feed: failed to publish change for order %s: %w", c.Current.ID, err)
	}
	return nil
}
