package notify

import (
	"context"
	"fmt"

	"github.com/vasiliy-maslov/food-ordering/pkg/kafka"
)

// KafkaNotifier publishes notifications to a topic keyed by the customer id,
// so a customer's notifications stay ordered on one partition.
type KafkaNotifier struct {
	writer kafka.Writer
}

func NewKafkaNotifier(writer kafka.Writer) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	if err := kafka.PublishJSON(ctx, k.writer, n.UserID.String(), n); err != nil {
		return fmt.Errorf("notify: failed to publish notification for order %s: %w", n.OrderID, err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
