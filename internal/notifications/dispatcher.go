package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
)

const (
	EventTransactionCompleted = "payment_transaction.completed"
	EventTransactionFailed    = "payment_transaction.failed"
)

// Publisher sends one event payload. Implementations own delivery semantics.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) error
}

// TopicPublisher adapts a Pub/Sub publisher handle to the Publisher interface,
// blocking until the broker acknowledges the message.
type TopicPublisher struct {
	topic *pubsub.Publisher
}

// NewTopicPublisher wraps the given publisher handle.
func NewTopicPublisher(topic *pubsub.Publisher) *TopicPublisher {
	return &TopicPublisher{topic: topic}
}

func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) error {
	if p == nil || p.topic == nil {
		return fmt.Errorf("events topic not configured")
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
	_, err := result.Get(ctx)
	return err
}

// transactionEvent is the wire shape consumed by downstream borrower
// messaging.
type transactionEvent struct {
	Event         string    `json:"event"`
	TransactionID string    `json:"transaction_id"`
	LoanID        string    `json:"loan_id"`
	Kind          string    `json:"kind"`
	ScheduleSlot  int       `json:"schedule_slot"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	ErrorCode     *string   `json:"error_code,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Dispatcher publishes terminal transaction outcomes. Delivery is best
// effort: failures are logged and never surfaced to the payment flow.
type Dispatcher struct {
	publisher Publisher
	logg      *logger.Logger
	now       func() time.Time
}

// NewDispatcher wires the event dispatcher.
func NewDispatcher(publisher Publisher, logg *logger.Logger) (*Dispatcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Dispatcher{publisher: publisher, logg: logg, now: time.Now}, nil
}

// TransactionCompleted announces a settled disbursement or collection.
func (d *Dispatcher) TransactionCompleted(ctx context.Context, txn *models.PaymentTransaction) {
	d.dispatch(ctx, EventTransactionCompleted, txn)
}

// TransactionFailed announces a terminal payment failure.
func (d *Dispatcher) TransactionFailed(ctx context.Context, txn *models.PaymentTransaction) {
	d.dispatch(ctx, EventTransactionFailed, txn)
}

func (d *Dispatcher) dispatch(ctx context.Context, event string, txn *models.PaymentTransaction) {
	if txn == nil {
		return
	}
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"event":          event,
		"transaction_id": txn.ID,
		"loan_id":        txn.LoanID,
	})

	payload, err := json.Marshal(transactionEvent{
		Event:         event,
		TransactionID: txn.ID.String(),
		LoanID:        txn.LoanID.String(),
		Kind:          txn.Kind.String(),
		ScheduleSlot:  txn.ScheduleSlot,
		Status:        txn.Status.String(),
		Amount:        txn.Amount.StringFixed(2),
		ErrorCode:     txn.ErrorCode,
		OccurredAt:    d.now().UTC(),
	})
	if err != nil {
		d.logg.Error(logCtx, "encoding transaction event", err)
		return
	}

	if err := d.publisher.Publish(ctx, payload, map[string]string{"event": event}); err != nil {
		d.logg.Error(logCtx, "publishing transaction event", err)
		return
	}
	d.logg.Info(logCtx, "transaction event published")
}
