package amqp

import (
	"context"

	"budget/internal/entitlement"
	"budget/internal/log"
)

const statusBuffer = 64

// StatusSink receives status messages, usually a *Client.
type StatusSink interface {
	PublishStatusChanged(ctx context.Context, msg *StatusChangedMessage) error
}

// StatusSource is implemented by *entitlement.Machine.
type StatusSource interface {
	Subscribe(fn func(entitlement.Status)) (unsubscribe func())
}

// StatusPublisher forwards entitlement transitions to a sink in order.
// Subscriber callbacks run under the machine's transition lock, so the
// callback only enqueues; Run does the publishing.
type StatusPublisher struct {
	sink   StatusSink
	logger *log.Logger
	queue  chan entitlement.Status
}

// NewStatusPublisher creates a publisher writing to sink.
func NewStatusPublisher(sink StatusSink, logger *log.Logger) *StatusPublisher {
	if logger == nil {
		logger = log.Nop()
	}
	return &StatusPublisher{
		sink:   sink,
		logger: logger.WithComponent(log.ComponentAMQP),
		queue:  make(chan entitlement.Status, statusBuffer),
	}
}

// Watch subscribes to src. Statuses that arrive while the buffer is full
// are dropped with a warning.
func (p *StatusPublisher) Watch(src StatusSource) (unsubscribe func()) {
	return src.Subscribe(func(s entitlement.Status) {
		select {
		case p.queue <- s:
		default:
			p.logger.Warn("Status queue full, dropping event", log.FieldStatus, s.String())
		}
	})
}

// Run publishes queued statuses until ctx is done.
func (p *StatusPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.queue:
			if err := p.sink.PublishStatusChanged(ctx, NewStatusChangedMessage(s)); err != nil {
				p.logger.WarnContext(ctx, "Failed to publish status change",
					log.FieldStatus, s.String(), log.FieldError, err)
			}
		}
	}
}

// PurchaseResultSink is implemented by *entitlement.Machine.
type PurchaseResultSink interface {
	HandlePurchaseResult(ctx context.Context, res entitlement.PurchaseResult)
}

// DeliverTo returns a PurchaseHandler that hands each result to sink.
func DeliverTo(sink PurchaseResultSink) PurchaseHandler {
	return func(ctx context.Context, msg *PurchaseResultMessage) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sink.HandlePurchaseResult(ctx, msg.Result())
		return nil
	}
}
