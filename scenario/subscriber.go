package scenario

import (
	"context"
	"sync/atomic"

	"github.com/datatrails/go-servicebus-repro/azbus"
	"github.com/datatrails/go-servicebus-repro/logger"
	"github.com/datatrails/go-servicebus-repro/metrics"
)

// subscriber counts the messages completed on its queue. It is its own
// azbus.Handler and is shared by all workers of the queue receiver.
type subscriber struct {
	name     string
	log      logger.Logger
	metrics  *metrics.Metrics
	received atomic.Int64
}

var _ azbus.SettledHandler = (*subscriber)(nil)

func newSubscriber(log logger.Logger, name string, m *metrics.Metrics) *subscriber {
	return &subscriber{
		name:    name,
		log:     log.WithIndex("subscriber", name),
		metrics: m,
	}
}

// handlers returns the subscriber n times, one per concurrent call.
func (s *subscriber) handlers(n int) []azbus.Handler {
	h := make([]azbus.Handler, n)
	for i := range h {
		h[i] = s
	}
	return h
}

func (s *subscriber) count() int64 {
	return s.received.Load()
}

func (s *subscriber) Handle(ctx context.Context, msg *azbus.ReceivedMessage) (azbus.Disposition, context.Context, error) {
	log := s.log.FromContext(ctx)
	defer log.Close()

	var sequence int64
	if msg.SequenceNumber != nil {
		sequence = *msg.SequenceNumber
	}
	log.Infof("Received message on %s. Message info: body=%s id=%s sequence=%d.", s.name, msg.Body, msg.MessageID, sequence)
	return azbus.CompleteDisposition, ctx, nil
}

// Settled counts msg once its completion succeeded. A message whose
// completion failed comes back and is counted then.
func (s *subscriber) Settled(_ context.Context, _ azbus.Disposition, _ *azbus.ReceivedMessage) {
	s.received.Add(1)
	s.metrics.MessageReceived(s.name)
}

func (s *subscriber) Open() error {
	return nil
}

func (s *subscriber) Close() {}
