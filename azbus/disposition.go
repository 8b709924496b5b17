package azbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/datatrails/go-servicebus-repro/tracing"
)

// Disposition describes the eventual demise of the message after processing by the client.
// Upstream is notified whether the message can be deleted, deadlettered or will be reprocessed later.
type Disposition int

const (
	DeadletterDisposition Disposition = iota
	AbandonDisposition
	RescheduleDisposition
	CompleteDisposition
)

func (d Disposition) String() string {
	switch d {
	case DeadletterDisposition:
		return "DeadLetter"
	case AbandonDisposition:
		return "Abandon"
	case RescheduleDisposition:
		return "Reschedule"
	case CompleteDisposition:
		return "Complete"
	}
	return fmt.Sprintf("Unknown%d", int(d))
}

var (
	ErrUnknownDisposition = errors.New("unknown disposition")
)

// Dispose settles msg and returns the settlement error, if any. Failures are
// also logged. The service redelivers a message that was not settled.
func (r *Receiver) Dispose(ctx context.Context, d Disposition, err error, msg *ReceivedMessage) error {
	switch d {
	case DeadletterDisposition:
		return r.DeadLetter(ctx, err, msg)
	case AbandonDisposition:
		return r.Abandon(ctx, err, msg)
	case RescheduleDisposition:
		return r.Reschedule(ctx, err, msg)
	case CompleteDisposition:
		return r.Complete(ctx, err, msg)
	}
	azerr := fmt.Errorf("message id %s: %w %d", msg.MessageID, ErrUnknownDisposition, int(d))
	r.log.Infof("%s", azerr)
	return azerr
}

// Abandon makes the message available again immediately.
func (r *Receiver) Abandon(ctx context.Context, err error, msg *ReceivedMessage) error {
	ctx = context.WithoutCancel(ctx)
	log := r.log.FromContext(ctx)
	defer log.Close()

	span, ctx := tracing.StartSpanFromContext(ctx, log, "Message.Abandon")
	defer span.Close()
	log.Infof("Abandon Message on DeliveryCount %d: %v", msg.DeliveryCount, err)
	err1 := r.receiver.AbandonMessage(ctx, msg, nil)
	if err1 != nil {
		azerr := fmt.Errorf("Abandon Message failure: %w", NewAzbusError(err1))
		log.Infof("%s", azerr)
		return azerr
	}
	return nil
}

// Reschedule leaves the message locked. Simply not settling it makes the
// service redeliver it once the lock expires. Always returns nil.
func (r *Receiver) Reschedule(ctx context.Context, err error, msg *ReceivedMessage) error {
	ctx = context.WithoutCancel(ctx)
	log := r.log.FromContext(ctx)
	defer log.Close()

	span, _ := tracing.StartSpanFromContext(ctx, log, "Message.Reschedule")
	defer span.Close()
	log.Infof("Reschedule Message on DeliveryCount %d: %v", msg.DeliveryCount, err)
	return nil
}

// DeadLetter explicitly deadletters a message.
func (r *Receiver) DeadLetter(ctx context.Context, err error, msg *ReceivedMessage) error {
	ctx = context.WithoutCancel(ctx)
	log := r.log.FromContext(ctx)
	defer log.Close()

	span, ctx := tracing.StartSpanFromContext(ctx, log, "Message.DeadLetter")
	defer span.Close()
	log.Infof("DeadLetter Message: %v", err)
	options := azservicebus.DeadLetterOptions{}
	if err != nil {
		options.Reason = to.Ptr(err.Error())
	}
	err1 := r.receiver.DeadLetterMessage(ctx, msg, &options)
	if err1 != nil {
		azerr := fmt.Errorf("DeadLetter Message failure: %w", NewAzbusError(err1))
		log.Infof("%s", azerr)
		return azerr
	}
	return nil
}

// Complete removes the message from the queue. err, if any, is only logged.
func (r *Receiver) Complete(ctx context.Context, err error, msg *ReceivedMessage) error {
	ctx = context.WithoutCancel(ctx)
	log := r.log.FromContext(ctx)
	defer log.Close()

	span, ctx := tracing.StartSpanFromContext(ctx, log, "Message.Complete")
	defer span.Close()

	if err != nil {
		log.Infof("Complete Message %v", err)
	} else {
		log.Debugf("Complete Message")
	}

	err1 := r.receiver.CompleteMessage(ctx, msg, nil)
	if err1 != nil {
		// If the completion fails then the message will get rescheduled, but it's effect will
		// have been made, so we could get duplication issues.
		azerr := fmt.Errorf("Complete: failed to settle message: %w", NewAzbusError(err1))
		log.Infof("%s", azerr)
		return azerr
	}
	return nil
}
