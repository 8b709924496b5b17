package azbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/datatrails/go-servicebus-repro/spanner"
	"github.com/datatrails/go-servicebus-repro/tracing"
)

var (
	ErrNoHandler = errors.New("no handler defined")
)

// Handler processes a ReceivedMessage.
// The returned Disposition decides how the receiver settles the message,
// handlers never settle messages themselves.
type Handler interface {
	Handle(context.Context, *ReceivedMessage) (Disposition, context.Context, error)
	Open() error
	Close()
}

// SettledHandler is implemented by handlers that must know their message was
// settled as asked. Settled is not called when settling failed, as the
// message will be delivered again, nor for RescheduleDisposition.
type SettledHandler interface {
	Settled(context.Context, Disposition, *ReceivedMessage)
}

const (
	// DefaultRenewalTime is how often the message PEEK lock is renewed when
	// RenewMessageLock is set. It is comfortably inside the one minute
	// default lock duration.
	DefaultRenewalTime = 50 * time.Second
)

// ReceiverConfig configuration for an azure servicebus queue
type ReceiverConfig struct {
	ConnectionString string

	// Name is the name of the queue or topic
	TopicOrQueueName string

	// SubscriptionName is the name of the topic subscription.
	// If blank then messages are received from a Queue.
	SubscriptionName string

	// RenewMessageLock restarts the peek lock every RenewMessageTime while a
	// handler is busy.
	RenewMessageLock bool

	// RenewMessageTime is the how often we want to renew the message PEEK lock
	RenewMessageTime time.Duration

	// If a deadletter receiver then this is true
	Deadletter bool
}

// Receiver to receive messages on a queue or subscription. Each handler runs
// in its own worker goroutine, so the number of handlers is the maximum
// number of messages processed concurrently. Messages are received in
// PeekLock mode and only settled after their handler has returned.
type Receiver struct {
	azClient AZClient

	Cfg ReceiverConfig

	log      Logger
	mtx      sync.Mutex
	receiver messageReceiver
	options  *azservicebus.ReceiverOptions
	handlers []Handler
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  bool
}

type ReceiverOption func(*Receiver)

// WithHandlers
// Add's individual message handlers to the receiver.
func WithHandlers(h ...Handler) ReceiverOption {
	return func(r *Receiver) {
		r.handlers = append(r.handlers, h...)
	}
}

// WithRenewalTime takes an optional time to renew the peek lock. This should be comfortably less
// than the peek lock timeout.
func WithRenewalTime(t time.Duration) ReceiverOption {
	return func(r *Receiver) {
		r.Cfg.RenewMessageTime = t
	}
}

// NewReceiver creates a new Receiver that will process a number of messages simultaneously.
func NewReceiver(log Logger, cfg ReceiverConfig, opts ...ReceiverOption) *Receiver {
	var r Receiver
	return newReceiver(&r, log, cfg, opts...)
}

// function outlining.
func newReceiver(r *Receiver, log Logger, cfg ReceiverConfig, opts ...ReceiverOption) *Receiver {
	options := &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	}
	if cfg.Deadletter {
		options.SubQueue = azservicebus.SubQueueDeadLetter
	}

	r.Cfg = cfg
	r.azClient = NewAZClient(cfg.ConnectionString)
	r.options = options
	r.handlers = []Handler{}
	r.log = log.WithIndex("receiver", r.String())
	for _, opt := range opts {
		opt(r)
	}

	if r.Cfg.RenewMessageTime == 0 {
		r.Cfg.RenewMessageTime = DefaultRenewalTime
	}

	return r
}

// String - returns string representation of receiver.
func (r *Receiver) String() string {
	// No log function calls in this method please.
	name := r.Cfg.TopicOrQueueName
	if r.Cfg.SubscriptionName != "" {
		name = fmt.Sprintf("%s.%s", name, r.Cfg.SubscriptionName)
	}
	if r.Cfg.Deadletter {
		name += ".deadletter"
	}
	return name
}

// handleReceivedMessageWithTracingContext continues the trace started by
// the sender, if the message carries one.
func (r *Receiver) handleReceivedMessageWithTracingContext(ctx context.Context, message *ReceivedMessage, handler Handler) (Disposition, context.Context, error) {
	var span spanner.Spanner
	span, ctx = tracing.NewSpanWithAttributes(ctx, "Receiver", r.log, ReceivedProperties(message))
	defer span.Close()
	return handler.Handle(ctx, message)
}

// processMessage hands msg to handler, settles it according to the returned
// disposition and logs how long that took.
func (r *Receiver) processMessage(ctx context.Context, count int, maxDuration time.Duration, msg *ReceivedMessage, handler Handler) {
	now := time.Now()

	r.log.Debugf("Processing message %d id %s", count, msg.MessageID)
	disp, ctx, err := r.handleReceivedMessageWithTracingContext(ctx, msg, handler)
	if settleErr := r.Dispose(ctx, disp, err, msg); settleErr == nil && disp != RescheduleDisposition {
		if sh, ok := handler.(SettledHandler); ok {
			sh.Settled(ctx, disp, msg)
		}
	}

	duration := time.Since(now)

	log := tracing.LogFromContext(ctx, r.log)
	defer log.Close()

	log.Debugf("Processing message %d id %s took %s", count, msg.MessageID, duration)

	// maxDuration is only defined if RenewMessageLock is false.
	if !r.Cfg.RenewMessageLock && duration >= maxDuration {
		log.Infof("WARNING: processing msg %d id %s duration %v took more than %v", count, msg.MessageID, duration, maxDuration)
	}
	if errors.Is(err, ErrPeekLockTimeout) {
		log.Infof("WARNING: processing msg %d id %s duration %s returned error: %v", count, msg.MessageID, duration, err)
	}
}

// renewMessageLock renews the given messages peek lock, so it doesn't lose the lock and get re-added to the message queue.
//
// Stop the message lock renewal by cancelling the passed in context
func (r *Receiver) renewMessageLock(ctx context.Context, count int, msg *ReceivedMessage) {
	ticker := time.NewTicker(r.Cfg.RenewMessageTime)
	defer ticker.Stop()

	var counter int
	r.log.Debugf("RenewMessageLock %d started", count)
	for {
		select {
		case <-ctx.Done():
			r.log.Debugf("RenewMessageLock %d stopped after %d executions", count, counter)
			return
		case t := <-ticker.C:
			counter++
			r.log.Debugf("RenewMessageLock %d (%d)", count, counter)
			// worst case the lock is lost and the message is received again.
			if err := r.receiver.RenewMessageLock(ctx, msg, nil); err != nil {
				azerr := fmt.Errorf("RenewMessageLock %d: failed to renew message lock at %v: %w", count, t, NewAzbusError(err))
				r.log.Infof("%s", azerr)
			}
		}
	}
}

// worker processes messages until msgs is closed. Messages already handed
// to a worker are always processed and settled, even after cancellation.
func (r *Receiver) worker(ctx context.Context, ii int, msgs <-chan *ReceivedMessage, wg *sync.WaitGroup) {
	r.log.Debugf("Start worker %d", ii)
	defer r.log.Debugf("Stop worker %d", ii)

	for msg := range msgs {
		func() {
			defer wg.Done()
			var renewCtx context.Context
			var renewCancel context.CancelFunc
			var maxDuration time.Duration
			if r.Cfg.RenewMessageLock {
				renewCtx, renewCancel = context.WithCancel(context.WithoutCancel(ctx))
				go r.renewMessageLock(renewCtx, ii+1, msg)
			} else {
				renewCtx, renewCancel, maxDuration = setTimeout(context.WithoutCancel(ctx), r.log, msg, r.Cfg.RenewMessageTime)
			}
			defer renewCancel()
			r.processMessage(renewCtx, ii+1, maxDuration, msg, r.handlers[ii])
		}()
	}
}

func (r *Receiver) receiveMessages(ctx context.Context) error {

	numberOfReceivedMessages := len(r.handlers)
	if numberOfReceivedMessages == 0 {
		return fmt.Errorf("%s: %w", r, ErrNoHandler)
	}
	r.log.Debugf(
		"NumberOfReceivedMessages %d, RenewMessageLock: %v",
		numberOfReceivedMessages,
		r.Cfg.RenewMessageLock,
	)

	// The channel never holds more than one batch, so sends below never block.
	msgs := make(chan *ReceivedMessage, numberOfReceivedMessages)
	defer close(msgs)

	var wg sync.WaitGroup
	for i := 0; i < numberOfReceivedMessages; i++ {
		go r.worker(ctx, i, msgs, &wg)
	}

	for {
		messages, err := r.receiver.ReceiveMessages(ctx, numberOfReceivedMessages, nil)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Debugf("receive stopped: %v", ctx.Err())
				return nil
			}
			azerr := fmt.Errorf("%s: ReceiveMessage failure: %w", r, NewAzbusError(err))
			r.log.Infof("%s", azerr)
			return azerr
		}
		total := len(messages)
		r.log.Debugf("total messages %d", total)

		// wait for the whole batch before asking for more
		for i := 0; i < total; i++ {
			wg.Add(1)
			msgs <- messages[i]
		}
		wg.Wait()
		r.log.Debugf("Processed %d messages", total)
	}
}

// The following 2 methods satisfy the startup.Listener interface.
func (r *Receiver) Listen() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.mtx.Lock()
	if r.stopped {
		// Shutdown won the race
		r.stopped = false
		r.mtx.Unlock()
		cancel()
		return nil
	}
	r.cancel = cancel
	r.done = done
	r.mtx.Unlock()
	defer close(done)
	defer cancel()

	r.log.Debugf("listen")
	err := r.open()
	if err != nil {
		azerr := fmt.Errorf("%s: ReceiveMessage failure: %w", r, err)
		r.log.Infof("%s", azerr)
		return azerr
	}
	return r.receiveMessages(ctx)
}

// Shutdown stops receiving and waits, at most until ctx is done, for
// messages already received to be settled before closing the receiver.
func (r *Receiver) Shutdown(ctx context.Context) error {
	r.mtx.Lock()
	cancel, done := r.cancel, r.done
	if cancel == nil {
		r.stopped = true
	}
	r.mtx.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			r.log.Infof("Shutdown: gave up waiting for in flight messages: %v", ctx.Err())
		}
	}
	r.close_(ctx)
	return nil
}

func (r *Receiver) open() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.receiver == nil {
		client, err := r.azClient.azClient()
		if err != nil {
			return err
		}

		var receiver *azservicebus.Receiver
		if r.Cfg.SubscriptionName != "" {
			receiver, err = client.NewReceiverForSubscription(r.Cfg.TopicOrQueueName, r.Cfg.SubscriptionName, r.options)
		} else {
			receiver, err = client.NewReceiverForQueue(r.Cfg.TopicOrQueueName, r.options)
		}
		if err != nil {
			return fmt.Errorf("failed to open receiver: %w", NewAzbusError(err))
		}
		r.receiver = receiver
	}

	for j := 0; j < len(r.handlers); j++ {
		if err := r.handlers[j].Open(); err != nil {
			return fmt.Errorf("failed to open handler: %w", err)
		}
	}
	return nil
}

func (r *Receiver) close_(ctx context.Context) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.cancel = nil
	r.done = nil
	if r.receiver == nil {
		return
	}
	r.log.Debugf("Close")
	for j := 0; j < len(r.handlers); j++ {
		r.handlers[j].Close()
	}

	err := r.receiver.Close(ctx)
	if err != nil {
		azerr := fmt.Errorf("%s: Error closing receiver: %w", r, NewAzbusError(err))
		r.log.Infof("%s", azerr)
	}
	r.receiver = nil
}
