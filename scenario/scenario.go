package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/datatrails/go-servicebus-repro/azbus"
	"github.com/datatrails/go-servicebus-repro/errhandling"
	"github.com/datatrails/go-servicebus-repro/logger"
	"github.com/datatrails/go-servicebus-repro/metrics"
	"github.com/datatrails/go-servicebus-repro/startup"
	"github.com/datatrails/go-servicebus-repro/tracing"
)

var (
	ErrUnexpectedDelivery = errors.New("unexpected message delivery")
	errNotYetReceived     = errors.New("not yet received")
)

// Admin manages the entities of the scenario. *azbus.AZAdminClient
// satisfies it.
type Admin interface {
	EnsureQueue(ctx context.Context, d azbus.QueueDescription) error
	EnsureTopic(ctx context.Context, topicName string) error
	EnsureSubscription(ctx context.Context, d azbus.SubscriptionDescription, rule azbus.RuleDescription) error
	RecreateSubscription(ctx context.Context, topicName, subscriptionName string) error
	DeleteSubscription(ctx context.Context, topicName, subscriptionName string) error
	DeleteQueue(ctx context.Context, queueName string) error
	DeleteTopic(ctx context.Context, topicName string) error
}

// Publisher sends to the topic. *azbus.Sender satisfies it.
type Publisher interface {
	Send(ctx context.Context, message *azbus.OutMessage) error
	Close(ctx context.Context)
}

type PublisherFactory func(topicName string) Publisher

// ReceiverFactory returns a listener delivering the messages of the queue to
// handlers, one handler per concurrent call.
type ReceiverFactory func(queueName string, handlers ...azbus.Handler) startup.Listener

// Report is the outcome of a run.
type Report struct {
	Subscriber1 int64
	Subscriber2 int64
	Passed      bool
}

type Scenario struct {
	cfg       Config
	log       logger.Logger
	admin     Admin
	publisher PublisherFactory
	receiver  ReceiverFactory
	listeners []startup.Listener
	metrics   *metrics.Metrics
}

type Option func(*Scenario)

func WithAdmin(a Admin) Option {
	return func(s *Scenario) {
		s.admin = a
	}
}

func WithPublisher(f PublisherFactory) Option {
	return func(s *Scenario) {
		s.publisher = f
	}
}

func WithReceiver(f ReceiverFactory) Option {
	return func(s *Scenario) {
		s.receiver = f
	}
}

// WithListener runs l alongside the queue receivers, e.g. a metrics server.
func WithListener(l startup.Listener) Option {
	return func(s *Scenario) {
		s.listeners = append(s.listeners, l)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scenario) {
		s.metrics = m
	}
}

// New returns the scenario talking to the servicebus namespace of
// cfg.ConnectionString unless options replace the clients.
func New(log logger.Logger, cfg Config, opts ...Option) *Scenario {
	s := &Scenario{
		cfg: cfg,
		log: log.WithIndex("scenario", cfg.TopicName),
	}
	s.admin = azbus.NewAZAdminClient(log, cfg.ConnectionString)
	s.publisher = func(topicName string) Publisher {
		return azbus.NewSender(log, azbus.SenderConfig{
			ConnectionString: cfg.ConnectionString,
			TopicOrQueueName: topicName,
		})
	}
	s.receiver = func(queueName string, handlers ...azbus.Handler) startup.Listener {
		return azbus.NewReceiver(
			log,
			azbus.ReceiverConfig{
				ConnectionString: cfg.ConnectionString,
				TopicOrQueueName: queueName,
			},
			azbus.WithHandlers(handlers...),
		)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run provisions the entities, sends a message seen by both subscribers,
// unsubscribes the second one and sends another message that only the first
// subscriber must see. A delivery count other than 2 and 1 is reported as
// ErrUnexpectedDelivery. The receivers are stopped before Run returns.
func (s *Scenario) Run(ctx context.Context) (Report, error) {
	sub1 := newSubscriber(s.log, s.cfg.Subscriber1, s.metrics)
	sub2 := newSubscriber(s.log, s.cfg.Subscriber2, s.metrics)

	for _, sub := range []*subscriber{sub1, sub2} {
		if err := s.admin.EnsureQueue(ctx, s.cfg.QueueDescription(sub.name)); err != nil {
			return Report{}, err
		}
	}

	listeners := startup.NewListeners(
		s.log,
		"subscribers",
		startup.WithListener(s.receiver(sub1.name, sub1.handlers(s.cfg.MaxConcurrentCalls)...)),
		startup.WithListener(s.receiver(sub2.name, sub2.handlers(s.cfg.MaxConcurrentCalls)...)),
		startup.WithListeners(s.listeners...),
	)
	s.log.Infof("Queues creation requested. Message handlers registered.")

	var report Report
	g, gctx := errgroup.WithContext(ctx)
	listenCtx, stopListening := context.WithCancel(gctx)
	defer stopListening()

	g.Go(func() error {
		return listeners.Listen(listenCtx)
	})
	g.Go(func() error {
		defer stopListening()
		var err error
		report, err = s.steps(gctx, sub1, sub2)
		return err
	})
	err := g.Wait()
	if err != nil && !errors.Is(err, ErrUnexpectedDelivery) {
		return Report{Subscriber1: sub1.count(), Subscriber2: sub2.count()}, err
	}
	return report, err
}

func (s *Scenario) steps(ctx context.Context, sub1, sub2 *subscriber) (Report, error) {
	if err := s.provision(ctx, sub1, sub2); err != nil {
		return Report{}, err
	}

	s.log.Infof("Waiting for %s prior to sending a message...", s.cfg.SettleDelay)
	if err := sleep(ctx, s.cfg.SettleDelay); err != nil {
		return Report{}, err
	}

	publisher := s.publisher(s.cfg.TopicName)
	defer publisher.Close(context.WithoutCancel(ctx))

	if err := s.publish(ctx, publisher, "msg #1"); err != nil {
		return Report{}, err
	}

	if err := s.waitFor(ctx, sub2); err != nil {
		return Report{}, err
	}

	if err := s.unsubscribe(ctx, sub2); err != nil {
		return Report{}, err
	}

	if err := s.publish(ctx, publisher, "msg #2"); err != nil {
		return Report{}, err
	}

	s.log.Infof("Waiting for %s...", s.cfg.SettleDelay)
	if err := sleep(ctx, s.cfg.SettleDelay); err != nil {
		return Report{}, err
	}

	return s.verify(sub1, sub2)
}

// provision creates the topic, both subscriptions and, if configured, the
// wiretap.
func (s *Scenario) provision(ctx context.Context, subs ...*subscriber) error {
	span, ctx := tracing.StartSpanFromContext(ctx, s.log, "Scenario.Provision")
	defer span.Close()

	for _, sub := range subs {
		if err := s.admin.EnsureTopic(ctx, s.cfg.TopicName); err != nil {
			return err
		}
		if err := s.ensureSubscription(ctx, sub.name); err != nil {
			return err
		}
	}
	if s.cfg.Wiretap {
		if err := s.admin.RecreateSubscription(ctx, s.cfg.TopicName, s.cfg.WiretapName); err != nil {
			return err
		}
		s.log.Infof("Created wiretap.")
	}
	s.log.Infof("Topic and subscriptions creation/update requested.")
	return nil
}

// ensureSubscription tolerates an existing subscription and transient
// failures. Anything else aborts the run.
func (s *Scenario) ensureSubscription(ctx context.Context, name string) error {
	d := s.cfg.SubscriptionDescription(name)

	err := s.admin.EnsureSubscription(ctx, d, s.cfg.Rule())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, azbus.ErrAlreadyExists):
		s.log.Infof("Subscription '%s' already exists.", d.Name)
		return nil
	}

	message := errhandling.Describe(
		azbus.NewAzbusError(err),
		fmt.Sprintf("error occurred on subscription '%s' creation for topic '%s'.", d.Name, d.TopicName),
	)
	s.log.Infof("%s\n%v", message, err)
	if azbus.IsTransient(err) {
		return nil
	}
	return err
}

func (s *Scenario) publish(ctx context.Context, publisher Publisher, body string) error {
	span, ctx := tracing.StartSpanFromContext(ctx, s.log, "Scenario.Publish")
	defer span.Close()
	span.SetTag("body", body)

	msg := azbus.NewOutMessageFromString(body)
	azbus.OutMessageSetProperty(msg, EnclosedMessageTypesProperty, s.cfg.EventType)
	if err := publisher.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", body, err)
	}
	s.metrics.MessageSent(s.cfg.TopicName)
	s.log.Infof("%s sent to the topic %s.", body, s.cfg.TopicName)
	return nil
}

// waitFor polls until sub has received a message or the poll timeout
// expires.
func (s *Scenario) waitFor(ctx context.Context, sub *subscriber) error {
	span, ctx := tracing.StartSpanFromContext(ctx, s.log, "Scenario.WaitFor")
	defer span.Close()

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	err := backoff.Retry(
		func() error {
			if sub.count() < 1 {
				return errNotYetReceived
			}
			return nil
		},
		backoff.WithContext(backoff.NewConstantBackOff(s.cfg.PollInterval), pollCtx),
	)
	if err != nil {
		return fmt.Errorf("%s received nothing within %s: %w", sub.name, s.cfg.PollTimeout, err)
	}
	return nil
}

func (s *Scenario) unsubscribe(ctx context.Context, sub *subscriber) error {
	span, ctx := tracing.StartSpanFromContext(ctx, s.log, "Scenario.Unsubscribe")
	defer span.Close()

	if err := s.admin.DeleteSubscription(ctx, s.cfg.TopicName, sub.name); err != nil {
		return err
	}
	s.log.Infof("Subscription %s has been removed.", sub.name)
	return nil
}

func (s *Scenario) verify(sub1, sub2 *subscriber) (Report, error) {
	report := Report{
		Subscriber1: sub1.count(),
		Subscriber2: sub2.count(),
	}
	report.Passed = report.Subscriber1 == 2 && report.Subscriber2 == 1
	if report.Passed {
		s.log.Infof("%s received %d messages and %s received %d as expected.", sub1.name, report.Subscriber1, sub2.name, report.Subscriber2)
		return report, nil
	}

	s.log.Infof("Redmond, we've got a problem...")
	s.log.Infof("subscriber2Count was expected to receive 1 messages, but got %d", report.Subscriber2)
	s.log.Infof("subscriber1Count was expected to receive 2 messages, but got %d", report.Subscriber1)
	return report, fmt.Errorf(
		"%w: %s got %d, %s got %d",
		ErrUnexpectedDelivery, sub1.name, report.Subscriber1, sub2.name, report.Subscriber2,
	)
}

// Cleanup removes everything Run creates. Missing entities are skipped and
// failures do not stop the remaining deletions.
func (s *Scenario) Cleanup(ctx context.Context) error {
	var err error
	for _, sub := range []string{s.cfg.Subscriber1, s.cfg.Subscriber2, s.cfg.WiretapName} {
		if e := s.admin.DeleteSubscription(ctx, s.cfg.TopicName, sub); e != nil {
			err = errors.Join(err, e)
			continue
		}
		s.log.Infof("Removed subscription %s/%s", s.cfg.TopicName, sub)
	}
	if e := s.admin.DeleteTopic(ctx, s.cfg.TopicName); e != nil {
		err = errors.Join(err, e)
	} else {
		s.log.Infof("Removed topic %s", s.cfg.TopicName)
	}
	for _, queue := range []string{s.cfg.Subscriber1, s.cfg.Subscriber2} {
		if e := s.admin.DeleteQueue(ctx, queue); e != nil {
			err = errors.Join(err, e)
			continue
		}
		s.log.Infof("Removed queue %s", queue)
	}
	return err
}

// sleep waits for d unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
