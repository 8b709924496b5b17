package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/datatrails/go-servicebus-repro/azbus"
	"github.com/datatrails/go-servicebus-repro/startup"
)

// fakeBus is an in memory namespace: messages sent to a topic are copied to
// every subscription whose rule mentions the enclosed message type and
// forwarded to the subscription's queue.
type fakeBus struct {
	mtx      sync.Mutex
	queues   map[string]chan *azbus.ReceivedMessage
	topics   map[string]bool
	subs     map[string]azbus.SubscriptionDescription
	rules    map[string]azbus.RuleDescription
	removed  map[string]azbus.SubscriptionDescription
	sequence int64
	sent     int

	// stale keeps delivering to removed subscriptions
	stale bool
	// subErrs fails EnsureSubscription for the named subscription
	subErrs map[string]error
	// deleteErrs fails the deletion of the named entity
	deleteErrs map[string]error
	// failCompletes fails that many completions on the named queue, which
	// redelivers the message
	failCompletes map[string]int

	publishers []*fakePublisher
	receivers  map[string]*fakeQueueReceiver
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		queues:     map[string]chan *azbus.ReceivedMessage{},
		topics:     map[string]bool{},
		subs:       map[string]azbus.SubscriptionDescription{},
		rules:      map[string]azbus.RuleDescription{},
		removed:    map[string]azbus.SubscriptionDescription{},
		subErrs:       map[string]error{},
		deleteErrs:    map[string]error{},
		failCompletes: map[string]int{},
		receivers:     map[string]*fakeQueueReceiver{},
	}
}

func key(topic, name string) string { return topic + "/" + name }

func (b *fakeBus) EnsureQueue(_ context.Context, d azbus.QueueDescription) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if _, ok := b.queues[d.Name]; !ok {
		b.queues[d.Name] = make(chan *azbus.ReceivedMessage, 16)
	}
	return nil
}

func (b *fakeBus) EnsureTopic(_ context.Context, topicName string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.topics[topicName] = true
	return nil
}

func (b *fakeBus) EnsureSubscription(_ context.Context, d azbus.SubscriptionDescription, rule azbus.RuleDescription) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if err := b.subErrs[d.Name]; err != nil {
		return err
	}
	b.subs[key(d.TopicName, d.Name)] = d
	b.rules[key(d.TopicName, d.Name)] = rule
	return nil
}

func (b *fakeBus) RecreateSubscription(_ context.Context, topicName, subscriptionName string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.subs[key(topicName, subscriptionName)] = azbus.SubscriptionDescription{TopicName: topicName, Name: subscriptionName}
	return nil
}

func (b *fakeBus) DeleteSubscription(_ context.Context, topicName, subscriptionName string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if err := b.deleteErrs[subscriptionName]; err != nil {
		return err
	}
	k := key(topicName, subscriptionName)
	if d, ok := b.subs[k]; ok {
		b.removed[k] = d
	}
	delete(b.subs, k)
	return nil
}

func (b *fakeBus) DeleteQueue(_ context.Context, queueName string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if err := b.deleteErrs[queueName]; err != nil {
		return err
	}
	delete(b.queues, queueName)
	return nil
}

func (b *fakeBus) DeleteTopic(_ context.Context, topicName string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if err := b.deleteErrs[topicName]; err != nil {
		return err
	}
	delete(b.topics, topicName)
	for k := range b.subs {
		if strings.HasPrefix(k, topicName+"/") {
			delete(b.subs, k)
		}
	}
	return nil
}

func (b *fakeBus) publish(topicName string, msg *azbus.OutMessage) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if !b.topics[topicName] {
		return errors.New("no such topic " + topicName)
	}
	b.sent++
	enclosed, _ := msg.ApplicationProperties[EnclosedMessageTypesProperty].(string)

	targets := []azbus.SubscriptionDescription{}
	for _, d := range b.subs {
		targets = append(targets, d)
	}
	if b.stale {
		for _, d := range b.removed {
			targets = append(targets, d)
		}
	}
	for _, d := range targets {
		if d.TopicName != topicName || d.ForwardTo == "" {
			continue
		}
		rule := b.rules[key(d.TopicName, d.Name)]
		if !strings.Contains(rule.SQLExpression, "'"+enclosed+"'") {
			continue
		}
		q, ok := b.queues[d.ForwardTo]
		if !ok {
			continue
		}
		b.sequence++
		sequence := b.sequence
		q <- &azbus.ReceivedMessage{
			MessageID:             fmt.Sprintf("id-%d", sequence),
			SequenceNumber:        &sequence,
			Body:                  msg.Body,
			ApplicationProperties: msg.ApplicationProperties,
		}
	}
	return nil
}

func (b *fakeBus) publisher(topicName string) Publisher {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	p := &fakePublisher{bus: b, topic: topicName}
	b.publishers = append(b.publishers, p)
	return p
}

func (b *fakeBus) receiver(queueName string, handlers ...azbus.Handler) startup.Listener {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	r := &fakeQueueReceiver{
		bus:      b,
		queue:    queueName,
		msgs:     b.queues[queueName],
		handlers: handlers,
		stop:     make(chan struct{}),
	}
	b.receivers[queueName] = r
	return r
}

// failComplete reports whether the next completion on queueName fails.
func (b *fakeBus) failComplete(queueName string) bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.failCompletes[queueName] > 0 {
		b.failCompletes[queueName]--
		return true
	}
	return false
}

func (b *fakeBus) subscription(topicName, name string) (azbus.SubscriptionDescription, bool) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	d, ok := b.subs[key(topicName, name)]
	return d, ok
}

type fakePublisher struct {
	bus    *fakeBus
	topic  string
	closed atomic.Bool
}

func (p *fakePublisher) Send(_ context.Context, msg *azbus.OutMessage) error {
	return p.bus.publish(p.topic, msg)
}

func (p *fakePublisher) Close(context.Context) {
	p.closed.Store(true)
}

// fakeQueueReceiver settles like azbus.Receiver: a failed completion puts the
// message back on the queue and only a successful one is reported to the
// handler as settled.
type fakeQueueReceiver struct {
	bus      *fakeBus
	queue    string
	msgs     chan *azbus.ReceivedMessage
	handlers []azbus.Handler
	stop     chan struct{}
	once     sync.Once
	shutdown atomic.Bool
}

func (r *fakeQueueReceiver) Listen() error {
	for {
		select {
		case <-r.stop:
			return nil
		case msg := <-r.msgs:
			ctx := context.Background()
			disposition, ctx, err := r.handlers[0].Handle(ctx, msg)
			if err != nil || disposition != azbus.CompleteDisposition {
				return fmt.Errorf("message %s not completed: %v %v", msg.MessageID, disposition, err)
			}
			if r.bus.failComplete(r.queue) {
				msg.DeliveryCount++
				r.msgs <- msg
				continue
			}
			if sh, ok := r.handlers[0].(azbus.SettledHandler); ok {
				sh.Settled(ctx, disposition, msg)
			}
		}
	}
}

func (r *fakeQueueReceiver) Shutdown(context.Context) error {
	r.shutdown.Store(true)
	r.once.Do(func() { close(r.stop) })
	return nil
}
