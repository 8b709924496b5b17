package azbus

import (
	"context"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	azadmin "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

// responseError builds the error the admin client returns for a failed
// request. RawResponse must be complete as Error() renders it.
func responseError(status int) error {
	req, _ := http.NewRequest(http.MethodPut, "https://repro.servicebus.windows.net/entity", nil)
	return &azcore.ResponseError{
		StatusCode: status,
		RawResponse: &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Request:    req,
			Header:     http.Header{},
			Body:       http.NoBody,
		},
	}
}

type fakeAdmin struct {
	queues        map[string]azadmin.QueueProperties
	topics        map[string]azadmin.TopicProperties
	subscriptions map[string]azadmin.SubscriptionProperties
	rules         map[string]map[string]string

	calls []string

	// errs forces the named call to fail
	errs map[string]error
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{
		queues:        map[string]azadmin.QueueProperties{},
		topics:        map[string]azadmin.TopicProperties{},
		subscriptions: map[string]azadmin.SubscriptionProperties{},
		rules:         map[string]map[string]string{},
		errs:          map[string]error{},
	}
}

func subKey(topic, sub string) string { return topic + "/" + sub }

func (f *fakeAdmin) call(name string) error {
	f.calls = append(f.calls, name)
	return f.errs[name]
}

func (f *fakeAdmin) GetQueue(_ context.Context, name string, _ *azadmin.GetQueueOptions) (*azadmin.GetQueueResponse, error) {
	if err := f.call("GetQueue"); err != nil {
		return nil, err
	}
	p, ok := f.queues[name]
	if !ok {
		return nil, nil
	}
	return &azadmin.GetQueueResponse{QueueProperties: p}, nil
}

func (f *fakeAdmin) CreateQueue(_ context.Context, name string, options *azadmin.CreateQueueOptions) (azadmin.CreateQueueResponse, error) {
	if err := f.call("CreateQueue"); err != nil {
		return azadmin.CreateQueueResponse{}, err
	}
	var p azadmin.QueueProperties
	if options != nil && options.Properties != nil {
		p = *options.Properties
	}
	f.queues[name] = p
	return azadmin.CreateQueueResponse{QueueProperties: p}, nil
}

func (f *fakeAdmin) DeleteQueue(_ context.Context, name string, _ *azadmin.DeleteQueueOptions) (azadmin.DeleteQueueResponse, error) {
	if err := f.call("DeleteQueue"); err != nil {
		return azadmin.DeleteQueueResponse{}, err
	}
	if _, ok := f.queues[name]; !ok {
		return azadmin.DeleteQueueResponse{}, responseError(http.StatusNotFound)
	}
	delete(f.queues, name)
	return azadmin.DeleteQueueResponse{}, nil
}

func (f *fakeAdmin) GetTopic(_ context.Context, name string, _ *azadmin.GetTopicOptions) (*azadmin.GetTopicResponse, error) {
	if err := f.call("GetTopic"); err != nil {
		return nil, err
	}
	p, ok := f.topics[name]
	if !ok {
		return nil, nil
	}
	return &azadmin.GetTopicResponse{TopicProperties: p}, nil
}

func (f *fakeAdmin) CreateTopic(_ context.Context, name string, _ *azadmin.CreateTopicOptions) (azadmin.CreateTopicResponse, error) {
	if err := f.call("CreateTopic"); err != nil {
		return azadmin.CreateTopicResponse{}, err
	}
	f.topics[name] = azadmin.TopicProperties{}
	return azadmin.CreateTopicResponse{}, nil
}

func (f *fakeAdmin) DeleteTopic(_ context.Context, name string, _ *azadmin.DeleteTopicOptions) (azadmin.DeleteTopicResponse, error) {
	if err := f.call("DeleteTopic"); err != nil {
		return azadmin.DeleteTopicResponse{}, err
	}
	if _, ok := f.topics[name]; !ok {
		return azadmin.DeleteTopicResponse{}, responseError(http.StatusNotFound)
	}
	delete(f.topics, name)
	return azadmin.DeleteTopicResponse{}, nil
}

func (f *fakeAdmin) GetSubscription(_ context.Context, topic, sub string, _ *azadmin.GetSubscriptionOptions) (*azadmin.GetSubscriptionResponse, error) {
	if err := f.call("GetSubscription"); err != nil {
		return nil, err
	}
	p, ok := f.subscriptions[subKey(topic, sub)]
	if !ok {
		return nil, nil
	}
	return &azadmin.GetSubscriptionResponse{SubscriptionProperties: p}, nil
}

func (f *fakeAdmin) CreateSubscription(_ context.Context, topic, sub string, options *azadmin.CreateSubscriptionOptions) (azadmin.CreateSubscriptionResponse, error) {
	if err := f.call("CreateSubscription"); err != nil {
		return azadmin.CreateSubscriptionResponse{}, err
	}
	key := subKey(topic, sub)
	if _, ok := f.subscriptions[key]; ok {
		return azadmin.CreateSubscriptionResponse{}, responseError(http.StatusConflict)
	}
	var p azadmin.SubscriptionProperties
	if options != nil && options.Properties != nil {
		p = *options.Properties
	}
	f.subscriptions[key] = p
	f.rules[key] = map[string]string{DefaultRuleName: "1=1"}
	if p.DefaultRule != nil {
		f.rules[key] = map[string]string{
			p.DefaultRule.Name: p.DefaultRule.Filter.(*azadmin.SQLFilter).Expression,
		}
	}
	return azadmin.CreateSubscriptionResponse{SubscriptionProperties: p}, nil
}

func (f *fakeAdmin) UpdateSubscription(_ context.Context, topic, sub string, properties azadmin.SubscriptionProperties, _ *azadmin.UpdateSubscriptionOptions) (azadmin.UpdateSubscriptionResponse, error) {
	if err := f.call("UpdateSubscription"); err != nil {
		return azadmin.UpdateSubscriptionResponse{}, err
	}
	f.subscriptions[subKey(topic, sub)] = properties
	return azadmin.UpdateSubscriptionResponse{SubscriptionProperties: properties}, nil
}

func (f *fakeAdmin) DeleteSubscription(_ context.Context, topic, sub string, _ *azadmin.DeleteSubscriptionOptions) (azadmin.DeleteSubscriptionResponse, error) {
	if err := f.call("DeleteSubscription"); err != nil {
		return azadmin.DeleteSubscriptionResponse{}, err
	}
	key := subKey(topic, sub)
	if _, ok := f.subscriptions[key]; !ok {
		return azadmin.DeleteSubscriptionResponse{}, responseError(http.StatusNotFound)
	}
	delete(f.subscriptions, key)
	delete(f.rules, key)
	return azadmin.DeleteSubscriptionResponse{}, nil
}

func (f *fakeAdmin) CreateRule(_ context.Context, topic, sub string, options *azadmin.CreateRuleOptions) (azadmin.CreateRuleResponse, error) {
	if err := f.call("CreateRule"); err != nil {
		return azadmin.CreateRuleResponse{}, err
	}
	key := subKey(topic, sub)
	rules, ok := f.rules[key]
	if !ok {
		return azadmin.CreateRuleResponse{}, responseError(http.StatusNotFound)
	}
	name := *options.Name
	if _, exists := rules[name]; exists {
		return azadmin.CreateRuleResponse{}, responseError(http.StatusConflict)
	}
	rules[name] = options.Filter.(*azadmin.SQLFilter).Expression
	return azadmin.CreateRuleResponse{}, nil
}

// fakeReceiver hands out the queued messages one batch at a time and then
// blocks until cancelled, like the sdk receiver on an empty queue.
type fakeReceiver struct {
	mtx          sync.Mutex
	pending      []*ReceivedMessage
	completed    []*ReceivedMessage
	abandoned    []*ReceivedMessage
	deadlettered []*ReceivedMessage
	closed       bool

	// failCompletes fails that many completions, putting the message back
	// on the queue as a lost lock would.
	failCompletes int
}

func (f *fakeReceiver) ReceiveMessages(ctx context.Context, maxMessages int, _ *azservicebus.ReceiveMessagesOptions) ([]*ReceivedMessage, error) {
	f.mtx.Lock()
	if len(f.pending) > 0 {
		n := min(maxMessages, len(f.pending))
		batch := f.pending[:n]
		f.pending = f.pending[n:]
		f.mtx.Unlock()
		return batch, nil
	}
	f.mtx.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeReceiver) CompleteMessage(_ context.Context, msg *ReceivedMessage, _ *azservicebus.CompleteMessageOptions) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failCompletes > 0 {
		f.failCompletes--
		msg.DeliveryCount++
		f.pending = append(f.pending, msg)
		return &azservicebus.Error{Code: azservicebus.CodeLockLost}
	}
	f.completed = append(f.completed, msg)
	return nil
}

func (f *fakeReceiver) AbandonMessage(_ context.Context, msg *ReceivedMessage, _ *azservicebus.AbandonMessageOptions) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.abandoned = append(f.abandoned, msg)
	return nil
}

func (f *fakeReceiver) DeadLetterMessage(_ context.Context, msg *ReceivedMessage, _ *azservicebus.DeadLetterOptions) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.deadlettered = append(f.deadlettered, msg)
	return nil
}

func (f *fakeReceiver) RenewMessageLock(context.Context, *ReceivedMessage, *azservicebus.RenewMessageLockOptions) error {
	return nil
}

func (f *fakeReceiver) Close(context.Context) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReceiver) settled() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.completed) + len(f.abandoned) + len(f.deadlettered)
}

type fakeSender struct {
	sent   []*azservicebus.Message
	err    error
	closed bool
}

func (f *fakeSender) SendMessage(_ context.Context, message *azservicebus.Message, _ *azservicebus.SendMessageOptions) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeSender) Close(context.Context) error {
	f.closed = true
	return nil
}
