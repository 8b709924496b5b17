package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/datatrails/go-servicebus-repro/azbus"
	"github.com/datatrails/go-servicebus-repro/environment"
)

const (
	ConnectionStringVar       = "SERVICEBUS_CONNECTION_STRING"
	LegacyConnectionStringVar = "AzureServiceBus.ConnectionString"

	// EnclosedMessageTypesProperty is the application property the
	// subscription rule filters on.
	EnclosedMessageTypesProperty = "NServiceBus.EnclosedMessageTypes"

	DefaultTopicName   = "bundle-x"
	DefaultSubscriber1 = "UnsubscribingFromEvent.Subscriber1"
	DefaultSubscriber2 = "UnsubscribingFromEvent.Subscriber2"
	DefaultRuleName    = "18f888e1-444f-7cb7-25c8-b738fbbd1388"
	DefaultEventType   = "NServiceBus.AcceptanceTests.Routing.NativePublishSubscribe.When_unsubscribing_from_event+Event"
	DefaultWiretapName = "wiretap"
)

var (
	ErrNoConnectionString = errors.New("no servicebus connection string")
)

// Config names the entities of the scenario and its timings. The sequence
// of steps is fixed.
type Config struct {
	ConnectionString string

	TopicName   string
	Subscriber1 string
	Subscriber2 string
	RuleName    string
	EventType   string

	MaxDeliveryCount int32
	LockDuration     time.Duration

	SettleDelay        time.Duration
	PollInterval       time.Duration
	PollTimeout        time.Duration
	MaxConcurrentCalls int

	Wiretap     bool
	WiretapName string

	// MetricsPort serves prometheus metrics if set.
	MetricsPort string
}

// DefaultConfig returns the settings of the reported support case.
func DefaultConfig() Config {
	return Config{
		TopicName:          DefaultTopicName,
		Subscriber1:        DefaultSubscriber1,
		Subscriber2:        DefaultSubscriber2,
		RuleName:           DefaultRuleName,
		EventType:          DefaultEventType,
		MaxDeliveryCount:   4,
		LockDuration:       30 * time.Second,
		SettleDelay:        5 * time.Second,
		PollInterval:       time.Second,
		PollTimeout:        2 * time.Minute,
		MaxConcurrentCalls: 5,
		WiretapName:        DefaultWiretapName,
	}
}

// NewConfigFromEnv overrides the defaults from the environment. Only the
// connection string is required.
func NewConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cs, ok := environment.GetFirst(ConnectionStringVar, LegacyConnectionStringVar)
	if !ok {
		return cfg, fmt.Errorf("%w: set %s or %s", ErrNoConnectionString, ConnectionStringVar, LegacyConnectionStringVar)
	}
	cfg.ConnectionString = cs

	cfg.TopicName = environment.GetWithDefault("TOPIC_NAME", cfg.TopicName)
	cfg.Subscriber1 = environment.GetWithDefault("SUBSCRIBER1", cfg.Subscriber1)
	cfg.Subscriber2 = environment.GetWithDefault("SUBSCRIBER2", cfg.Subscriber2)
	cfg.SettleDelay = environment.GetDurationWithDefault("SETTLE_DELAY", cfg.SettleDelay)
	cfg.PollInterval = environment.GetDurationWithDefault("POLL_INTERVAL", cfg.PollInterval)
	cfg.PollTimeout = environment.GetDurationWithDefault("POLL_TIMEOUT", cfg.PollTimeout)
	cfg.MaxConcurrentCalls = environment.GetIntWithDefault("MAX_CONCURRENT_CALLS", cfg.MaxConcurrentCalls)
	cfg.Wiretap = environment.GetTruthy("WIRETAP")
	cfg.WiretapName = environment.GetWithDefault("WIRETAP_NAME", cfg.WiretapName)
	cfg.MetricsPort = environment.GetWithDefault("METRICS_PORT", "")

	if cfg.MaxConcurrentCalls < 1 {
		return cfg, fmt.Errorf("MAX_CONCURRENT_CALLS must be at least 1, got %d", cfg.MaxConcurrentCalls)
	}
	return cfg, nil
}

// FilterExpression matches any message whose enclosed types mention the
// event type, on its own or in a list.
func (c Config) FilterExpression() string {
	clause := "[" + EnclosedMessageTypesProperty + "]"
	return strings.Join([]string{
		fmt.Sprintf("%s LIKE '%s%%'", clause, c.EventType),
		fmt.Sprintf("%s LIKE '%%%s%%'", clause, c.EventType),
		fmt.Sprintf("%s LIKE '%%%s'", clause, c.EventType),
		fmt.Sprintf("%s = '%s'", clause, c.EventType),
	}, " OR ")
}

func (c Config) Rule() azbus.RuleDescription {
	return azbus.RuleDescription{
		Name:          c.RuleName,
		SQLExpression: c.FilterExpression(),
	}
}

// QueueDescription describes the queue a subscriber consumes.
func (c Config) QueueDescription(subscriber string) azbus.QueueDescription {
	return azbus.QueueDescription{
		Name:                    subscriber,
		MaxDeliveryCount:        c.MaxDeliveryCount,
		LockDuration:            c.LockDuration,
		EnableBatchedOperations: true,
	}
}

// SubscriptionDescription describes the subscription of the same name that
// forwards to the subscriber's queue.
func (c Config) SubscriptionDescription(subscriber string) azbus.SubscriptionDescription {
	return azbus.SubscriptionDescription{
		TopicName:               c.TopicName,
		Name:                    subscriber,
		ForwardTo:               subscriber,
		UserMetadata:            fmt.Sprintf("Events %s is subscribed to", subscriber),
		MaxDeliveryCount:        c.MaxDeliveryCount,
		LockDuration:            c.LockDuration,
		EnableBatchedOperations: true,

		DeadLetteringOnFilterEvaluationExceptions: false,
	}
}
