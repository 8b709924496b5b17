package azbus

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	azadmin "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

var (
	// lots of docs by MS on how these limits are set to various values here
	// https://docs.microsoft.com/en-us/azure/service-bus-messaging/service-bus-quotas but
	defaultMaxMessageSize = int64(256 * 1024)
	ErrMessageOversized   = errors.New("message is too large")
)

// adminAPI is the subset of *azadmin.Client used here. Get methods return a
// nil response and a nil error when the entity does not exist.
type adminAPI interface {
	GetQueue(ctx context.Context, queueName string, options *azadmin.GetQueueOptions) (*azadmin.GetQueueResponse, error)
	CreateQueue(ctx context.Context, queueName string, options *azadmin.CreateQueueOptions) (azadmin.CreateQueueResponse, error)
	DeleteQueue(ctx context.Context, queueName string, options *azadmin.DeleteQueueOptions) (azadmin.DeleteQueueResponse, error)

	GetTopic(ctx context.Context, topicName string, options *azadmin.GetTopicOptions) (*azadmin.GetTopicResponse, error)
	CreateTopic(ctx context.Context, topicName string, options *azadmin.CreateTopicOptions) (azadmin.CreateTopicResponse, error)
	DeleteTopic(ctx context.Context, topicName string, options *azadmin.DeleteTopicOptions) (azadmin.DeleteTopicResponse, error)

	GetSubscription(ctx context.Context, topicName string, subscriptionName string, options *azadmin.GetSubscriptionOptions) (*azadmin.GetSubscriptionResponse, error)
	CreateSubscription(ctx context.Context, topicName string, subscriptionName string, options *azadmin.CreateSubscriptionOptions) (azadmin.CreateSubscriptionResponse, error)
	UpdateSubscription(ctx context.Context, topicName string, subscriptionName string, properties azadmin.SubscriptionProperties, options *azadmin.UpdateSubscriptionOptions) (azadmin.UpdateSubscriptionResponse, error)
	DeleteSubscription(ctx context.Context, topicName string, subscriptionName string, options *azadmin.DeleteSubscriptionOptions) (azadmin.DeleteSubscriptionResponse, error)

	CreateRule(ctx context.Context, topicName string, subscriptionName string, options *azadmin.CreateRuleOptions) (azadmin.CreateRuleResponse, error)
}

// AZAdminClient provides access to the administrative client for the message
// bus: creation and removal of queues, topics, subscriptions and rules.
type AZAdminClient struct {
	ConnectionString string
	log              Logger
	admin            adminAPI
}

func NewAZAdminClient(log Logger, connectionString string) *AZAdminClient {
	return &AZAdminClient{
		ConnectionString: connectionString,
		log:              log.WithIndex("azadmin", "admin"),
	}
}

// open connects the admin client. Note that creation is cached.
func (c *AZAdminClient) open() (adminAPI, error) {

	if c.admin != nil {
		return c.admin, nil
	}

	if c.ConnectionString == "" {
		return nil, fmt.Errorf("failed to create admin client: config must provide a connection string")
	}

	c.log.Debugf("Get new Admin client using ConnectionString")
	admin, err := azadmin.NewClientFromConnectionString(
		c.ConnectionString,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating new admin client: %w", NewAzbusError(err))
	}
	c.admin = admin
	return c.admin, nil
}

// GetMaxMessageSize returns the largest message body accepted by the named
// queue or, failing that, topic.
func (c *AZAdminClient) GetMaxMessageSize(ctx context.Context, name string) (int64, error) {
	admin, err := c.open()
	if err != nil {
		return 0, err
	}
	q, err := admin.GetQueue(ctx, name, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get queue properties: %w", NewAzbusError(err))
	}
	if q != nil {
		c.log.DebugR("queue properties", q)
		if q.MaxMessageSizeInKilobytes != nil {
			return *q.MaxMessageSizeInKilobytes * 1024, nil
		}
		// For non-Premium accounts the default is 256KiB and is not returned.
		return defaultMaxMessageSize, nil
	}
	t, err := admin.GetTopic(ctx, name, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get topic properties: %w", NewAzbusError(err))
	}
	if t == nil {
		return 0, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	c.log.DebugR("topic properties", t)
	if t.MaxMessageSizeInKilobytes != nil {
		return *t.MaxMessageSizeInKilobytes * 1024, nil
	}
	return defaultMaxMessageSize, nil
}

// EnsureQueue creates the queue if it does not exist. An existing queue is
// left as it is.
func (c *AZAdminClient) EnsureQueue(ctx context.Context, d QueueDescription) error {
	admin, err := c.open()
	if err != nil {
		return err
	}
	q, err := admin.GetQueue(ctx, d.Name, nil)
	if err != nil {
		return fmt.Errorf("GetQueue %s: %w", d.Name, NewAzbusError(err))
	}
	if q != nil {
		c.log.Debugf("Queue %s exists", d.Name)
		return nil
	}
	c.log.Infof("Creating queue %s", d.Name)
	_, err = admin.CreateQueue(ctx, d.Name, &azadmin.CreateQueueOptions{Properties: d.properties()})
	if err != nil && !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("CreateQueue %s: %w", d.Name, NewAzbusError(err))
	}
	return nil
}

// EnsureTopic creates the topic with default settings if it does not exist.
func (c *AZAdminClient) EnsureTopic(ctx context.Context, topicName string) error {
	admin, err := c.open()
	if err != nil {
		return err
	}
	t, err := admin.GetTopic(ctx, topicName, nil)
	if err != nil {
		return fmt.Errorf("GetTopic %s: %w", topicName, NewAzbusError(err))
	}
	if t != nil {
		c.log.Debugf("Topic %s exists", topicName)
		return nil
	}
	c.log.Infof("Creating topic %s", topicName)
	_, err = admin.CreateTopic(ctx, topicName, nil)
	if err != nil && !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("CreateTopic %s: %w", topicName, NewAzbusError(err))
	}
	return nil
}

// EnsureSubscription creates the subscription, with rule as its only rule,
// in a single request if it does not exist. Otherwise the subscription is updated if its settings
// drifted from d and rule is added. Rules can't be compared, so a rule that
// is already present is only logged.
//
// Errors are mapped with NewAzbusError, a subscription created concurrently
// by someone else is reported as ErrAlreadyExists.
func (c *AZAdminClient) EnsureSubscription(ctx context.Context, d SubscriptionDescription, rule RuleDescription) error {
	admin, err := c.open()
	if err != nil {
		return err
	}

	existing, err := admin.GetSubscription(ctx, d.TopicName, d.Name, nil)
	if err != nil {
		return fmt.Errorf("GetSubscription %s: %w", d, NewAzbusError(err))
	}

	if existing == nil {
		c.log.Infof("Creating subscription '%s' forwarding to '%s'", d, d.ForwardTo)
		props := d.properties()
		// rule takes the place of the catch-all $Default rule
		props.DefaultRule = &azadmin.RuleProperties{
			Name: rule.Name,
			Filter: &azadmin.SQLFilter{
				Expression: rule.SQLExpression,
			},
		}
		_, err = admin.CreateSubscription(ctx, d.TopicName, d.Name, &azadmin.CreateSubscriptionOptions{
			Properties: &props,
		})
		if err != nil {
			return fmt.Errorf("CreateSubscription %s: %w", d, NewAzbusError(err))
		}
		c.log.Debugf("Subscription %s created with rule %s", d, rule.Name)
		return nil
	}

	if SubscriptionNeedsUpdate(existing.SubscriptionProperties, d) {
		c.log.Infof("Updating subscription '%s' with new description.", d.Name)
		_, err = admin.UpdateSubscription(ctx, d.TopicName, d.Name, d.properties(), nil)
		if err != nil {
			return fmt.Errorf("UpdateSubscription %s: %w", d, NewAzbusError(err))
		}
	}

	c.log.Infof("Adding subscription rule '%s' for subscription '%s'.", rule.Name, d.Name)
	err = c.AddSubscriptionRule(ctx, d.TopicName, d.Name, rule)
	if errors.Is(err, ErrAlreadyExists) {
		c.log.Infof("Rule '%s' already exists. Response from the server: '%s'.", rule.Name, err)
		return nil
	}
	return err
}

// AddSubscriptionRule adds the SQL filter rule. A rule of the same name
// already on the subscription yields ErrAlreadyExists.
func (c *AZAdminClient) AddSubscriptionRule(ctx context.Context, topicName, subscriptionName string, rule RuleDescription) error {
	admin, err := c.open()
	if err != nil {
		return err
	}
	_, err = admin.CreateRule(
		ctx,
		topicName,
		subscriptionName,
		&azadmin.CreateRuleOptions{
			Name: &rule.Name,
			Filter: &azadmin.SQLFilter{
				Expression: rule.SQLExpression,
			},
		},
	)
	if err != nil {
		c.log.Debugf(
			"CreateRule failed for topicname=%s subname=%s, rulename=%s: %v",
			topicName,
			subscriptionName,
			rule.Name,
			err,
		)
		return fmt.Errorf("CreateRule %s/%s/%s: %w", topicName, subscriptionName, rule.Name, NewAzbusError(err))
	}
	c.log.Debugf(
		"Rule created for topicname=%s subname=%s, rulename=%s, ruleString=%q",
		topicName,
		subscriptionName,
		rule.Name,
		rule.SQLExpression,
	)
	return nil
}

// RecreateSubscription deletes the subscription if present and creates a
// plain one in its place, which receives everything sent to the topic.
func (c *AZAdminClient) RecreateSubscription(ctx context.Context, topicName, subscriptionName string) error {
	admin, err := c.open()
	if err != nil {
		return err
	}
	if err = c.DeleteSubscription(ctx, topicName, subscriptionName); err != nil {
		return err
	}
	_, err = admin.CreateSubscription(ctx, topicName, subscriptionName, nil)
	if err != nil {
		return fmt.Errorf("CreateSubscription %s/%s: %w", topicName, subscriptionName, NewAzbusError(err))
	}
	c.log.Infof("Created subscription %s/%s", topicName, subscriptionName)
	return nil
}

// DeleteSubscription removes the subscription. A missing subscription is not an error.
func (c *AZAdminClient) DeleteSubscription(ctx context.Context, topicName, subscriptionName string) error {
	admin, err := c.open()
	if err != nil {
		return err
	}
	_, err = admin.DeleteSubscription(ctx, topicName, subscriptionName, nil)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("DeleteSubscription %s/%s: %w", topicName, subscriptionName, NewAzbusError(err))
	}
	return nil
}

// DeleteQueue removes the queue. A missing queue is not an error.
func (c *AZAdminClient) DeleteQueue(ctx context.Context, queueName string) error {
	admin, err := c.open()
	if err != nil {
		return err
	}
	_, err = admin.DeleteQueue(ctx, queueName, nil)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("DeleteQueue %s: %w", queueName, NewAzbusError(err))
	}
	return nil
}

// DeleteTopic removes the topic and with it all its subscriptions. A missing
// topic is not an error.
func (c *AZAdminClient) DeleteTopic(ctx context.Context, topicName string) error {
	admin, err := c.open()
	if err != nil {
		return err
	}
	_, err = admin.DeleteTopic(ctx, topicName, nil)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("DeleteTopic %s: %w", topicName, NewAzbusError(err))
	}
	return nil
}
