package azbus

import (
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	azadmin "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

// DefaultRuleName is the catch-all rule the service attaches to every new
// subscription. While it exists every other filter is effectively ignored.
const DefaultRuleName = "$Default"

// QueueDescription is the desired shape of a queue.
// Zero values mean "service default".
type QueueDescription struct {
	Name                    string
	MaxDeliveryCount        int32
	LockDuration            time.Duration
	EnableBatchedOperations bool
}

func (d QueueDescription) properties() *azadmin.QueueProperties {
	p := &azadmin.QueueProperties{
		EnableBatchedOperations: to.Ptr(d.EnableBatchedOperations),
	}
	if d.MaxDeliveryCount > 0 {
		p.MaxDeliveryCount = to.Ptr(d.MaxDeliveryCount)
	}
	if d.LockDuration > 0 {
		p.LockDuration = to.Ptr(formatDuration(d.LockDuration))
	}
	return p
}

// SubscriptionDescription is the desired shape of a topic subscription.
// Zero durations and a zero MaxDeliveryCount mean "service default".
type SubscriptionDescription struct {
	TopicName string
	Name      string

	// ForwardTo is the name of the queue every accepted message is
	// auto-forwarded to.
	ForwardTo    string
	UserMetadata string

	MaxDeliveryCount         int32
	LockDuration             time.Duration
	DefaultMessageTimeToLive time.Duration
	AutoDeleteOnIdle         time.Duration

	EnableBatchedOperations                   bool
	DeadLetteringOnMessageExpiration          bool
	DeadLetteringOnFilterEvaluationExceptions bool

	ForwardDeadLetteredMessagesTo string
}

func (d SubscriptionDescription) String() string {
	return d.TopicName + "/" + d.Name
}

func (d SubscriptionDescription) properties() azadmin.SubscriptionProperties {
	p := azadmin.SubscriptionProperties{
		EnableBatchedOperations:                         to.Ptr(d.EnableBatchedOperations),
		DeadLetteringOnMessageExpiration:                to.Ptr(d.DeadLetteringOnMessageExpiration),
		EnableDeadLetteringOnFilterEvaluationExceptions: to.Ptr(d.DeadLetteringOnFilterEvaluationExceptions),
	}
	if d.ForwardTo != "" {
		p.ForwardTo = to.Ptr(d.ForwardTo)
	}
	if d.UserMetadata != "" {
		p.UserMetadata = to.Ptr(d.UserMetadata)
	}
	if d.MaxDeliveryCount > 0 {
		p.MaxDeliveryCount = to.Ptr(d.MaxDeliveryCount)
	}
	if d.LockDuration > 0 {
		p.LockDuration = to.Ptr(formatDuration(d.LockDuration))
	}
	if d.DefaultMessageTimeToLive > 0 {
		p.DefaultMessageTimeToLive = to.Ptr(formatDuration(d.DefaultMessageTimeToLive))
	}
	if d.AutoDeleteOnIdle > 0 {
		p.AutoDeleteOnIdle = to.Ptr(formatDuration(d.AutoDeleteOnIdle))
	}
	if d.ForwardDeadLetteredMessagesTo != "" {
		p.ForwardDeadLetteredMessagesTo = to.Ptr(d.ForwardDeadLetteredMessagesTo)
	}
	return p
}

// RuleDescription is a named SQL filter rule.
type RuleDescription struct {
	Name          string
	SQLExpression string
}

// SubscriptionNeedsUpdate reports whether existing differs from desired in
// any of the settings that can be changed in place. ForwardTo and
// UserMetadata are not considered.
func SubscriptionNeedsUpdate(existing azadmin.SubscriptionProperties, desired SubscriptionDescription) bool {
	return durationDiffers(existing.AutoDeleteOnIdle, desired.AutoDeleteOnIdle) ||
		durationDiffers(existing.LockDuration, desired.LockDuration) ||
		durationDiffers(existing.DefaultMessageTimeToLive, desired.DefaultMessageTimeToLive) ||
		deref(existing.DeadLetteringOnMessageExpiration) != desired.DeadLetteringOnMessageExpiration ||
		deref(existing.EnableDeadLetteringOnFilterEvaluationExceptions) != desired.DeadLetteringOnFilterEvaluationExceptions ||
		(desired.MaxDeliveryCount > 0 && deref(existing.MaxDeliveryCount) != desired.MaxDeliveryCount) ||
		deref(existing.EnableBatchedOperations) != desired.EnableBatchedOperations ||
		!strings.EqualFold(entityName(deref(existing.ForwardDeadLetteredMessagesTo)), entityName(desired.ForwardDeadLetteredMessagesTo))
}

func durationDiffers(existing *string, desired time.Duration) bool {
	if desired == 0 {
		return false
	}
	if existing == nil {
		return true
	}
	d, err := parseDuration(*existing)
	if err != nil {
		return true
	}
	return d != desired
}

// entityName strips the namespace url the service adds to forwarding
// targets, "sb://ns.servicebus.windows.net/queue" -> "queue".
func entityName(s string) string {
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
