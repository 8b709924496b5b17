package azbus

import (
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	azadmin "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/stretchr/testify/assert"
)

func TestSubscriptionNeedsUpdate(t *testing.T) {
	desired := testSubscription()
	desired.ForwardDeadLetteredMessagesTo = "errors"

	// what the service returns for desired
	current := func() azadmin.SubscriptionProperties {
		return azadmin.SubscriptionProperties{
			LockDuration:                     to.Ptr("PT30S"),
			DefaultMessageTimeToLive:         to.Ptr("P10675199DT2H48M5.4775807S"),
			AutoDeleteOnIdle:                 to.Ptr("P10675199DT2H48M5.4775807S"),
			MaxDeliveryCount:                 to.Ptr(int32(4)),
			EnableBatchedOperations:          to.Ptr(true),
			DeadLetteringOnMessageExpiration: to.Ptr(false),
			EnableDeadLetteringOnFilterEvaluationExceptions: to.Ptr(false),
			ForwardTo:                     to.Ptr("sb://repro.servicebus.windows.net/" + testSub),
			ForwardDeadLetteredMessagesTo: to.Ptr("sb://repro.servicebus.windows.net/Errors"),
			UserMetadata:                  to.Ptr("something else"),
		}
	}

	tests := []struct {
		name   string
		change func(*azadmin.SubscriptionProperties)
		want   bool
	}{
		{name: "unchanged", change: func(*azadmin.SubscriptionProperties) {}},
		{
			name:   "forward to and metadata ignored",
			change: func(p *azadmin.SubscriptionProperties) { p.ForwardTo = nil; p.UserMetadata = nil },
		},
		{
			name:   "lock duration written differently",
			change: func(p *azadmin.SubscriptionProperties) { p.LockDuration = to.Ptr("PT0M30S") },
		},
		{
			name:   "lock duration",
			change: func(p *azadmin.SubscriptionProperties) { p.LockDuration = to.Ptr("PT1M") },
			want:   true,
		},
		{
			name:   "lock duration missing",
			change: func(p *azadmin.SubscriptionProperties) { p.LockDuration = nil },
			want:   true,
		},
		{
			name:   "max delivery count",
			change: func(p *azadmin.SubscriptionProperties) { p.MaxDeliveryCount = to.Ptr(int32(10)) },
			want:   true,
		},
		{
			name:   "batched operations",
			change: func(p *azadmin.SubscriptionProperties) { p.EnableBatchedOperations = to.Ptr(false) },
			want:   true,
		},
		{
			name:   "dead letter on expiry",
			change: func(p *azadmin.SubscriptionProperties) { p.DeadLetteringOnMessageExpiration = to.Ptr(true) },
			want:   true,
		},
		{
			name: "dead letter on filter exceptions",
			change: func(p *azadmin.SubscriptionProperties) {
				p.EnableDeadLetteringOnFilterEvaluationExceptions = to.Ptr(true)
			},
			want: true,
		},
		{
			name:   "dead letter forwarding",
			change: func(p *azadmin.SubscriptionProperties) { p.ForwardDeadLetteredMessagesTo = nil },
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := current()
			tt.change(&p)
			assert.Equal(t, tt.want, SubscriptionNeedsUpdate(p, desired))
		})
	}
}

func TestSubscriptionNeedsUpdateServiceDefaults(t *testing.T) {
	desired := SubscriptionDescription{TopicName: testTopic, Name: testSub}
	existing := azadmin.SubscriptionProperties{
		LockDuration:             to.Ptr("PT1M"),
		MaxDeliveryCount:         to.Ptr(int32(10)),
		DefaultMessageTimeToLive: to.Ptr("P14D"),
	}
	assert.False(t, SubscriptionNeedsUpdate(existing, desired))

	desired.DefaultMessageTimeToLive = 24 * time.Hour
	assert.True(t, SubscriptionNeedsUpdate(existing, desired))
}

func TestSubscriptionProperties(t *testing.T) {
	d := testSubscription()
	d.AutoDeleteOnIdle = time.Hour

	p := d.properties()
	assert.Equal(t, testSub, *p.ForwardTo)
	assert.Equal(t, "PT1H", *p.AutoDeleteOnIdle)
	assert.Nil(t, p.DefaultMessageTimeToLive)
	assert.Nil(t, p.ForwardDeadLetteredMessagesTo)
	assert.Equal(t, testTopic+"/"+testSub, d.String())

	// properties read back unchanged need no update
	assert.False(t, SubscriptionNeedsUpdate(p, d))
}

func TestEntityName(t *testing.T) {
	assert.Equal(t, "queue", entityName("sb://ns.servicebus.windows.net/queue"))
	assert.Equal(t, "queue", entityName("sb://ns.servicebus.windows.net/queue/"))
	assert.Equal(t, "queue", entityName("queue"))
	assert.Equal(t, "", entityName(""))
}
