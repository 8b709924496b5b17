// Package azbus wraps the azure servicebus sdk.
//
// AZAdminClient provisions queues, topics, subscriptions and their rules.
// Sender publishes to a queue or topic and Receiver runs handlers for a
// queue or subscription, settling each message according to the
// Disposition its handler returns.
//
// Receiving messages:
//
//	r := azbus.NewReceiver(log, azbus.ReceiverConfig{
//		ConnectionString: "Endpoint=sb://...",
//		TopicOrQueueName: "unsubscribingfromevent.subscriber1",
//	}, azbus.WithHandlers(h1, h2))
//	listeners := startup.NewListeners(log, "receivers", startup.WithListener(r))
//	err := listeners.Listen(ctx)
//
// Errors from the sdk are mapped onto the sentinels in error.go so callers
// can use errors.Is, and IsTransient tells whether an operation may be tried again.
package azbus
