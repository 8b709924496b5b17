package azbus

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

const (
	retryBackoff      = 2 * time.Second
	maxRetryDelay     = 20 * time.Second
	maxRetrytAttempts = 3
)

var (
	// NOTE: you don't need to configure these explicitly if you like the defaults.
	// For more information see:
	//  https://pkg.go.dev/github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus#RetryOptions
	retryOptions = azservicebus.RetryOptions{
		MaxRetries:    maxRetrytAttempts,
		RetryDelay:    retryBackoff,
		MaxRetryDelay: maxRetryDelay,
	}
)

// messageSender is the part of *azservicebus.Sender used by Sender.
type messageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// messageReceiver is the part of *azservicebus.Receiver used by Receiver.
type messageReceiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, message *ReceivedMessage, options *azservicebus.AbandonMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *ReceivedMessage, options *azservicebus.DeadLetterOptions) error
	RenewMessageLock(ctx context.Context, message *ReceivedMessage, options *azservicebus.RenewMessageLockOptions) error
	Close(ctx context.Context) error
}

type AZClient struct {
	// ConnectionString contains all the details necessary to connect,
	// authenticate and authorize a client for communicating with azure servicebus.
	ConnectionString string
	client           *azservicebus.Client
}

func NewAZClient(connectionString string) AZClient {
	return AZClient{ConnectionString: connectionString}
}

// azClient - return the client interface
func (c *AZClient) azClient() (*azservicebus.Client, error) {

	if c.client != nil {
		return c.client, nil
	}

	if c.ConnectionString == "" {
		return nil, fmt.Errorf("failed to create client: config must provide a connection string")
	}

	client, err := azservicebus.NewClientFromConnectionString(
		c.ConnectionString,
		&azservicebus.ClientOptions{
			RetryOptions: retryOptions,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating new client ConnectionString: %w", NewAzbusError(err))
	}
	c.client = client
	return c.client, nil
}
