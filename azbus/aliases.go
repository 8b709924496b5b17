package azbus

import (
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/datatrails/go-servicebus-repro/logger"
)

type Logger = logger.Logger

// so we dont have to import the azure repo everywhere
type ReceivedMessage = azservicebus.ReceivedMessage

func ReceivedProperties(r *ReceivedMessage) map[string]any {
	if r.ApplicationProperties != nil {
		return r.ApplicationProperties
	}
	return make(map[string]any)
}
