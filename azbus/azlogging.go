package azbus

import (
	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// EnableAzureLogging routes the sdk's own log events to log at debug level.
// Connection and auth events are very chatty and only enabled when
// verbose is set.
func EnableAzureLogging(log Logger, verbose bool) {
	log.Debugf("Enabling Azure Logging")
	azlog.SetListener(func(event azlog.Event, s string) {
		log.Debugf("[%s] %s", event, s)
	})

	events := []azlog.Event{
		azservicebus.EventReceiver,
		azservicebus.EventSender,
		azservicebus.EventAdmin,
	}
	if verbose {
		events = append(events, azservicebus.EventConn, azservicebus.EventAuth)
	}
	azlog.SetEvents(events...)
}
