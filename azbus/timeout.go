package azbus

import (
	"context"
	"errors"
	"time"
)

// ErrPeekLockTimeout is the cancellation cause once a message has been held
// past its lock. Once that happens the service will redeliver the message
// regardless of what the handler does.
var (
	ErrPeekLockTimeout = errors.New("peeklock deadline reached")
)

// setTimeout bounds processing of msg by its lock expiry, or by fallback if
// the message does not say when its lock expires.
func setTimeout(ctx context.Context, log Logger, msg *ReceivedMessage, fallback time.Duration) (context.Context, context.CancelFunc, time.Duration) {

	var cancel context.CancelFunc

	if msg.LockedUntil != nil {
		msgLockedUntil := *msg.LockedUntil
		ctx, cancel = context.WithDeadlineCause(ctx, msgLockedUntil, ErrPeekLockTimeout)
		maxDuration := time.Until(msgLockedUntil)
		log.Debugf("msg must be processed in %s", maxDuration)
		return ctx, cancel, maxDuration
	}

	ctx, cancel = context.WithTimeoutCause(ctx, fallback, ErrPeekLockTimeout)
	log.Debugf("could not get lock deadline from message, using fixed timeout %v", fallback)
	return ctx, cancel, fallback
}
