package azbus

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/datatrails/go-servicebus-repro/errhandling"
)

// Azure package expects the user to elucidate errors like so:
//
//	    var servicebusError *azservicebus.Error
//	    if errors.As(err, &servicebusError) && servicebusError.code == azservicebus.CodeUnauthorizedAccess {
//		         ...
//
// which is rather clumsy.
//
// This code maps the internal code to an actual error so one can:
//
//	if errors.Is(err, azbus.ErrConnectionLost) {
//	    ...
//
// The admin client reports failures as *azcore.ResponseError instead, those
// are mapped by http status.
var (
	ErrConnectionLost     = errors.New("connection lost")
	ErrLockLost           = errors.New("lock lost")
	ErrUnauthorizedAccess = errors.New("unauthorized")
	ErrTimeout            = errors.New("timeout")
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
)

// NewAzbusError maps err onto the sentinel errors above. The sdk error
// stays in the chain so the server response is not lost. Transient failures
// are additionally marked with errhandling.NewTransientError.
func NewAzbusError(err error) error {
	if err == nil {
		return nil
	}

	var servicebusError *azservicebus.Error
	if errors.As(err, &servicebusError) {
		switch servicebusError.Code {
		case azservicebus.CodeUnauthorizedAccess:
			return fmt.Errorf("%w: %w", ErrUnauthorizedAccess, err)
		case azservicebus.CodeConnectionLost:
			return errhandling.NewTransientError(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		case azservicebus.CodeLockLost:
			return fmt.Errorf("%w: %w", ErrLockLost, err)
		case azservicebus.CodeTimeout:
			return errhandling.NewTransientError(fmt.Errorf("%w: %w", ErrTimeout, err))
		}
		return err
	}

	var respError *azcore.ResponseError
	if errors.As(err, &respError) {
		switch respError.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case http.StatusConflict:
			return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrUnauthorizedAccess, err)
		case http.StatusRequestTimeout:
			return errhandling.NewTransientError(fmt.Errorf("%w: %w", ErrTimeout, err))
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return errhandling.NewTransientError(err)
		}
	}
	return err
}

// IsTransient reports whether the operation that produced err may succeed
// if tried again.
func IsTransient(err error) bool {
	return errhandling.IsTransient(NewAzbusError(err))
}

// isStatus is true if err is an admin response with the given http status.
func isStatus(err error, status int) bool {
	var respError *azcore.ResponseError
	return errors.As(err, &respError) && respError.StatusCode == status
}
