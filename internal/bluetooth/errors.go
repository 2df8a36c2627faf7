package bluetooth

import "errors"

var (
	// ErrTransportUnavailable means the radio or stack is not ready.
	ErrTransportUnavailable = errors.New("ble: transport unavailable")
	// ErrScanFailed means one discovery pass failed while the radio stayed up. Retryable.
	ErrScanFailed = errors.New("ble: discovery pass failed")
	// ErrNotFound means the target was not seen within the allowed passes. Retryable.
	ErrNotFound = errors.New("ble: target not found")
	// ErrServiceNotFound and ErrCharacteristicNotFound point at misconfigured UUIDs; retrying cannot help.
	ErrServiceNotFound        = errors.New("ble: service not found")
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
	// ErrLinkDropped is the terminal event of a link lost while connected.
	ErrLinkDropped = errors.New("ble: link dropped")
	// ErrWriteInProgress is returned when another write is still outstanding.
	ErrWriteInProgress = errors.New("ble: write in progress")

	ErrNotConnected      = errors.New("ble: session not connected")
	ErrAlreadyOpened     = errors.New("ble: session already opened")
	ErrHandlerRegistered = errors.New("ble: notification handler already registered")
	ErrModeConflict      = errors.New("ble: notification and polling modes are exclusive")
)
