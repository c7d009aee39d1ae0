package hub

import "errors"

var (
	ErrDuplicateConnection = errors.New("connection id already registered")
	ErrMissingDeviceID     = errors.New("device connection requires a device id")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrConnectionClosed    = errors.New("connection is closed")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInvalidRole         = errors.New("invalid connection role")
)
