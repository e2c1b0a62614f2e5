package notification

import "errors"

var (
	ErrNotAnObject      = errors.New("notification payload is not an object")
	ErrUnknownEvent     = errors.New("unknown push event")
	ErrMalformedPayload = errors.New("malformed push payload")
)
