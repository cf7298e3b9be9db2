package model

import "github.com/m-mizutani/goerr/v2"

var (
	ErrMalformedEvent      = goerr.New("malformed webhook event")
	ErrMissingConversation = goerr.New("conversation identity is missing")
	ErrEmptyText           = goerr.New("message text is empty")

	ErrSchedulerClosed     = goerr.New("scheduler is closed")
	ErrSchedulerOverloaded = goerr.New("scheduler is overloaded")

	ErrBackendStatus      = goerr.New("reply backend returned non-success status")
	ErrBackendUnreachable = goerr.New("reply backend is unreachable")
	ErrEmptyAnswer        = goerr.New("reply backend returned no answer")

	ErrDeliveryStatus      = goerr.New("gateway rejected message")
	ErrDeliveryUnreachable = goerr.New("gateway is unreachable")
)
