package model

import (
	"context"
	"errors"
)

// Error categories shared by the store, collector and manager.
var (
	ErrTransient         = errors.New("transient io error")
	ErrDataIntegrity     = errors.New("data integrity error")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrClosed            = errors.New("closed")
)

// ErrorKind names the category of err for logs and records.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrDataIntegrity):
		return "integrity"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient"
	case errors.Is(err, ErrResourceExhausted):
		return "resource"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
