package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrTransient = errors.New("transient remote error")
	ErrPermanent = errors.New("permanent remote error")
)

// StatusError is returned for any response with status >= 400.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Op, e.Code, strings.TrimSpace(e.Body))
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusNotFound:
		return ErrNotFound
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests, e.Code >= 500:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

type ErrorType string

const (
	ErrorNotFound  ErrorType = "notfound"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorCanceled  ErrorType = "canceled"
)

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorCanceled
	case errors.Is(err, ErrNotFound):
		return ErrorNotFound
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return ErrorTransient
	case errors.Is(err, ErrPermanent):
		return ErrorPermanent
	case errors.As(err, &netErr):
		return ErrorTransient
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "connection refused"), strings.Contains(e, "connection reset"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return ClassifyError(err) == ErrorTransient
}
