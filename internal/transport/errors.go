package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"unicode/utf8"
)

// Sentinels wrapped into Result.Err so callers can use errors.Is.
var (
	ErrRetryable = errors.New("retryable delivery failure")
	ErrPermanent = errors.New("permanent delivery failure")
)

// WrapRetryable annotates err as retryable. A nil err yields ErrRetryable.
func WrapRetryable(err error) error {
	if err == nil {
		return ErrRetryable
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// WrapPermanent annotates err as permanent. A nil err yields ErrPermanent.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Classify maps an HTTP status to an Outcome.
//
//	2xx                 Delivered
//	5xx, 408, 429       RetryableFailure
//	anything else       PermanentFailure
func Classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Delivered
	case status >= 500 && status < 600:
		return RetryableFailure
	case status == 408 || status == 429:
		return RetryableFailure
	default:
		return PermanentFailure
	}
}

// Reason returns a low-cardinality label describing why an attempt failed.
// Used for metric labels and dead-letter envelopes.
func Reason(err error, status int) string {
	if status == 0 && err != nil {
		var dnsErr *net.DNSError
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return "timeout"
		case errors.As(err, &dnsErr):
			return "dns_error"
		case errors.Is(err, syscall.ECONNREFUSED):
			return "connection_refused"
		case errors.As(err, &netErr) && netErr.Timeout():
			return "timeout"
		case errors.Is(err, ErrPermanent):
			return "encode"
		default:
			return "network"
		}
	}
	switch {
	case status >= 200 && status < 300:
		return "ok"
	case status >= 500:
		return "http_5xx"
	case status == 429:
		return "http_429"
	case status == 408:
		return "http_408"
	case status >= 400:
		return "http_4xx"
	default:
		return "other"
	}
}

// truncate keeps at most limit runes of s.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
