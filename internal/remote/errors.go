package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/RMSTrucks/jakebot/internal/model"
)

// StatusError is a non-2xx response from a remote API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Classify maps a raw client error onto the remote error taxonomy.
// 5xx, 429, timeouts and connection failures are transient; other 4xx and
// local errors (encoding, bad URL) are permanent.
func Classify(target model.Target, err error) error {
	if err == nil {
		return nil
	}
	if model.IsTransient(err) || model.IsPermanent(err) {
		return err
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500 {
			return &model.TransientRemoteError{Target: target, StatusCode: se.StatusCode, Err: err}
		}
		return &model.PermanentRemoteError{Target: target, StatusCode: se.StatusCode, Err: err}
	}

	if isNetworkError(err) {
		return &model.TransientRemoteError{Target: target, Err: err}
	}
	return &model.PermanentRemoteError{Target: target, Err: err}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryable is the default Policy.Retryable.
func IsRetryable(err error) bool {
	return model.IsTransient(err)
}
