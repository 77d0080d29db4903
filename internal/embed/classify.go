package embed

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"

	"github.com/AnshuML/Aipl/internal/errors"
)

// classifyStatus maps an HTTP status from a provider to the error taxonomy.
// 408, 429 and 5xx may succeed later; every other 4xx will not.
func classifyStatus(provider string, status int, body string) error {
	msg := fmt.Sprintf("%s returned status %d", provider, status)
	if body != "" {
		msg += ": " + body
	}

	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return errors.TransientProviderError(msg, nil).WithDetail("status", fmt.Sprint(status))
	default:
		return errors.PermanentProviderError(msg, nil).WithDetail("status", fmt.Sprint(status))
	}
}

// classifyTransport maps a request error (no HTTP status) to the taxonomy.
// Cancellation by the caller is passed through untouched.
func classifyTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.ErrCodeProviderTimeout, provider+" request timed out", err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.TransientProviderError(provider+" is unreachable", err)
	}
	return errors.TransientProviderError(provider+" request failed", err)
}
