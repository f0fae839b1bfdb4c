package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
)

// Classify maps a provider SDK error to one of the stable provider error
// codes. The runner's failover policy branches on these codes.
func Classify(err error) nexuserr.Code {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nexuserr.CodeProviderTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return nexuserr.CodeProviderTimeout

	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "quota"):
		return nexuserr.CodeProviderRateLimit

	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"):
		return nexuserr.CodeProviderServerError
	}
	return nexuserr.CodeProviderUnknown
}

// wrapProviderError classifies and wraps an SDK error, tagging it with the
// provider and model that produced it. The SDK message is preserved as the
// cause; callers surface only the code and our message.
func wrapProviderError(kind, model string, err error) error {
	var e *nexuserr.Error
	if errors.As(err, &e) {
		return err
	}
	return nexuserr.Wrap(Classify(err), "provider request failed", err).
		With("provider", kind).
		With("model", model)
}
