package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want nexuserr.Code
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, nexuserr.CodeProviderTimeout},
		{"timeout text", errors.New("request timeout after 60s"), nexuserr.CodeProviderTimeout},
		{"rate limit 429", errors.New("unexpected status 429"), nexuserr.CodeProviderRateLimit},
		{"rate limit text", errors.New("rate_limit_error: slow down"), nexuserr.CodeProviderRateLimit},
		{"too many requests", errors.New("Too Many Requests"), nexuserr.CodeProviderRateLimit},
		{"server 500", errors.New("status 500 internal"), nexuserr.CodeProviderServerError},
		{"overloaded", errors.New("overloaded_error"), nexuserr.CodeProviderServerError},
		{"connection reset", errors.New("read: connection reset by peer"), nexuserr.CodeProviderServerError},
		{"unknown", errors.New("something odd"), nexuserr.CodeProviderUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapProviderErrorPreservesExistingCode(t *testing.T) {
	orig := nexuserr.New(nexuserr.CodeProviderRateLimit, "limited")
	wrapped := wrapProviderError("anthropic", "claude-sonnet-4", orig)
	if wrapped != orig {
		t.Fatal("already classified error should pass through unchanged")
	}
}

func TestWrapProviderErrorClassifies(t *testing.T) {
	err := wrapProviderError("openai", "gpt-4o", errors.New("status 503 service unavailable"))
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeProviderServerError {
		t.Errorf("code = %s, want PROVIDER_SERVER_ERROR", got)
	}
	var e *nexuserr.Error
	if !errors.As(err, &e) {
		t.Fatal("expected *nexuserr.Error")
	}
	if e.Context["provider"] != "openai" || e.Context["model"] != "gpt-4o" {
		t.Errorf("context = %v, want provider/model tags", e.Context)
	}
}
