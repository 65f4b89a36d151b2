package errinfo

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(KindServiceError, "gemini API error: %d", 429)
	wrapped := fmt.Errorf("generate: %w", base)
	if got := KindOf(wrapped); got != KindServiceError {
		t.Fatalf("expected %s, got %s", KindServiceError, got)
	}
	if got := KindOf(errors.New("boom")); got != KindUnexpectedFailure {
		t.Fatalf("expected unexpected failure for plain errors, got %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %s", got)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("dial tcp: no such host")
	err := Wrap(cause, KindTransportFailure, "connect to %s", "gemini")
	if !strings.Contains(err.Error(), "no such host") {
		t.Fatalf("expected cause in message, got %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}

func TestOnlyCleanupWarningIsNonFatal(t *testing.T) {
	if IsFatal(KindCleanupWarning) {
		t.Fatalf("cleanup warning must not be fatal")
	}
	for _, k := range append(ValidationKinds(), KindIOFailure, KindEngineNotFound, KindLaunchFailure) {
		if !IsFatal(k) {
			t.Fatalf("expected %s to be fatal", k)
		}
	}
}

func TestLinesIncludeDetail(t *testing.T) {
	err := New(KindServiceError, "error connecting to Gemini API: %d %s", 400, "Bad Request").
		WithDetail(`Gemini API Error Details: {"error":"bad key"}`)
	lines := err.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", lines)
	}
	if !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected detail in Error(), got %q", err.Error())
	}
}
