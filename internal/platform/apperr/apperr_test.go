package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrappedError(t *testing.T) {
	base := E(KindPermanentExternal, "fileshare.download", errors.New("403"))
	wrapped := fmt.Errorf("download clip: %w", base)
	if got := KindOf(wrapped); got != KindPermanentExternal {
		t.Fatalf("expected permanent_external, got %s", got)
	}
	if IsRetryable(wrapped) {
		t.Fatalf("permanent errors must not be retryable")
	}
}

func TestKindOfContextErrors(t *testing.T) {
	if got := KindOf(context.Canceled); got != KindCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
}

func TestUntaggedDefaultsTransient(t *testing.T) {
	err := errors.New("connection reset")
	if got := KindOf(err); got != KindTransientExternal {
		t.Fatalf("expected transient_external, got %s", got)
	}
	if !IsRetryable(err) {
		t.Fatalf("untagged errors should be retryable")
	}
}

func TestENilPassthrough(t *testing.T) {
	if E(KindTransientExternal, "op", nil) != nil {
		t.Fatalf("E(nil) must be nil")
	}
}
