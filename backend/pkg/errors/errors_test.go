package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestIsErrorType(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{"type conflict is memory", NewFieldTypeConflict("skills", "kind mismatch"), ErrorTypeMemory, true},
		{"type conflict is not storage", NewFieldTypeConflict("skills", "kind mismatch"), ErrorTypeStorage, false},
		{"version mismatch is storage", NewVersionMismatch("user-1", 3), ErrorTypeStorage, true},
		{"apply timeout is context", NewApplyTimeout("user-1", stderrors.New("deadline")), ErrorTypeContext, true},
		{"extraction failure", NewExtractionFailed("gpt-4o-mini", stderrors.New("boom")), ErrorTypeExtraction, true},
		{"wrapped still matches", fmt.Errorf("apply: %w", NewRecordNotFound("user-1")), ErrorTypeStorage, true},
		{"plain error matches nothing", stderrors.New("boom"), ErrorTypeStorage, false},
		{"nil", nil, ErrorTypeStorage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsErrorType(tt.err, tt.errType); got != tt.want {
				t.Errorf("IsErrorType(%v, %s) = %v, want %v", tt.err, tt.errType, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewVersionMismatch("user-1", 2)) {
		t.Error("Version mismatch should be retryable")
	}
	if !IsRetryable(NewConcurrentUpdateConflict("user-1", 5)) {
		t.Error("Exhausted CAS retries should be retryable at the caller level")
	}
	if !IsRetryable(NewStorageUnavailable("get", stderrors.New("connection refused"))) {
		t.Error("Storage outage should be retryable")
	}
	if IsRetryable(NewApplyTimeout("user-1", stderrors.New("deadline"))) {
		t.Error("Context timeout should not be retryable")
	}
	if IsRetryable(NewFieldTypeConflict("skills", "kind mismatch")) {
		t.Error("Type conflict is deterministic and not retryable")
	}
}

func TestErrorMessages(t *testing.T) {
	err := NewStorageUnavailable("compare-and-swap", stderrors.New("connection refused"))
	want := "[storage] storage unavailable during compare-and-swap: connection refused"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	var mismatch *ErrVersionMismatch
	wrapped := fmt.Errorf("write failed: %w", NewVersionMismatch("user-1", 4))
	if !stderrors.As(wrapped, &mismatch) {
		t.Fatal("Expected errors.As to find the wrapped mismatch")
	}
	if mismatch.ExpectedVersion != 4 {
		t.Errorf("Expected version 4, got %d", mismatch.ExpectedVersion)
	}
}
