package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Schedule not found")
		assert.Equal(t, "NOT_FOUND: Schedule not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database is locked")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "Database error")
		assert.Contains(t, err.Error(), "database is locked")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"mediaId": "m1", "reason": "size mismatch"}
		err := New(ErrCodeVerificationFailed, "Verification failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"NetworkFailure", func() *AppError { return NetworkFailure("sync", cause) }, ErrCodeNetworkFailure},
		{"APIError", func() *AppError { return APIError("sync", 502) }, ErrCodeAPI},
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"DownloadFailed", func() *AppError { return DownloadFailed("m1", cause) }, ErrCodeDownloadFailed},
		{"VerificationFailed", func() *AppError { return VerificationFailed("m1", "too small") }, ErrCodeVerificationFailed},
		{"PlayerFailure", func() *AppError { return PlayerFailure("m1", cause) }, ErrCodePlayerFailure},
		{"NotPaired", func() *AppError { return NotPaired() }, ErrCodeNotPaired},
		{"PairingExpired", func() *AppError { return PairingExpired() }, ErrCodePairingExpired},
		{"CriticalFault", func() *AppError { return CriticalFault("loop", cause) }, ErrCodeCriticalFault},
		{"RecoveryExhausted", func() *AppError { return RecoveryExhausted(4) }, ErrCodeRecoveryExhausted},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"NotFound", func() *AppError { return NotFound("Schedule") }, ErrCodeNotFound},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestDatabase(t *testing.T) {
	t.Run("wraps database error", func(t *testing.T) {
		cause := errors.New("disk I/O error")
		err := Database(cause)
		assert.Equal(t, ErrCodeDatabase, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestAPIErrorDetails(t *testing.T) {
	err := APIError("heartbeat", 503)
	assert.Contains(t, err.Message, "503")
	assert.Equal(t, map[string]int{"status": 503}, err.Details)
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		assert.True(t, IsAppError(New(ErrCodeNotFound, "test")))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		assert.False(t, IsAppError(errors.New("standard error")))
	})

	t.Run("returns true for fmt-wrapped AppError", func(t *testing.T) {
		wrapped := fmt.Errorf("ensure asset: %w", DownloadFailed("m1", nil))
		assert.True(t, IsAppError(wrapped))
		assert.Equal(t, ErrCodeDownloadFailed, GetCode(wrapped))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := New(ErrCodeNotFound, "Schedule not found")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		extracted, ok := AsAppError(errors.New("standard error"))
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		assert.Equal(t, ErrCodeNotFound, GetCode(New(ErrCodeNotFound, "test")))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		assert.Equal(t, ErrCodeInternal, GetCode(errors.New("standard error")))
	})
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, true},
		{"network failure", NetworkFailure("sync", errors.New("dial tcp")), true},
		{"verification failure", VerificationFailed("m1", "mime"), true},
		{"plain error", errors.New("boom"), true},
		{"critical fault", CriticalFault("event loop", nil), false},
		{"wrapped critical fault", fmt.Errorf("resolve: %w", CriticalFault("db", nil)), false},
		{"recovery exhausted", RecoveryExhausted(3), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsRecoverable(tc.err))
		})
	}
}
