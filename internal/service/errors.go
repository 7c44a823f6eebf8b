package service

import (
	"errors"
	"fmt"

	"buildtrack/pkg/lock"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateRequest 同一个 Idempotency-Key 已经处理过
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrLockTimeout 在操作超时前没有拿到项目锁
	ErrLockTimeout = lock.ErrLockTimeout
)

// ValidationError names the request field that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
