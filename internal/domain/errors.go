package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNotRetryable = errors.New("request is not retryable")
)
