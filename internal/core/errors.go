package core

import "errors"

var (
	ErrEmptyMessage           = errors.New("message cannot be empty")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrRateLimiterUnavailable = errors.New("rate limiter unavailable")
	ErrThreadNotFound         = errors.New("thread not found")
	ErrProviderNotConfigured  = errors.New("AI service not configured")
	ErrProviderTimeout        = errors.New("AI provider timed out")
)
