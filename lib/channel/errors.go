// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a failed Slack Web API call. Callers use errors.As
// to extract the structured information:
//
//	var apiErr *channel.Error
//	if errors.As(err, &apiErr) {
//	    if apiErr.Code == channel.ErrCodeNotInChannel { ... }
//	}
type Error struct {
	// Code is the Slack error code (e.g., "channel_not_found",
	// "ratelimited"). Empty when the response carried no code.
	Code string `json:"error"`
	// StatusCode is the HTTP status of the response. Slack reports
	// most logical failures with status 200 and ok:false, so this is
	// usually 200 even for errors.
	StatusCode int `json:"-"`
	// RetryAfter is the server-requested backoff from a 429
	// response's Retry-After header. Zero when absent.
	RetryAfter time.Duration `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("slack: %s (%d)", e.Code, e.StatusCode)
}

// Retryable reports whether the call may succeed if repeated later:
// rate limits, server-side failures, and migration pauses. Permanent
// failures (bad token, missing channel, malformed arguments) are not
// retryable.
func (e *Error) Retryable() bool {
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return true
	}
	switch e.Code {
	case ErrCodeRateLimited, "service_unavailable", "internal_error", "fatal_error", "team_added_to_org":
		return true
	}
	return false
}

// Slack error codes the daemon branches on.
const (
	ErrCodeInvalidAuth     = "invalid_auth"
	ErrCodeNotInChannel    = "not_in_channel"
	ErrCodeChannelNotFound = "channel_not_found"
	ErrCodeMessageNotFound = "message_not_found"
	ErrCodeThreadNotFound  = "thread_not_found"
	ErrCodeRateLimited     = "ratelimited"
)

// IsError checks whether err is a *Error with the given Slack error code.
func IsError(err error, code string) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
