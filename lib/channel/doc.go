// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel is a typed client for the slice of the Slack Web API
// that Waldo uses: posting and updating messages, reading channel
// history and thread replies, and reading reactions.
//
// The client is deliberately thin. Every method maps to exactly one
// API call, callers pass context.Context for cancellation, and errors
// surface as *Error carrying both the HTTP status and the Slack error
// code so callers can branch on either:
//
//	var apiErr *channel.Error
//	if errors.As(err, &apiErr) && apiErr.Retryable() { ... }
//
// Slack reports most failures as HTTP 200 with {"ok":false,"error":...}
// in the body; the client folds both transport-level and ok:false
// failures into the same *Error type.
//
// The bot token is held in a secret.Buffer and only materializes as a
// string while building the Authorization header of each request.
package channel
