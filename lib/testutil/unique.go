// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now()
// when tests need unique identifiers for thread timestamps, request
// IDs, or message bodies that must be distinguishable in a shared
// mock channel.
//
//	threadTS := testutil.UniqueID("1720000000.")  // "1720000000.-1", ...
//	body := testutil.UniqueID("hello")            // "hello-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
