/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package constants

// Confirmation callback event names
const (
	EventRecordAppended = "RecordAppended"
)

// Signature header carrying the HMAC of the callback body
const (
	HookSignatureHeader = "X-Hook-Signature"
)

// API default limits
const (
	DefaultRangeLimit = 100
	MaxRangeLimit     = 1000
)

// Chain defaults
const (
	DefaultMaxPendingEvents = 30
)
