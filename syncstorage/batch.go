// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

// NewBatchID allocates a batch id from the session timestamp plus
// user_id mod 10. The timestamp is already 10ms-quantized, so its low
// digit is free to sub-distribute writes across shards on the wide-column
// engine while keeping ids monotone within a user; the SQL engines carry
// the same formula since the digit costs them nothing.
func NewBatchID(now Timestamp, userID int64) int64 {
	return int64(now) + userID%10
}

// BatchExpiry returns the expiry timestamp for a batch created at now;
// batches live at most BatchLifetimeMillis.
func BatchExpiry(now Timestamp) Timestamp {
	return now + BatchLifetimeMillis
}
