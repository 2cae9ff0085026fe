// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

// CheckQuota rejects a write whose projected total_bytes would exceed an
// enforced quota. current is the cached (count, total_bytes) prior to the
// write; addBytes is the size the pending write would add.
//
// When q.Enabled is false the counters aren't maintained at all and
// CheckQuota always passes.
func CheckQuota(q Quota, current Usage, addBytes int64) error {
	if !q.Enabled || !q.Enforced {
		return nil
	}
	projected := current.TotalBytes + addBytes
	if projected > q.Size {
		return ErrQuota
	}
	return nil
}

// DriftDetected reports whether a cached (count, total_bytes) counter
// looks stale enough that the backend should recompute it from the raw
// BSO table. A negative counter can only come from decrement drift.
func DriftDetected(cached Usage) bool {
	return cached.Count < 0 || cached.TotalBytes < 0
}
