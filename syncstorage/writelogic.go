// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

// ApplyPut computes the new BSO row and whether the owning collection's
// last_modified should advance, given the row's existing state (existing,
// ok==false if the row doesn't exist yet) and an incoming write at now.
// Every Backend implementation (sql/*.go, widecolumn/bolt.go) calls this
// instead of re-deriving the timestamp rules itself, so they hold
// identically across backends:
//
//  1. any write advances last_modified to now;
//  2. a TTL-only touch (no payload, no sortindex) does NOT advance
//     modified, only expiry — and the new expiry is now+ttl, not
//     modified+ttl.
func ApplyPut(existing BSO, ok bool, incoming PutBSO, now Timestamp) (row BSO, advancesModified bool) {
	ttlOnly := incoming.Payload == nil && incoming.SortIndex == nil

	if !ok {
		// First write for this id: always a full row, always advances.
		row = BSO{
			ID:        incoming.ID,
			SortIndex: incoming.SortIndex,
			Payload:   "",
			Modified:  now,
			Expiry:    now.Add(DefaultBSOTTL),
		}
		if incoming.Payload != nil {
			row.Payload = *incoming.Payload
		}
		if incoming.TTLSecs != nil {
			row.Expiry = now.Add(*incoming.TTLSecs)
		}
		return row, true
	}

	row = existing
	if incoming.SortIndex != nil {
		row.SortIndex = incoming.SortIndex
	}
	if incoming.Payload != nil {
		row.Payload = *incoming.Payload
	}
	if incoming.TTLSecs != nil {
		row.Expiry = now.Add(*incoming.TTLSecs)
	}

	if ttlOnly {
		// modified untouched; expiry already updated above if a ttl was given.
		return row, false
	}

	row.Modified = now
	return row, true
}

// ApplyBatchCommitItem is ApplyPut specialized for batch commit's per-item
// semantics: as with a direct PUT, a staged item with no payload on first
// insert gets an empty-string payload and the ttl defaults to
// DefaultBSOTTL — but unlike a direct PUT, a committed item always advances modified, even if
// only its ttl changed, because commit is a write to the row regardless of
// which fields were staged.
func ApplyBatchCommitItem(existing BSO, ok bool, incoming PutBSO, now Timestamp) BSO {
	row, _ := ApplyPut(existing, ok, incoming, now)
	row.Modified = now
	return row
}
