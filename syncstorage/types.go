// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

import "regexp"

// DefaultBSOTTL is the sentinel "far future" TTL (seconds) applied when a
// write supplies no ttl.
const DefaultBSOTTL = 2_100_000_000

// BatchLifetimeMillis bounds how long a staged batch may live before it is
// considered expired.
const BatchLifetimeMillis = 2 * 60 * 60 * 1000

// WellKnownCollections are the reserved collection ids 1..13, in id order.
// User-created collections begin at id 101.
var WellKnownCollections = []string{
	"clients", "crypto", "forms", "history", "keys", "meta",
	"bookmarks", "prefs", "tabs", "passwords", "addons", "addresses", "creditcards",
}

// FirstUserCollectionID is the first id handed out to a user-created
// collection name.
const FirstUserCollectionID = 101

var collectionNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,32}$`)
var bsoIDRe = regexp.MustCompile(`^[\x20-\x7e]{1,64}$`)

// ValidCollectionName reports whether name matches the collection name
// grammar.
func ValidCollectionName(name string) bool {
	return collectionNameRe.MatchString(name)
}

// ValidBSOID reports whether id matches the bso_id grammar: printable
// ASCII, at most 64 bytes.
func ValidBSOID(id string) bool {
	return bsoIDRe.MatchString(id)
}

// BSO is the Basic Storage Object: the atomic record of a sync collection.
type BSO struct {
	ID        string
	SortIndex *int32
	Payload   string
	Modified  Timestamp
	Expiry    Timestamp
}

// Visible reports whether the BSO is visible at now: expiry must be
// strictly in the future.
func (b BSO) Visible(now Timestamp) bool {
	return b.Expiry > now
}

// PutBSO is the write-shape of a BSO: every field is optional except ID,
// so batch-append merging can tell an absent field from a zero one.
type PutBSO struct {
	ID        string
	SortIndex *int32
	Payload   *string
	TTLSecs   *int64
}

// MergeInto folds incoming (a later append of the same id) into b: later
// fields overwrite earlier non-null values, earlier fields survive null
// overrides.
func (b *PutBSO) MergeInto(incoming PutBSO) {
	if incoming.SortIndex != nil {
		b.SortIndex = incoming.SortIndex
	}
	if incoming.Payload != nil {
		b.Payload = incoming.Payload
	}
	if incoming.TTLSecs != nil {
		b.TTLSecs = incoming.TTLSecs
	}
}

// SortOrder is the ordering BSO queries may request.
type SortOrder int

// Sort orders a BSO query may request.
const (
	SortNone SortOrder = iota
	SortNewest
	SortOldest
	SortIndex
)

// MaxIDsPerQuery is the historical-compatibility cap on the `ids` filter
// parameter; extras beyond it are silently dropped.
const MaxIDsPerQuery = 100

// BSOFilter selects which BSOs a get_bsos/get_bso_ids call returns.
type BSOFilter struct {
	IDs    []string
	Older  *Timestamp
	Newer  *Timestamp
	Sort   SortOrder
	Limit  *int64 // negative means unlimited
	Offset string
	Full   bool
}

// Normalize caps IDs at MaxIDsPerQuery.
func (f *BSOFilter) Normalize() {
	if len(f.IDs) > MaxIDsPerQuery {
		f.IDs = f.IDs[:MaxIDsPerQuery]
	}
}

// BSOQueryResult is the result of get_bsos.
type BSOQueryResult struct {
	BSOs       []BSO
	NextOffset string
	More       bool
}

// PostResult is the result of post_bsos / commit_batch: per-request success
// and per-id failure lists, never a single hard error for row-level issues.
type PostResult struct {
	Modified Timestamp
	Success  []string
	Failed   map[string]string
}

// NewPostResult returns an empty, ready-to-append PostResult.
func NewPostResult(modified Timestamp) PostResult {
	return PostResult{Modified: modified, Failed: map[string]string{}}
}

// Quota is the storage quota policy applied to per-(user,collection)
// usage counters.
type Quota struct {
	Enabled  bool  `default:"false" usage:"maintain per-collection quota counters"`
	Size     int64 `default:"2147483648" usage:"byte ceiling, only meaningful when Enforced"`
	Enforced bool  `default:"false" usage:"reject writes that would exceed Size"`
}

// Usage is a (count, total_bytes) pair, either cached or freshly computed
// by calc_quota_usage.
type Usage struct {
	Count      int64
	TotalBytes int64
}

// Batch is a staged, server-side upload awaiting commit.
type Batch struct {
	ID     int64
	Expiry Timestamp
}

// Expired reports whether the batch has outlived BatchLifetimeMillis as of
// now.
func (b Batch) Expired(now Timestamp) bool {
	return now >= b.Expiry
}
