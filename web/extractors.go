// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"storj.io/syncstorage/syncstorage"
)

// wireBSO is the JSON shape a client PUTs/POSTs, before it's translated to
// syncstorage.PutBSO (whose TTLSecs/SortIndex/Payload pointers distinguish
// "absent" from "zero value" for batch-append merging).
type wireBSO struct {
	ID        string  `json:"id"`
	SortIndex *int32  `json:"sortindex"`
	Payload   *string `json:"payload"`
	TTL       *int64  `json:"ttl"`
}

func (w wireBSO) toPutBSO() syncstorage.PutBSO {
	return syncstorage.PutBSO{ID: w.ID, SortIndex: w.SortIndex, Payload: w.Payload, TTLSecs: w.TTL}
}

// wireBSOOut is the JSON shape a client GETs back. Modified is rendered in
// the same seconds form as the X-Last-Modified header, not raw
// milliseconds.
type wireBSOOut struct {
	ID        string  `json:"id"`
	SortIndex *int32  `json:"sortindex,omitempty"`
	Payload   string  `json:"payload"`
	Modified  float64 `json:"modified"`
}

func bsoToWire(b syncstorage.BSO) wireBSOOut {
	return wireBSOOut{ID: b.ID, SortIndex: b.SortIndex, Payload: b.Payload, Modified: b.Modified.Seconds()}
}

func bsosToWire(bsos []syncstorage.BSO) []wireBSOOut {
	out := make([]wireBSOOut, len(bsos))
	for i, b := range bsos {
		out[i] = bsoToWire(b)
	}
	return out
}

// wirePostResult is the JSON shape of multi-put and batch-commit
// responses: `{"modified":<ts>,"success":[...],"failed":{}}`.
type wirePostResult struct {
	Modified float64           `json:"modified"`
	Success  []string          `json:"success"`
	Failed   map[string]string `json:"failed"`
}

func postResultToWire(r syncstorage.PostResult) wirePostResult {
	success := r.Success
	if success == nil {
		success = []string{}
	}
	failed := r.Failed
	if failed == nil {
		failed = map[string]string{}
	}
	return wirePostResult{Modified: r.Modified.Seconds(), Success: success, Failed: failed}
}

// extractBSOs reads and validates a batch of BSOs from the request body:
//   - Accepted content types: application/json, application/newlines, text/plain.
//   - Body parse is stream-limited by MaxRequestBytes.
//   - Newline-framed uploads: one BSO JSON object per line; a malformed line
//     fails the whole request.
//   - JSON-array uploads: per-object shape failures become per-id `failed`
//     entries rather than aborting the request; an object whose id cannot
//     be read is dropped.
//   - Duplicate BSO ids -> hard fail ("Input BSO has duplicate ID").
//   - Missing `id` -> hard fail ("Input BSO has no ID").
func extractBSOs(w http.ResponseWriter, r *http.Request, limits Limits) ([]syncstorage.PutBSO, map[string]string, error) {
	body := http.MaxBytesReader(w, r.Body, limits.MaxRequestBytes)
	contentType := r.Header.Get("Content-Type")

	var raw []wireBSO
	failed := map[string]string{}

	switch {
	case strings.HasPrefix(contentType, "application/newlines"):
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), int(limits.MaxRequestBytes))
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			var item wireBSO
			if err := json.Unmarshal(line, &item); err != nil {
				return nil, nil, newAPIError(http.StatusBadRequest, "error", "body", "bsos", "malformed newline-framed record")
			}
			raw = append(raw, item)
		}
		if err := scanner.Err(); err != nil {
			return nil, nil, translateBodyReadErr(err)
		}

	default: // application/json, text/plain, and any unrecognized type parse as JSON.
		dec := json.NewDecoder(body)
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, translateBodyReadErr(err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return nil, nil, newAPIError(http.StatusBadRequest, "error", "body", "bsos", "expected a JSON array")
		}
		for dec.More() {
			var item json.RawMessage
			if err := dec.Decode(&item); err != nil {
				return nil, nil, translateBodyReadErr(err)
			}
			var w wireBSO
			if err := json.Unmarshal(item, &w); err != nil {
				// A per-object shape failure becomes a failed[id] entry when
				// the object still carries a readable string id; an object
				// with no recoverable id is dropped.
				var idOnly struct {
					ID string `json:"id"`
				}
				if json.Unmarshal(item, &idOnly) == nil && idOnly.ID != "" {
					failed[idOnly.ID] = "invalid bso"
				}
				continue
			}
			raw = append(raw, w)
		}
	}

	seen := make(map[string]struct{}, len(raw))
	items := make([]syncstorage.PutBSO, 0, len(raw))
	var totalBytes int64
	for _, w := range raw {
		if w.ID == "" {
			return nil, nil, newAPIError(http.StatusBadRequest, "error", "body", "bsos", "Input BSO has no ID")
		}
		if _, dup := seen[w.ID]; dup {
			return nil, nil, newAPIError(http.StatusBadRequest, "error", "body", "bsos", "Input BSO has duplicate ID")
		}
		seen[w.ID] = struct{}{}

		if !syncstorage.ValidBSOID(w.ID) {
			failed[w.ID] = "invalid id"
			continue
		}
		if w.Payload != nil && int64(len(*w.Payload)) > limits.MaxRecordPayloadBytes {
			failed[w.ID] = "retry bytes"
			continue
		}
		if w.Payload != nil {
			totalBytes += int64(len(*w.Payload))
		}
		items = append(items, w.toPutBSO())
	}

	if int64(len(items)) > limits.MaxPostRecords {
		return nil, nil, newAPIError(http.StatusRequestEntityTooLarge, "size-limit-exceeded", "body", "", "too many records")
	}
	if totalBytes > limits.MaxPostBytes {
		return nil, nil, newAPIError(http.StatusRequestEntityTooLarge, "size-limit-exceeded", "body", "", "request payloads exceed the post byte limit")
	}

	return items, failed, nil
}

func translateBodyReadErr(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || err == io.ErrUnexpectedEOF {
		return newAPIError(http.StatusRequestEntityTooLarge, "size-limit-exceeded", "body", "", "request body too large")
	}
	return newAPIError(http.StatusBadRequest, "error", "body", "", err.Error())
}

// decodeSinglePutBSO reads the body of a PUT /storage/{collection}/{bso}
// request: a single BSO JSON object whose id (if present) must match the
// path segment.
func decodeSinglePutBSO(body io.Reader, pathID string) (syncstorage.PutBSO, error) {
	var w wireBSO
	if err := json.NewDecoder(body).Decode(&w); err != nil {
		return syncstorage.PutBSO{}, newAPIError(http.StatusBadRequest, "error", "body", "", "malformed body")
	}
	if w.ID != "" && w.ID != pathID {
		return syncstorage.PutBSO{}, newAPIError(http.StatusBadRequest, "error", "body", "id", "id mismatch")
	}
	w.ID = pathID
	return w.toPutBSO(), nil
}

// batchParam resolves the `batch`/`commit` query parameters: batch=true
// (or empty-valued but present) means "create a new batch"; any other
// value is an existing batch id in the backend's opaque wire format, which
// must decode before it is ever looked up. commit=true without a batch
// param is a missing_id error.
func batchParam(r *http.Request, backend syncstorage.Backend) (batchID int64, isNew bool, commit bool, err error) {
	commit = r.URL.Query().Get("commit") == "true"
	batch, present := batchQueryValue(r)

	if !present {
		if commit {
			return 0, false, false, newAPIError(http.StatusBadRequest, "error", "url", "batch", "missing_id")
		}
		return 0, false, false, nil
	}
	if batch == "true" || batch == "" {
		return 0, true, commit, nil
	}
	id, ok := backend.DecodeBatchID(batch)
	if !ok {
		return 0, false, false, newAPIError(http.StatusBadRequest, "error", "url", "batch", "invalid batch id")
	}
	return id, false, commit, nil
}

func batchQueryValue(r *http.Request) (value string, present bool) {
	vals, ok := r.URL.Query()["batch"]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}
