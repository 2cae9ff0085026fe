// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package tokenserver

import (
	"context"
	"math"
)

// AssignmentConfig is the node-selection policy. It is not bound directly:
// config.TokenserverConfig.Assignment builds it, setting SpannerMode from a
// spanner:// `TOKENSERVER__DATABASE_URL` and ReleaseRate from
// `..._NODE_CAPACITY_RELEASE_RATE`; SpannerNodeID stays zero.
type AssignmentConfig struct {
	// SpannerMode short-circuits node selection: a single fixed node id is
	// always selected, the single-node deployment shape.
	SpannerMode   bool  `default:"false" usage:"short-circuit node selection to SpannerNodeID"`
	SpannerNodeID int64 `default:"0" usage:"fixed node id used when SpannerMode is set"`

	// ReleaseRate is the fraction of capacity released per pass:
	// available becomes min(capacity*ReleaseRate, capacity-current_load).
	ReleaseRate float64 `default:"0.1" usage:"fraction of capacity released per retry pass"`
}

// maxReleasePasses bounds the capacity-release retry loop.
const maxReleasePasses = 5

// getBestNode returns the least relatively-loaded assignable node, with up
// to maxReleasePasses capacity-release attempts if none currently qualify.
func getBestNode(nodes []Node, cfg AssignmentConfig) (Node, bool) {
	if cfg.SpannerMode {
		for _, n := range nodes {
			if n.ID == cfg.SpannerNodeID {
				return n, true
			}
		}
		return Node{}, false
	}

	for pass := 0; pass <= maxReleasePasses; pass++ {
		if best, ok := bestAssignable(nodes); ok {
			return best, true
		}
		if pass == maxReleasePasses {
			break
		}
		releaseCapacity(nodes, cfg.ReleaseRate)
	}
	return Node{}, false
}

// bestAssignable returns the assignable node with the lowest
// log(current_load)/log(capacity), the least relatively loaded.
func bestAssignable(nodes []Node) (Node, bool) {
	var best Node
	var bestScore float64
	found := false
	for _, n := range nodes {
		if !n.Assignable() {
			continue
		}
		score := relativeLoad(n)
		if !found || score < bestScore {
			best, bestScore, found = n, score, true
		}
	}
	return best, found
}

// relativeLoad is log(current_load)/log(capacity). A node with zero
// current_load (log undefined/−Inf) is always the least loaded; a node
// whose capacity is 1 (log(1)=0) is treated as maximally loaded to avoid a
// division by zero, since it can only ever hold a single user anyway.
func relativeLoad(n Node) float64 {
	if n.CurrentLoad <= 0 {
		return math.Inf(-1)
	}
	logCapacity := math.Log(float64(n.Capacity))
	if logCapacity == 0 {
		return math.Inf(1)
	}
	return math.Log(float64(n.CurrentLoad)) / logCapacity
}

// releaseCapacity executes one capacity-release pass in place, raising
// available on every non-downed node that still has headroom.
func releaseCapacity(nodes []Node, releaseRate float64) {
	for i := range nodes {
		n := &nodes[i]
		if n.Downed || n.CurrentLoad >= n.Capacity {
			continue
		}
		byRate := int64(float64(n.Capacity) * releaseRate)
		headroom := n.Capacity - n.CurrentLoad
		if byRate < headroom {
			n.Available = byRate
		} else {
			n.Available = headroom
		}
	}
}

// AssignNode picks a node for a new/rotated user assignment and persists
// its incremented current_load and decremented available.
func AssignNode(ctx context.Context, store StoreConn, serviceID int64, cfg AssignmentConfig) (Node, error) {
	nodes, err := store.GetNodes(ctx, serviceID)
	if err != nil {
		return Node{}, err
	}
	best, ok := getBestNode(nodes, cfg)
	if !ok {
		return Node{}, ErrServiceUnavailable
	}

	best.CurrentLoad++
	best.Available--
	if best.Available < 0 {
		best.Available = 0
	}
	if err := store.UpdateNode(ctx, best); err != nil {
		return Node{}, err
	}
	return best, nil
}
