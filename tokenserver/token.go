// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package tokenserver

import (
	"context"

	"storj.io/syncstorage/hawk"
	"storj.io/syncstorage/tokenserver/identity"
)

// IssueConfig bundles what Issue needs beyond the request itself: the
// shared master secret HAWK token derivation is rooted in, the node
// control-loop policy, and how long a minted token should live.
type IssueConfig struct {
	MasterSecret      []byte
	Assignment        AssignmentConfig
	TokenDurationSecs int64
	TokenserverOrigin string
}

// IssueResult is the shape the tokenserver HTTP handler renders.
type IssueResult struct {
	Token         string
	DerivedSecret string
	UID           int64
	APIEndpoint   string
	DurationSecs  int64
	HashedFxaUID  string
}

// Issue runs the issuance sequence end to end: resolve the live user row
// (if any), apply the monotonicity checks, assign or reuse a node, and
// mint a HAWK token.
func Issue(ctx context.Context, store StoreConn, service Service, claims identity.Claims, now int64, cfg IssueConfig) (IssueResult, error) {
	existing, err := store.GetLiveUsers(ctx, service.ID, claims.Email)
	if err != nil {
		return IssueResult{}, err
	}

	var live *User
	if len(existing) > 0 {
		live = &existing[0]
		// Race recovery: if multiple live rows exist, keep the most recently
		// created and mark the rest replaced. GetLiveUsers already orders
		// most-recent first, so every row after the first is a duplicate.
		for _, dup := range existing[1:] {
			if err := store.ReplaceUser(ctx, dup.ID, now); err != nil {
				return IssueResult{}, err
			}
		}
	}

	requestGeneration := int64(0)
	if claims.Generation != nil {
		requestGeneration = *claims.Generation
	}
	requestKeysChangedAt := int64(0)
	if claims.KeysChangedAt != nil {
		requestKeysChangedAt = *claims.KeysChangedAt
	}

	var u User
	if live != nil {
		if requestGeneration < live.Generation {
			return IssueResult{}, ErrInvalidGeneration
		}
		if requestKeysChangedAt < live.KeysChangedAt {
			return IssueResult{}, ErrInvalidKeysChangedAt
		}

		effectiveGeneration := live.Generation
		if requestGeneration > effectiveGeneration {
			effectiveGeneration = requestGeneration
		}
		effectiveKeysChangedAt := live.KeysChangedAt
		if claims.KeysChangedAt != nil {
			effectiveKeysChangedAt = requestKeysChangedAt
		}

		if claims.ClientState != live.ClientState {
			// Key rotation: allocate a new row on the same node.
			node := Node{ID: live.NodeID}
			newUser := User{
				ServiceID:     service.ID,
				Email:         claims.Email,
				Generation:    effectiveGeneration,
				KeysChangedAt: effectiveKeysChangedAt,
				ClientState:   claims.ClientState,
				NodeID:        node.ID,
				CreatedAt:     now,
			}
			id, err := store.CreateUser(ctx, newUser)
			if err != nil {
				return IssueResult{}, err
			}
			if err := store.ReplaceUser(ctx, live.ID, now); err != nil {
				return IssueResult{}, err
			}
			newUser.ID = id
			u = newUser
		} else {
			live.Generation = effectiveGeneration
			live.KeysChangedAt = effectiveKeysChangedAt
			if err := store.UpdateUser(ctx, *live); err != nil {
				return IssueResult{}, err
			}
			u = *live
		}
	} else {
		node, err := AssignNode(ctx, store, service.ID, cfg.Assignment)
		if err != nil {
			return IssueResult{}, err
		}
		newUser := User{
			ServiceID:     service.ID,
			Email:         claims.Email,
			Generation:    requestGeneration,
			KeysChangedAt: requestKeysChangedAt,
			ClientState:   claims.ClientState,
			NodeID:        node.ID,
			CreatedAt:     now,
		}
		id, err := store.CreateUser(ctx, newUser)
		if err != nil {
			return IssueResult{}, err
		}
		newUser.ID = id
		u = newUser
	}

	nodes, err := store.GetNodes(ctx, service.ID)
	if err != nil {
		return IssueResult{}, err
	}
	var hostname string
	for _, n := range nodes {
		if n.ID == u.NodeID {
			hostname = n.Hostname
			break
		}
	}

	kidSource := u.KeysChangedAt
	if kidSource == 0 {
		kidSource = u.Generation
	}
	fxaKid, err := hawk.FormatFxaKid(kidSource, u.ClientState)
	if err != nil {
		return IssueResult{}, err
	}

	hashedFxaUID := hashHex(claims.FxaUID)
	plaintext := hawk.Plaintext{
		Node:              hostname,
		FxaKid:            fxaKid,
		FxaUID:            claims.FxaUID,
		HashedDeviceID:    hashHex(claims.FxaUID + claims.DeviceID),
		HashedFxaUID:      hashedFxaUID,
		Expires:           now/1000 + cfg.TokenDurationSecs,
		UID:               u.ID,
		TokenserverOrigin: cfg.TokenserverOrigin,
	}

	token, derivedSecret, err := hawk.Issue(cfg.MasterSecret, plaintext)
	if err != nil {
		return IssueResult{}, err
	}

	return IssueResult{
		Token:         token,
		DerivedSecret: derivedSecret,
		UID:           u.ID,
		APIEndpoint:   hostname + "/1.5/" + itoa(u.ID),
		DurationSecs:  cfg.TokenDurationSecs,
		HashedFxaUID:  hashedFxaUID,
	}, nil
}
