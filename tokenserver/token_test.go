// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package tokenserver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/syncstorage/tokenserver"
	"storj.io/syncstorage/tokenserver/identity"
	sqlstore "storj.io/syncstorage/tokenserver/store/sql"
)

func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.NewSQLiteStore(zaptest.NewLogger(t), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedServiceAndNode(t *testing.T, store *sqlstore.Store, ctx context.Context) (tokenserver.Service, tokenserver.Node) {
	t.Helper()
	serviceID, err := store.AddService(ctx, "sync-1.5", "{node}/1.5/{uid}")
	require.NoError(t, err)
	nodeID, err := store.AddNode(ctx, tokenserver.Node{
		ServiceID: serviceID, Hostname: "https://node1.example.com",
		Capacity: 100, CurrentLoad: 0, Available: 10,
	})
	require.NoError(t, err)
	return tokenserver.Service{ID: serviceID, Name: "sync-1.5"}, tokenserver.Node{ID: nodeID, ServiceID: serviceID}
}

func issueConfig() tokenserver.IssueConfig {
	return tokenserver.IssueConfig{
		MasterSecret:      []byte("test-master-secret-at-least-32b"),
		Assignment:        tokenserver.AssignmentConfig{ReleaseRate: 0.1},
		TokenDurationSecs: 3600,
		TokenserverOrigin: "test",
	}
}

func TestIssueAssignsNewUserToANode(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc, _ := seedServiceAndNode(t, store, ctx)

	conn, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = conn.Rollback(ctx) }()

	gen := int64(1)
	result, err := tokenserver.Issue(ctx, conn, svc, identity.Claims{
		Email: "alice@example.com", FxaUID: "alice-fxa-uid", ClientState: "abcd1234", Generation: &gen,
	}, 1000, issueConfig())
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	require.NotEmpty(t, result.DerivedSecret)
	require.Equal(t, int64(1), result.UID)
	require.Contains(t, result.APIEndpoint, "node1.example.com")
}

func TestIssueReusesRowWhenClientStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc, _ := seedServiceAndNode(t, store, ctx)
	cfg := issueConfig()

	conn, err := store.Begin(ctx)
	require.NoError(t, err)
	gen1 := int64(1)
	first, err := tokenserver.Issue(ctx, conn, svc, identity.Claims{
		Email: "bob@example.com", FxaUID: "bob-fxa-uid", ClientState: "abcd1234", Generation: &gen1,
	}, 1000, cfg)
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))

	conn2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = conn2.Rollback(ctx) }()
	gen2 := int64(2)
	second, err := tokenserver.Issue(ctx, conn2, svc, identity.Claims{
		Email: "bob@example.com", FxaUID: "bob-fxa-uid", ClientState: "abcd1234", Generation: &gen2,
	}, 2000, cfg)
	require.NoError(t, err)

	require.Equal(t, first.UID, second.UID, "unchanged client_state updates the same user row in place")
}

func TestIssueRotatesToNewRowOnClientStateChange(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc, _ := seedServiceAndNode(t, store, ctx)
	cfg := issueConfig()

	conn, err := store.Begin(ctx)
	require.NoError(t, err)
	gen1 := int64(1)
	first, err := tokenserver.Issue(ctx, conn, svc, identity.Claims{
		Email: "carol@example.com", FxaUID: "carol-fxa-uid", ClientState: "abcd1234", Generation: &gen1,
	}, 1000, cfg)
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))

	conn2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = conn2.Rollback(ctx) }()
	gen2 := int64(1)
	second, err := tokenserver.Issue(ctx, conn2, svc, identity.Claims{
		Email: "carol@example.com", FxaUID: "carol-fxa-uid", ClientState: "ffff0000", Generation: &gen2,
	}, 2000, cfg)
	require.NoError(t, err)

	require.NotEqual(t, first.UID, second.UID, "a changed client_state rotates to a brand new user row")
}

func TestIssueRejectsGenerationRollback(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc, _ := seedServiceAndNode(t, store, ctx)
	cfg := issueConfig()

	conn, err := store.Begin(ctx)
	require.NoError(t, err)
	gen1 := int64(5)
	_, err = tokenserver.Issue(ctx, conn, svc, identity.Claims{
		Email: "dave@example.com", FxaUID: "dave-fxa-uid", ClientState: "abcd1234", Generation: &gen1,
	}, 1000, cfg)
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))

	conn2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = conn2.Rollback(ctx) }()
	gen2 := int64(1)
	_, err = tokenserver.Issue(ctx, conn2, svc, identity.Claims{
		Email: "dave@example.com", FxaUID: "dave-fxa-uid", ClientState: "abcd1234", Generation: &gen2,
	}, 2000, cfg)
	require.ErrorIs(t, err, tokenserver.ErrInvalidGeneration)
}

func TestIssueReplacesDuplicateLiveUsers(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc, node := seedServiceAndNode(t, store, ctx)

	conn, err := store.Begin(ctx)
	require.NoError(t, err)
	// Insert two "live" rows directly, simulating a pre-existing data race
	// that left two non-replaced rows for the same (service, email).
	_, err = conn.CreateUser(ctx, tokenserver.User{
		ServiceID: svc.ID, Email: "erin@example.com", ClientState: "abcd1234", NodeID: node.ID, CreatedAt: 1000,
	})
	require.NoError(t, err)
	_, err = conn.CreateUser(ctx, tokenserver.User{
		ServiceID: svc.ID, Email: "erin@example.com", ClientState: "abcd1234", NodeID: node.ID, CreatedAt: 2000,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))

	conn2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = conn2.Rollback(ctx) }()
	live, err := conn2.GetLiveUsers(ctx, svc.ID, "erin@example.com")
	require.NoError(t, err)
	require.Len(t, live, 2)

	gen := int64(1)
	_, err = tokenserver.Issue(ctx, conn2, svc, identity.Claims{
		Email: "erin@example.com", FxaUID: "erin-fxa-uid", ClientState: "abcd1234", Generation: &gen,
	}, 3000, issueConfig())
	require.NoError(t, err)
	require.NoError(t, conn2.Commit(ctx))

	conn3, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = conn3.Rollback(ctx) }()
	liveAfter, err := conn3.GetLiveUsers(ctx, svc.ID, "erin@example.com")
	require.NoError(t, err)
	require.Len(t, liveAfter, 1, "exactly one duplicate remains live, the rest are marked replaced")
}
