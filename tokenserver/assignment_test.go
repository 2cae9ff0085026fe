// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package tokenserver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/syncstorage/tokenserver"
)

func TestAssignNodePicksLeastRelativelyLoaded(t *testing.T) {
	nodes := []tokenserver.Node{
		{ID: 1, Capacity: 100, CurrentLoad: 50, Available: 10},
		{ID: 2, Capacity: 100, CurrentLoad: 10, Available: 10},
	}
	// relativeLoad is unexported; exercise AssignNode's selection indirectly
	// through a fake StoreConn instead of calling the private helper.
	fake := &fakeStoreConn{nodes: nodes}
	node, err := tokenserver.AssignNode(context.Background(), fake, 1, tokenserver.AssignmentConfig{ReleaseRate: 0.1})
	require.NoError(t, err)
	require.Equal(t, int64(2), node.ID, "node 2 has lower current_load relative to capacity")
	require.Equal(t, int64(11), node.CurrentLoad)
}

func TestAssignNodeSpannerShortCircuits(t *testing.T) {
	nodes := []tokenserver.Node{
		{ID: 1, Capacity: 100, CurrentLoad: 50, Available: 10},
		{ID: 9, Capacity: 1, CurrentLoad: 1, Available: 0, Downed: true},
	}
	fake := &fakeStoreConn{nodes: nodes}
	node, err := tokenserver.AssignNode(context.Background(), fake, 1, tokenserver.AssignmentConfig{
		SpannerMode: true, SpannerNodeID: 9,
	})
	require.NoError(t, err)
	require.Equal(t, int64(9), node.ID)
}

func TestAssignNodeReleasesCapacityWhenNoneAvailable(t *testing.T) {
	nodes := []tokenserver.Node{
		{ID: 1, Capacity: 100, CurrentLoad: 100, Available: 0},
		{ID: 2, Capacity: 100, CurrentLoad: 50, Available: 0},
	}
	fake := &fakeStoreConn{nodes: nodes}
	node, err := tokenserver.AssignNode(context.Background(), fake, 1, tokenserver.AssignmentConfig{ReleaseRate: 0.5})
	require.NoError(t, err)
	require.Equal(t, int64(2), node.ID)
}

func TestAssignNodeReturnsServiceUnavailableWhenAllDowned(t *testing.T) {
	nodes := []tokenserver.Node{
		{ID: 1, Capacity: 100, CurrentLoad: 10, Available: 10, Downed: true},
	}
	fake := &fakeStoreConn{nodes: nodes}
	_, err := tokenserver.AssignNode(context.Background(), fake, 1, tokenserver.AssignmentConfig{ReleaseRate: 0.5})
	require.ErrorIs(t, err, tokenserver.ErrServiceUnavailable)
}

// fakeStoreConn satisfies tokenserver.StoreConn with just enough behavior
// for AssignNode: GetNodes/UpdateNode against an in-memory slice.
type fakeStoreConn struct {
	nodes   []tokenserver.Node
	updated tokenserver.Node
}

func (f *fakeStoreConn) Commit(ctx context.Context) error   { return nil }
func (f *fakeStoreConn) Rollback(ctx context.Context) error { return nil }
func (f *fakeStoreConn) GetLiveUsers(ctx context.Context, serviceID int64, email string) ([]tokenserver.User, error) {
	return nil, nil
}
func (f *fakeStoreConn) ReplaceUser(ctx context.Context, userID int64, now int64) error { return nil }
func (f *fakeStoreConn) UpdateUser(ctx context.Context, u tokenserver.User) error       { return nil }
func (f *fakeStoreConn) CreateUser(ctx context.Context, u tokenserver.User) (int64, error) {
	return 1, nil
}
func (f *fakeStoreConn) GetNodes(ctx context.Context, serviceID int64) ([]tokenserver.Node, error) {
	return f.nodes, nil
}
func (f *fakeStoreConn) UpdateNode(ctx context.Context, n tokenserver.Node) error {
	f.updated = n
	for i := range f.nodes {
		if f.nodes[i].ID == n.ID {
			f.nodes[i] = n
		}
	}
	return nil
}
func (f *fakeStoreConn) GetService(ctx context.Context, name string) (tokenserver.Service, error) {
	return tokenserver.Service{}, nil
}
