// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	"context"
	gosql "database/sql"

	"go.uber.org/zap"

	"storj.io/syncstorage/tokenserver"
)

type conn struct {
	log *zap.Logger
	tx  *gosql.Tx
}

func (c *conn) Commit(ctx context.Context) error {
	if err := c.tx.Commit(); err != nil {
		return tokenserver.Error.Wrap(err)
	}
	return nil
}

func (c *conn) Rollback(ctx context.Context) error {
	err := c.tx.Rollback()
	if err != nil && err != gosql.ErrTxDone {
		return tokenserver.Error.Wrap(err)
	}
	return nil
}

func (c *conn) GetLiveUsers(ctx context.Context, serviceID int64, email string) ([]tokenserver.User, error) {
	rows, err := c.tx.QueryContext(ctx,
		"SELECT id, service_id, email, generation, keys_changed_at, client_state, nodeid, created_at, replaced_at "+
			"FROM users WHERE service_id = ? AND email = ? AND replaced_at IS NULL ORDER BY created_at DESC",
		serviceID, email)
	if err != nil {
		return nil, tokenserver.Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var out []tokenserver.User
	for rows.Next() {
		var u tokenserver.User
		var replacedAt gosql.NullInt64
		if err := rows.Scan(&u.ID, &u.ServiceID, &u.Email, &u.Generation, &u.KeysChangedAt,
			&u.ClientState, &u.NodeID, &u.CreatedAt, &replacedAt); err != nil {
			return nil, tokenserver.Error.Wrap(err)
		}
		if replacedAt.Valid {
			v := replacedAt.Int64
			u.ReplacedAt = &v
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (c *conn) ReplaceUser(ctx context.Context, userID int64, now int64) error {
	_, err := c.tx.ExecContext(ctx, "UPDATE users SET replaced_at = ? WHERE id = ?", now, userID)
	if err != nil {
		return tokenserver.Error.Wrap(err)
	}
	return nil
}

func (c *conn) UpdateUser(ctx context.Context, u tokenserver.User) error {
	_, err := c.tx.ExecContext(ctx,
		"UPDATE users SET generation = ?, keys_changed_at = ?, client_state = ?, nodeid = ? WHERE id = ?",
		u.Generation, u.KeysChangedAt, u.ClientState, u.NodeID, u.ID)
	if err != nil {
		return tokenserver.Error.Wrap(err)
	}
	return nil
}

func (c *conn) CreateUser(ctx context.Context, u tokenserver.User) (int64, error) {
	res, err := c.tx.ExecContext(ctx,
		"INSERT INTO users (service_id, email, generation, keys_changed_at, client_state, nodeid, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?)",
		u.ServiceID, u.Email, u.Generation, u.KeysChangedAt, u.ClientState, u.NodeID, u.CreatedAt)
	if err != nil {
		return 0, tokenserver.Error.Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, tokenserver.Error.Wrap(err)
	}
	return id, nil
}

func (c *conn) GetNodes(ctx context.Context, serviceID int64) ([]tokenserver.Node, error) {
	rows, err := c.tx.QueryContext(ctx,
		"SELECT id, service_id, node, available, current_load, capacity, downed, backoff "+
			"FROM nodes WHERE service_id = ?", serviceID)
	if err != nil {
		return nil, tokenserver.Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var out []tokenserver.Node
	for rows.Next() {
		var n tokenserver.Node
		var downed int
		if err := rows.Scan(&n.ID, &n.ServiceID, &n.Hostname, &n.Available, &n.CurrentLoad,
			&n.Capacity, &downed, &n.Backoff); err != nil {
			return nil, tokenserver.Error.Wrap(err)
		}
		n.Downed = downed != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

func (c *conn) UpdateNode(ctx context.Context, n tokenserver.Node) error {
	downed := 0
	if n.Downed {
		downed = 1
	}
	_, err := c.tx.ExecContext(ctx,
		"UPDATE nodes SET available = ?, current_load = ?, downed = ? WHERE id = ?",
		n.Available, n.CurrentLoad, downed, n.ID)
	if err != nil {
		return tokenserver.Error.Wrap(err)
	}
	return nil
}

func (c *conn) GetService(ctx context.Context, name string) (tokenserver.Service, error) {
	var s tokenserver.Service
	err := c.tx.QueryRowContext(ctx, "SELECT id, service, pattern FROM services WHERE service = ?", name).
		Scan(&s.ID, &s.Name, &s.Pattern)
	if err == gosql.ErrNoRows {
		return tokenserver.Service{}, tokenserver.Error.New("unknown service %q", name)
	}
	if err != nil {
		return tokenserver.Service{}, tokenserver.Error.Wrap(err)
	}
	return s, nil
}
