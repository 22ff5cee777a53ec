// Copyright 2026 The Pollify Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package routing

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is a checked-out connection. Application code receives it already
// routed and must not keep it past the callback that received it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)

	// Release returns the connection to the pool.
	Release()
	// Discard closes the connection instead of returning it.
	Discard(ctx context.Context) error
}

// Pool hands out raw connections.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
}

// NewPgxPool adapts a pgx pool to Pool.
func NewPgxPool(pool *pgxpool.Pool) Pool {
	return pgxPool{pool: pool}
}

type pgxPool struct {
	pool *pgxpool.Pool
}

func (p pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pgxConn{Conn: conn}, nil
}

type pgxConn struct {
	*pgxpool.Conn
}

// Discard takes the connection out of the pool's ownership and closes it,
// so its session settings can never reach another caller.
func (c pgxConn) Discard(ctx context.Context) error {
	return c.Hijack().Close(ctx)
}
