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
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errUnsupported = errors.New("fake: unsupported")

// fakePool is a bounded pool of fakeConns that tracks checkouts.
type fakePool struct {
	mu       sync.Mutex
	idle     chan *fakeConn
	all      []*fakeConn
	acquires int
}

func newFakePool(size int, schemas ...string) *fakePool {
	known := map[string]bool{"master": true, "public": true}
	for _, s := range schemas {
		known[s] = true
	}
	p := &fakePool{idle: make(chan *fakeConn, size)}
	for range size {
		c := &fakeConn{pool: p, schemas: known, searchPath: `"master", public`}
		p.all = append(p.all, c)
		p.idle <- c
	}
	return p
}

func (p *fakePool) Acquire(ctx context.Context) (Conn, error) {
	select {
	case c := <-p.idle:
		p.mu.Lock()
		p.acquires++
		p.mu.Unlock()
		c.mu.Lock()
		c.checkedOut = true
		c.mu.Unlock()
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *fakePool) statements() int {
	n := 0
	for _, c := range p.all {
		c.mu.Lock()
		n += len(c.log)
		c.mu.Unlock()
	}
	return n
}

func (p *fakePool) idleCount() int {
	return len(p.idle)
}

// fakeConn models just enough of a session: its search_path and the set
// of schemas that exist.
type fakeConn struct {
	pool *fakePool

	mu         sync.Mutex
	schemas    map[string]bool
	searchPath string
	log        []string
	checkedOut bool
	discarded  bool
	failReset  bool
	failRoute  error
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, sql)
	if sql == resetSQL {
		if c.failReset {
			return pgconn.CommandTag{}, errors.New("connection lost")
		}
		c.searchPath = args[0].(string)
		return pgconn.NewCommandTag("SELECT 1"), nil
	}
	return pgconn.CommandTag{}, errUnsupported
}

func (c *fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, sql)
	switch {
	case sql == routeSQL:
		if c.failRoute != nil {
			return fakeRow{err: c.failRoute}
		}
		if !c.schemas[args[1].(string)] {
			return fakeRow{err: pgx.ErrNoRows}
		}
		c.searchPath = args[0].(string)
		return fakeRow{value: c.searchPath}
	case strings.HasPrefix(sql, "SHOW search_path"):
		return fakeRow{value: c.searchPath}
	}
	return fakeRow{err: errUnsupported}
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	return nil, errUnsupported
}

func (c *fakeConn) Release() {
	c.mu.Lock()
	if !c.checkedOut {
		c.mu.Unlock()
		panic("fake: release of idle connection")
	}
	c.checkedOut = false
	c.mu.Unlock()
	c.pool.idle <- c
}

func (c *fakeConn) Discard(context.Context) error {
	c.mu.Lock()
	c.checkedOut = false
	c.discarded = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchPath
}

type fakeRow struct {
	value string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.value
	return nil
}
