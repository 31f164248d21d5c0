package bolt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphshed/gobolt/errors"
	"github.com/graphshed/gobolt/structures/messages"
)

func TestParseRoutingTable(t *testing.T) {
	servers := []interface{}{
		map[string]interface{}{
			"role":      "ROUTE",
			"addresses": []interface{}{"core1:7687", "core2:7687", "core3:7687"},
		},
		map[string]interface{}{
			"role":      "READ",
			"addresses": []interface{}{"replica1:7687", "replica2:7687"},
		},
		map[string]interface{}{
			"role":      "WRITE",
			"addresses": []interface{}{"core1:7687"},
		},
	}

	rt, err := parseRoutingTable("movies", 300, servers)
	require.NoError(t, err)

	assert.Equal(t, "movies", rt.Database)
	assert.Len(t, rt.Routers, 3)
	assert.Equal(t, []Address{{Host: "replica1", Port: 7687}, {Host: "replica2", Port: 7687}}, rt.Readers)
	assert.Equal(t, []Address{{Host: "core1", Port: 7687}}, rt.Writers)
	assert.WithinDuration(t, time.Now().Add(300*time.Second), rt.Expiry, 5*time.Second)
}

func TestParseRoutingTableMalformed(t *testing.T) {
	_, err := parseRoutingTable("", 300, []interface{}{"not a map"})
	require.Error(t, err)
	assert.Equal(t, errors.ProtocolError, errors.CodeOf(err))

	_, err = parseRoutingTable("", 300, []interface{}{
		map[string]interface{}{"role": "READ", "addresses": []interface{}{int64(7)}},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ProtocolError, errors.CodeOf(err))
}

func TestRoutingTableValidity(t *testing.T) {
	now := time.Now()
	rt := &RoutingTable{
		Readers: []Address{{Host: "r", Port: 7687}},
		Writers: []Address{{Host: "w", Port: 7687}},
		Expiry:  now.Add(time.Minute),
	}

	assert.True(t, rt.valid(now))
	assert.False(t, rt.valid(now.Add(2*time.Minute)))

	noWriters := &RoutingTable{
		Readers: rt.Readers,
		Expiry:  now.Add(time.Minute),
	}
	assert.False(t, noWriters.valid(now))

	var nilTable *RoutingTable
	assert.False(t, nilTable.valid(now))
}

func TestRouterPickRoundRobin(t *testing.T) {
	r := &router{}
	addrs := []Address{
		{Host: "a", Port: 7687},
		{Host: "b", Port: 7687},
		{Host: "c", Port: 7687},
	}

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		seen[r.pick(addrs).Host]++
	}
	assert.Equal(t, map[string]int{"a": 3, "b": 3, "c": 3}, seen)
}

func TestRouteViaMessage(t *testing.T) {
	s := newStubServer(t, func(sc *srvConn) {
		if !sc.serveHello(4, 3) {
			return
		}
		if _, ok := sc.expect(messages.RouteMessageSignature); !ok {
			return
		}
		sc.sendSuccess(map[string]interface{}{
			"rt": map[string]interface{}{
				"ttl": int64(300),
				"servers": []interface{}{
					map[string]interface{}{"role": "ROUTE", "addresses": []interface{}{sc.conn.LocalAddr().String()}},
					map[string]interface{}{"role": "READ", "addresses": []interface{}{sc.conn.LocalAddr().String()}},
					map[string]interface{}{"role": "WRITE", "addresses": []interface{}{sc.conn.LocalAddr().String()}},
				},
			},
		})
		sc.serveGoodbye()
	})

	c := dialStub(t, s)
	defer c.Close()
	require.Equal(t, "4.3", c.Version())

	rt, err := c.Route("", nil)
	require.NoError(t, err)
	assert.Len(t, rt.Routers, 1)
	assert.Len(t, rt.Readers, 1)
	assert.Len(t, rt.Writers, 1)
}

func TestRouteViaProcedureOnOldProtocol(t *testing.T) {
	s := newStubServer(t, func(sc *srvConn) {
		if !sc.serveHello(4, 0) {
			return
		}
		raw, ok := sc.expect(messages.RunMessageSignature)
		if !ok {
			return
		}
		if statement, _ := raw.Fields[0].(string); statement != routingProcedure {
			sc.t.Errorf("expected the routing procedure call, got %q", statement)
		}
		sc.sendSuccess(map[string]interface{}{"fields": []interface{}{"ttl", "servers"}})
		if _, ok := sc.expect(messages.PullMessageSignature); !ok {
			return
		}
		sc.sendRecord(
			int64(120),
			[]interface{}{
				map[string]interface{}{"role": "ROUTE", "addresses": []interface{}{"core1:7687"}},
				map[string]interface{}{"role": "READ", "addresses": []interface{}{"replica1:7687"}},
				map[string]interface{}{"role": "WRITE", "addresses": []interface{}{"core1:7687"}},
			},
		)
		sc.sendSuccess(nil)
		sc.serveGoodbye()
	})

	c := dialStub(t, s)
	defer c.Close()
	require.Equal(t, "4.0", c.Version())

	rt, err := c.Route("", nil)
	require.NoError(t, err)
	assert.Equal(t, []Address{{Host: "replica1", Port: 7687}}, rt.Readers)
	assert.Equal(t, []Address{{Host: "core1", Port: 7687}}, rt.Writers)
}

func TestRouteViaProcedureMatchesColumnsByName(t *testing.T) {
	s := newStubServer(t, func(sc *srvConn) {
		if !sc.serveHello(4, 0) {
			return
		}
		if _, ok := sc.expect(messages.RunMessageSignature); !ok {
			return
		}
		// servers before ttl
		sc.sendSuccess(map[string]interface{}{"fields": []interface{}{"servers", "ttl"}})
		if _, ok := sc.expect(messages.PullMessageSignature); !ok {
			return
		}
		sc.sendRecord(
			[]interface{}{
				map[string]interface{}{"role": "ROUTE", "addresses": []interface{}{"core1:7687"}},
				map[string]interface{}{"role": "READ", "addresses": []interface{}{"replica1:7687"}},
				map[string]interface{}{"role": "WRITE", "addresses": []interface{}{"core1:7687"}},
			},
			int64(120),
		)
		sc.sendSuccess(nil)
		sc.serveGoodbye()
	})

	c := dialStub(t, s)
	defer c.Close()

	rt, err := c.Route("", nil)
	require.NoError(t, err)
	assert.Equal(t, []Address{{Host: "replica1", Port: 7687}}, rt.Readers)
	assert.WithinDuration(t, time.Now().Add(120*time.Second), rt.Expiry, 5*time.Second)
}

// routingStub answers ROUTE with a table naming the stub itself in
// every role, counting the ROUTE requests it serves.
func routingStub(t *testing.T, routeCalls *int32, roles map[string][]interface{}) *stubServer {
	var s *stubServer
	s = newStubServer(t, func(sc *srvConn) {
		if !sc.serveHello(4, 4) {
			return
		}
		for {
			if !sc.awaitRoute() {
				return
			}
			atomic.AddInt32(routeCalls, 1)

			servers := []interface{}{}
			for role, addrs := range roles {
				if addrs == nil {
					addrs = []interface{}{s.addr()}
				}
				servers = append(servers, map[string]interface{}{
					"role":      role,
					"addresses": addrs,
				})
			}
			sc.sendSuccess(map[string]interface{}{
				"rt": map[string]interface{}{
					"ttl":     int64(300),
					"servers": servers,
				},
			})
		}
	})
	return s
}

func TestRouterCollapsesConcurrentRefreshes(t *testing.T) {
	var routeCalls int32
	s := routingStub(t, &routeCalls, map[string][]interface{}{
		"ROUTE": nil, "READ": nil, "WRITE": nil,
	})

	profile := testProfile(t, s.routingURI())
	pool := newConnPool(profile, nil)
	defer pool.Close()
	r := newRouter(profile, pool)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.routingTable(context.Background(), "")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&routeCalls))

	// the cached table serves later lookups without another round trip
	_, err := r.routingTable(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&routeCalls))
}

func TestRouterKeepsValidTableOnUselessRefresh(t *testing.T) {
	var routeCalls int32
	// the stub's table has no readers, so a refresh from it is useless
	s := routingStub(t, &routeCalls, map[string][]interface{}{
		"ROUTE": nil, "WRITE": nil,
	})

	profile := testProfile(t, s.routingURI())
	pool := newConnPool(profile, nil)
	defer pool.Close()
	r := newRouter(profile, pool)

	old := &RoutingTable{
		Database: "",
		Readers:  []Address{{Host: "replica1", Port: 7687}},
		Writers:  []Address{{Host: "core1", Port: 7687}},
		Expiry:   time.Now().Add(time.Minute),
	}
	r.storeTable(old)

	rt, err := r.refresh(context.Background(), "")
	require.NoError(t, err)
	assert.Same(t, old, rt)
}

func TestRouterFailsWhenNoUsableTable(t *testing.T) {
	var routeCalls int32
	s := routingStub(t, &routeCalls, map[string][]interface{}{
		"ROUTE": nil, "WRITE": nil,
	})

	profile := testProfile(t, s.routingURI())
	pool := newConnPool(profile, nil)
	defer pool.Close()
	r := newRouter(profile, pool)

	_, err := r.routingTable(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, errors.ServiceUnavailable, errors.CodeOf(err))
}

func TestDriverRunThroughRoutingTable(t *testing.T) {
	var s *stubServer
	s = newStubServer(t, func(sc *srvConn) {
		if !sc.serveHello(4, 4) {
			return
		}
		if _, ok := sc.expect(messages.RouteMessageSignature); !ok {
			return
		}
		sc.sendSuccess(map[string]interface{}{
			"rt": map[string]interface{}{
				"ttl": int64(300),
				"servers": []interface{}{
					map[string]interface{}{"role": "ROUTE", "addresses": []interface{}{s.addr()}},
					map[string]interface{}{"role": "READ", "addresses": []interface{}{s.addr()}},
					map[string]interface{}{"role": "WRITE", "addresses": []interface{}{s.addr()}},
				},
			},
		})
		sc.serveLoop([]interface{}{"n"}, [][]interface{}{{int64(42)}})
	})

	d, err := Open(s.routingURI())
	require.NoError(t, err)
	defer d.Close()

	rows, err := d.Run(context.Background(), "RETURN 42 AS n", nil, WithReadAccess())
	require.NoError(t, err)

	all, _, err := rows.All()
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(42)}}, all)

	// the routing table and the statement shared one pooled connection
	assert.Equal(t, 1, s.connections())
}
