package bolt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/graphshed/gobolt/errors"
	"github.com/graphshed/gobolt/log"
)

// RoutingTable describes which cluster members may serve a database, by
// role, together with the moment the information goes stale.
type RoutingTable struct {
	Database string
	Routers  []Address
	Readers  []Address
	Writers  []Address
	Expiry   time.Time
}

// valid reports whether the table can still be used at the given time.
// A table with no readers or no writers is never considered valid.
func (rt *RoutingTable) valid(now time.Time) bool {
	return rt != nil && now.Before(rt.Expiry) &&
		len(rt.Readers) > 0 && len(rt.Writers) > 0
}

// forMode returns the address list serving the given access mode.
func (rt *RoutingTable) forMode(mode AccessMode) []Address {
	if mode == ReadMode {
		return rt.Readers
	}
	return rt.Writers
}

// parseRoutingTable builds a routing table from the server's response:
// a TTL in seconds and a list of {addresses, role} maps.
func parseRoutingTable(database string, ttl int64, servers []interface{}) (*RoutingTable, error) {
	rt := &RoutingTable{
		Database: database,
		Expiry:   time.Now().Add(time.Duration(ttl) * time.Second),
	}

	for _, s := range servers {
		entry, ok := s.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ProtocolError, "malformed routing table server entry: %T %+v", s, s)
		}
		role, _ := entry["role"].(string)
		rawAddrs, _ := entry["addresses"].([]interface{})

		addrs := make([]Address, 0, len(rawAddrs))
		for _, ra := range rawAddrs {
			str, ok := ra.(string)
			if !ok {
				return nil, errors.New(errors.ProtocolError, "malformed routing table address: %T %+v", ra, ra)
			}
			addr, err := ParseAddress(str)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, addr)
		}

		switch role {
		case "ROUTE":
			rt.Routers = addrs
		case "READ":
			rt.Readers = addrs
		case "WRITE":
			rt.Writers = addrs
		default:
			log.Infof("ignoring unknown routing table role %q", role)
		}
	}

	return rt, nil
}

// router maintains one routing table per database, refreshing each
// table when it expires. Refreshes for the same database are collapsed
// so concurrent expired lookups trigger a single round trip.
type router struct {
	profile Profile
	pool    *connPool

	mu     sync.Mutex
	tables map[string]*RoutingTable

	group   singleflight.Group
	counter uint64

	// now is replaceable for tests
	now func() time.Time
}

func newRouter(profile Profile, pool *connPool) *router {
	return &router{
		profile: profile,
		pool:    pool,
		tables:  make(map[string]*RoutingTable),
		now:     time.Now,
	}
}

func (r *router) table(database string) *RoutingTable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tables[database]
}

func (r *router) storeTable(rt *RoutingTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[rt.Database] = rt
}

// pick chooses the next address from a list round-robin. The counter is
// shared across databases and modes; fairness per list is approximate.
func (r *router) pick(addrs []Address) Address {
	n := atomic.AddUint64(&r.counter, 1)
	return addrs[int((n-1)%uint64(len(addrs)))]
}

// routingTable returns a valid table for the database, refreshing it
// first if the cached one is missing or expired.
func (r *router) routingTable(ctx context.Context, database string) (*RoutingTable, error) {
	if rt := r.table(database); rt.valid(r.now()) {
		return rt, nil
	}

	fresh, err, _ := r.group.Do(database, func() (interface{}, error) {
		// another caller may have refreshed while we waited
		if rt := r.table(database); rt.valid(r.now()) {
			return rt, nil
		}
		return r.refresh(ctx, database)
	})
	if err != nil {
		return nil, err
	}
	return fresh.(*RoutingTable), nil
}

// refresh fetches a new routing table, asking the known routers first
// and falling back to the profile's initial address. A refresh that
// yields an unusable table keeps the old one while it remains valid.
func (r *router) refresh(ctx context.Context, database string) (*RoutingTable, error) {
	old := r.table(database)

	var routers []Address
	if old != nil {
		routers = append(routers, old.Routers...)
	}
	routers = append(routers, r.profile.Address())

	var lastErr error
	for _, addr := range routers {
		rt, err := r.fetchFrom(ctx, addr, database)
		if err != nil {
			log.Infof("routing table fetch from %s failed: %s", addr, err)
			lastErr = err
			continue
		}
		if len(rt.Readers) == 0 || len(rt.Writers) == 0 {
			log.Infof("router %s returned a table with no readers or no writers for %q", addr, database)
			continue
		}
		if r.profile.RoutingTableTTL > 0 {
			rt.Expiry = r.now().Add(r.profile.RoutingTableTTL)
		}
		r.storeTable(rt)
		return rt, nil
	}

	// every router failed or answered uselessly
	if old.valid(r.now()) {
		return old, nil
	}
	if lastErr != nil {
		return nil, errors.Wrap(lastErr, errors.ServiceUnavailable, "could not obtain a routing table for database %q", database)
	}
	return nil, errors.New(errors.ServiceUnavailable, "no router returned a usable routing table for database %q", database)
}

func (r *router) fetchFrom(ctx context.Context, addr Address, database string) (*RoutingTable, error) {
	conn, err := r.pool.Acquire(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(conn)
	return conn.Route(database, nil)
}

// acquire returns a pooled connection to a member able to serve the
// given access mode, consulting (and refreshing) the routing table.
func (r *router) acquire(ctx context.Context, database string, mode AccessMode) (*Conn, error) {
	rt, err := r.routingTable(ctx, database)
	if err != nil {
		return nil, err
	}

	addrs := rt.forMode(mode)
	if len(addrs) == 0 {
		return nil, errors.New(errors.ServiceUnavailable, "routing table for database %q has no %s servers", database, mode)
	}

	// rotate through candidates; a dead member should not fail the
	// acquisition while others can serve
	var lastErr error
	for i := 0; i < len(addrs); i++ {
		addr := r.pick(addrs)
		conn, err := r.pool.Acquire(ctx, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if errors.HasCode(err, errors.PoolExhausted) {
			return nil, err
		}
	}
	return nil, errors.Wrap(lastErr, errors.ServiceUnavailable, "no %s server for database %q is reachable", mode, database)
}

// invalidate drops the cached table for a database, forcing a refresh
// on the next acquisition.
func (r *router) invalidate(database string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, database)
}
