package bolt

import (
	"context"
	"sync"

	pool "github.com/jolestar/go-commons-pool/v2"

	"github.com/graphshed/gobolt/errors"
	"github.com/graphshed/gobolt/log"
)

// connPool hands out established connections per server address, up to
// MaxPoolSize live connections per address. Acquire blocks when the
// pool is exhausted until a connection is released or the acquisition
// deadline passes.
type connPool struct {
	profile Profile
	cache   *entityCache

	mu    sync.Mutex
	pools map[Address]*pool.ObjectPool
	done  bool
}

func newConnPool(profile Profile, cache *entityCache) *connPool {
	return &connPool{
		profile: profile,
		cache:   cache,
		pools:   make(map[Address]*pool.ObjectPool),
	}
}

// poolFor returns the object pool for an address, creating it on first
// use.
func (p *connPool) poolFor(ctx context.Context, address Address) (*pool.ObjectPool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return nil, errors.New(errors.ServiceUnavailable, "connection pool is closed")
	}
	if op, ok := p.pools[address]; ok {
		return op, nil
	}

	factory := pool.NewPooledObjectFactory(
		func(ctx context.Context) (interface{}, error) {
			return Dial(p.profile, address, p.cache)
		},
		func(ctx context.Context, object *pool.PooledObject) error {
			return object.Object.(*Conn).Close()
		},
		func(ctx context.Context, object *pool.PooledObject) bool {
			return object.Object.(*Conn).healthy()
		},
		nil,
		nil,
	)

	cfg := pool.NewDefaultPoolConfig()
	cfg.MaxTotal = p.profile.MaxPoolSize
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = DefaultMaxPoolSize
	}
	cfg.MaxIdle = cfg.MaxTotal
	cfg.TestOnBorrow = true
	cfg.BlockWhenExhausted = true

	op := pool.NewObjectPool(ctx, factory, cfg)
	p.pools[address] = op
	log.Infof("created connection pool for %s (max %d)", address, cfg.MaxTotal)
	return op, nil
}

// Acquire borrows a healthy connection to the address, dialing a new
// one if the pool has capacity. When every slot is busy it blocks until
// a release or the profile's acquisition timeout, whichever comes
// first.
func (p *connPool) Acquire(ctx context.Context, address Address) (*Conn, error) {
	op, err := p.poolFor(ctx, address)
	if err != nil {
		return nil, err
	}

	if p.profile.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.profile.AcquireTimeout)
		defer cancel()
	}

	obj, err := op.BorrowObject(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.PoolExhausted, "timed out waiting for a connection to %s", address)
		}
		if code := errors.CodeOf(err); code != "" {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ServiceUnavailable, "could not acquire a connection to %s", address)
	}
	return obj.(*Conn), nil
}

// Release returns a connection to its pool. A defunct or dirty
// connection is reset first; one that cannot be recovered is destroyed
// instead of being handed out again.
func (p *connPool) Release(c *Conn) {
	p.mu.Lock()
	op, ok := p.pools[c.Address()]
	p.mu.Unlock()
	if !ok {
		c.Close()
		return
	}

	ctx := context.Background()
	if !c.healthy() {
		_ = op.InvalidateObject(ctx, c)
		return
	}
	if c.State() != StateReady || c.srvFailure != nil {
		if err := c.Reset(); err != nil {
			log.Infof("discarding connection to %s: reset failed: %s", c.Address(), err)
			_ = op.InvalidateObject(ctx, c)
			return
		}
	}
	if err := op.ReturnObject(ctx, c); err != nil {
		c.Close()
	}
}

// Discard destroys a connection without returning it to circulation.
func (p *connPool) Discard(c *Conn) {
	c.markDefunct()
	p.Release(c)
}

// Close shuts down every per-address pool and closes all pooled
// connections. In-flight connections are closed as they are released.
func (p *connPool) Close() {
	p.mu.Lock()
	p.done = true
	pools := p.pools
	p.pools = make(map[Address]*pool.ObjectPool)
	p.mu.Unlock()

	ctx := context.Background()
	for address, op := range pools {
		op.Close(ctx)
		log.Infof("closed connection pool for %s", address)
	}
}
