package bolt

import (
	"context"
	"time"

	"github.com/graphshed/gobolt/errors"
	"github.com/graphshed/gobolt/log"
	"github.com/graphshed/gobolt/structures/graph"
)

// ClientID is the user agent reported to servers during HELLO.
const ClientID = "gobolt/1.0"

// AccessMode routes a unit of work to a cluster member able to serve
// it. Against a single server the mode is advisory.
type AccessMode int

const (
	// WriteMode routes to a writer. It is the default.
	WriteMode AccessMode = iota
	// ReadMode routes to a reader and marks the work read-only.
	ReadMode
)

func (m AccessMode) String() string {
	if m == ReadMode {
		return "READ"
	}
	return "WRITE"
}

// Driver is the entry point of the package: it owns the connection
// pool, the entity cache and, when the URI selects a routing scheme,
// the cluster routing tables. A Driver is safe for concurrent use;
// the cursors and transactions it hands out are not.
type Driver struct {
	profile Profile
	pool    *connPool
	router  *router
	cache   *entityCache
}

// Open creates a driver for the given URI. bolt schemes connect
// directly to one server; neo4j schemes enable cluster routing. No
// connection is made until the first unit of work.
func Open(uri string, opts ...Option) (*Driver, error) {
	profile, err := ParseProfile(uri, opts...)
	if err != nil {
		return nil, err
	}
	return NewDriver(profile)
}

// NewDriver creates a driver from an already built profile.
func NewDriver(profile Profile) (*Driver, error) {
	cache, err := newEntityCache(profile.EntityCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, errors.ClientError, "could not create entity cache")
	}

	d := &Driver{
		profile: profile,
		cache:   cache,
	}
	d.pool = newConnPool(profile, cache)
	if profile.Routing {
		d.router = newRouter(profile, d.pool)
	}
	log.Infof("created driver for %s (routing: %t)", profile.Address(), profile.Routing)
	return d, nil
}

// acquire hands out a connection appropriate for the access mode,
// going through the routing table when routing is on.
func (d *Driver) acquire(ctx context.Context, database string, mode AccessMode) (*Conn, error) {
	if d.router != nil {
		return d.router.acquire(ctx, database, mode)
	}
	return d.pool.Acquire(ctx, d.profile.Address())
}

func (d *Driver) database(override string) string {
	if override != "" {
		return override
	}
	return d.profile.Database
}

// Run executes one statement in autocommit mode and returns a cursor
// over its results. The backing connection returns to the pool once the
// cursor is exhausted or closed.
func (d *Driver) Run(ctx context.Context, statement string, params map[string]interface{}, opts ...SessionOption) (*Rows, error) {
	cfg := newSessionConfig(opts)

	conn, err := d.acquire(ctx, d.database(cfg.database), cfg.mode)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Run(statement, params, cfg.mode, d.database(cfg.database), cfg.bookmarks)
	if err != nil {
		d.pool.Release(conn)
		return nil, err
	}
	rows.release = func() { d.pool.Release(conn) }
	return rows, nil
}

// RunPipeline writes every statement before reading any response,
// saving round trips for independent statements. Cursors are returned
// in statement order and must be consumed in that order.
func (d *Driver) RunPipeline(ctx context.Context, statements []string, params []map[string]interface{}, opts ...SessionOption) ([]*Rows, error) {
	if len(params) != 0 && len(params) != len(statements) {
		return nil, errors.New(errors.ClientError, "got %d parameter maps for %d statements", len(params), len(statements))
	}
	cfg := newSessionConfig(opts)

	conn, err := d.acquire(ctx, d.database(cfg.database), cfg.mode)
	if err != nil {
		return nil, err
	}

	all := make([]*Rows, 0, len(statements))
	for i, statement := range statements {
		var p map[string]interface{}
		if len(params) != 0 {
			p = params[i]
		}
		rows, err := conn.Run(statement, p, cfg.mode, d.database(cfg.database), cfg.bookmarks)
		if err != nil {
			d.pool.Release(conn)
			return all, err
		}
		all = append(all, rows)
	}
	if len(all) > 0 {
		// the connection goes back once the last cursor finishes
		all[len(all)-1].release = func() { d.pool.Release(conn) }
	} else {
		d.pool.Release(conn)
	}
	return all, nil
}

// Begin opens an explicit transaction. The backing connection returns
// to the pool when the transaction commits or rolls back.
func (d *Driver) Begin(ctx context.Context, cfg TxConfig) (*Tx, error) {
	if cfg.Database == "" {
		cfg.Database = d.profile.Database
	}

	conn, err := d.acquire(ctx, cfg.Database, cfg.Mode)
	if err != nil {
		return nil, err
	}

	tx, err := conn.Begin(cfg)
	if err != nil {
		d.pool.Release(conn)
		return nil, err
	}
	tx.release = func() { d.pool.Release(conn) }
	return tx, nil
}

// TxWork is a unit of work executed inside a managed transaction. The
// work must be idempotent; it is retried on transient failures.
type TxWork func(tx *Tx) (interface{}, error)

const (
	maxTxRetryTime     = 30 * time.Second
	initialRetryDelay  = 1 * time.Second
	retryDelayMultiple = 2
)

// ReadTransaction runs the work in an explicit read transaction,
// retrying with backoff on transient and service availability errors.
func (d *Driver) ReadTransaction(ctx context.Context, work TxWork, opts ...SessionOption) (interface{}, error) {
	return d.retryTx(ctx, ReadMode, work, opts)
}

// WriteTransaction runs the work in an explicit write transaction,
// retrying with backoff on transient and service availability errors.
// The retry loop never replays a transaction whose COMMIT may have
// reached the server.
func (d *Driver) WriteTransaction(ctx context.Context, work TxWork, opts ...SessionOption) (interface{}, error) {
	return d.retryTx(ctx, WriteMode, work, opts)
}

func (d *Driver) retryTx(ctx context.Context, mode AccessMode, work TxWork, opts []SessionOption) (interface{}, error) {
	scfg := newSessionConfig(opts)

	delay := initialRetryDelay
	deadline := time.Now().Add(maxTxRetryTime)
	var lastErr error

	for {
		result, err := d.runTxOnce(ctx, mode, scfg, work)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryableTx(err) || time.Now().After(deadline) {
			return nil, err
		}
		if d.router != nil {
			// stale routing information is the usual culprit
			d.router.invalidate(d.database(scfg.database))
		}
		log.Infof("retrying %s transaction after %s: %s", mode, delay, err)

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(lastErr, errors.ServiceUnavailable, "transaction retry cancelled")
		case <-time.After(delay):
		}
		delay *= retryDelayMultiple
	}
}

func (d *Driver) runTxOnce(ctx context.Context, mode AccessMode, scfg sessionConfig, work TxWork) (interface{}, error) {
	tx, err := d.Begin(ctx, TxConfig{
		Mode:      mode,
		Database:  scfg.database,
		Bookmarks: scfg.bookmarks,
	})
	if err != nil {
		return nil, err
	}

	result, err := work(tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if scfg.bookmarkSet != nil {
		scfg.bookmarkSet.Add(tx.Bookmark())
	}
	return result, nil
}

// retryableTx reports whether a failed transaction attempt may be
// replayed. A commit that may have been applied is not retried.
func retryableTx(err error) bool {
	switch errors.CodeOf(err) {
	case errors.TransientError, errors.ServiceUnavailable, errors.PoolExhausted:
		return true
	default:
		return false
	}
}

// CachedNode returns a node by identity if a recent statement returned
// it. It never performs a round trip.
func (d *Driver) CachedNode(id int64) (graph.Node, bool) {
	return d.cache.node(id)
}

// CachedRelationship returns a relationship by identity if a recent
// statement returned it. It never performs a round trip.
func (d *Driver) CachedRelationship(id int64) (graph.Relationship, bool) {
	return d.cache.relationship(id)
}

// PurgeCache drops every cached entity.
func (d *Driver) PurgeCache() {
	d.cache.purge()
}

// Close shuts the driver down, closing every pooled connection. Units
// of work in flight fail once their connection is closed.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}

// sessionConfig carries the per-unit-of-work options.
type sessionConfig struct {
	mode      AccessMode
	database  string
	bookmarks []string

	// bookmarkSet, when supplied, also collects the bookmark of every
	// committed managed transaction so callers can chain units of work
	bookmarkSet Bookmarks
}

// SessionOption adjusts one unit of work (an autocommit statement or a
// managed transaction).
type SessionOption func(*sessionConfig)

func newSessionConfig(opts []SessionOption) sessionConfig {
	var cfg sessionConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// WithReadAccess routes the work to a reader.
func WithReadAccess() SessionOption {
	return func(cfg *sessionConfig) { cfg.mode = ReadMode }
}

// WithSessionDatabase targets a database other than the profile's
// default.
func WithSessionDatabase(database string) SessionOption {
	return func(cfg *sessionConfig) { cfg.database = database }
}

// WithBookmarks makes the work wait for the given causal consistency
// bookmarks.
func WithBookmarks(bookmarks ...string) SessionOption {
	return func(cfg *sessionConfig) { cfg.bookmarks = bookmarks }
}

// WithBookmarkSet makes the work wait for every bookmark in the set,
// and adds the bookmark of a committed managed transaction back into
// it. Sharing one set across calls chains them causally.
func WithBookmarkSet(b Bookmarks) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.bookmarks = b.List()
		cfg.bookmarkSet = b
	}
}
