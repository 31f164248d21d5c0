package bolt

import (
	"bufio"
	"crypto/tls"
	stderrors "errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/graphshed/gobolt/encoding"
	"github.com/graphshed/gobolt/errors"
	"github.com/graphshed/gobolt/log"
	"github.com/graphshed/gobolt/structures"
	"github.com/graphshed/gobolt/structures/messages"
)

// State is the connection's position in its protocol state machine.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateStreaming
	StateTx
	StateClosing
	StateClosed
	// StateDefunct is the absorbing state entered on any I/O error or
	// protocol violation. A defunct connection is never reused.
	StateDefunct
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateReady:
		return "READY"
	case StateStreaming:
		return "STREAMING"
	case StateTx:
		return "TX_READY"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateDefunct:
		return "DEFUNCT"
	default:
		return "UNKNOWN"
	}
}

type reqKind int

const (
	reqRun reqKind = iota
	reqPull
	reqDiscard
)

// pendingReq is one request whose response has not been consumed yet.
// Responses are matched to requests strictly in submission order; the
// protocol is not multiplexed per connection.
type pendingReq struct {
	rows *Rows
	kind reqKind
}

// Conn owns exactly one transport socket and the protocol state machine
// for that link.
//
// Conn objects, and any transactions or cursors bound to them, ARE NOT
// THREAD SAFE. Concurrency is expressed as multiple callers each holding
// their own Conn from the pool for the duration of a unit of work.
type Conn struct {
	profile Profile
	address Address
	id      string

	conn net.Conn
	dec  *encoding.Decoder

	version   protocolVersion
	timeout   time.Duration
	chunkSize uint16

	state State
	tx    *Tx

	// queue of requests awaiting responses, strict FIFO
	queue []pendingReq
	// cursors that have not reached a terminal state yet
	live []*Rows

	// sticky server failure; cleared by Reset
	srvFailure error

	cache *entityCache

	serverAgent  string
	connectionID string
}

// Dial opens a connection to the given address: TCP connect (TLS when
// the profile asks for it), protocol handshake, then HELLO with the
// profile's credentials. The returned connection is in StateReady.
func Dial(profile Profile, address Address, cache *entityCache) (*Conn, error) {
	c := &Conn{
		profile:   profile,
		address:   address,
		id:        uuid.NewString()[:8],
		timeout:   profile.SocketTimeout,
		chunkSize: encoding.DefaultChunkSize,
		state:     StateConnecting,
		cache:     cache,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultSocketTimeout
	}

	dialer := net.Dialer{Timeout: profile.ConnectTimeout}
	raw, err := dialer.Dial("tcp", address.String())
	if err != nil {
		return nil, errors.Wrap(err, errors.ServiceUnavailable, "an error occurred connecting to %s", address)
	}

	if profile.Secure {
		tlsConn := tls.Client(raw, profile.tlsConfig(address.Host))
		if err := tlsConn.Handshake(); err != nil {
			raw.Close()
			return nil, errors.Wrap(err, errors.ServiceUnavailable, "TLS handshake with %s failed", address)
		}
		raw = tlsConn
	}

	c.conn = raw
	c.dec = encoding.NewDecoder(bufio.NewReader(readerFunc(c.read)))

	if err := c.handshake(); err != nil {
		c.conn.Close()
		c.state = StateDefunct
		return nil, err
	}

	if err := c.hello(); err != nil {
		c.conn.Close()
		c.state = StateDefunct
		return nil, err
	}

	c.state = StateReady
	return c, nil
}

// readerFunc adapts a read method to io.Reader.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// read reads from the socket under the configured deadline.
func (c *Conn) read(b []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(b)
	if n > 0 && log.Level >= log.TraceLevel {
		log.Tracef("[%s] read %d bytes from stream:\n\n%s\n", c.id, n, SprintByteHex(b[:n]))
	}
	if err != nil && err != io.EOF {
		log.Errorf("[%s] an error occurred reading from stream: %s", c.id, err)
	}
	return n, err
}

// Write writes to the socket under the configured deadline. It is the
// io.Writer handed to the message encoder.
func (c *Conn) Write(b []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	n, err := c.conn.Write(b)
	if log.Level >= log.TraceLevel {
		log.Tracef("[%s] wrote %d of %d bytes to stream:\n\n%s\n", c.id, n, len(b), SprintByteHex(b[:n]))
	}
	if err != nil {
		log.Errorf("[%s] an error occurred writing to stream: %s", c.id, err)
	}
	return n, err
}

func (c *Conn) handshake() error {
	c.state = StateHandshaking

	if _, err := c.Write(handshakeRequest()); err != nil {
		return errors.Wrap(err, errors.ServiceUnavailable, "an error occurred writing the handshake")
	}

	var resp [4]byte
	if _, err := io.ReadFull(readerFunc(c.read), resp[:]); err != nil {
		return errors.Wrap(err, errors.ServiceUnavailable, "an error occurred reading the handshake response")
	}

	v := parseVersionResponse(resp)
	if v.zero() {
		return errors.New(errors.ServiceUnavailable, "server at %s supports none of the proposed protocol versions", c.address)
	}
	if !supportedVersion(v) {
		return errors.New(errors.ProtocolError, "server chose unproposed protocol version %s", v)
	}

	c.version = v
	log.Infof("[%s] negotiated bolt protocol version %s with %s", c.id, v, c.address)
	return nil
}

func (c *Conn) hello() error {
	scheme := "none"
	if c.profile.User != "" {
		scheme = "basic"
	}
	var routingContext map[string]string
	if c.profile.Routing {
		routingContext = map[string]string{"address": c.address.String()}
	}

	hello := messages.NewHelloMessage(c.profile.UserAgent, scheme, c.profile.User, c.profile.Password, routingContext)
	if err := c.send(hello); err != nil {
		return err
	}

	resp, err := c.receive()
	if err != nil {
		return err
	}

	switch m := resp.(type) {
	case messages.SuccessMessage:
		c.serverAgent, _ = m.Metadata["server"].(string)
		c.connectionID, _ = m.Metadata["connection_id"].(string)
		log.Infof("[%s] authenticated with %s (%s)", c.id, c.address, c.serverAgent)
		return nil
	case messages.FailureMessage:
		return errors.New(errors.AuthenticationError, "authentication with %s failed: %s (%s)", c.address, m.Message(), m.Code())
	default:
		return errors.New(errors.ProtocolError, "unexpected response to HELLO: %T %+v", resp, resp)
	}
}

// State returns the connection's current protocol state.
func (c *Conn) State() State {
	return c.state
}

// Version returns the negotiated protocol version as a string.
func (c *Conn) Version() string {
	return c.version.String()
}

// ServerAgent returns the server identification reported during HELLO.
func (c *Conn) ServerAgent() string {
	return c.serverAgent
}

// Address returns the remote address this connection is bound to.
func (c *Conn) Address() Address {
	return c.address
}

// healthy reports whether the connection can be handed out by the pool.
func (c *Conn) healthy() bool {
	return c.state != StateDefunct && c.state != StateClosed && c.state != StateClosing
}

// markDefunct records a fatal connection error and tears the socket
// down. The connection must not be reused afterwards.
func (c *Conn) markDefunct() {
	if c.state == StateDefunct {
		return
	}
	log.Infof("[%s] marking connection to %s defunct", c.id, c.address)
	c.state = StateDefunct
	if c.conn != nil {
		c.conn.Close()
	}
}

// send encodes one message. Any failure is fatal to the connection.
func (c *Conn) send(m structures.Structure) error {
	if !c.healthy() {
		return errors.New(errors.ServiceUnavailable, "connection to %s is closed", c.address)
	}
	if err := encoding.NewEncoder(c, c.chunkSize).Encode(m); err != nil {
		c.markDefunct()
		return c.classifyIOError(err, "an error occurred sending a message")
	}
	return nil
}

// receive decodes one message. Any failure is fatal to the connection.
func (c *Conn) receive() (interface{}, error) {
	resp, err := c.dec.Decode()
	if err != nil {
		c.markDefunct()
		return nil, c.classifyIOError(err, "an error occurred receiving a message")
	}
	return resp, nil
}

func (c *Conn) classifyIOError(err error, msg string) error {
	if code := errors.CodeOf(err); code != "" {
		return errors.Wrap(err, code, msg)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.ServiceUnavailable, "%s: socket timeout after %s", msg, c.timeout)
	}
	return errors.Wrap(err, errors.ServiceUnavailable, msg)
}

// run issues a RUN message and registers a cursor for its results. The
// request is written eagerly; its responses are consumed lazily, in
// submission order, as the cursor is read.
func (c *Conn) run(statement string, params map[string]interface{}, extra map[string]interface{}) (*Rows, error) {
	if c.srvFailure != nil {
		return nil, errors.Wrap(c.srvFailure, "", "connection has a pending failure; reset it before running statements")
	}

	if err := c.send(messages.NewRunMessage(statement, params, extra)); err != nil {
		return nil, err
	}

	r := newRows(c, statement)
	c.queue = append(c.queue, pendingReq{rows: r, kind: reqRun})
	c.live = append(c.live, r)
	if c.state == StateReady {
		c.state = StateStreaming
	}
	return r, nil
}

// Run executes a statement in autocommit mode: the server brackets it
// with implicit begin/commit. Inside an explicit transaction use Tx.Run.
func (c *Conn) Run(statement string, params map[string]interface{}, mode AccessMode, database string, bookmarks []string) (*Rows, error) {
	if c.tx != nil {
		return nil, errors.New(errors.ClientError, "connection has an open explicit transaction; use Tx.Run")
	}
	return c.run(statement, params, autocommitExtra(mode, database, bookmarks))
}

// autocommitExtra builds the RUN/BEGIN extra map carrying access mode,
// database and bookmarks.
func autocommitExtra(mode AccessMode, database string, bookmarks []string) map[string]interface{} {
	extra := map[string]interface{}{}
	if mode == ReadMode {
		extra["mode"] = "r"
	}
	if database != "" {
		extra["db"] = database
	}
	if len(bookmarks) > 0 {
		bms := make([]interface{}, len(bookmarks))
		for i, b := range bookmarks {
			bms[i] = b
		}
		extra["bookmarks"] = bms
	}
	return extra
}

// sendPull requests the next n records for the cursor. n may be
// messages.PullAll.
func (c *Conn) sendPull(r *Rows, n int64) error {
	if err := c.send(messages.NewPullMessage(n, r.qid)); err != nil {
		return err
	}
	c.queue = append(c.queue, pendingReq{rows: r, kind: reqPull})
	return nil
}

// sendDiscard drops the next n records for the cursor server-side.
func (c *Conn) sendDiscard(r *Rows, n int64) error {
	if err := c.send(messages.NewDiscardMessage(n, r.qid)); err != nil {
		return err
	}
	c.queue = append(c.queue, pendingReq{rows: r, kind: reqDiscard})
	return nil
}

// queuedFor counts the queued requests belonging to the cursor.
func (c *Conn) queuedFor(r *Rows) int {
	n := 0
	for _, q := range c.queue {
		if q.rows == r {
			n++
		}
	}
	return n
}

// processHead consumes the next response message off the wire and
// applies it to the request at the head of the queue. A RECORD outside a
// PULL, or a response with an empty queue, is a protocol violation and
// kills the connection.
func (c *Conn) processHead() error {
	if len(c.queue) == 0 {
		c.markDefunct()
		return errors.New(errors.ProtocolError, "received a response with no request pending")
	}
	head := c.queue[0]

	msg, err := c.receive()
	if err != nil {
		head.rows.fail(err)
		return err
	}

	switch m := msg.(type) {
	case messages.SuccessMessage:
		c.queue = c.queue[1:]
		switch head.kind {
		case reqRun:
			head.rows.applyRunSuccess(m.Metadata)
		default:
			head.rows.applyStreamSummary(m.Metadata)
		}
		c.maybeIdle()
	case messages.RecordMessage:
		if head.kind != reqPull {
			c.markDefunct()
			err := errors.New(errors.ProtocolError, "received out-of-order RECORD for a %v request", head.kind)
			head.rows.fail(err)
			return err
		}
		if c.cache != nil {
			c.cache.observeAll(m.Fields)
		}
		head.rows.push(m.Fields)
	case messages.FailureMessage:
		c.queue = c.queue[1:]
		failure := errors.New(errors.ClassifyServerCode(m.Code()), "statement failed: %s (%s)", m.Message(), m.Code())
		c.srvFailure = failure
		head.rows.fail(failure)
		if c.tx != nil {
			c.tx.markFailed(failure)
		}
	case messages.IgnoredMessage:
		c.queue = c.queue[1:]
		head.rows.markIgnored()
	default:
		c.markDefunct()
		err := errors.New(errors.ProtocolError, "unexpected message on stream: %T %+v", msg, msg)
		head.rows.fail(err)
		return err
	}
	return nil
}

// maybeIdle drops a streaming connection back to READY once no response
// is pending and no result stream is open. The connection stays
// STREAMING while a cursor has records left server-side, even between
// fetches.
func (c *Conn) maybeIdle() {
	if len(c.queue) == 0 && len(c.live) == 0 && c.state == StateStreaming {
		c.state = StateReady
	}
}

// drainQueue consumes responses until nothing is pending. Buffered
// records stay available on their cursors.
func (c *Conn) drainQueue() error {
	for len(c.queue) > 0 {
		if err := c.processHead(); err != nil {
			return err
		}
	}
	return nil
}

// cursorFinished drops a terminal cursor from the live list.
func (c *Conn) cursorFinished(r *Rows) {
	for i, lr := range c.live {
		if lr == r {
			c.live = append(c.live[:i], c.live[i+1:]...)
			break
		}
	}
}

// discardOpenStreams finishes every live cursor server-side so that a
// transaction summary request lines up with the right response.
func (c *Conn) discardOpenStreams() error {
	if err := c.drainQueue(); err != nil {
		return err
	}
	open := make([]*Rows, len(c.live))
	copy(open, c.live)
	for _, r := range open {
		if r.needsStreamRequest() {
			if err := c.sendDiscard(r, messages.PullAll); err != nil {
				return err
			}
		}
	}
	return c.drainQueue()
}

// Reset recovers the connection to a clean READY state, discarding any
// pending results and clearing a sticky failure. Cursors with queued
// responses are cancelled.
func (c *Conn) Reset() error {
	if !c.healthy() {
		return errors.New(errors.ServiceUnavailable, "connection to %s is closed", c.address)
	}

	for _, r := range c.live {
		r.markCancelled()
	}
	c.queue = nil
	c.live = nil
	c.tx = nil

	if err := c.send(messages.NewResetMessage()); err != nil {
		return err
	}

	// The server answers queued requests (with IGNORED) before it
	// answers RESET; skip everything up to the RESET summary.
	for {
		msg, err := c.receive()
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case messages.SuccessMessage:
			c.srvFailure = nil
			c.state = StateReady
			return nil
		case messages.FailureMessage:
			c.markDefunct()
			return errors.New(errors.ClassifyServerCode(m.Code()), "reset failed: %s (%s)", m.Message(), m.Code())
		case messages.RecordMessage, messages.IgnoredMessage:
			// responses to abandoned requests
		default:
			c.markDefunct()
			return errors.New(errors.ProtocolError, "unexpected message while resetting: %T %+v", msg, msg)
		}
	}
}

// Close sends GOODBYE (best effort, errors swallowed) then closes the
// socket.
func (c *Conn) Close() error {
	if c.state == StateClosed {
		return nil
	}
	if c.state != StateDefunct {
		c.state = StateClosing
		// best-effort farewell; the socket is going away either way
		_ = encoding.NewEncoder(c, c.chunkSize).Encode(messages.NewGoodbyeMessage())
	}

	err := c.conn.Close()
	c.state = StateClosed
	if err != nil {
		return errors.Wrap(err, errors.ServiceUnavailable, "an error occurred closing the connection")
	}
	return nil
}

// Begin opens an explicit transaction on this connection.
func (c *Conn) Begin(cfg TxConfig) (*Tx, error) {
	if c.tx != nil {
		return nil, errors.New(errors.ClientError, "connection already has an open transaction")
	}
	if c.srvFailure != nil {
		return nil, errors.Wrap(c.srvFailure, "", "connection has a pending failure; reset it before beginning a transaction")
	}
	if len(c.queue) > 0 {
		if err := c.drainQueue(); err != nil {
			return nil, err
		}
	}

	extra := autocommitExtra(cfg.Mode, cfg.Database, cfg.Bookmarks)
	if cfg.Timeout > 0 {
		extra["tx_timeout"] = cfg.Timeout.Milliseconds()
	}
	if len(cfg.Metadata) > 0 {
		extra["tx_metadata"] = cfg.Metadata
	}

	if err := c.send(messages.NewBeginMessage(extra)); err != nil {
		return nil, err
	}

	resp, err := c.receive()
	if err != nil {
		return nil, err
	}

	switch m := resp.(type) {
	case messages.SuccessMessage:
		tx := &Tx{conn: c, state: TxOpen}
		c.tx = tx
		c.state = StateTx
		return tx, nil
	case messages.FailureMessage:
		failure := errors.New(errors.ClassifyServerCode(m.Code()), "could not begin transaction: %s (%s)", m.Message(), m.Code())
		c.srvFailure = failure
		return nil, failure
	default:
		c.markDefunct()
		return nil, errors.New(errors.ProtocolError, "unexpected response to BEGIN: %T %+v", resp, resp)
	}
}

// finishTx exchanges a COMMIT or ROLLBACK and returns its summary
// metadata. Pending statement responses are drained first so the
// transaction summary is matched to the right request.
func (c *Conn) finishTx(commit bool) (map[string]interface{}, error) {
	if err := c.discardOpenStreams(); err != nil {
		return nil, err
	}

	var msg structures.Structure
	if commit {
		msg = messages.NewCommitMessage()
	} else {
		msg = messages.NewRollbackMessage()
	}
	if err := c.send(msg); err != nil {
		return nil, err
	}

	resp, err := c.receive()
	if err != nil {
		return nil, err
	}

	c.tx = nil
	if c.state == StateTx {
		c.state = StateReady
	}

	switch m := resp.(type) {
	case messages.SuccessMessage:
		return m.Metadata, nil
	case messages.FailureMessage:
		failure := errors.New(errors.ClassifyServerCode(m.Code()), "transaction close failed: %s (%s)", m.Message(), m.Code())
		c.srvFailure = failure
		return nil, failure
	default:
		c.markDefunct()
		return nil, errors.New(errors.ProtocolError, "unexpected response closing transaction: %T %+v", resp, resp)
	}
}

// Route fetches the routing table for a database from this server.
// Protocol 4.3+ uses the ROUTE message; earlier versions call the
// routing procedure as an autocommit read.
func (c *Conn) Route(database string, bookmarks []string) (*RoutingTable, error) {
	if c.version.supportsRouteMessage() {
		return c.routeViaMessage(database, bookmarks)
	}
	return c.routeViaProcedure(database, bookmarks)
}

func (c *Conn) routeViaMessage(database string, bookmarks []string) (*RoutingTable, error) {
	routingContext := map[string]string{"address": c.address.String()}
	if err := c.send(messages.NewRouteMessage(routingContext, bookmarks, database)); err != nil {
		return nil, err
	}

	resp, err := c.receive()
	if err != nil {
		return nil, err
	}

	switch m := resp.(type) {
	case messages.SuccessMessage:
		rt, ok := m.Metadata["rt"].(map[string]interface{})
		if !ok {
			c.markDefunct()
			return nil, errors.New(errors.ProtocolError, "ROUTE response carries no routing table: %+v", m.Metadata)
		}
		ttl, _ := rt["ttl"].(int64)
		servers, _ := rt["servers"].([]interface{})
		return parseRoutingTable(database, ttl, servers)
	case messages.FailureMessage:
		failure := errors.New(errors.ClassifyServerCode(m.Code()), "ROUTE failed: %s (%s)", m.Message(), m.Code())
		c.srvFailure = failure
		return nil, failure
	default:
		c.markDefunct()
		return nil, errors.New(errors.ProtocolError, "unexpected response to ROUTE: %T %+v", resp, resp)
	}
}

const routingProcedure = "CALL dbms.routing.getRoutingTable($context, $database)"

func (c *Conn) routeViaProcedure(database string, bookmarks []string) (*RoutingTable, error) {
	var db interface{}
	if database != "" {
		db = database
	}
	params := map[string]interface{}{
		"context":  map[string]interface{}{"address": c.address.String()},
		"database": db,
	}

	rows, err := c.run(routingProcedure, params, autocommitExtra(ReadMode, "system", bookmarks))
	if err != nil {
		return nil, err
	}
	keys, err := rows.Keys()
	if err != nil {
		return nil, err
	}
	all, _, err := rows.All()
	if err != nil {
		return nil, err
	}
	if len(all) != 1 {
		return nil, errors.New(errors.ProtocolError, "unexpected routing procedure result shape: %d rows", len(all))
	}

	// columns are matched by name, not position
	var ttl int64
	var servers []interface{}
	for i, key := range keys {
		if i >= len(all[0]) {
			break
		}
		switch key {
		case "ttl":
			ttl, _ = all[0][i].(int64)
		case "servers":
			servers, _ = all[0][i].([]interface{})
		}
	}
	if servers == nil {
		return nil, errors.New(errors.ProtocolError, "routing procedure result carries no servers column: %v", keys)
	}
	return parseRoutingTable(database, ttl, servers)
}
