package bolt

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/graphshed/gobolt/encoding"
	"github.com/graphshed/gobolt/structures"
	"github.com/graphshed/gobolt/structures/messages"
)

// stubServer is a scripted Bolt endpoint for tests. Each accepted
// connection is driven by one script function; when more connections
// arrive than scripts were given, the last script is reused.
type stubServer struct {
	t       *testing.T
	ln      net.Listener
	scripts []func(*srvConn)

	mu       sync.Mutex
	accepted int
	wg       sync.WaitGroup
}

func newStubServer(t *testing.T, scripts ...func(*srvConn)) *stubServer {
	t.Helper()
	if len(scripts) == 0 {
		t.Fatal("stub server needs at least one script")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}

	s := &stubServer{t: t, ln: ln, scripts: scripts}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.stop)
	return s
}

func (s *stubServer) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		i := s.accepted
		s.accepted++
		s.mu.Unlock()
		if i >= len(s.scripts) {
			i = len(s.scripts) - 1
		}
		script := s.scripts[i]

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer raw.Close()
			sc := &srvConn{t: s.t, conn: raw, dec: encoding.NewDecoder(raw)}
			script(sc)
			sc.drainToEOF()
		}()
	}
}

func (s *stubServer) stop() {
	s.ln.Close()
	s.wg.Wait()
}

// uri returns a direct bolt:// URI pointing at the stub.
func (s *stubServer) uri() string {
	return "bolt://" + s.ln.Addr().String()
}

// routingURI returns a neo4j:// URI pointing at the stub.
func (s *stubServer) routingURI() string {
	return "neo4j://" + s.ln.Addr().String()
}

func (s *stubServer) addr() string {
	return s.ln.Addr().String()
}

// connections reports how many connections the stub has accepted.
func (s *stubServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// srvConn is the server side of one scripted connection.
type srvConn struct {
	t    *testing.T
	conn net.Conn
	dec  *encoding.Decoder
}

// acceptHandshake consumes the 20-byte handshake and answers with the
// given protocol version. Major and minor of 0 reject the connection.
func (sc *srvConn) acceptHandshake(major, minor byte) bool {
	buf := make([]byte, 20)
	if _, err := io.ReadFull(sc.conn, buf); err != nil {
		sc.t.Errorf("stub: could not read handshake: %v", err)
		return false
	}
	if binary.BigEndian.Uint32(buf[:4]) != 0x6060B017 {
		sc.t.Errorf("stub: bad magic preamble: %x", buf[:4])
		return false
	}
	if _, err := sc.conn.Write([]byte{0, 0, minor, major}); err != nil {
		sc.t.Errorf("stub: could not write handshake response: %v", err)
		return false
	}
	return true
}

// expect receives one client request and asserts its signature.
func (sc *srvConn) expect(signature int) (structures.Raw, bool) {
	msg, err := sc.dec.Decode()
	if err != nil {
		sc.t.Errorf("stub: could not read request: %v", err)
		return structures.Raw{}, false
	}
	raw, ok := msg.(structures.Raw)
	if !ok {
		sc.t.Errorf("stub: expected a request structure, got %T %+v", msg, msg)
		return structures.Raw{}, false
	}
	if raw.Sig != signature {
		sc.t.Errorf("stub: expected request signature %#x, got %#x", signature, raw.Sig)
		return raw, false
	}
	return raw, true
}

func (sc *srvConn) send(msg structures.Structure) {
	if err := encoding.NewEncoder(sc.conn, encoding.DefaultChunkSize).Encode(msg); err != nil {
		sc.t.Errorf("stub: could not write response: %v", err)
	}
}

func (sc *srvConn) sendSuccess(metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	sc.send(messages.NewSuccessMessage(metadata))
}

func (sc *srvConn) sendFailure(code, message string) {
	sc.send(messages.NewFailureMessage(map[string]interface{}{
		"code":    code,
		"message": message,
	}))
}

func (sc *srvConn) sendRecord(fields ...interface{}) {
	sc.send(messages.NewRecordMessage(fields))
}

func (sc *srvConn) sendIgnored() {
	sc.send(messages.NewIgnoredMessage())
}

// serveHello performs the handshake and answers HELLO, leaving the
// connection ready for statements.
func (sc *srvConn) serveHello(major, minor byte) bool {
	if !sc.acceptHandshake(major, minor) {
		return false
	}
	if _, ok := sc.expect(messages.HelloMessageSignature); !ok {
		return false
	}
	sc.sendSuccess(map[string]interface{}{
		"server":        "Neo4j/4.4.0",
		"connection_id": "bolt-stub-1",
	})
	return true
}

// serveRun answers one RUN/PULL pair with the given keys and records.
func (sc *srvConn) serveRun(keys []interface{}, records [][]interface{}, summary map[string]interface{}) bool {
	if _, ok := sc.expect(messages.RunMessageSignature); !ok {
		return false
	}
	sc.sendSuccess(map[string]interface{}{"fields": keys})
	if _, ok := sc.expect(messages.PullMessageSignature); !ok {
		return false
	}
	for _, rec := range records {
		sc.sendRecord(rec...)
	}
	if summary == nil {
		summary = map[string]interface{}{}
	}
	sc.sendSuccess(summary)
	return true
}

// serveReset answers one RESET.
func (sc *srvConn) serveReset() bool {
	if _, ok := sc.expect(messages.ResetMessageSignature); !ok {
		return false
	}
	sc.sendSuccess(nil)
	return true
}

// serveLoop answers statements until the client says GOODBYE or hangs
// up. Every RUN yields the given keys, every PULL the given records.
func (sc *srvConn) serveLoop(keys []interface{}, records [][]interface{}) {
	for {
		msg, err := sc.dec.Decode()
		if err != nil {
			return
		}
		raw, ok := msg.(structures.Raw)
		if !ok {
			sc.t.Errorf("stub: expected a request structure, got %T %+v", msg, msg)
			return
		}
		switch raw.Sig {
		case messages.RunMessageSignature:
			sc.sendSuccess(map[string]interface{}{"fields": keys})
		case messages.PullMessageSignature:
			for _, rec := range records {
				sc.sendRecord(rec...)
			}
			sc.sendSuccess(map[string]interface{}{})
		case messages.DiscardMessageSignature, messages.ResetMessageSignature:
			sc.sendSuccess(nil)
		case messages.GoodbyeMessageSignature:
			return
		default:
			sc.t.Errorf("stub: unexpected request signature %#x", raw.Sig)
			return
		}
	}
}

// awaitRoute waits for a ROUTE request, quietly ending on GOODBYE or a
// closed connection.
func (sc *srvConn) awaitRoute() bool {
	msg, err := sc.dec.Decode()
	if err != nil {
		return false
	}
	raw, ok := msg.(structures.Raw)
	if !ok {
		sc.t.Errorf("stub: expected a request structure, got %T %+v", msg, msg)
		return false
	}
	switch raw.Sig {
	case messages.RouteMessageSignature:
		return true
	case messages.GoodbyeMessageSignature:
		return false
	default:
		sc.t.Errorf("stub: expected ROUTE, got signature %#x", raw.Sig)
		return false
	}
}

// serveGoodbye consumes a GOODBYE if the client sends one.
func (sc *srvConn) serveGoodbye() {
	msg, err := sc.dec.Decode()
	if err != nil {
		return
	}
	if raw, ok := msg.(structures.Raw); !ok || raw.Sig != messages.GoodbyeMessageSignature {
		sc.t.Errorf("stub: expected GOODBYE, got %+v", msg)
	}
}

// drainToEOF swallows whatever the client still writes while closing.
func (sc *srvConn) drainToEOF() {
	buf := make([]byte, 1024)
	for {
		if _, err := sc.conn.Read(buf); err != nil {
			return
		}
	}
}

// testProfile parses a URI into a profile tuned for fast test failure.
func testProfile(t *testing.T, uri string, opts ...Option) Profile {
	t.Helper()
	p, err := ParseProfile(uri, opts...)
	if err != nil {
		t.Fatalf("could not parse test URI %q: %v", uri, err)
	}
	return p
}
