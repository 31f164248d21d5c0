package bolt

import (
	"io"

	"github.com/graphshed/gobolt/errors"
	"github.com/graphshed/gobolt/structures/messages"
)

// streamState tracks one cursor's progress through its result stream.
type streamState int

const (
	// streamPending: the RUN summary has not been consumed yet
	streamPending streamState = iota
	// streamOpen: keys are known, records may remain server-side
	streamOpen
	// streamDone: a terminal summary (or DISCARD summary) was consumed
	streamDone
	// streamFailed: the statement failed server-side
	streamFailed
	// streamIgnored: the server skipped the statement because an
	// earlier request in the pipeline failed
	streamIgnored
	// streamCancelled: the connection was reset under the cursor
	streamCancelled
)

// Rows is a lazily-materialized, single-pass cursor over the records
// produced by one statement. Keys are known before the first record
// arrives. Rows objects ARE NOT THREAD SAFE; they share their
// connection's pipeline.
type Rows struct {
	conn      *Conn
	statement string

	state    streamState
	keys     []string
	qid      int64
	buffered [][]interface{}
	summary  map[string]interface{}
	err      error

	// number of records fetched per PULL; messages.PullAll fetches
	// everything in one round trip
	fetchSize int64

	// release returns the owning connection to the pool once the
	// cursor reaches a terminal state (autocommit only)
	release func()
}

func newRows(c *Conn, statement string) *Rows {
	return &Rows{
		conn:      c,
		statement: statement,
		qid:       -1,
		fetchSize: messages.PullAll,
	}
}

// SetFetchSize controls how many records each PULL requests. Values
// below one fetch the whole remaining stream in one round trip. Must be
// called before the first record is read.
func (r *Rows) SetFetchSize(n int64) {
	if n < 1 {
		n = messages.PullAll
	}
	r.fetchSize = n
}

// terminal reports whether the cursor has reached an end state.
func (r *Rows) terminal() bool {
	return r.state == streamDone || r.state == streamFailed ||
		r.state == streamIgnored || r.state == streamCancelled
}

// needsStreamRequest reports whether the server still holds records for
// this cursor with no PULL or DISCARD in flight.
func (r *Rows) needsStreamRequest() bool {
	return r.state == streamOpen && r.conn.queuedFor(r) == 0
}

// applyRunSuccess consumes the RUN summary: result keys and, inside an
// explicit transaction, the statement's qid.
func (r *Rows) applyRunSuccess(metadata map[string]interface{}) {
	r.state = streamOpen
	if fieldsInt, ok := metadata["fields"].([]interface{}); ok {
		keys := make([]string, 0, len(fieldsInt))
		for _, f := range fieldsInt {
			if s, ok := f.(string); ok {
				keys = append(keys, s)
			}
		}
		r.keys = keys
	}
	if qid, ok := metadata["qid"].(int64); ok {
		r.qid = qid
	}
}

// applyStreamSummary consumes a PULL or DISCARD summary. The stream is
// finished unless the server flags more records.
func (r *Rows) applyStreamSummary(metadata map[string]interface{}) {
	if hasMore, ok := metadata["has_more"].(bool); ok && hasMore {
		return
	}
	r.state = streamDone
	r.summary = metadata
	r.conn.cursorFinished(r)
	// the connection must be READY before it goes back to the pool
	r.conn.maybeIdle()
	r.releaseOnce()
}

func (r *Rows) push(fields []interface{}) {
	r.buffered = append(r.buffered, fields)
}

func (r *Rows) fail(err error) {
	if r.terminal() {
		return
	}
	r.state = streamFailed
	r.err = err
	r.conn.cursorFinished(r)
	r.releaseOnce()
}

func (r *Rows) markIgnored() {
	if r.terminal() {
		return
	}
	r.state = streamIgnored
	r.err = errors.New(errors.Ignored, "statement %q was not executed: an earlier request in the pipeline failed", r.statement)
	r.conn.cursorFinished(r)
	r.releaseOnce()
}

func (r *Rows) markCancelled() {
	if r.terminal() {
		return
	}
	r.state = streamCancelled
	r.err = errors.New(errors.Ignored, "statement %q was cancelled by a connection reset", r.statement)
	r.releaseOnce()
}

func (r *Rows) releaseOnce() {
	if r.release != nil {
		release := r.release
		r.release = nil
		release()
	}
}

// advance blocks until at least one record is buffered or the cursor is
// terminal, issuing a PULL when the stream has run dry.
func (r *Rows) advance() error {
	for len(r.buffered) == 0 && !r.terminal() {
		if r.err != nil {
			return r.err
		}
		if r.needsStreamRequest() && r.state == streamOpen {
			if err := r.conn.sendPull(r, r.fetchSize); err != nil {
				return err
			}
		}
		if err := r.conn.processHead(); err != nil {
			return err
		}
	}
	return r.err
}

// Keys returns the result's column names, waiting for the RUN summary
// if it has not arrived yet.
func (r *Rows) Keys() ([]string, error) {
	for r.state == streamPending {
		if err := r.conn.processHead(); err != nil {
			return nil, err
		}
	}
	if r.err != nil && r.keys == nil {
		return nil, r.err
	}
	return r.keys, nil
}

// Next returns the next record, or io.EOF once the stream is exhausted.
func (r *Rows) Next() ([]interface{}, error) {
	if err := r.advance(); err != nil {
		return nil, err
	}
	if len(r.buffered) > 0 {
		record := r.buffered[0]
		r.buffered = r.buffered[1:]
		return record, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return nil, io.EOF
}

// All consumes the remaining records and returns them with the final
// summary metadata.
func (r *Rows) All() ([][]interface{}, map[string]interface{}, error) {
	var out [][]interface{}
	for {
		record, err := r.Next()
		if err == io.EOF {
			return out, r.summary, nil
		}
		if err != nil {
			return out, r.summary, err
		}
		out = append(out, record)
	}
}

// Consume discards any remaining records server-side and returns the
// final summary. Buffered records are dropped.
func (r *Rows) Consume() (map[string]interface{}, error) {
	for r.state == streamPending {
		if err := r.conn.processHead(); err != nil {
			return nil, err
		}
	}
	r.buffered = nil
	if r.state == streamOpen {
		if r.needsStreamRequest() {
			if err := r.conn.sendDiscard(r, messages.PullAll); err != nil {
				return nil, err
			}
		}
		for !r.terminal() {
			if err := r.conn.processHead(); err != nil {
				return nil, err
			}
			r.buffered = nil
		}
	}
	return r.summary, r.err
}

// Close finishes the cursor, discarding unread records. The first error
// from the statement, if any, is returned.
func (r *Rows) Close() error {
	if r.terminal() {
		r.releaseOnce()
		return r.err
	}
	_, err := r.Consume()
	return err
}

// Summary returns the final summary metadata; nil until the stream has
// finished.
func (r *Rows) Summary() map[string]interface{} {
	return r.summary
}

// Result wraps the final summary in its typed counter view.
func (r *Rows) Result() Result {
	return newResult(r.summary)
}

// Err returns the terminal error of the cursor, if any.
func (r *Rows) Err() error {
	return r.err
}
