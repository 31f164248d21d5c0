package bolt

import (
	"time"

	"github.com/graphshed/gobolt/errors"
	"github.com/graphshed/gobolt/log"
)

// TxState is a transaction's position in its lifecycle. Every state
// other than TxOpen is terminal.
type TxState int

const (
	TxOpen TxState = iota
	TxCommitted
	TxRolledBack
	// TxFailed is entered when a statement inside the transaction fails
	// server-side. A failed transaction can only be rolled back.
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "OPEN"
	case TxCommitted:
		return "COMMITTED"
	case TxRolledBack:
		return "ROLLED_BACK"
	case TxFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// TxConfig carries the options of an explicit transaction.
type TxConfig struct {
	Mode      AccessMode
	Database  string
	Bookmarks []string
	// Timeout is the server-side transaction timeout; zero keeps the
	// server default.
	Timeout  time.Duration
	Metadata map[string]interface{}
}

// Tx is an explicit transaction bound to one connection. Statements run
// within it see each other's uncommitted writes. Tx objects ARE NOT
// THREAD SAFE.
type Tx struct {
	conn     *Conn
	state    TxState
	bookmark string
	cause    error

	// release returns the owning connection to the pool once the
	// transaction reaches a terminal state
	release func()
}

// State returns the transaction's current lifecycle state.
func (t *Tx) State() TxState {
	return t.state
}

// finishedErr reports the terminal state of a closed transaction. No
// bytes are exchanged with the server for operations on a finished
// transaction.
func (t *Tx) finishedErr() error {
	switch t.state {
	case TxCommitted:
		return errors.New(errors.TransactionFinished, "transaction has already been committed")
	case TxRolledBack:
		return errors.New(errors.TransactionFinished, "transaction has already been rolled back")
	default:
		return nil
	}
}

// Run executes a statement within the transaction and returns a cursor
// over its results.
func (t *Tx) Run(statement string, params map[string]interface{}) (*Rows, error) {
	if err := t.finishedErr(); err != nil {
		return nil, err
	}
	if t.state == TxFailed {
		return nil, errors.Wrap(t.cause, errors.TransactionFinished, "transaction has failed and can only be rolled back")
	}
	return t.conn.run(statement, params, map[string]interface{}{})
}

// Commit makes the transaction's writes durable. Unconsumed result
// streams are discarded first.
func (t *Tx) Commit() error {
	if err := t.finishedErr(); err != nil {
		return err
	}
	if t.state == TxFailed {
		return errors.Wrap(t.cause, "", "cannot commit a failed transaction")
	}

	metadata, err := t.conn.finishTx(true)
	if err != nil {
		t.state = TxFailed
		t.cause = err
		t.releaseOnce()
		return err
	}

	if bookmark, ok := metadata["bookmark"].(string); ok {
		t.bookmark = bookmark
	}
	t.state = TxCommitted
	t.releaseOnce()
	return nil
}

// Rollback discards the transaction's writes. Rolling back a failed
// transaction resets the connection instead of sending ROLLBACK; the
// server has already discarded the transaction's work.
func (t *Tx) Rollback() error {
	if err := t.finishedErr(); err != nil {
		return err
	}

	if t.state == TxFailed {
		log.Infof("rolling back failed transaction via reset")
		err := t.conn.Reset()
		t.state = TxRolledBack
		t.releaseOnce()
		return err
	}

	_, err := t.conn.finishTx(false)
	if err != nil {
		t.state = TxFailed
		t.cause = err
		t.releaseOnce()
		return err
	}
	t.state = TxRolledBack
	t.releaseOnce()
	return nil
}

// markFailed moves an open transaction to TxFailed after a server-side
// statement failure.
func (t *Tx) markFailed(err error) {
	if t.state != TxOpen {
		return
	}
	t.state = TxFailed
	t.cause = err
}

// Bookmark returns the bookmark issued at commit. It is empty until the
// transaction commits successfully.
func (t *Tx) Bookmark() string {
	return t.bookmark
}

// Err returns the failure that moved the transaction to TxFailed, if
// any.
func (t *Tx) Err() error {
	return t.cause
}

func (t *Tx) releaseOnce() {
	if t.release != nil {
		release := t.release
		t.release = nil
		release()
	}
}
