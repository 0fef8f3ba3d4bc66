// Package journal streams run outcomes to a msgpack file that can be
// replayed without the simulator.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/rumor-routing-sim/kb"
	"github.com/signalsfoundry/rumor-routing-sim/model"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("journal: closed")

const defaultBatchSize = 64

// Header opens every journal.
type Header struct {
	RunID    string `msgpack:"run_id"`
	Topology string `msgpack:"topology"`
	Seed     int64  `msgpack:"seed"`
	Nodes    int    `msgpack:"nodes"`
}

// Entry is the on-disk form of a kb.Record.
type Entry struct {
	Kind string `msgpack:"kind"`
	ID   string `msgpack:"id"`
	X    int    `msgpack:"x"`
	Y    int    `msgpack:"y"`
	Tick int    `msgpack:"tick"`
}

func entryOf(r kb.Record) Entry {
	return Entry{Kind: r.Kind.String(), ID: r.ID, X: r.Node.X, Y: r.Node.Y, Tick: r.Tick}
}

// Record converts e back to a ledger record.
func (e Entry) Record() (kb.Record, error) {
	k, err := kb.ParseKind(e.Kind)
	if err != nil {
		return kb.Record{}, err
	}
	return kb.Record{Kind: k, ID: e.ID, Node: model.Pos(e.X, e.Y), Tick: e.Tick}, nil
}

// Writer buffers records and encodes them in batches.
type Writer struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	enc     *msgpack.Encoder
	closer  io.Closer
	pending []Entry
	batch   int
	written int
	closed  bool
}

// NewWriter writes h to w and returns a writer flushing every batch
// records. A batch <= 0 selects the default size.
func NewWriter(w io.Writer, h Header, batch int) (*Writer, error) {
	if batch <= 0 {
		batch = defaultBatchSize
	}
	buf := bufio.NewWriter(w)
	jw := &Writer{buf: buf, enc: msgpack.NewEncoder(buf), batch: batch}
	if err := jw.enc.Encode(&h); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return nil, err
	}
	return jw, nil
}

// Create opens path for writing, truncating any previous journal.
func Create(path string, h Header, batch int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, h, batch)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Append queues r, flushing when the batch is full.
func (w *Writer) Append(r kb.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.pending = append(w.pending, entryOf(r))
	if len(w.pending) >= w.batch {
		return w.flushLocked()
	}
	return nil
}

// Flush writes all queued records.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	for i := range w.pending {
		if err := w.enc.Encode(&w.pending[i]); err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
	}
	w.written += len(w.pending)
	w.pending = w.pending[:0]
	return w.buf.Flush()
}

// Written is the number of records flushed so far.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes and, for journals opened with Create, closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.flushLocked()
	w.closed = true
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	return err
}

// Read decodes a whole journal.
func Read(r io.Reader) (Header, []kb.Record, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var h Header
	if err := dec.Decode(&h); err != nil {
		return Header{}, nil, fmt.Errorf("decode header: %w", err)
	}
	var out []kb.Record
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return h, out, nil
		}
		if err != nil {
			return h, out, fmt.Errorf("decode entry %d: %w", len(out), err)
		}
		rec, err := e.Record()
		if err != nil {
			return h, out, fmt.Errorf("entry %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

// ReadFile decodes the journal at path.
func ReadFile(path string) (Header, []kb.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()
	return Read(f)
}
