// Package progress counts the bytes flowing through a reader and reports the
// count on a channel at a fixed interval.
package progress

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Read after the reader has been closed.
var ErrClosed = errors.New("progress reader closed")

// Tick is one report of how much of Artifact has been read so far. Done is
// set on the last tick after the underlying reader hit EOF.
type Tick struct {
	Artifact string
	Count    int64
	Time     time.Time
	Done     bool
}

// Reader wraps an io.Reader. Ticks are delivered on C, starting with one
// immediately; C is closed after EOF has been reported or Close is called.
// Ticks that come due while the last one is still undelivered are dropped.
type Reader struct {
	C <-chan Tick

	artifact string
	reader   io.Reader
	count    int64
	c        chan Tick
	done     chan struct{}
	eof      chan struct{}

	closeOnce sync.Once
	eofOnce   sync.Once
}

// NewReader starts reporting on reader every interval.
func NewReader(artifact string, reader io.Reader, interval time.Duration) *Reader {
	c := make(chan Tick)
	r := &Reader{
		C:        c,
		artifact: artifact,
		reader:   reader,
		c:        c,
		done:     make(chan struct{}),
		eof:      make(chan struct{}),
	}

	go r.loop(interval)

	return r
}

// Read from the underlying reader.
func (r *Reader) Read(p []byte) (int, error) {
	select {
	case <-r.done:
		return 0, ErrClosed
	default:
	}

	n, err := r.reader.Read(p)
	atomic.AddInt64(&r.count, int64(n))
	if err == io.EOF {
		r.eofOnce.Do(func() { close(r.eof) })
	}

	return n, err
}

// Count returns the number of bytes read so far.
func (r *Reader) Count() int64 {
	return atomic.LoadInt64(&r.count)
}

// Close stops reporting. It does not close the underlying reader.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

func (r *Reader) loop(interval time.Duration) {
	defer close(r.c)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.send(false)

	for {
		select {
		case <-r.done:
			return
		case <-r.eof:
			r.send(true)
			return
		case <-ticker.C:
			r.send(false)
		}
	}
}

func (r *Reader) send(done bool) {
	tick := Tick{Artifact: r.artifact, Count: r.Count(), Time: time.Now(), Done: done}

	select {
	case r.c <- tick:
	case <-r.done:
	}
}
