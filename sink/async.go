package sink

import (
	"errors"
	"sync"

	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/raster"
)

var ErrClosed = errors.New("sink closed")

// Async hands assignments to a flusher goroutine writing to the inner sink,
// so rasterizing can continue while records are written.
// After the first write error, later assignments are dropped and the
// error is returned by Write and Close.
type Async struct {
	inner Sink
	ch    chan raster.Assignment
	done  chan struct{}

	mu  sync.Mutex
	err error

	// sendMu guards closed and ch against sends racing Close.
	sendMu sync.RWMutex
	closed bool
}

func NewAsync(inner Sink, bufferSize int) *Async {
	if bufferSize <= 0 {
		bufferSize = params.DefaultBufferSize
	}
	a := &Async{
		inner: inner,
		ch:    make(chan raster.Assignment, bufferSize),
		done:  make(chan struct{}),
	}
	go a.flush()
	return a
}

func (a *Async) flush() {
	defer close(a.done)
	for rec := range a.ch {
		if a.Err() != nil {
			continue
		}
		if err := a.inner.Write(rec); err != nil {
			a.setErr(err)
		}
	}
}

func (a *Async) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		a.err = err
	}
}

// Err returns the first write error, if any.
func (a *Async) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Async) Write(rec raster.Assignment) error {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	if err := a.Err(); err != nil {
		return err
	}
	a.ch <- rec
	return nil
}

// Close drains pending assignments and closes the inner sink.
func (a *Async) Close() error {
	a.sendMu.Lock()
	if a.closed {
		a.sendMu.Unlock()
		return ErrClosed
	}
	a.closed = true
	close(a.ch)
	a.sendMu.Unlock()

	<-a.done
	return errors.Join(a.Err(), a.inner.Close())
}
