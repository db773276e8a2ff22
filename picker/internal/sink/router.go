package sink

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/blockshot/picker/export"
)

// closeGrace bounds how long Close waits for deliveries in flight.
const closeGrace = 10 * time.Second

// Router fans an artifact out to every sink in the background. Save returns
// at once; one sink failing does not stop the others. Failures are logged
// and passed to the OnError handler.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
	grace  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	onError func(a export.Artifact, err error)
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		sinks:  sinks,
		logger: logger,
		grace:  closeGrace,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

// OnError sets the handler receiving every delivery failure. The artifact
// passed to fn carries no pixel data.
func (r *Router) OnError(fn func(a export.Artifact, err error)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// Save copies a and delivers it to every sink, in order, on its own
// goroutine. Artifacts saved after Close are dropped.
func (r *Router) Save(_ context.Context, a export.Artifact) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("sink: router closed, artifact dropped", "filename", a.Filename)
		return
	}
	onError := r.onError
	r.wg.Add(1)
	r.mu.Unlock()

	a.Data = bytes.Clone(a.Data)
	go func() {
		defer r.wg.Done()
		for _, s := range r.sinks {
			if err := s.Save(r.ctx, a); err != nil {
				r.logger.Warn("sink: save failed", "filename", a.Filename, "error", err)
				if onError != nil {
					onError(a.Meta(), err)
				}
			}
		}
	}()
}

// Flush waits for deliveries in flight.
func (r *Router) Flush() {
	r.wg.Wait()
}

// Close waits for deliveries in flight, cancelling those still running
// after the grace period, then closes every sink.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.grace):
		r.logger.Warn("sink: cancelling deliveries still in flight")
		r.cancel()
		<-done
	}
	r.cancel()

	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
