package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Sink persists sealed entries.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// FailureObserver is notified whenever an entry could not be persisted.
type FailureObserver interface {
	AuditFailure(action string, dropped bool)
}

// ErrDispatcherClosed is reported for entries recorded after shutdown.
var ErrDispatcherClosed = errors.New("audit: dispatcher closed")

// DispatcherConfig tunes the asynchronous writer.
type DispatcherConfig struct {
	Buffer       int
	Workers      int
	WriteTimeout time.Duration
}

// Dispatcher writes audit entries off the request path. Record never blocks
// and never fails the caller; failures are logged at ERROR and reported to
// the observer so operators can alert on them.
type Dispatcher struct {
	sink     Sink
	logger   *slog.Logger
	observer FailureObserver
	cfg      DispatcherConfig
	now      func() time.Time

	queue  chan Entry
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher builds a dispatcher around sink.
func NewDispatcher(sink Sink, logger *slog.Logger, observer FailureObserver, cfg DispatcherConfig) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Dispatcher{
		sink:     sink,
		logger:   logger,
		observer: observer,
		cfg:      cfg,
		now:      time.Now,
		queue:    make(chan Entry, cfg.Buffer),
	}
}

// WithNow overrides the clock used to stamp entries.
func (d *Dispatcher) WithNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Record seals entry and queues it for writing.
func (d *Dispatcher) Record(ctx context.Context, entry Entry) {
	if d == nil {
		return
	}
	sealed, err := Seal(entry, d.now())
	if err != nil {
		d.fail(entry, err, false)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.fail(sealed, ErrDispatcherClosed, true)
		return
	}
	select {
	case d.queue <- sealed:
	default:
		d.fail(sealed, errors.New("audit: buffer full"), true)
	}
}

// Run consumes the queue until ctx is cancelled, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range d.queue {
				d.write(entry)
			}
		}()
	}

	<-ctx.Done()
	d.mu.Lock()
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	wg.Wait()
	return nil
}

func (d *Dispatcher) write(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()
	if err := d.sink.Write(ctx, entry); err != nil {
		d.fail(entry, err, false)
	}
}

func (d *Dispatcher) fail(entry Entry, err error, dropped bool) {
	d.logger.Error("audit write failed",
		slog.String("entity_type", entry.EntityType),
		slog.String("entity_id", entry.EntityID),
		slog.String("action", string(entry.Action)),
		slog.String("actor", entry.Actor),
		slog.Bool("dropped", dropped),
		slog.Any("error", err),
	)
	if d.observer != nil {
		d.observer.AuditFailure(string(entry.Action), dropped)
	}
}
