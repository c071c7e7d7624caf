package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kazilink/kazilink-api/internal/logging"
)

// Sink is one outbound notification channel.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// Notifier is what state-changing code depends on. Notify never blocks and
// never reports failure to the caller.
type Notifier interface {
	Notify(e Event)
}

// Dispatcher is an at-most-once, no-retry fan-out. Each sink has its own
// bounded queue and worker, so a slow or failing sink only drops its own
// events. A full queue or a failing publish drops the event with a log line.
type Dispatcher struct {
	lanes       []*lane
	log         *slog.Logger
	sinkTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	start  sync.Once
}

type lane struct {
	sink  Sink
	queue chan Event
}

func NewDispatcher(size int, log *slog.Logger, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = logging.Discard()
	}
	d := &Dispatcher{
		log:         log,
		sinkTimeout: 5 * time.Second,
	}
	for _, s := range sinks {
		d.lanes = append(d.lanes, &lane{sink: s, queue: make(chan Event, size)})
	}
	return d
}

func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.lanes))
	for _, l := range d.lanes {
		names = append(names, l.sink.Name())
	}
	return names
}

// Start launches one worker per sink. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.start.Do(func() {
		for _, l := range d.lanes {
			d.wg.Add(1)
			go d.run(l)
		}
	})
}

func (d *Dispatcher) Notify(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dropped after shutdown", "action", "notify_dropped", "type", string(e.Type), "task_id", e.TaskID)
		return
	}
	for _, l := range d.lanes {
		select {
		case l.queue <- e:
		default:
			d.log.Warn("notification queue full",
				"action", "notify_dropped",
				"sink", l.sink.Name(),
				"type", string(e.Type),
				"task_id", e.TaskID)
		}
	}
}

func (d *Dispatcher) run(l *lane) {
	defer d.wg.Done()
	for e := range l.queue {
		d.deliver(l.sink, e)
	}
}

func (d *Dispatcher) deliver(s Sink, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
	defer cancel()
	if err := s.Publish(ctx, e); err != nil {
		d.log.Warn("notification sink failed",
			"action", "sink_publish_failed",
			"sink", s.Name(),
			"type", string(e.Type),
			"task_id", e.TaskID,
			logging.Err(err))
	}
}

// Close stops accepting events and waits for every queue to drain or ctx to
// expire. Events still queued when ctx expires are lost.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, l := range d.lanes {
		close(l.queue)
	}
	d.mu.Unlock()

	d.Start()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) Notify(Event) {}
