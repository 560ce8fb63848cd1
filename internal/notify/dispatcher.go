package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned by Enqueue when the dispatcher cannot accept more work.
var ErrQueueFull = errors.New("notification queue full")

// ErrNotRunning is returned by Enqueue before Start or after Shutdown.
var ErrNotRunning = errors.New("dispatcher not running")

// Message is one pending password notification.
type Message struct {
	To       string
	Password string
}

// DispatcherConfig controls the worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Logger    logrus.FieldLogger
}

// Dispatcher delivers notifications on a bounded pool of workers so request
// handlers never wait on mail I/O.
type Dispatcher struct {
	cfg      DispatcherConfig
	notifier Notifier

	queue  chan Message
	wg     sync.WaitGroup
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(cfg DispatcherConfig, notifier Notifier) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Dispatcher{
		cfg:      cfg,
		notifier: notifier,
		queue:    make(chan Message, cfg.QueueSize),
	}
}

// Start launches the workers. They stop when ctx is done or Shutdown is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work(d.ctx, d.queue)
	}
	d.cfg.Logger.Infof("notification dispatcher started with %d workers", d.cfg.Workers)
}

// Enqueue schedules msg for delivery without blocking.
func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ctx == nil || d.queue == nil || d.ctx.Err() != nil {
		return ErrNotRunning
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting messages, delivers what is already queued and
// waits for the workers to exit.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.ctx == nil {
		d.mu.Unlock()
		return
	}
	if d.queue != nil {
		close(d.queue)
		d.queue = nil
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
	d.cfg.Logger.Info("notification dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context, queue <-chan Message) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-queue:
			if !ok {
				return
			}
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	// a fresh context lets queued mail drain during shutdown
	sendCtx := context.WithoutCancel(ctx)
	if err := d.notifier.Send(sendCtx, msg.To, msg.Password); err != nil {
		d.cfg.Logger.WithField("to", msg.To).Warnf("deliver notification: %v", err)
		return
	}
	d.cfg.Logger.WithField("to", msg.To).Debug("notification delivered")
}
