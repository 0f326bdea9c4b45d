package whatsapp

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
	"log/slog"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("whatsapp dispatch: queue closed")
	// ErrQueueFull indicates the queue is saturated and the event was not accepted.
	ErrQueueFull = errors.New("whatsapp dispatch: queue full")
)

// DispatcherOptions controls the inbound worker pool.
type DispatcherOptions struct {
	QueueSize int
	Workers   int
}

type dispatchJob struct {
	ctx context.Context
	ev  Event
	run func(ctx context.Context, ev Event) error
}

// Dispatcher runs conversation processing detached from the webhook
// response. Every job carries its own correlation id and error boundary;
// a panicking or failing handler never reaches the provider-facing
// response path, so the provider sees an ack and does not redeliver.
type Dispatcher struct {
	jobs chan dispatchJob
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
	errs atomic.Uint64
}

// NewDispatcher starts a dispatcher with sane defaults if options are zeroed.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	d := &Dispatcher{
		jobs: make(chan dispatchJob, opts.QueueSize),
		stop: make(chan struct{}),
	}

	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}

	return d
}

// Enqueue schedules the event for asynchronous processing. The context is
// expected to already carry the rid and subject metadata.
func (d *Dispatcher) Enqueue(ctx context.Context, ev Event, run func(ctx context.Context, ev Event) error) error {
	if run == nil {
		return errors.New("whatsapp dispatch: nil run function")
	}
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case d.jobs <- dispatchJob{ctx: ctx, ev: ev, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of failed jobs.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops accepting work and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		close(d.jobs)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.handleJob(j)
	}
}

func (d *Dispatcher) handleJob(j dispatchJob) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if r := recover(); r != nil {
			d.errs.Add(1)
			logger.Error(ctx, "wa.dispatch", "dispatch.panic",
				slog.String("status", "fail"),
				slog.String("subject_id", j.ev.SubjectID),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := j.run(ctx, j.ev); err != nil {
		d.errs.Add(1)
		logger.Error(ctx, "wa.dispatch", "dispatch.fail",
			slog.String("status", "fail"),
			slog.String("subject_id", j.ev.SubjectID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}
