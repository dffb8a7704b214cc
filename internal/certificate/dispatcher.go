package certificate

import (
	"context"
	"errors"
	"sync"
	"time"

	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
)

type generator interface {
	Generate(ctx context.Context, id uuid.UUID) (*Certificate, error)
}

// Dispatcher runs certificate generation on a fixed pool of workers fed by a
// bounded queue. Jobs use their own context so they outlive the request that
// queued them.
type Dispatcher struct {
	gen        generator
	log        *logger.Logger
	queue      chan uuid.UUID
	workers    int
	jobTimeout time.Duration
}

func NewDispatcher(gen generator, workers, queueSize int, log *logger.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	return &Dispatcher{
		gen:        gen,
		log:        log.With("component", "CertificateDispatcher"),
		queue:      make(chan uuid.UUID, queueSize),
		workers:    workers,
		jobTimeout: 2 * time.Minute,
	}
}

// Enqueue never blocks. A full queue drops the job; the certificate stays
// PROCESSING and can be requested again.
func (d *Dispatcher) Enqueue(id uuid.UUID) {
	select {
	case d.queue <- id:
	default:
		d.log.Warn("certificate queue full, job dropped", "certificate_id", id, "capacity", cap(d.queue))
	}
}

func (d *Dispatcher) Depth() int { return len(d.queue) }

// Run blocks until ctx is cancelled and every worker has finished its
// current job.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("starting certificate workers", "workers", d.workers)
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			d.loop(ctx, workerID)
		}(i + 1)
	}
	wg.Wait()
	d.log.Info("certificate workers stopped")
	return nil
}

func (d *Dispatcher) loop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			d.process(workerID, id)
		}
	}
}

func (d *Dispatcher) process(workerID int, id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("certificate job panic", "worker_id", workerID, "certificate_id", id, "panic", r)
		}
	}()

	start := time.Now()
	_, err := d.gen.Generate(ctx, id)
	switch {
	case errors.Is(err, errLocked):
		d.log.Info("certificate already being generated elsewhere", "worker_id", workerID, "certificate_id", id)
	case err != nil:
		d.log.Error("certificate job failed", "worker_id", workerID, "certificate_id", id, "error", err)
	default:
		d.log.Debug("certificate job done", "worker_id", workerID, "certificate_id", id, "duration", time.Since(start))
	}
}
