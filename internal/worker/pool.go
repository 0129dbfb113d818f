package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/datim/adx-mediator/internal/metrics"
	"github.com/datim/adx-mediator/internal/transport"
)

// Job is one outbound notification to be sent by the pool
type Job struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Pool is a fixed-size set of workers draining a bounded job queue. Sending
// goes through the shared secure client so every job uses the same TLS credentials.
type Pool struct {
	workerCount     int
	jobQueue        chan Job
	wg              sync.WaitGroup
	stopOnce        sync.Once
	startOnce       sync.Once
	mu              sync.RWMutex // guards stopped against concurrent submit/close
	stopped         bool
	shutdownTimeout time.Duration
	client          transport.Doer
	log             *slog.Logger
}

// NewPool creates a pool; call Start before submitting.
//
// Parameters:
//   - client: secure client used for every job
//   - workerCount: number of worker goroutines (default 4)
//   - jobQueueSize: buffer capacity for the job queue (default 1000)
//   - shutdownTimeout: maximum time Stop waits for workers
func NewPool(client transport.Doer, workerCount int, jobQueueSize int, shutdownTimeout time.Duration, log *slog.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 4
	}
	if jobQueueSize <= 0 {
		jobQueueSize = 1000
	}
	if log == nil {
		log = slog.Default()
	}

	log.Info("creating delivery pool", "workers", workerCount, "queue_size", jobQueueSize, "shutdown_timeout", shutdownTimeout)

	return &Pool{
		workerCount:     workerCount,
		jobQueue:        make(chan Job, jobQueueSize),
		shutdownTimeout: shutdownTimeout,
		client:          client,
		log:             log,
	}
}

// Start spawns the workers. Safe to call more than once.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.log.Info("delivery pool started", "workers", p.workerCount)
	})
}

// Stop closes the queue and waits for queued jobs to drain, up to shutdownTimeout.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobQueue)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			p.wg.Wait()
		}()

		select {
		case <-done:
			p.log.Info("delivery pool stopped")
		case <-time.After(p.shutdownTimeout):
			p.log.Warn("delivery pool stop timed out", "timeout", p.shutdownTimeout)
		}
	})
}

// GetQueueDepth returns the number of jobs waiting for a worker
func (p *Pool) GetQueueDepth() int {
	return len(p.jobQueue)
}

// SubmitJob enqueues job without blocking. It fails when the queue is full
// or the pool has been stopped.
func (p *Pool) SubmitJob(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return fmt.Errorf("delivery pool stopped")
	}

	select {
	case p.jobQueue <- job:
		metrics.QueueDepthGauge.Set(float64(len(p.jobQueue)))
		return nil
	default:
		return fmt.Errorf("delivery pool queue full (capacity: %d)", cap(p.jobQueue))
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		metrics.QueueDepthGauge.Set(float64(len(p.jobQueue)))
		metrics.ActiveWorkersGauge.Inc()
		p.send(id, job)
		metrics.ActiveWorkersGauge.Dec()
	}
}

func (p *Pool) send(id int, job Job) {
	res, err := p.client.Do(context.Background(), transport.Request{
		Method:  job.Method,
		URL:     job.URL,
		Headers: job.Headers,
		Body:    bytes.NewReader(job.Body),
	})
	if err != nil {
		p.log.Error("delivery failed", "worker", id, "url", job.URL, "error", err)
		metrics.DeliveriesCounter.WithLabelValues("failed").Inc()
		return
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		p.log.Warn("receiver rejected delivery", "worker", id, "url", job.URL, "status", res.StatusCode)
		metrics.DeliveriesCounter.WithLabelValues("rejected").Inc()
		return
	}

	p.log.Info("message received by receiver", "worker", id, "url", job.URL, "status", res.StatusCode)
	metrics.DeliveriesCounter.WithLabelValues("delivered").Inc()
}
