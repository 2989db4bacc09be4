package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one inbound event bound for processing. SessionName determines
// the shard, so events of the same conversation never interleave.
type Job struct {
	InstanceName string
	SessionName  string
	Handler      func(ctx context.Context) error
}

// PoolStats is a point-in-time snapshot of the pool.
type PoolStats struct {
	NumWorkers      int           `json:"num_workers"`
	QueueSize       int           `json:"queue_size"`
	ActiveWorkers   int           `json:"active_workers"`
	TotalDispatched int64         `json:"total_dispatched"`
	TotalProcessed  int64         `json:"total_processed"`
	TotalDropped    int64         `json:"total_dropped"`
	TotalErrors     int64         `json:"total_errors"`
	WorkerStats     []WorkerStats `json:"worker_stats"`
}

// WorkerStats are per-worker counters.
type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	QueueDepth    int   `json:"queue_depth"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

// Pool shards jobs across a fixed set of workers by session name using
// FNV-1a, giving per-conversation ordering with cross-conversation
// parallelism. Dispatch is non-blocking: a full shard queue drops the
// job so the HTTP layer can answer with backpressure.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
}

type worker struct {
	id            int
	jobQueue      chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	isProcessing  int32
	jobsProcessed int64
	pool          *Pool
}

func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
	}
}

// Start launches the workers. The passed context cancels them.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:       i,
			jobQueue: make(chan Job, p.queueSize),
			ctx:      workerCtx,
			cancel:   cancel,
			pool:     p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}
	logrus.Infof("[MSG_WORKER_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// TryDispatch enqueues the job on its session's shard without blocking.
// Returns false when the shard queue is full or the pool is stopped.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardForSession(job.SessionName)
	atomic.AddInt64(&p.totalDispatched, 1)

	sent := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		select {
		case p.workers[shard].jobQueue <- job:
			return true
		default:
			return false
		}
	}()
	if sent {
		return true
	}

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[MSG_WORKER_POOL] Worker %d queue full (or stopped), dropping job for %s/%s",
		shard, job.InstanceName, job.SessionName)
	return false
}

// Stop drains in-flight work and waits for every worker to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		logrus.Info("[MSG_WORKER_POOL] Stopping workers...")

		for _, w := range p.workers {
			w.cancel()
			close(w.jobQueue)
		}
		p.wg.Wait()

		logrus.Info("[MSG_WORKER_POOL] All workers stopped")
	})
}

func (p *Pool) shardForSession(sessionName string) int {
	h := fnv.New32a()
	h.Write([]byte(sessionName))
	return int(h.Sum32() % uint32(p.numWorkers))
}

// Stats snapshots the pool counters.
func (p *Pool) Stats() PoolStats {
	workerStats := make([]WorkerStats, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		isProcessing := atomic.LoadInt32(&w.isProcessing) == 1
		if isProcessing {
			activeWorkers++
		}
		workerStats[i] = WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.jobQueue),
			IsProcessing:  isProcessing,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		}
	}
	return PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		ActiveWorkers:   activeWorkers,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		WorkerStats:     workerStats,
	}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	logrus.Debugf("[MSG_WORKER_POOL] Worker %d started", w.id)

	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				logrus.Debugf("[MSG_WORKER_POOL] Worker %d shutting down", w.id)
				return
			}
			w.process(job)

		case <-w.ctx.Done():
			logrus.Debugf("[MSG_WORKER_POOL] Worker %d context cancelled, draining queue...", w.id)
			w.drainQueue()
			return
		}
	}
}

func (w *worker) process(job Job) {
	atomic.StoreInt32(&w.isProcessing, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.totalErrors, 1)
			logrus.Errorf("[MSG_WORKER_POOL] Worker %d panic for %s/%s: %v",
				w.id, job.InstanceName, job.SessionName, r)
		}
		atomic.StoreInt32(&w.isProcessing, 0)
		atomic.AddInt64(&w.jobsProcessed, 1)
		atomic.AddInt64(&w.pool.totalProcessed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		atomic.AddInt64(&w.pool.totalErrors, 1)
		logrus.WithError(err).Errorf("[MSG_WORKER_POOL] Worker %d job failed for %s/%s",
			w.id, job.InstanceName, job.SessionName)
	}
}

// drainQueue gives queued jobs a bounded window to finish after the
// worker context is cancelled.
func (w *worker) drainQueue() {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			w.process(job)
		case <-deadline:
			logrus.Warnf("[MSG_WORKER_POOL] Worker %d drain deadline reached, abandoning queue", w.id)
			return
		default:
			return
		}
	}
}
