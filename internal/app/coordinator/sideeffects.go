package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/iotflow/tierflow/internal/ports"
)

type sideEffect struct {
	op       string
	deviceID int64
	timeout  time.Duration
	run      func(ctx context.Context) error
}

// SideEffects is a bounded worker pool for the best-effort tail of a
// submission: event appends and liveness updates. Tasks run detached from the
// request context, so a dropped client connection never cancels them. When the
// queue is full the task is dropped and recorded as degraded; nothing ever
// blocks a caller on this pool.
type SideEffects struct {
	tasks chan sideEffect
	obs   ports.Observability

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

func NewSideEffects(workers, queueLen int, obs ports.Observability) *SideEffects {
	if workers <= 0 {
		workers = 1
	}
	if queueLen <= 0 {
		queueLen = 1
	}

	p := &SideEffects{
		tasks: make(chan sideEffect, queueLen),
		obs:   obs,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *SideEffects) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		ctx := context.Background()
		cancel := context.CancelFunc(func() {})
		if t.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, t.timeout)
		}

		start := time.Now()
		if err := t.run(ctx); err != nil {
			p.obs.RecordDegraded(t.op, t.deviceID, err)
		}
		p.obs.ObserveLatency("side_effect_seconds", time.Since(start).Seconds())
		cancel()
	}
}

// Dispatch queues a task, reporting it as degraded if the pool is full or
// already closed. Never blocks.
func (p *SideEffects) Dispatch(op string, deviceID int64, timeout time.Duration, run func(ctx context.Context) error) bool {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		p.obs.RecordDegraded(op, deviceID, errPoolClosed)
		return false
	}

	select {
	case p.tasks <- sideEffect{op: op, deviceID: deviceID, timeout: timeout, run: run}:
		p.obs.SetGauge("side_effect_queue_len", float64(len(p.tasks)))
		return true
	default:
		p.obs.RecordDegraded(op, deviceID, errPoolFull)
		return false
	}
}

// Close drains queued tasks and stops the workers.
func (p *SideEffects) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.closeMu.Unlock()

	p.wg.Wait()
}
