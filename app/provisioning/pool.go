package provisioning

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
	"github.com/vibast-solutions/ms-go-isp-billing/app/metrics"
)

type Task struct {
	Kind string
	Key  string
	Run  func(ctx context.Context) error
}

type PoolConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration
}

// Pool runs tasks on a fixed set of workers, retrying each with exponential
// backoff. Tasks sharing a Key always land on the same worker and run in
// submission order. Submit never blocks the caller.
type Pool struct {
	cfg    PoolConfig
	queues []chan Task
	logger logrus.FieldLogger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}

	queues := make([]chan Task, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan Task, cfg.QueueSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		queues: queues,
		logger: factory.NewModuleLogger("provisioning-pool"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (p *Pool) Start() {
	for _, queue := range p.queues {
		p.wg.Add(1)
		go p.worker(queue)
	}
}

// Submit queues task and reports whether it was accepted. A full queue or a
// stopped pool drops the task.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.drop(task, "pool stopped")
		return false
	}

	select {
	case p.queues[p.shard(task.Key)] <- task:
		return true
	default:
		p.drop(task, "queue full")
		return false
	}
}

// Stop refuses new tasks and waits for queued ones to finish. When ctx ends
// first, in-flight retries are cancelled.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		for _, queue := range p.queues {
			close(queue)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}

func (p *Pool) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Pool) worker(queue <-chan Task) {
	defer p.wg.Done()
	for task := range queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	l := p.logger.WithFields(logrus.Fields{"kind": task.Kind, "key": task.Key})

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.InitialBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.AttemptTimeout)
		defer cancel()

		err := task.Run(ctx)
		if errors.Is(err, ErrUnknownUser) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		l.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": wait.String()}).Warn("Task attempt failed")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.cfg.MaxAttempts-1)), p.ctx), notify)
	metrics.IncTask(task.Kind, err == nil)
	if err != nil {
		l.WithError(err).WithField("attempts", attempt).Error("Task abandoned")
		return
	}
	l.WithField("attempts", attempt).Debug("Task completed")
}

func (p *Pool) drop(task Task, reason string) {
	metrics.IncTaskDropped(task.Kind)
	p.logger.WithFields(logrus.Fields{"kind": task.Kind, "key": task.Key, "reason": reason}).Warn("Task dropped")
}
