// Package supervisor runs long-lived background workers (the synthetic
// trade generator, the candle sweep loop) with crash isolation: a panic or
// returned error restarts the worker after an exponential backoff instead
// of taking the process down.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkerFunc is a supervised unit of work. It should run until ctx is
// canceled; returning nil before then is treated as unexpected completion.
type WorkerFunc func(ctx context.Context) error

// WorkerConfig describes one worker's retry policy.
type WorkerConfig struct {
	Name           string
	MaxRetries     int // 0 means unlimited
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// WorkerStatus is the current lifecycle state of a supervised worker.
type WorkerStatus string

const (
	StatusStopped  WorkerStatus = "stopped"
	StatusStarting WorkerStatus = "starting"
	StatusRunning  WorkerStatus = "running"
	StatusRetrying WorkerStatus = "retrying"
	StatusFailed   WorkerStatus = "failed"
)

type worker struct {
	config    WorkerConfig
	fn        WorkerFunc
	cancel    context.CancelFunc
	retries   int
	lastError error
	status    WorkerStatus
	startTime time.Time
	stopTime  time.Time
	mu        sync.RWMutex
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Supervisor owns a fixed set of workers registered before Start and runs
// them concurrently for the supervisor's lifetime.
type Supervisor struct {
	logger  *zap.Logger
	workers map[string]*worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
}

// New creates an idle supervisor.
func New(logger *zap.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:  logger.Named("supervisor"),
		workers: make(map[string]*worker),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddWorker registers fn under config.Name. Must be called before Start.
func (s *Supervisor) AddWorker(config WorkerConfig, fn WorkerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("supervisor: cannot add worker %q after Start", config.Name)
	}
	if _, exists := s.workers[config.Name]; exists {
		return fmt.Errorf("supervisor: worker %q already registered", config.Name)
	}
	s.workers[config.Name] = &worker{config: config, fn: fn, status: StatusStopped}
	return nil
}

// Start launches every registered worker in its own goroutine.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("supervisor: already started")
	}
	s.started = true

	s.logger.Info("starting supervisor", zap.Int("workers", len(s.workers)))
	for name, w := range s.workers {
		s.wg.Add(1)
		go s.run(name, w)
	}
	return nil
}

// Stop cancels every worker and waits up to 30s for them to exit.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: not started")
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()

	select {
	case <-done:
		s.logger.Info("all workers stopped")
	case <-time.After(30 * time.Second):
		s.logger.Warn("timed out waiting for workers to stop")
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) run(name string, w *worker) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(s.ctx)
	w.cancel = cancel
	defer cancel()

	logger := s.logger.With(zap.String("worker", name))

	for {
		select {
		case <-s.ctx.Done():
			w.setStatus(StatusStopped)
			return
		default:
		}

		if w.config.MaxRetries > 0 && w.retries >= w.config.MaxRetries {
			w.setStatus(StatusFailed)
			logger.Error("worker exhausted retries", zap.Int("retries", w.retries), zap.Error(w.lastError))
			return
		}

		w.setStatus(StatusStarting)
		w.startTime = time.Now()
		err := s.execute(ctx, w, logger)
		w.stopTime = time.Now()

		if err == nil {
			w.setStatus(StatusStopped)
			logger.Info("worker completed")
			return
		}
		if err == context.Canceled {
			w.setStatus(StatusStopped)
			return
		}

		w.lastError = err
		w.retries++
		w.setStatus(StatusRetrying)
		backoff := calculateBackoff(w.retries, w.config)
		logger.Error("worker failed, retrying", zap.Error(err), zap.Int("retries", w.retries), zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			w.setStatus(StatusStopped)
			return
		}
	}
}

func (s *Supervisor) execute(ctx context.Context, w *worker, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panicked", zap.Any("panic", r))
			err = fmt.Errorf("worker %q panicked: %v", w.config.Name, r)
		}
	}()
	w.setStatus(StatusRunning)
	return w.fn(ctx)
}

func calculateBackoff(retries int, config WorkerConfig) time.Duration {
	backoff := config.InitialBackoff
	for i := 0; i < retries-1; i++ {
		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			return config.MaxBackoff
		}
	}
	return backoff
}

// Status returns the current status of a named worker.
func (s *Supervisor) Status(name string) (WorkerStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[name]
	if !ok {
		return "", fmt.Errorf("supervisor: unknown worker %q", name)
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status, nil
}

// AllStatus returns the current status of every worker, keyed by name.
func (s *Supervisor) AllStatus() map[string]WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]WorkerStatus, len(s.workers))
	for name, w := range s.workers {
		w.mu.RLock()
		out[name] = w.status
		w.mu.RUnlock()
	}
	return out
}
