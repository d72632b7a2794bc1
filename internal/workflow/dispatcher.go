package workflow

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher promotes scheduled workflows into execution once their
// schedule time has passed. Recurrence hints on templates stay
// informational; only explicit schedule times are honored.
type Dispatcher struct {
	engine   *Engine
	store    *Store
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher polling at the given interval.
func NewDispatcher(engine *Engine, store *Store, interval time.Duration, logger *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Dispatcher{
		engine:   engine,
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

// Start launches the poll loop in a background goroutine.
func (d *Dispatcher) Start() {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case now := <-ticker.C:
				d.tick(now)
			}
		}
	}()
	d.logger.Info("scheduled-workflow dispatcher started",
		zap.Duration("interval", d.interval))
}

// Stop terminates the poll loop. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stop) })
}

// tick executes every due scheduled workflow.
func (d *Dispatcher) tick(now time.Time) {
	for _, id := range d.store.DueScheduled(now) {
		receipt, err := d.engine.Execute(id)
		if err != nil {
			// A concurrent manual Execute or Cancel may have raced us.
			if errors.Is(err, ErrAlreadyRunning) || errors.Is(err, ErrFinished) {
				continue
			}
			d.logger.Warn("dispatch of scheduled workflow failed",
				zap.String("workflow", id), zap.Error(err))
			continue
		}
		d.logger.Info("scheduled workflow dispatched",
			zap.String("workflow", receipt.WorkflowID),
			zap.Time("estimated_completion", receipt.EstimatedCompletion))
	}
}
