package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"lighthouse/internal/logging"
	"lighthouse/internal/queue"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// runLoop fetches dispatchable runs and hands each to its own worker
// goroutine, so independent meetings progress in parallel up to the
// configured ceiling. Runs already held by a worker are excluded from
// the fetch.
func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()

	workers := make(chan struct{}, m.maxConcurrentRuns)
	var active sync.WaitGroup
	defer active.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case workers <- struct{}{}:
		}

		if err := m.heartbeat.ReclaimStale(ctx); err != nil {
			m.logger.Warn("reclaim stale runs failed; stuck runs may remain",
				logging.Error(err))
		}

		run, err := m.store.NextForStatuses(ctx, m.inFlightIDs(), m.fetchOrder...)
		if err != nil {
			<-workers
			m.handleFetchError(ctx, err)
			continue
		}
		if run == nil {
			<-workers
			m.waitForRunOrShutdown(ctx)
			continue
		}

		m.markInFlight(run.ID)
		active.Add(1)
		go func(run *queue.Run) {
			defer active.Done()
			defer func() { <-workers }()
			if err := m.processRun(ctx, run); err != nil && !errors.Is(err, context.Canceled) {
				// Keep the run held through the backoff so the fetcher
				// cannot regrab it in a tight loop.
				m.backoffAfterError(ctx)
			}
			m.releaseInFlight(run.ID)
		}(run)
	}
}

func (m *Manager) handleFetchError(ctx context.Context, err error) {
	m.setLastError(err)
	m.logger.Error("failed to fetch next run", logging.Error(err))
	m.backoffAfterError(ctx)
}

func (m *Manager) backoffAfterError(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.errorRetryInterval):
	}
}

func (m *Manager) waitForRunOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

// FailInterrupted marks still-processing runs as failed after an unclean
// daemon stop where resumption is not wanted (queue clear paths).
func (m *Manager) FailInterrupted(ctx context.Context) (int64, error) {
	return m.store.FailInterrupted(ctx, queue.CauseInternal, queue.DaemonStopReason)
}
