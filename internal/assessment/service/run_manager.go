package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/logging"
)

// Runner executes one analysis run
type Runner interface {
	Run(ctx context.Context, assessmentID string) (*analysis.RunSummary, error)
}

// Locker is a cross-instance run lock; see events.RunLock
type Locker interface {
	Acquire(ctx context.Context, assessmentID string) (bool, error)
	Refresh(ctx context.Context, assessmentID string) (bool, error)
	Release(ctx context.Context, assessmentID string) error
	TTL() time.Duration
}

// maxReplacedRestarts bounds back-to-back restarts after re-uploads
const maxReplacedRestarts = 3

// RunManager starts analyses in the background and allows at most one run per
// assessment. Runs live on the manager's root context, not the request's.
type RunManager struct {
	root    context.Context
	runner  Runner
	lock    Locker
	restart bool

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunManager creates a RunManager. lock may be nil for single-instance
// deployments. restartOnReplace restarts a run whose document was replaced
// by a new upload.
func NewRunManager(root context.Context, runner Runner, lock Locker, restartOnReplace bool) *RunManager {
	return &RunManager{
		root:    root,
		runner:  runner,
		lock:    lock,
		restart: restartOnReplace,
		active:  make(map[string]context.CancelFunc),
	}
}

// Active reports whether this instance is running the assessment
func (m *RunManager) Active(assessmentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[assessmentID]
	return ok
}

// Start launches a background run or returns domain.ErrAnalysisRunning
func (m *RunManager) Start(ctx context.Context, assessmentID string) error {
	runCtx, err := m.claim(ctx, assessmentID)
	if err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(runCtx, assessmentID)
	}()
	return nil
}

// RunSync runs in the calling goroutine with the same exclusion as Start
func (m *RunManager) RunSync(ctx context.Context, assessmentID string) (*analysis.RunSummary, error) {
	runCtx, err := m.claim(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, m.cancelFunc(assessmentID))
	defer stop()
	return m.execute(runCtx, assessmentID)
}

// Cancel stops a running analysis; it stays analyzing and can be resumed
func (m *RunManager) Cancel(assessmentID string) bool {
	m.mu.Lock()
	cancel, ok := m.active[assessmentID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every run and waits for them to stop or ctx to end
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *RunManager) cancelFunc(assessmentID string) func() {
	return func() { m.Cancel(assessmentID) }
}

func (m *RunManager) claim(ctx context.Context, assessmentID string) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[assessmentID]; ok {
		return nil, domain.ErrAnalysisRunning
	}
	if m.lock != nil {
		ok, err := m.lock.Acquire(ctx, assessmentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrAnalysisRunning
		}
	}

	runCtx, cancel := context.WithCancel(m.root)
	runCtx = logging.WithRequestID(runCtx, "run-"+assessmentID)
	m.active[assessmentID] = cancel
	return runCtx, nil
}

func (m *RunManager) release(assessmentID string) {
	m.mu.Lock()
	if cancel, ok := m.active[assessmentID]; ok {
		cancel()
		delete(m.active, assessmentID)
	}
	m.mu.Unlock()

	if m.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.lock.Release(ctx, assessmentID); err != nil {
			logging.NewLogger(ctx).LogWarnf("analysis.run", "release lock for %s: %v", assessmentID, err)
		}
	}
}

func (m *RunManager) execute(ctx context.Context, assessmentID string) (summary *analysis.RunSummary, err error) {
	logger := logging.NewLogger(ctx).With("assessment_id", assessmentID)
	defer m.release(assessmentID)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
			logger.LogError("analysis.run", err)
		}
	}()

	if m.lock != nil {
		stopRefresh := m.keepLock(ctx, assessmentID)
		defer stopRefresh()
	}

	for attempt := 0; ; attempt++ {
		summary, err = m.runner.Run(ctx, assessmentID)
		if errors.Is(err, domain.ErrDocumentReplaced) && m.restart && ctx.Err() == nil && attempt < maxReplacedRestarts {
			logger.LogInfof("analysis.run", "document replaced, restarting analysis")
			continue
		}
		break
	}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		logger.LogInfof("analysis.run", "analysis interrupted, it will resume later")
	default:
		logger.LogError("analysis.run", err)
	}
	return summary, err
}

// keepLock refreshes the run lock until the returned func is called. Losing
// the lock cancels the run.
func (m *RunManager) keepLock(ctx context.Context, assessmentID string) func() {
	interval := m.lock.TTL() / 3
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.lock.Refresh(ctx, assessmentID)
				if err != nil {
					logging.NewLogger(ctx).LogWarnf("analysis.run", "refresh lock for %s: %v", assessmentID, err)
					continue
				}
				if !ok {
					logging.NewLogger(ctx).LogWarnf("analysis.run", "lost run lock for %s, stopping", assessmentID)
					m.Cancel(assessmentID)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
