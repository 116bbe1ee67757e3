package terminal

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
)

// Factory builds an unstarted manager for key
type Factory func(key Key) (Manager, error)

type pendingStart struct {
	ready chan struct{}
	mgr   Manager
	err   error
	// cancelled is set under the registry lock when the key is removed
	// before its start finished
	cancelled bool
}

// Registry is the single source of truth for which terminals are running.
// At most one live manager exists per key. Connections only look managers
// up; process lifetime ends through Remove, Terminate or Shutdown.
type Registry struct {
	mu       sync.Mutex
	managers map[Key]Manager
	pending  map[Key]*pendingStart

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		managers: make(map[Key]Manager),
		pending:  make(map[Key]*pendingStart),
		logger:   logger.Named("terminals"),
	}
}

// WithMetrics attaches metrics collection
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// Has reports whether a live manager is registered under key
func (r *Registry) Has(key Key) bool {
	_, ok := r.Get(key)
	return ok
}

// Get returns the live manager for key
func (r *Registry) Get(key Key) (Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.managers[key]
	if !ok || m.State() == StateTerminated {
		return nil, false
	}
	return m, true
}

// Set registers mgr under key. A different manager already registered there
// is terminated so the key never owns two processes.
func (r *Registry) Set(key Key, mgr Manager) {
	r.mu.Lock()
	prev := r.managers[key]
	r.managers[key] = mgr
	r.mu.Unlock()

	if prev != nil && prev != mgr {
		prev.Terminate()
	}
	go r.watch(key, mgr)
	r.updateGauge(key.Kind)
}

// Remove unregisters key and terminates its manager. A terminal still
// starting is cancelled: Remove waits for the start to finish and tears the
// manager down instead of letting it register. It reports whether anything
// was registered or starting.
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	mgr, ok := r.managers[key]
	delete(r.managers, key)
	p, starting := r.pending[key]
	if starting {
		p.cancelled = true
	}
	r.mu.Unlock()

	if !ok && !starting {
		return false
	}
	if ok {
		mgr.Terminate()
	}
	if starting {
		<-p.ready
		if p.mgr != nil {
			p.mgr.Terminate()
		}
	}

	r.updateGauge(key.Kind)
	r.logger.Info("terminal removed",
		zap.String("session_id", key.SessionID),
		zap.String("kind", string(key.Kind)),
		zap.Bool("was_starting", starting),
	)
	return true
}

// GetOrStart returns the running manager for key, or builds one with factory
// and starts it. Concurrent callers for the same key share one start; a failed
// start leaves nothing registered so the next call simply tries again.
func (r *Registry) GetOrStart(ctx context.Context, key Key, factory Factory) (Manager, bool, error) {
	r.mu.Lock()
	if m, ok := r.managers[key]; ok {
		if m.State() != StateTerminated {
			r.mu.Unlock()
			return m, false, nil
		}
		delete(r.managers, key)
	}

	if p, ok := r.pending[key]; ok {
		r.mu.Unlock()
		select {
		case <-p.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if p.err != nil {
			return nil, false, p.err
		}
		return p.mgr, false, nil
	}

	p := &pendingStart{ready: make(chan struct{})}
	r.pending[key] = p
	r.mu.Unlock()

	mgr, err := factory(key)
	if err == nil {
		if err = mgr.Start(ctx); err != nil {
			mgr.Terminate()
		}
	}

	r.mu.Lock()
	delete(r.pending, key)
	cancelled := err == nil && p.cancelled
	if cancelled {
		err = ErrStartCancelled
	}
	if err == nil {
		r.managers[key] = mgr
	}
	p.mgr, p.err = mgr, err
	close(p.ready)
	r.mu.Unlock()

	if cancelled {
		mgr.Terminate()
		r.metrics.RecordTerminalStart(string(key.Kind), "cancelled")
		r.logger.Info("terminal removed while starting",
			zap.String("session_id", key.SessionID),
			zap.String("kind", string(key.Kind)),
		)
		return nil, false, err
	}
	if err != nil {
		r.metrics.RecordTerminalStart(string(key.Kind), "failed")
		r.logger.Warn("terminal start failed",
			zap.String("session_id", key.SessionID),
			zap.String("kind", string(key.Kind)),
			zap.Error(err),
		)
		return nil, false, err
	}

	r.metrics.RecordTerminalStart(string(key.Kind), "ok")
	r.updateGauge(key.Kind)
	go r.watch(key, mgr)
	return mgr, true, nil
}

// watch drops a manager from the registry once it terminates by itself
func (r *Registry) watch(key Key, mgr Manager) {
	<-mgr.Done()

	r.mu.Lock()
	removed := false
	if cur, ok := r.managers[key]; ok && cur == mgr {
		delete(r.managers, key)
		removed = true
	}
	r.mu.Unlock()

	if removed {
		r.updateGauge(key.Kind)
		r.logger.Info("terminal exited and was unregistered",
			zap.String("session_id", key.SessionID),
			zap.String("kind", string(key.Kind)),
		)
	}
}

// Terminate removes the given kinds of one session. It returns the keys that
// were torn down, including ones cancelled mid-start, and the keys that were
// not registered.
func (r *Registry) Terminate(sessionID string, kinds []Kind) (terminated, absent []Key) {
	terminated = []Key{}
	absent = []Key{}
	for _, kind := range kinds {
		key := Key{SessionID: sessionID, Kind: kind}
		if r.Remove(key) {
			terminated = append(terminated, key)
		} else {
			absent = append(absent, key)
		}
	}
	return terminated, absent
}

// Shutdown terminates every registered manager. Starts still in flight are
// cancelled and torn down when they finish.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := r.managers
	r.managers = make(map[Key]Manager)
	for _, p := range r.pending {
		p.cancelled = true
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, mgr := range all {
		wg.Add(1)
		go func(m Manager) {
			defer wg.Done()
			m.Terminate()
		}(mgr)
	}
	wg.Wait()

	for _, kind := range Kinds {
		r.updateGauge(kind)
	}
	r.logger.Info("all terminals shut down", zap.Int("count", len(all)))
}

// List returns info for every registered manager ordered by session then kind
func (r *Registry) List() []Info {
	r.mu.Lock()
	managers := make([]Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(managers))
	for _, m := range managers {
		infos = append(infos, m.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].SessionID != infos[j].SessionID {
			return infos[i].SessionID < infos[j].SessionID
		}
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}

// Count returns the number of registered managers
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

func (r *Registry) updateGauge(kind Kind) {
	if r.metrics == nil {
		return
	}
	r.mu.Lock()
	n := 0
	for k := range r.managers {
		if k.Kind == kind {
			n++
		}
	}
	r.mu.Unlock()
	r.metrics.SetTerminalsActive(string(kind), n)
}
