package presence

import (
	"sync"
	"time"
)

// Reconciler is the single apply-locally / refetch-later primitive shared by
// mutating operations. A local view is patched immediately for
// responsiveness, then re-read from the authoritative store after a bounded
// delay to absorb change-feed lag; a failed mutation triggers a faster
// refetch so the stale optimistic state is corrected.
type Reconciler struct {
	delay   time.Duration
	refetch func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewReconciler builds a reconciler invoking refetch after delay.
func NewReconciler(delay time.Duration, refetch func()) *Reconciler {
	if delay <= 0 {
		delay = 1200 * time.Millisecond
	}
	return &Reconciler{delay: delay, refetch: refetch}
}

// Applied records that a mutation succeeded: local runs now, the
// authoritative refetch after the full delay.
func (r *Reconciler) Applied(local func()) {
	if local != nil {
		local()
	}
	r.schedule(r.delay)
}

// Failed records that a mutation failed after optimistic local state may
// have been shown: rollback runs now and the refetch is pulled forward.
func (r *Reconciler) Failed(rollback func()) {
	if rollback != nil {
		rollback()
	}
	r.schedule(r.delay / 2)
}

// Stop cancels any scheduled refetch.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reconciler) schedule(after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(after, r.refetch)
}
