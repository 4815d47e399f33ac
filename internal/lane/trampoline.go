package lane

import "context"

// Trampoline lets DB-lane code run closures on the main lane: capturing
// a user preparation callback, or delivering a completion/result. The
// application's main lane drains it by calling Run from whatever
// goroutine owns Object handles and the identity map.
type Trampoline struct {
	jobs chan func()
}

// NewTrampoline returns a Trampoline with reasonable buffering for a
// handful of in-flight completions.
func NewTrampoline() *Trampoline {
	return &Trampoline{jobs: make(chan func(), 64)}
}

// RunOnMain posts fn to the main lane and blocks until it has run. Used
// by a DB-lane task to capture a preparation closure or deliver a
// completion synchronously with respect to the task's own progress.
func (t *Trampoline) RunOnMain(fn func()) {
	done := make(chan struct{})
	t.jobs <- func() {
		fn()
		close(done)
	}
	<-done
}

// Post queues fn to run on the main lane without blocking the caller.
func (t *Trampoline) Post(fn func()) {
	t.jobs <- fn
}

// Run drains queued jobs on the calling goroutine until ctx is
// cancelled. The caller's goroutine is the "main lane": only code
// running inside Run may touch Object handles or the identity map.
func (t *Trampoline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-t.jobs:
			job()
		}
	}
}
